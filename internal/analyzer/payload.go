package analyzer

import (
	"encoding/json"
	"strings"

	"pickscanner/internal/domain"
)

// extraction is the wire shape one analysis-service reply item is
// expected to carry. Confidence is a pointer so an absent field can be
// told apart from an explicit zero.
type extraction struct {
	Author     string   `json:"author"`
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	Category   string   `json:"category"`
	Confidence *int     `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Factors    []string `json:"factors"`
}

// extractPayload recovers a JSON array from free-text model output.
// The reply may wrap the array in prose or markdown code fences; the
// contract is all-or-nothing: either a fully parsed array or a typed
// ParseFailure, never a partial structure.
func extractPayload(raw string) ([]extraction, error) {
	cleaned := stripFences(raw)

	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end == -1 || end < start {
		return nil, &domain.ParseFailure{Reason: "no JSON array found in reply"}
	}

	var items []extraction
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &items); err != nil {
		return nil, &domain.ParseFailure{Reason: "malformed JSON array: " + err.Error()}
	}

	return items, nil
}

func stripFences(raw string) string {
	var b strings.Builder
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
