package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pickscanner/internal/config"
	"pickscanner/internal/domain"
	"pickscanner/internal/ports"
)

// AnalysisClient implements ports.AnalysisClient backed by
// OpenAI-compatible chat-completion APIs.
type AnalysisClient struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.AnalysisClient = (*AnalysisClient)(nil)

// NewAnalysisClient builds a client from configuration.
func NewAnalysisClient(cfg config.AnalysisConfig) *AnalysisClient {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnalysisClient{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// AnalyzeBatch posts one comment batch as the user message and returns
// the assistant's raw text reply plus the tokens it cost.
func (c *AnalysisClient) AnalyzeBatch(ctx context.Context, items []domain.RawItem) (string, int, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", 0, fmt.Errorf("analysis client misconfigured")
	}

	body, err := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": safePrompt(c.systemPrompt)},
			{"role": "user", "content": buildBatchMessage(items)},
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("marshal analysis payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", 0, fmt.Errorf("analysis error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", parsed.Usage.TotalTokens, fmt.Errorf("analysis reply has no choices")
	}

	return parsed.Choices[0].Message.Content, parsed.Usage.TotalTokens, nil
}

func buildBatchMessage(items []domain.RawItem) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "[%s] (score %d) %s\n", item.Author, item.Score, item.Text)
	}
	return b.String()
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You extract structured trade picks from forum comments."
	}
	return prompt
}
