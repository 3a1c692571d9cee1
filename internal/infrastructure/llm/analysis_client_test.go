package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pickscanner/internal/config"
	"pickscanner/internal/domain"
)

func testItems() []domain.RawItem {
	return []domain.RawItem{
		{ID: "c1", Author: "ann", Text: "+2 ACME calls", Score: 42},
		{ID: "c2", Author: "bob", Text: "holding XYZ", Score: 7},
	}
}

func newTestClient(endpoint string) *AnalysisClient {
	return NewAnalysisClient(config.AnalysisConfig{
		Endpoint:   endpoint,
		Model:      "test-model",
		APIKey:     "test-key",
		TimeoutSec: 5,
	})
}

func TestAnalyzeBatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", auth)
		}

		var payload struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.Model != "test-model" {
			t.Errorf("unexpected model: %s", payload.Model)
		}
		if len(payload.Messages) != 2 || !strings.Contains(payload.Messages[1].Content, "[ann]") {
			t.Errorf("batch message missing comment attribution: %+v", payload.Messages)
		}

		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "[{\"author\":\"ann\",\"symbol\":\"ACME\"}]"}}],
			"usage": {"total_tokens": 321}
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	reply, cost, err := client.AnalyzeBatch(context.Background(), testItems())
	if err != nil {
		t.Fatalf("AnalyzeBatch error: %v", err)
	}
	if !strings.Contains(reply, "ACME") {
		t.Fatalf("unexpected reply: %s", reply)
	}
	if cost != 321 {
		t.Fatalf("expected 321 cost units, got %d", cost)
	}
}

func TestAnalyzeBatchErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	if _, _, err := client.AnalyzeBatch(context.Background(), testItems()); err == nil {
		t.Fatalf("expected error on 429 status")
	}
}

func TestAnalyzeBatchMisconfigured(t *testing.T) {
	t.Parallel()

	client := NewAnalysisClient(config.AnalysisConfig{})
	if _, _, err := client.AnalyzeBatch(context.Background(), testItems()); err == nil {
		t.Fatalf("expected misconfiguration error")
	}
}

func TestAnalyzeBatchEmptyChoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [], "usage": {"total_tokens": 5}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	if _, _, err := client.AnalyzeBatch(context.Background(), testItems()); err == nil {
		t.Fatalf("expected error on empty choices")
	}
}
