package analyzer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pickscanner/internal/cache"
	"pickscanner/internal/domain"
)

type fakeAnalysisClient struct {
	calls   int
	replies map[string]string
	fail    map[string]error
}

func (f *fakeAnalysisClient) AnalyzeBatch(_ context.Context, items []domain.RawItem) (string, int, error) {
	f.calls++
	key := items[0].ID
	if err, ok := f.fail[key]; ok {
		return "", 0, err
	}
	if reply, ok := f.replies[key]; ok {
		return reply, 10, nil
	}
	return "[]", 10, nil
}

func newTestAnalyzer(client *fakeAnalysisClient, batchSize int) (*Analyzer, *cache.Store) {
	store := cache.New(nil, time.Hour, nil)
	a := New(client, store, Options{
		BatchSize:         batchSize,
		DefaultConfidence: 25,
	}, nil)
	return a, store
}

func rawItems(n int) []domain.RawItem {
	items := make([]domain.RawItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, domain.RawItem{
			ID:     fmt.Sprintf("c%03d", i),
			Author: fmt.Sprintf("user%03d", i),
			Text:   fmt.Sprintf("comment %d", i),
			Score:  i,
		})
	}
	return items
}

func TestPartitionPreservesOrder(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		n, size, batches int
	}{
		{0, 15, 0},
		{1, 15, 1},
		{15, 15, 1},
		{16, 15, 2},
		{32, 15, 3},
		{100, 20, 5},
	} {
		items := rawItems(tc.n)
		batches := partition(items, tc.size)
		if len(batches) != tc.batches {
			t.Fatalf("n=%d size=%d: expected %d batches, got %d", tc.n, tc.size, tc.batches, len(batches))
		}

		var flat []domain.RawItem
		for _, b := range batches {
			if len(b) > tc.size {
				t.Fatalf("batch exceeds size %d: %d", tc.size, len(b))
			}
			flat = append(flat, b...)
		}
		if len(flat) != tc.n {
			t.Fatalf("concatenation lost items: %d != %d", len(flat), tc.n)
		}
		for i := range flat {
			if flat[i].ID != items[i].ID {
				t.Fatalf("order broken at %d", i)
			}
		}
	}
}

func TestAnalyzeEmptyInputSkipsNetwork(t *testing.T) {
	t.Parallel()

	client := &fakeAnalysisClient{}
	a, _ := newTestAnalyzer(client, 15)

	result, err := a.Analyze(context.Background(), nil)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if result.BatchCount != 0 || len(result.Picks) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
	if client.calls != 0 {
		t.Fatalf("expected no network calls, got %d", client.calls)
	}
}

func TestCacheShortCircuitsIdenticalBatches(t *testing.T) {
	t.Parallel()

	items := rawItems(5)
	client := &fakeAnalysisClient{replies: map[string]string{
		"c000": `[{"author":"user001","symbol":"AAA","confidence":80}]`,
	}}
	a, _ := newTestAnalyzer(client, 15)

	first, err := a.Analyze(context.Background(), items)
	if err != nil {
		t.Fatalf("first Analyze error: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call, got %d", client.calls)
	}

	second, err := a.Analyze(context.Background(), items)
	if err != nil {
		t.Fatalf("second Analyze error: %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("second pass must hit the cache, calls=%d", client.calls)
	}
	if len(second.Picks) != len(first.Picks) {
		t.Fatalf("cached pass differs: %d != %d", len(second.Picks), len(first.Picks))
	}
	if second.CostUnits != 0 {
		t.Fatalf("cached pass must not report cost, got %d", second.CostUnits)
	}
}

func TestPartialBatchFailureKeepsOtherBatches(t *testing.T) {
	t.Parallel()

	items := rawItems(45) // 3 batches of 15
	client := &fakeAnalysisClient{
		replies: map[string]string{
			"c000": `[{"author":"user001","symbol":"AAA","confidence":90}]`,
			"c030": `[{"author":"user031","symbol":"CCC","confidence":70}]`,
		},
		fail: map[string]error{
			"c015": fmt.Errorf("analysis timeout"),
		},
	}
	a, _ := newTestAnalyzer(client, 15)

	result, err := a.Analyze(context.Background(), items)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}
	if result.BatchCount != 3 {
		t.Fatalf("expected 3 batches attempted, got %d", result.BatchCount)
	}
	if len(result.Picks) != 2 {
		t.Fatalf("expected picks from the 2 healthy batches, got %d", len(result.Picks))
	}
}

func TestRankStabilityOnTies(t *testing.T) {
	t.Parallel()

	picks := []domain.Pick{
		{Symbol: "A", Confidence: 50},
		{Symbol: "B", Confidence: 80},
		{Symbol: "C", Confidence: 50},
		{Symbol: "D", Confidence: 50},
	}

	ranked := rank(picks)
	want := []string{"B", "A", "C", "D"}
	for i, symbol := range want {
		if ranked[i].Symbol != symbol {
			t.Fatalf("position %d: expected %s, got %s", i, symbol, ranked[i].Symbol)
		}
		if ranked[i].Rank != i+1 {
			t.Fatalf("position %d: expected rank %d, got %d", i, i+1, ranked[i].Rank)
		}
	}
}

func TestEnrichJoinsProvenanceAndDefaults(t *testing.T) {
	t.Parallel()

	a, _ := newTestAnalyzer(&fakeAnalysisClient{}, 15)
	batch := []domain.RawItem{
		{ID: "c1", Author: "Ann", Text: "buying +3 calls on ACME", Score: 12},
	}
	items := []extraction{
		{Author: "ann", Symbol: "acme", Action: "+3 calls"},
		{Author: "ghost", Symbol: "xyz", Action: "hold"},
	}

	picks := a.enrich(items, batch)
	if len(picks) != 2 {
		t.Fatalf("unmatched author must not be dropped, got %d picks", len(picks))
	}

	matched := picks[0]
	if matched.SourceItemID != "c1" || matched.SourceScore != 12 {
		t.Fatalf("provenance not attached: %+v", matched)
	}
	if matched.Symbol != "ACME" {
		t.Fatalf("symbol not normalized: %s", matched.Symbol)
	}
	if matched.Confidence != 25 {
		t.Fatalf("missing confidence should default to 25, got %d", matched.Confidence)
	}
	if matched.Quantity == nil || *matched.Quantity != 3 {
		t.Fatalf("quantity not derived: %+v", matched.Quantity)
	}

	unmatched := picks[1]
	if unmatched.SourceItemID != "" || unmatched.SourceText != "" {
		t.Fatalf("unmatched author must keep empty provenance: %+v", unmatched)
	}
}

func TestDeriveQuantity(t *testing.T) {
	t.Parallel()

	ptr := func(v float64) *float64 { return &v }
	for _, tc := range []struct {
		action string
		want   *float64
	}{
		{"+2.5 calls", ptr(2.5)},
		{"-10 shares", ptr(-10)},
		{"(1.25) puts", ptr(1.25)},
		{"3 lots", ptr(3)},
		{"hold and wait", nil},
		{"", nil},
	} {
		got := deriveQuantity(tc.action)
		switch {
		case tc.want == nil && got != nil:
			t.Fatalf("%q: expected nil, got %v", tc.action, *got)
		case tc.want != nil && got == nil:
			t.Fatalf("%q: expected %v, got nil", tc.action, *tc.want)
		case tc.want != nil && *got != *tc.want:
			t.Fatalf("%q: expected %v, got %v", tc.action, *tc.want, *got)
		}
	}
}

func TestDegradedScenarioThirtyTwoItems(t *testing.T) {
	t.Parallel()

	items := rawItems(32) // batches of 15, 15, 2
	client := &fakeAnalysisClient{
		replies: map[string]string{
			"c000": `[{"author":"user001","symbol":"AAA","confidence":90}]`,
		},
		fail: map[string]error{
			"c030": fmt.Errorf("bad gateway"),
		},
	}
	a, store := newTestAnalyzer(client, 15)

	// Batch 2 is a cache hit: seed its fingerprint directly.
	store.Set(cache.NamespaceAnalysisBatch, fingerprint(items[15:30]),
		[]extraction{{Author: "user016", Symbol: "BBB", Confidence: intPtr(60)}})

	result, err := a.Analyze(context.Background(), items)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}

	if result.BatchCount != 3 {
		t.Fatalf("expected batchCount 3, got %d", result.BatchCount)
	}
	if len(result.Picks) != 2 {
		t.Fatalf("expected picks from batches 1 and 2 only, got %d", len(result.Picks))
	}
	if client.calls != 2 {
		t.Fatalf("batch 2 must not reach the network, calls=%d", client.calls)
	}
	if result.Picks[0].Symbol != "AAA" || result.Picks[1].Symbol != "BBB" {
		t.Fatalf("unexpected ranking: %+v", result.Picks)
	}
}

func intPtr(v int) *int { return &v }
