package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"pickscanner/internal/cache"
	"pickscanner/internal/domain"
	"pickscanner/internal/ports"
)

// quantityExpr matches a leading sign-prefixed number ("+2.5 calls")
// or a parenthesized decimal ("(1.25) shares") in the action text.
var quantityExpr = regexp.MustCompile(`^\s*(?:([+-]?\d+(?:\.\d+)?)|\((\d+(?:\.\d+)?)\))`)

// Result is the full outcome of one analysis pass.
type Result struct {
	Picks      []domain.Pick
	CostUnits  int
	BatchCount int
}

// Options tune batching and extraction defaults.
type Options struct {
	BatchSize         int
	BatchDelay        time.Duration
	DefaultConfidence int
	BatchTTL          time.Duration
}

// Analyzer partitions raw comments into batches, memoizes per-batch
// analysis through the cache, and enriches and ranks the extractions.
type Analyzer struct {
	client ports.AnalysisClient
	store  *cache.Store
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration)
}

// New wires the analysis client and cache into an Analyzer.
func New(client ports.AnalysisClient, store *cache.Store, opts Options, logger *slog.Logger) *Analyzer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.DefaultConfidence <= 0 {
		opts.DefaultConfidence = 25
	}
	return &Analyzer{
		client: client,
		store:  store,
		opts:   opts,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Analyze runs the full batch pipeline over rawItems. Individual batch
// failures degrade the pick count but never fail the pass; the only
// hard error is a cancelled context.
func (a *Analyzer) Analyze(ctx context.Context, rawItems []domain.RawItem) (Result, error) {
	if len(rawItems) == 0 {
		return Result{}, nil
	}

	batches := partition(rawItems, a.opts.BatchSize)
	result := Result{BatchCount: len(batches)}

	var accumulated []domain.Pick
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		items, cost := a.analyzeBatch(ctx, i+1, batch)
		accumulated = append(accumulated, a.enrich(items, batch)...)
		result.CostUnits += cost

		if i < len(batches)-1 && a.opts.BatchDelay > 0 {
			a.sleep(ctx, a.opts.BatchDelay)
		}
	}

	result.Picks = rank(accumulated)
	return result, nil
}

// analyzeBatch resolves one batch, via cache when possible. Failures
// are logged and reported as zero extractions.
func (a *Analyzer) analyzeBatch(ctx context.Context, ordinal int, batch []domain.RawItem) ([]extraction, int) {
	key := fingerprint(batch)

	if cached, ok := a.store.Get(cache.NamespaceAnalysisBatch, key); ok {
		if items, ok := cached.([]extraction); ok {
			a.debug("batch cache hit", "batch", ordinal, "items", len(items))
			return items, 0
		}
	}

	reply, cost, err := a.client.AnalyzeBatch(ctx, batch)
	if err != nil {
		a.warnBatch(&domain.AnalysisBatchError{Batch: ordinal, Err: err})
		return nil, cost
	}

	items, err := extractPayload(reply)
	if err != nil {
		a.warnBatch(&domain.AnalysisBatchError{Batch: ordinal, Err: err})
		return nil, cost
	}

	// Only successful batches are cached; a failed batch cost nothing
	// worth memoizing and should retry next run.
	a.store.Set(cache.NamespaceAnalysisBatch, key, items, a.opts.BatchTTL)
	return items, cost
}

// enrich joins each extraction back to its originating comment by
// author (first match wins) and derives the quantity field. An
// extraction whose author matches nothing keeps empty provenance
// rather than being dropped.
func (a *Analyzer) enrich(items []extraction, batch []domain.RawItem) []domain.Pick {
	picks := make([]domain.Pick, 0, len(items))
	for _, item := range items {
		pick := domain.Pick{
			Symbol:       strings.ToUpper(strings.TrimSpace(item.Symbol)),
			Action:       strings.TrimSpace(item.Action),
			Category:     item.Category,
			Confidence:   a.opts.DefaultConfidence,
			SourceAuthor: item.Author,
			Reasoning:    item.Reasoning,
			Factors:      item.Factors,
			Outcome:      domain.OutcomePending,
		}
		if item.Confidence != nil {
			pick.Confidence = *item.Confidence
		}
		if source, ok := matchByAuthor(item.Author, batch); ok {
			pick.SourceItemID = source.ID
			pick.SourceScore = source.Score
			pick.SourceText = source.Text
		}
		pick.Quantity = deriveQuantity(pick.Action)
		picks = append(picks, pick)
	}
	return picks
}

// partition splits items into contiguous chunks of at most size,
// preserving order. Concatenating the chunks reproduces the input.
func partition(items []domain.RawItem, size int) [][]domain.RawItem {
	batches := make([][]domain.RawItem, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// fingerprint hashes the batch's identity fields, order-sensitively,
// so byte-identical batch content always maps to the same cache key.
func fingerprint(batch []domain.RawItem) string {
	h := sha256.New()
	for _, item := range batch {
		h.Write([]byte(item.Author))
		h.Write([]byte{'\n'})
		h.Write([]byte(strings.TrimSpace(item.Text)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// rank sorts by confidence descending with a stable sort, so tied
// picks keep accumulation order, then assigns 1-based ranks.
func rank(picks []domain.Pick) []domain.Pick {
	sort.SliceStable(picks, func(i, j int) bool {
		return picks[i].Confidence > picks[j].Confidence
	})
	for i := range picks {
		picks[i].Rank = i + 1
	}
	return picks
}

func deriveQuantity(action string) *float64 {
	match := quantityExpr.FindStringSubmatch(action)
	if match == nil {
		return nil
	}
	text := match[1]
	if text == "" {
		text = match[2]
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}
	return &value
}

func matchByAuthor(author string, batch []domain.RawItem) (domain.RawItem, bool) {
	for _, item := range batch {
		if strings.EqualFold(item.Author, author) {
			return item, true
		}
	}
	return domain.RawItem{}, false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (a *Analyzer) warnBatch(err *domain.AnalysisBatchError) {
	if a.logger != nil {
		a.logger.Warn("batch analysis failed", "batch", err.Batch, "error", err.Err)
	}
}

func (a *Analyzer) debug(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
