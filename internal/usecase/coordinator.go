package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync/atomic"
	"time"

	"pickscanner/internal/analyzer"
	"pickscanner/internal/cache"
	"pickscanner/internal/domain"
	"pickscanner/internal/ports"
	"pickscanner/internal/scanstate"
)

var (
	isoDateExpr  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	longDateExpr = regexp.MustCompile(`([A-Z][a-z]+) (\d{1,2}),? (\d{4})`)
)

// BatchAnalyzer is the slice of the analyzer the coordinator needs.
type BatchAnalyzer interface {
	Analyze(ctx context.Context, rawItems []domain.RawItem) (analyzer.Result, error)
}

// CoordinatorDeps wires all driven adapters into the scan coordinator.
type CoordinatorDeps struct {
	Source     ports.ThreadSource
	Analyzer   BatchAnalyzer
	Repository ports.ScanRepository
	Tracker    *scanstate.Tracker
	Cache      *cache.Store
	Logger     *slog.Logger
}

// Coordinator runs the harvest-analyze-persist cycle behind a
// single-flight guard. Both the timer and manual triggers funnel
// through RunScan; a run already in flight yields an immediate busy
// result instead of queueing.
type Coordinator struct {
	source  ports.ThreadSource
	batches BatchAnalyzer
	repo    ports.ScanRepository
	tracker *scanstate.Tracker
	store   *cache.Store
	logger  *slog.Logger
	running atomic.Bool
	now     func() time.Time
}

// NewCoordinator constructs the orchestration component.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	tracker := deps.Tracker
	if tracker == nil {
		tracker = scanstate.NewTracker()
	}
	return &Coordinator{
		source:  deps.Source,
		batches: deps.Analyzer,
		repo:    deps.Repository,
		tracker: tracker,
		store:   deps.Cache,
		logger:  deps.Logger,
		now:     time.Now,
	}
}

// Tracker exposes the live-progress record for polling collaborators.
func (c *Coordinator) Tracker() *scanstate.Tracker {
	return c.tracker
}

// RunScan executes one full cycle. It never returns an error: every
// failure is folded into the structured result, because triggers are
// background callers that must not crash.
func (c *Coordinator) RunScan(ctx context.Context) domain.ScanResult {
	if !c.running.CompareAndSwap(false, true) {
		return domain.ScanResult{Busy: true, Message: domain.ErrScanBusy.Error()}
	}
	defer c.running.Store(false)

	startedAt := c.now()
	run := domain.ScanRun{
		ID:        fmt.Sprintf("scan-%s", startedAt.UTC().Format("20060102T150405.000")),
		Status:    domain.StatusPending,
		StartedAt: startedAt,
	}

	c.tracker.Reset()
	run.Status = domain.StatusFetching
	c.tracker.Update(scanstate.StepFetching, 10, "fetching thread")

	listing, err := c.source.FetchThread(ctx)
	if err != nil {
		return c.fail(ctx, run, "fetching", startedAt, err)
	}
	run.GroupingKey = groupingKey(listing.Title, startedAt)
	run.SourceItemCount = len(listing.Items)

	items := c.filterNew(ctx, listing.Items)
	run.Status = domain.StatusAnalyzing
	c.tracker.Update(scanstate.StepAnalyzing, 40,
		fmt.Sprintf("analyzing %d of %d comments", len(items), len(listing.Items)))

	analysis, err := c.batches.Analyze(ctx, items)
	if err != nil {
		return c.fail(ctx, run, "analyzing", startedAt, err)
	}
	if len(analysis.Picks) == 0 {
		// Persisted anyway: an empty current scan means "today produced
		// nothing", which beats presenting yesterday's data as current.
		c.info("scan produced no picks", "scan_id", run.ID, "grouping_key", run.GroupingKey)
	}

	run.Status = domain.StatusPersisting
	c.tracker.Update(scanstate.StepPersisting, 80, "saving results")

	// Items go in first so the promoted run's pick count reflects the
	// rows actually stored, not the pre-dedup extraction count.
	inserted, duplicates, err := c.repo.SaveItems(ctx, run.ID, analysis.Picks)
	if err != nil {
		return c.fail(ctx, run, "persisting", startedAt, err)
	}
	run.PickCount = inserted

	run.Status = domain.StatusCompleted
	run.DurationMs = c.now().Sub(startedAt).Milliseconds()
	if err := c.repo.SaveScanRun(ctx, run); err != nil {
		return c.fail(ctx, run, "persisting", startedAt, err)
	}

	if len(listing.Items) > 0 {
		bookmark := domain.Bookmark{LastItemID: listing.Items[0].ID, ScannedAt: c.now()}
		if err := c.repo.SaveBookmark(ctx, bookmark); err != nil {
			c.warn("bookmark save failed", "error", err)
		}
	}

	c.invalidateCaches(run.ID)

	summary := fmt.Sprintf("scan complete: %d picks from %d comments (%d batches, %d duplicates skipped)",
		inserted, run.SourceItemCount, analysis.BatchCount, duplicates)
	c.tracker.Update(scanstate.StepComplete, 100, summary)
	c.appendEvent(ctx, domain.ScanEvent{
		EventType: "scan",
		ScanID:    run.ID,
		Success:   true,
		Message:   summary,
	})
	c.info("scan completed", "scan_id", run.ID, "grouping_key", run.GroupingKey,
		"picks", inserted, "batches", analysis.BatchCount, "cost_units", analysis.CostUnits)

	return domain.ScanResult{
		ScanID:          run.ID,
		Success:         true,
		GroupingKey:     run.GroupingKey,
		SourceItemCount: run.SourceItemCount,
		PickCount:       run.PickCount,
		BatchCount:      analysis.BatchCount,
		CostUnits:       analysis.CostUnits,
		DurationMs:      c.now().Sub(startedAt).Milliseconds(),
		Message:         summary,
	}
}

// filterNew applies the incremental bookmark when one exists. Any
// bookmark read problem falls back to the full listing; the analyzer
// accepts either.
func (c *Coordinator) filterNew(ctx context.Context, fresh []domain.RawItem) []domain.RawItem {
	bookmark, err := c.repo.GetBookmark(ctx)
	if err != nil {
		c.warn("bookmark load failed, processing full listing", "error", err)
		return fresh
	}
	if bookmark == nil {
		return fresh
	}
	return scanstate.FilterNew(bookmark.LastItemID, fresh)
}

func (c *Coordinator) invalidateCaches(scanID string) {
	if c.store == nil {
		return
	}
	c.store.DeleteNamespace(cache.NamespaceCurrentPicks)
	c.store.DeleteNamespace(cache.NamespaceStats)
	c.store.DeleteNamespace(cache.NamespaceHistory)
	c.store.Delete(cache.NamespaceScanDetail, scanID)
}

func (c *Coordinator) fail(ctx context.Context, run domain.ScanRun, stage string, startedAt time.Time, err error) domain.ScanResult {
	elapsed := c.now().Sub(startedAt)
	message := fmt.Sprintf("%s failed after %s: %v", stage, elapsed.Round(time.Millisecond), err)

	run.Status = domain.StatusFailed
	run.ErrorMessage = message
	run.DurationMs = elapsed.Milliseconds()
	if c.repo != nil {
		// Best effort: the failed run lands in history for diagnosis,
		// but a storage outage must not mask the original error.
		if saveErr := c.repo.SaveScanRun(ctx, run); saveErr != nil {
			c.warn("failed run save failed", "error", saveErr)
		}
	}

	c.tracker.SetError(message)
	c.appendEvent(ctx, domain.ScanEvent{
		EventType: "scan",
		ScanID:    run.ID,
		Success:   false,
		Message:   message,
	})
	if c.logger != nil {
		c.logger.Error("scan failed", "scan_id", run.ID, "stage", stage,
			"elapsed_ms", elapsed.Milliseconds(), "error", err)
	}

	return domain.ScanResult{
		ScanID:          run.ID,
		GroupingKey:     run.GroupingKey,
		SourceItemCount: run.SourceItemCount,
		DurationMs:      elapsed.Milliseconds(),
		Message:         message,
	}
}

func (c *Coordinator) appendEvent(ctx context.Context, ev domain.ScanEvent) {
	if c.repo == nil {
		return
	}
	if err := c.repo.AppendEvent(ctx, ev); err != nil {
		c.warn("operational log append failed", "error", err)
	}
}

// groupingKey derives the topic date from the thread title, falling
// back to the run's start date when the title carries none.
func groupingKey(title string, startedAt time.Time) string {
	if match := isoDateExpr.FindString(title); match != "" {
		return match
	}
	if match := longDateExpr.FindStringSubmatch(title); match != nil {
		raw := fmt.Sprintf("%s %s %s", match[1], match[2], match[3])
		if parsed, err := time.Parse("January 2 2006", raw); err == nil {
			return parsed.Format("2006-01-02")
		}
	}
	return startedAt.UTC().Format("2006-01-02")
}

func (c *Coordinator) info(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Coordinator) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
