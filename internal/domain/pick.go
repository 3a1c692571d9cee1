package domain

import "time"

// RawItem is one comment pulled from the source thread.
type RawItem struct {
	ID     string
	Author string
	Text   string
	Score  int
}

// ThreadListing is the full fetch result for one topic: the thread
// title (carrying the grouping date) plus its comments, newest first.
type ThreadListing struct {
	Title string
	Items []RawItem
}

// ScanStatus enumerates ScanRun lifecycle milestones.
type ScanStatus string

const (
	StatusPending    ScanStatus = "pending"
	StatusFetching   ScanStatus = "fetching"
	StatusAnalyzing  ScanStatus = "analyzing"
	StatusPersisting ScanStatus = "persisting"
	StatusCompleted  ScanStatus = "completed"
	StatusFailed     ScanStatus = "failed"
)

// ScanRun is one harvest-analyze-persist cycle. At most one run per
// grouping space is Current; the rest are history.
type ScanRun struct {
	ID              string
	GroupingKey     string
	Status          ScanStatus
	Current         bool
	SourceItemCount int
	PickCount       int
	StartedAt       time.Time
	DurationMs      int64
	ErrorMessage    string
}

// Outcome records how a pick resolved after the fact. Mutated by
// external tooling, never by the pipeline.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
	OutcomeFlat    Outcome = "flat"
)

// Pick is one structured extraction owned by a ScanRun. The natural
// key (SourceAuthor, Symbol, Action, ScanID) deduplicates inserts.
type Pick struct {
	ScanID       string
	Rank         int
	Symbol       string
	Action       string
	Category     string
	Confidence   int
	Quantity     *float64
	SourceAuthor string
	SourceItemID string
	SourceScore  int
	SourceText   string
	Reasoning    string
	Factors      []string
	Outcome      Outcome
	Annotation   string
}

// ScanEvent is one operational-log record, read by admin tooling only.
type ScanEvent struct {
	EventType string
	ScanID    string
	Success   bool
	Message   string
	CreatedAt time.Time
}

// Bookmark marks the newest source item seen by the last successful
// run, so the next run can skip already-processed comments.
type Bookmark struct {
	LastItemID string
	ScannedAt  time.Time
}

// ScanResult is what a trigger (timer or manual) gets back from the
// Coordinator. Runs never propagate errors past this struct.
type ScanResult struct {
	ScanID          string
	Success         bool
	Busy            bool
	GroupingKey     string
	SourceItemCount int
	PickCount       int
	BatchCount      int
	CostUnits       int
	DurationMs      int64
	Message         string
}
