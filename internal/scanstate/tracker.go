package scanstate

import (
	"sync"
	"time"
)

// Step names the pipeline stage a running scan is in.
type Step string

const (
	StepIdle       Step = "idle"
	StepFetching   Step = "fetching"
	StepAnalyzing  Step = "analyzing"
	StepPersisting Step = "persisting"
	StepComplete   Step = "complete"
)

// Snapshot is a read-only copy of the tracker state for polling
// consumers, augmented with elapsed time.
type Snapshot struct {
	Scanning       bool
	Step           Step
	Progress       int
	Detail         string
	Error          string
	StartedAt      time.Time
	LastUpdate     time.Time
	ElapsedSeconds float64
}

// Tracker is the process-wide live-progress record. It exists purely
// so a polling collaborator can show progress; most-recent-write-wins
// is its only guarantee and nothing correctness-critical reads it.
type Tracker struct {
	mu         sync.Mutex
	scanning   bool
	step       Step
	progress   int
	detail     string
	err        string
	startedAt  time.Time
	lastUpdate time.Time
	now        func() time.Time
}

// NewTracker starts in the idle state.
func NewTracker() *Tracker {
	return &Tracker{step: StepIdle, now: time.Now}
}

// Update overwrites the progress record and stamps lastUpdate.
func (t *Tracker) Update(step Step, progress int, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.scanning = step != StepIdle && step != StepComplete
	t.step = step
	t.progress = progress
	t.detail = detail
	t.lastUpdate = t.now()
	if t.startedAt.IsZero() {
		t.startedAt = t.lastUpdate
	}
}

// SetError marks the scan stopped but keeps the last-known step and
// progress visible for diagnostics.
func (t *Tracker) SetError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.scanning = false
	t.err = msg
	t.lastUpdate = t.now()
}

// Reset returns the tracker to the idle state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.scanning = false
	t.step = StepIdle
	t.progress = 0
	t.detail = ""
	t.err = ""
	t.startedAt = t.now()
	t.lastUpdate = t.startedAt
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Scanning:   t.scanning,
		Step:       t.step,
		Progress:   t.progress,
		Detail:     t.detail,
		Error:      t.err,
		StartedAt:  t.startedAt,
		LastUpdate: t.lastUpdate,
	}
	if !t.startedAt.IsZero() {
		snap.ElapsedSeconds = t.now().Sub(t.startedAt).Seconds()
	}
	return snap
}
