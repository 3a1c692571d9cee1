package domain

import (
	"errors"
	"fmt"
)

// ErrScanBusy is returned when a run is requested while another is in
// flight. It is a structured rejection, not a failure.
var ErrScanBusy = errors.New("scan already running")

// SourceFetchError aborts a run: the upstream thread could not be read.
type SourceFetchError struct {
	Err error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("source fetch: %v", e.Err)
}

func (e *SourceFetchError) Unwrap() error { return e.Err }

// AnalysisBatchError is recoverable per batch: the run continues with
// zero extractions for the failed batch.
type AnalysisBatchError struct {
	Batch int
	Err   error
}

func (e *AnalysisBatchError) Error() string {
	return fmt.Sprintf("analysis batch %d: %v", e.Batch, e.Err)
}

func (e *AnalysisBatchError) Unwrap() error { return e.Err }

// PersistenceError aborts a run; the storage transaction guarantees no
// partial promotion happened.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ParseFailure reports that no JSON array could be recovered from an
// analysis response. The extractor never returns partial structures.
type ParseFailure struct {
	Reason string
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("payload parse: %s", e.Reason)
}
