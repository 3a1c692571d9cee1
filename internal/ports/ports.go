package ports

import (
	"context"
	"time"

	"pickscanner/internal/domain"
)

// ThreadSource pulls the current topic's full comment listing.
type ThreadSource interface {
	FetchThread(ctx context.Context) (domain.ThreadListing, error)
}

// AnalysisClient sends one batch of raw comments to the analysis
// service and returns its raw text reply plus the cost units consumed.
type AnalysisClient interface {
	AnalyzeBatch(ctx context.Context, items []domain.RawItem) (reply string, costUnits int, err error)
}

// ScanRepository persists scan runs, their picks, the fetch bookmark,
// and the operational event log.
type ScanRepository interface {
	SaveScanRun(ctx context.Context, run domain.ScanRun) error
	SaveItems(ctx context.Context, scanID string, picks []domain.Pick) (inserted, duplicates int, err error)
	GetCurrent(ctx context.Context) (*domain.ScanRun, error)
	GetHistory(ctx context.Context, limit int) ([]domain.ScanRun, error)
	GetItemsByScan(ctx context.Context, scanID string) ([]domain.Pick, error)
	GetBookmark(ctx context.Context) (*domain.Bookmark, error)
	SaveBookmark(ctx context.Context, b domain.Bookmark) error
	AppendEvent(ctx context.Context, ev domain.ScanEvent) error
}

// Scheduler controls when scans execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
