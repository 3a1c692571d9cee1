package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"pickscanner/internal/domain"
	"pickscanner/internal/ports"
)

// PostgresRepository persists scan runs, picks, the fetch bookmark and
// the operational event log. Timestamps are stored as unix
// milliseconds so the schema ports across engines (tests run the same
// statements against SQLite).
type PostgresRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.ScanRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS scan_runs (
		id TEXT PRIMARY KEY,
		grouping_key TEXT NOT NULL,
		status TEXT NOT NULL,
		is_current BOOLEAN NOT NULL DEFAULT FALSE,
		source_item_count INTEGER NOT NULL DEFAULT 0,
		pick_count INTEGER NOT NULL DEFAULT 0,
		started_at BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS picks (
		scan_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		confidence INTEGER NOT NULL,
		quantity DOUBLE PRECISION,
		source_author TEXT NOT NULL,
		source_item_id TEXT NOT NULL DEFAULT '',
		source_score INTEGER NOT NULL DEFAULT 0,
		source_text TEXT NOT NULL DEFAULT '',
		reasoning TEXT NOT NULL DEFAULT '',
		factors TEXT NOT NULL DEFAULT '[]',
		outcome TEXT NOT NULL DEFAULT 'pending',
		annotation TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (source_author, symbol, action, scan_id)
	)`,
	`CREATE TABLE IF NOT EXISTS scan_state (
		id INTEGER PRIMARY KEY,
		last_item_id TEXT NOT NULL DEFAULT '',
		scanned_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS scan_events (
		event_type TEXT NOT NULL,
		scan_id TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
}

// Migrate creates the schema idempotently.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveScanRun promotes a completed run to current in one transaction.
// An existing current run with a different grouping key is demoted to
// history; one with the same grouping key is deleted together with its
// picks, so a rerun over the same topic replaces rather than
// accumulates. A run in any other status is recorded straight into
// history and never touches the current result-set.
func (r *PostgresRepository) SaveScanRun(ctx context.Context, run domain.ScanRun) error {
	if run.Status != domain.StatusCompleted {
		return r.saveHistoryRun(ctx, run)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.PersistenceError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	var prevID, prevKey string
	query, args, err := r.sb.
		Select("id", "grouping_key").
		From("scan_runs").
		Where(sq.Eq{"is_current": true}).
		ToSql()
	if err != nil {
		return &domain.PersistenceError{Op: "build select", Err: err}
	}

	switch err := tx.QueryRowContext(ctx, query, args...).Scan(&prevID, &prevKey); {
	case errors.Is(err, sql.ErrNoRows):
		// first save, nothing to demote
	case err != nil:
		return &domain.PersistenceError{Op: "load current", Err: err}
	case prevKey == run.GroupingKey:
		if err := r.deleteRun(ctx, tx, prevID); err != nil {
			return err
		}
	default:
		demote, args, err := r.sb.
			Update("scan_runs").
			Set("is_current", false).
			Where(sq.Eq{"id": prevID}).
			ToSql()
		if err != nil {
			return &domain.PersistenceError{Op: "build demote", Err: err}
		}
		if _, err := tx.ExecContext(ctx, demote, args...); err != nil {
			return &domain.PersistenceError{Op: "demote", Err: err}
		}
	}

	insert, args, err := r.sb.
		Insert("scan_runs").
		Columns("id", "grouping_key", "status", "is_current",
			"source_item_count", "pick_count", "started_at", "duration_ms", "error_message").
		Values(run.ID, run.GroupingKey, run.Status, true,
			run.SourceItemCount, run.PickCount, run.StartedAt.UnixMilli(), run.DurationMs, run.ErrorMessage).
		ToSql()
	if err != nil {
		return &domain.PersistenceError{Op: "build insert", Err: err}
	}
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return &domain.PersistenceError{Op: "insert run", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

// saveHistoryRun upserts a non-current run record, typically a failed
// one carrying its error message. Re-saving the same run ID overwrites
// the earlier record instead of erroring.
func (r *PostgresRepository) saveHistoryRun(ctx context.Context, run domain.ScanRun) error {
	query, args, err := r.sb.
		Insert("scan_runs").
		Columns("id", "grouping_key", "status", "is_current",
			"source_item_count", "pick_count", "started_at", "duration_ms", "error_message").
		Values(run.ID, run.GroupingKey, run.Status, false,
			run.SourceItemCount, run.PickCount, run.StartedAt.UnixMilli(), run.DurationMs, run.ErrorMessage).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			is_current = EXCLUDED.is_current,
			duration_ms = EXCLUDED.duration_ms,
			error_message = EXCLUDED.error_message`).
		ToSql()
	if err != nil {
		return &domain.PersistenceError{Op: "build history insert", Err: err}
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return &domain.PersistenceError{Op: "insert history run", Err: err}
	}
	return nil
}

func (r *PostgresRepository) deleteRun(ctx context.Context, tx *sql.Tx, id string) error {
	delPicks, args, err := r.sb.Delete("picks").Where(sq.Eq{"scan_id": id}).ToSql()
	if err != nil {
		return &domain.PersistenceError{Op: "build delete picks", Err: err}
	}
	if _, err := tx.ExecContext(ctx, delPicks, args...); err != nil {
		return &domain.PersistenceError{Op: "delete picks", Err: err}
	}

	delRun, args, err := r.sb.Delete("scan_runs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return &domain.PersistenceError{Op: "build delete run", Err: err}
	}
	if _, err := tx.ExecContext(ctx, delRun, args...); err != nil {
		return &domain.PersistenceError{Op: "delete run", Err: err}
	}
	return nil
}

// SaveItems appends picks under the scan, skipping rows that already
// exist under the natural key. Safe to call repeatedly for one scan.
func (r *PostgresRepository) SaveItems(ctx context.Context, scanID string, picks []domain.Pick) (int, int, error) {
	inserted, duplicates := 0, 0
	for _, pick := range picks {
		factors, err := json.Marshal(pick.Factors)
		if err != nil {
			return inserted, duplicates, &domain.PersistenceError{Op: "encode factors", Err: err}
		}

		outcome := pick.Outcome
		if outcome == "" {
			outcome = domain.OutcomePending
		}

		query, args, err := r.sb.
			Insert("picks").
			Columns("scan_id", "rank", "symbol", "action", "category", "confidence",
				"quantity", "source_author", "source_item_id", "source_score",
				"source_text", "reasoning", "factors", "outcome", "annotation").
			Values(scanID, pick.Rank, pick.Symbol, pick.Action, pick.Category, pick.Confidence,
				nullableFloat(pick.Quantity), pick.SourceAuthor, pick.SourceItemID, pick.SourceScore,
				pick.SourceText, pick.Reasoning, string(factors), outcome, pick.Annotation).
			Suffix("ON CONFLICT (source_author, symbol, action, scan_id) DO NOTHING").
			ToSql()
		if err != nil {
			return inserted, duplicates, &domain.PersistenceError{Op: "build insert pick", Err: err}
		}

		result, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return inserted, duplicates, &domain.PersistenceError{Op: "insert pick", Err: err}
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return inserted, duplicates, &domain.PersistenceError{Op: "rows affected", Err: err}
		}
		if affected == 0 {
			duplicates++
		} else {
			inserted++
		}
	}
	return inserted, duplicates, nil
}

// GetCurrent returns the single current run, or nil before the first save.
func (r *PostgresRepository) GetCurrent(ctx context.Context) (*domain.ScanRun, error) {
	query, args, err := r.runSelect().Where(sq.Eq{"is_current": true}).ToSql()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "build current", Err: err}
	}

	run, err := scanRun(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load current", Err: err}
	}
	return &run, nil
}

// GetHistory lists superseded runs, most recent first.
func (r *PostgresRepository) GetHistory(ctx context.Context, limit int) ([]domain.ScanRun, error) {
	builder := r.runSelect().
		Where(sq.Eq{"is_current": false}).
		OrderBy("started_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "build history", Err: err}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load history", Err: err}
	}
	defer rows.Close()

	var runs []domain.ScanRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "scan history row", Err: err}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "history rows", Err: err}
	}
	return runs, nil
}

// GetItemsByScan returns a scan's picks in rank order.
func (r *PostgresRepository) GetItemsByScan(ctx context.Context, scanID string) ([]domain.Pick, error) {
	query, args, err := r.sb.
		Select("scan_id", "rank", "symbol", "action", "category", "confidence",
			"quantity", "source_author", "source_item_id", "source_score",
			"source_text", "reasoning", "factors", "outcome", "annotation").
		From("picks").
		Where(sq.Eq{"scan_id": scanID}).
		OrderBy("rank ASC").
		ToSql()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "build picks", Err: err}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load picks", Err: err}
	}
	defer rows.Close()

	var picks []domain.Pick
	for rows.Next() {
		var (
			pick     domain.Pick
			quantity sql.NullFloat64
			factors  string
		)
		err := rows.Scan(&pick.ScanID, &pick.Rank, &pick.Symbol, &pick.Action,
			&pick.Category, &pick.Confidence, &quantity, &pick.SourceAuthor,
			&pick.SourceItemID, &pick.SourceScore, &pick.SourceText,
			&pick.Reasoning, &factors, &pick.Outcome, &pick.Annotation)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "scan pick row", Err: err}
		}
		if quantity.Valid {
			v := quantity.Float64
			pick.Quantity = &v
		}
		if err := json.Unmarshal([]byte(factors), &pick.Factors); err != nil {
			pick.Factors = nil
		}
		picks = append(picks, pick)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "picks rows", Err: err}
	}
	return picks, nil
}

// GetBookmark loads the singleton incremental-fetch bookmark, nil
// before the first successful run.
func (r *PostgresRepository) GetBookmark(ctx context.Context) (*domain.Bookmark, error) {
	query, args, err := r.sb.
		Select("last_item_id", "scanned_at").
		From("scan_state").
		Where(sq.Eq{"id": 1}).
		ToSql()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "build bookmark", Err: err}
	}

	var (
		lastItemID string
		scannedAt  int64
	)
	switch err := r.db.QueryRowContext(ctx, query, args...).Scan(&lastItemID, &scannedAt); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, &domain.PersistenceError{Op: "load bookmark", Err: err}
	}

	return &domain.Bookmark{
		LastItemID: lastItemID,
		ScannedAt:  time.UnixMilli(scannedAt),
	}, nil
}

// SaveBookmark upserts the singleton bookmark row.
func (r *PostgresRepository) SaveBookmark(ctx context.Context, b domain.Bookmark) error {
	query, args, err := r.sb.
		Insert("scan_state").
		Columns("id", "last_item_id", "scanned_at").
		Values(1, b.LastItemID, b.ScannedAt.UnixMilli()).
		Suffix("ON CONFLICT (id) DO UPDATE SET last_item_id = EXCLUDED.last_item_id, scanned_at = EXCLUDED.scanned_at").
		ToSql()
	if err != nil {
		return &domain.PersistenceError{Op: "build bookmark upsert", Err: err}
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return &domain.PersistenceError{Op: "save bookmark", Err: err}
	}
	return nil
}

// AppendEvent writes one operational-log record. The log is read by
// admin tooling only, never by the pipeline.
func (r *PostgresRepository) AppendEvent(ctx context.Context, ev domain.ScanEvent) error {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query, args, err := r.sb.
		Insert("scan_events").
		Columns("event_type", "scan_id", "success", "message", "created_at").
		Values(ev.EventType, ev.ScanID, ev.Success, ev.Message, createdAt.UnixMilli()).
		ToSql()
	if err != nil {
		return &domain.PersistenceError{Op: "build event", Err: err}
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return &domain.PersistenceError{Op: "append event", Err: err}
	}
	return nil
}

func (r *PostgresRepository) runSelect() sq.SelectBuilder {
	return r.sb.
		Select("id", "grouping_key", "status", "is_current", "source_item_count",
			"pick_count", "started_at", "duration_ms", "error_message").
		From("scan_runs")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.ScanRun, error) {
	var (
		run       domain.ScanRun
		startedAt int64
	)
	err := row.Scan(&run.ID, &run.GroupingKey, &run.Status, &run.Current,
		&run.SourceItemCount, &run.PickCount, &startedAt, &run.DurationMs, &run.ErrorMessage)
	if err != nil {
		return domain.ScanRun{}, err
	}
	run.StartedAt = time.UnixMilli(startedAt)
	return run, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
