package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"fba-sync-api/internal/model"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteRunRepository implements RunRepository using SQLite.
type SQLiteRunRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteRunRepository opens (or creates) the history database at dbPath.
func NewSQLiteRunRepository(dbPath string, logger *slog.Logger) (*SQLiteRunRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSQLiteTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("run history initialized", "backend", "sqlite", "path", dbPath)
	return &SQLiteRunRepository{db: db}, nil
}

func createSQLiteTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS refresh_runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		region TEXT NOT NULL,
		trigger_kind TEXT NOT NULL,
		outcome TEXT NOT NULL,
		report_id TEXT NOT NULL DEFAULT '',
		records INTEGER NOT NULL DEFAULT 0,
		aging_risk_total REAL NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_region_seq ON refresh_runs(region, seq);
	`
	_, err := db.Exec(query)
	return err
}

// Record inserts a finished run.
func (r *SQLiteRunRepository) Record(ctx context.Context, run *model.RefreshRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		INSERT INTO refresh_runs (run_id, region, trigger_kind, outcome, report_id, records, aging_risk_total, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, string(run.Region), string(run.Trigger), string(run.Outcome), run.ReportID,
		run.Records, run.AgingRiskTotal, run.Error,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// LatestByRegion returns the most recent run per region.
func (r *SQLiteRunRepository) LatestByRegion(ctx context.Context) (map[model.Region]*model.RefreshRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := `SELECT ` + runColumns + ` FROM refresh_runs
		WHERE seq IN (SELECT MAX(seq) FROM refresh_runs GROUP BY region)`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest runs: %w", err)
	}
	defer rows.Close()

	out := make(map[model.Region]*model.RefreshRun)
	for rows.Next() {
		run, err := scanMillisRun(rows)
		if err != nil {
			return nil, err
		}
		out[run.Region] = run
	}
	return out, rows.Err()
}

// List returns up to limit runs for a region, newest first.
func (r *SQLiteRunRepository) List(ctx context.Context, region model.Region, limit int) ([]model.RefreshRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	query := `SELECT ` + runColumns + ` FROM refresh_runs WHERE region = ? ORDER BY seq DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, string(region), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []model.RefreshRun{}
	for rows.Next() {
		run, err := scanMillisRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Prune deletes runs that started before cutoff.
func (r *SQLiteRunRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_runs WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (r *SQLiteRunRepository) Close() error {
	return r.db.Close()
}

const runColumns = `run_id, region, trigger_kind, outcome, report_id, records, aging_risk_total, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMillisRun(row rowScanner) (*model.RefreshRun, error) {
	var (
		run                 model.RefreshRun
		region, trig, outc  string
		startedMs, finishMs int64
	)
	err := row.Scan(&run.ID, &region, &trig, &outc, &run.ReportID, &run.Records,
		&run.AgingRiskTotal, &run.Error, &startedMs, &finishMs)
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Region = model.Region(region)
	run.Trigger = model.Trigger(trig)
	run.Outcome = model.Outcome(outc)
	run.StartedAt = time.UnixMilli(startedMs).UTC()
	run.FinishedAt = time.UnixMilli(finishMs).UTC()
	return &run, nil
}

var _ RunRepository = (*SQLiteRunRepository)(nil)

// Ping verifies the database file is reachable.
func (r *SQLiteRunRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
