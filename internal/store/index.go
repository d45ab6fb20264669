package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord is one row of the run index: the durable summary of a finished
// (or failed) optimization run.
type RunRecord struct {
	RunID       string
	Objective   string
	Rule        string
	Dim         int
	StepSize    float64
	Iterations  int
	InitialCost float64
	BestCost    float64
	State       string
	CreatedAt   time.Time
}

// RunIndex is a SQLite-backed index of completed runs. Checkpoints and
// traces stay on the filesystem; the index only answers "what ran, with
// what config, how well" queries.
type RunIndex struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewRunIndex creates a run index backed by the SQLite file at path.
func NewRunIndex(path string) *RunIndex {
	return &RunIndex{path: path}
}

// Init opens the database and creates the schema if needed. Safe to call
// more than once.
func (ri *RunIndex) Init(ctx context.Context) error {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	if ri.path == "" {
		return errors.New("run index path is required")
	}
	if ri.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", ri.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id       TEXT PRIMARY KEY,
			objective    TEXT NOT NULL,
			rule         TEXT NOT NULL,
			dim          INTEGER NOT NULL,
			step_size    REAL NOT NULL,
			iterations   INTEGER NOT NULL,
			initial_cost REAL NOT NULL,
			best_cost    REAL NOT NULL,
			state        TEXT NOT NULL,
			created_at   TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return fmt.Errorf("create runs table: %w", err)
	}

	ri.db = db
	return nil
}

// Close closes the underlying database.
func (ri *RunIndex) Close() error {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	if ri.db == nil {
		return nil
	}
	err := ri.db.Close()
	ri.db = nil
	return err
}

func (ri *RunIndex) getDB() (*sql.DB, error) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	if ri.db == nil {
		return nil, errors.New("run index is not initialized")
	}
	return ri.db, nil
}

// SaveRun inserts or updates a run record.
func (ri *RunIndex) SaveRun(ctx context.Context, rec RunRecord) error {
	db, err := ri.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (run_id, objective, rule, dim, step_size, iterations, initial_cost, best_cost, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			iterations = excluded.iterations,
			best_cost = excluded.best_cost,
			state = excluded.state
	`, rec.RunID, rec.Objective, rec.Rule, rec.Dim, rec.StepSize, rec.Iterations,
		rec.InitialCost, rec.BestCost, rec.State, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// GetRun retrieves a run record by ID. The second return value reports
// whether the run was found.
func (ri *RunIndex) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	db, err := ri.getDB()
	if err != nil {
		return RunRecord{}, false, err
	}

	var rec RunRecord
	var createdAt string
	err = db.QueryRowContext(ctx, `
		SELECT run_id, objective, rule, dim, step_size, iterations, initial_cost, best_cost, state, created_at
		FROM runs WHERE run_id = ?
	`, runID).Scan(&rec.RunID, &rec.Objective, &rec.Rule, &rec.Dim, &rec.StepSize,
		&rec.Iterations, &rec.InitialCost, &rec.BestCost, &rec.State, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, err
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("parse created_at for run %s: %w", runID, err)
	}
	return rec, true, nil
}

// ListRuns returns the most recent run records, newest first, up to limit.
// A non-positive limit returns all runs.
func (ri *RunIndex) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	db, err := ri.getDB()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT run_id, objective, rule, dim, step_size, iterations, initial_cost, best_cost, state, created_at
		FROM runs ORDER BY created_at DESC
	`
	var rows *sql.Rows
	if limit > 0 {
		rows, err = db.QueryContext(ctx, query+" LIMIT ?", limit)
	} else {
		rows, err = db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var createdAt string
		if err := rows.Scan(&rec.RunID, &rec.Objective, &rec.Rule, &rec.Dim, &rec.StepSize,
			&rec.Iterations, &rec.InitialCost, &rec.BestCost, &rec.State, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for run %s: %w", rec.RunID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
