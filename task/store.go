package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound is returned when an archived result does not exist.
var ErrNotFound = errors.New("result not found")

// ResultStore archives completed results. Only finished work is archived;
// pending tasks live in memory and do not survive a restart.
type ResultStore interface {
	// Append archives a completed result.
	Append(ctx context.Context, r Result) error

	// Get returns the archived result for taskID.
	Get(ctx context.Context, taskID string) (Result, error)

	// List returns results matching the filter, most recent first.
	List(ctx context.Context, filter Filter) ([]Result, error)

	Close() error
}

// Filter controls which results are returned by List.
type Filter struct {
	AgentID string        `json:"agent_id,omitempty"`
	Status  *ResultStatus `json:"status,omitempty"`
	Limit   int           `json:"limit,omitempty"`
	Offset  int           `json:"offset,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS results (
	task_id    TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	output     TEXT NOT NULL DEFAULT 'null',
	error      TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	ended_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_ended_at ON results(ended_at);
`

// SQLiteStore persists results in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the results table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append inserts r. Archiving the same task twice replaces the earlier row.
func (s *SQLiteStore) Append(ctx context.Context, r Result) error {
	output, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO results
			(task_id, agent_id, status, output, error, started_at, ended_at)
		VALUES (?,?,?,?,?,?,?)`,
		r.TaskID, r.AgentID, string(r.Status), string(output), r.Error,
		r.Metrics.StartedAt.UTC(), r.Metrics.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Get retrieves the result for taskID.
func (s *SQLiteStore) Get(ctx context.Context, taskID string) (Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, agent_id, status, output, error, started_at, ended_at
		FROM results WHERE task_id = ?`, taskID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return r, err
}

// List returns results matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Result, error) {
	q := strings.Builder{}
	q.WriteString(`SELECT task_id, agent_id, status, output, error, started_at, ended_at
		FROM results WHERE 1=1`)
	args := []any{}

	if filter.AgentID != "" {
		q.WriteString(" AND agent_id=?")
		args = append(args, filter.AgentID)
	}
	if filter.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*filter.Status))
	}
	q.WriteString(" ORDER BY ended_at DESC, rowid DESC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanResult.
type scanner interface {
	Scan(dest ...any) error
}

func scanResult(s scanner) (Result, error) {
	var r Result
	var status, output string
	err := s.Scan(
		&r.TaskID, &r.AgentID, &status, &output, &r.Error,
		&r.Metrics.StartedAt, &r.Metrics.EndedAt,
	)
	if err != nil {
		return Result{}, err
	}
	r.Status = ResultStatus(status)
	if err := json.Unmarshal([]byte(output), &r.Output); err != nil {
		return Result{}, fmt.Errorf("decode output for task %s: %w", r.TaskID, err)
	}
	return r, nil
}
