package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps execution records in a single-file database. Designed for:
//   - development and testing with zero setup
//   - single-process deployments that need durability
//   - prototyping before migrating to MySQL
//
// WAL mode is enabled so status reads do not block the engine's
// writes. Records are stored as JSON in a single column with the
// workflow ID broken out for indexed listing.
//
// Type parameter E is the execution record type (JSON-serializable).
type SQLiteStore[E any] struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary creates) the database at
// path. Use ":memory:" for an in-memory database in tests.
func NewSQLiteStore[E any](path string) (*SQLiteStore[E], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite supports a single writer; keep one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore[E]{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore[E]) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	data        TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id, updated_at);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}
	return nil
}

// SaveExecution upserts the record under id (last write wins).
func (s *SQLiteStore[E]) SaveExecution(ctx context.Context, id, workflowID string, e E) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	const query = `
INSERT INTO executions (id, workflow_id, data, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	workflow_id = excluded.workflow_id,
	data        = excluded.data,
	updated_at  = excluded.updated_at
`
	if _, err := s.db.ExecContext(ctx, query, id, workflowID, string(data), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// GetExecution returns the record for id, or ErrNotFound.
func (s *SQLiteStore[E]) GetExecution(ctx context.Context, id string) (E, error) {
	var zero E

	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM executions WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load execution: %w", err)
	}

	var record E
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return zero, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return record, nil
}

// ListExecutions returns records newest-first, optionally filtered by
// workflow.
func (s *SQLiteStore[E]) ListExecutions(ctx context.Context, workflowID string, limit int) ([]E, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if workflowID != "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT data FROM executions WHERE workflow_id = ? ORDER BY updated_at DESC LIMIT ?",
			workflowID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT data FROM executions ORDER BY updated_at DESC LIMIT ?", limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []E
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		var record E
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (s *SQLiteStore[E]) Close() error {
	return s.db.Close()
}
