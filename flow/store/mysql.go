package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL implementation of Store, for production
// deployments where multiple processes need access to the execution
// history.
//
// Records are stored as JSON with the workflow ID broken out for
// indexed listing, mirroring the SQLite schema.
//
// Type parameter E is the execution record type (JSON-serializable).
type MySQLStore[E any] struct {
	db *sql.DB
}

// NewMySQLStore connects using the given DSN, e.g.
// "user:pass@tcp(localhost:3306)/flowengine?parseTime=true", verifies
// the connection, and creates the executions table if needed.
func NewMySQLStore[E any](dsn string) (*MySQLStore[E], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[E]{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore[E]) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id          VARCHAR(191) PRIMARY KEY,
	workflow_id VARCHAR(191) NOT NULL,
	data        JSON NOT NULL,
	updated_at  BIGINT NOT NULL,
	INDEX idx_executions_workflow (workflow_id, updated_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}
	return nil
}

// SaveExecution upserts the record under id (last write wins).
func (s *MySQLStore[E]) SaveExecution(ctx context.Context, id, workflowID string, e E) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	const query = `
INSERT INTO executions (id, workflow_id, data, updated_at)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	workflow_id = VALUES(workflow_id),
	data        = VALUES(data),
	updated_at  = VALUES(updated_at)
`
	if _, err := s.db.ExecContext(ctx, query, id, workflowID, string(data), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// GetExecution returns the record for id, or ErrNotFound.
func (s *MySQLStore[E]) GetExecution(ctx context.Context, id string) (E, error) {
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
func (s *MySQLStore[E]) ListExecutions(ctx context.Context, workflowID string, limit int) ([]E, error) {
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

// Close releases the connection pool.
func (s *MySQLStore[E]) Close() error {
	return s.db.Close()
}
