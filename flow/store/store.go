// Package store provides the persistence contract for execution
// records, with in-memory, SQLite, MySQL and Redis-backed
// implementations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested execution ID does not exist.
var ErrNotFound = errors.New("not found")

// Store persists execution records durably.
//
// SaveExecution is an upsert with last-write-wins semantics: saving the
// same ID twice must be idempotent and keep the latest record. The
// engine holds the authoritative in-memory copy during a run; the store
// holds the durable copy for recovery and inspection afterwards.
//
// Type parameter E is the execution record type to persist (must be
// JSON-serializable for the database-backed implementations).
type Store[E any] interface {
	// SaveExecution upserts the record under id. workflowID is the
	// owning workflow, kept as an indexable column by database
	// backends.
	SaveExecution(ctx context.Context, id, workflowID string, e E) error

	// GetExecution returns the record for id, or ErrNotFound.
	GetExecution(ctx context.Context, id string) (E, error)

	// ListExecutions returns records for the given workflow, most
	// recently saved first. Empty workflowID lists across workflows.
	// limit <= 0 applies the implementation default.
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]E, error)
}

// Cache holds short-lived execution records for fast status reads.
type Cache[E any] interface {
	// CacheExecution stores the record under id with the given TTL.
	// A non-positive TTL uses the implementation default.
	CacheExecution(ctx context.Context, id string, e E, ttl time.Duration) error

	// GetCachedExecution returns the cached record, or ErrNotFound
	// when absent or expired.
	GetCachedExecution(ctx context.Context, id string) (E, error)
}

// Publisher fans execution lifecycle events out to an external channel
// (message broker, websocket relay). It is consumed as an event-bus
// handler, not by the engine directly.
type Publisher interface {
	// PublishEvent delivers payload on the named channel.
	PublishEvent(ctx context.Context, channel string, payload any) error
}
