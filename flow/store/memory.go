package store

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store, Cache and
// Publisher. Designed for testing and single-process deployments where
// durability is not required. Thread-safe.
//
// Type parameter E is the execution record type.
type MemStore[E any] struct {
	mu        sync.RWMutex
	records   map[string]memRecord[E]
	order     []string // insertion order of ids, oldest first
	cache     map[string]cacheRecord[E]
	published []PublishedEvent

	// now is swapped out in tests.
	now func() time.Time
}

type memRecord[E any] struct {
	workflowID string
	record     E
}

type cacheRecord[E any] struct {
	record    E
	expiresAt time.Time
}

// PublishedEvent records one PublishEvent call, for test inspection.
type PublishedEvent struct {
	Channel string
	Payload any
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[E any]() *MemStore[E] {
	return &MemStore[E]{
		records: make(map[string]memRecord[E]),
		cache:   make(map[string]cacheRecord[E]),
		now:     time.Now,
	}
}

// SaveExecution upserts the record under id (last write wins).
func (m *MemStore[E]) SaveExecution(_ context.Context, id, workflowID string, e E) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[id]; !exists {
		m.order = append(m.order, id)
	}
	m.records[id] = memRecord[E]{workflowID: workflowID, record: e}
	return nil
}

// GetExecution returns the record for id, or ErrNotFound.
func (m *MemStore[E]) GetExecution(_ context.Context, id string) (E, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		var zero E
		return zero, ErrNotFound
	}
	return rec.record, nil
}

// ListExecutions returns records newest-first, optionally filtered by
// workflow.
func (m *MemStore[E]) ListExecutions(_ context.Context, workflowID string, limit int) ([]E, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var out []E
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		rec := m.records[m.order[i]]
		if workflowID != "" && rec.workflowID != workflowID {
			continue
		}
		out = append(out, rec.record)
	}
	return out, nil
}

// CacheExecution stores the record with a TTL (default one hour).
func (m *MemStore[E]) CacheExecution(_ context.Context, id string, e E, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[id] = cacheRecord[E]{record: e, expiresAt: m.now().Add(ttl)}
	return nil
}

// GetCachedExecution returns the cached record, or ErrNotFound when
// absent or expired.
func (m *MemStore[E]) GetCachedExecution(_ context.Context, id string) (E, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.cache[id]
	if !ok || m.now().After(rec.expiresAt) {
		var zero E
		return zero, ErrNotFound
	}
	return rec.record, nil
}

// PublishEvent records the event for later inspection.
func (m *MemStore[E]) PublishEvent(_ context.Context, channel string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, PublishedEvent{Channel: channel, Payload: payload})
	return nil
}

// Published returns a copy of every event recorded by PublishEvent.
func (m *MemStore[E]) Published() []PublishedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PublishedEvent, len(m.published))
	copy(out, m.published)
	return out
}
