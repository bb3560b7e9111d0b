package flow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/corallum/flowengine/flow/store"
)

// ErrExecutionNotFound is returned when no execution with the given ID
// is known to the ledger or its backing store.
var ErrExecutionNotFound = errors.New("execution not found")

// Filter narrows a ledger listing. Zero values match everything.
type Filter struct {
	// WorkflowID restricts results to runs of one workflow.
	WorkflowID string

	// Status restricts results to executions in one state.
	Status Status

	// Limit caps the number of results (default 100).
	Limit int
}

// ledgerEntry pairs the live execution record with a per-execution
// persistence mutex, so writes for one execution never interleave
// while writes for different executions proceed in parallel.
type ledgerEntry struct {
	ex        *Execution
	persistMu sync.Mutex
}

// Ledger is the engine's registry of executions: the authoritative
// in-memory copy of every run it has seen, with write-through
// persistence to a Store and optional Cache.
//
// All mutation goes through Update, which applies the caller's change
// under the registry lock, snapshots the result, and persists the
// snapshot outside the lock. Reads return deep copies, never live
// records.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*ledgerEntry
	order   []string // creation order of execution ids, oldest first

	store    store.Store[Execution]
	cache    store.Cache[Execution]
	cacheTTL time.Duration
	logf     func(format string, args ...any)
}

// NewLedger creates a ledger persisting to st. cache may be nil; logf
// reports persistence failures (which are logged, not propagated, so a
// slow or failing store never wedges the run loop).
func NewLedger(st store.Store[Execution], cache store.Cache[Execution], cacheTTL time.Duration, logf func(format string, args ...any)) *Ledger {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Ledger{
		entries:  make(map[string]*ledgerEntry),
		store:    st,
		cache:    cache,
		cacheTTL: cacheTTL,
		logf:     logf,
	}
}

// Add registers a new execution and persists its initial snapshot.
func (l *Ledger) Add(ctx context.Context, ex *Execution) {
	l.mu.Lock()
	entry := &ledgerEntry{ex: ex}
	l.entries[ex.ID] = entry
	l.order = append(l.order, ex.ID)
	snapshot := ex.Clone()
	l.mu.Unlock()

	l.persist(ctx, entry, snapshot)
}

// Update applies fn to the execution under the registry lock, then
// persists the resulting snapshot. fn returning an error abandons the
// update (nothing is persisted). Returns ErrExecutionNotFound for an
// unknown id.
func (l *Ledger) Update(ctx context.Context, id string, fn func(ex *Execution) error) error {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		l.mu.Unlock()
		return ErrExecutionNotFound
	}
	if err := fn(entry.ex); err != nil {
		l.mu.Unlock()
		return err
	}
	snapshot := entry.ex.Clone()
	l.mu.Unlock()

	l.persist(ctx, entry, snapshot)
	return nil
}

// persist writes one snapshot through to the store and cache. The
// per-entry mutex serializes writes for a single execution so an older
// snapshot can never land after a newer one.
func (l *Ledger) persist(ctx context.Context, entry *ledgerEntry, snapshot Execution) {
	entry.persistMu.Lock()
	defer entry.persistMu.Unlock()

	if err := l.store.SaveExecution(ctx, snapshot.ID, snapshot.WorkflowID, snapshot); err != nil {
		l.logf("ledger: failed to persist execution %s: %v", snapshot.ID, err)
	}
	if l.cache != nil {
		if err := l.cache.CacheExecution(ctx, snapshot.ID, snapshot, l.cacheTTL); err != nil {
			l.logf("ledger: failed to cache execution %s: %v", snapshot.ID, err)
		}
	}
}

// Get returns a copy of the execution. Executions evicted from memory
// (e.g. after a restart) fall back to the cache and then the store.
func (l *Ledger) Get(ctx context.Context, id string) (Execution, error) {
	l.mu.RLock()
	entry, ok := l.entries[id]
	if ok {
		snapshot := entry.ex.Clone()
		l.mu.RUnlock()
		return snapshot, nil
	}
	l.mu.RUnlock()

	if l.cache != nil {
		if ex, err := l.cache.GetCachedExecution(ctx, id); err == nil {
			return ex, nil
		}
	}

	ex, err := l.store.GetExecution(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Execution{}, ErrExecutionNotFound
	}
	if err != nil {
		return Execution{}, err
	}
	return ex, nil
}

// List returns executions matching the filter, newest first.
func (l *Ledger) List(_ context.Context, f Filter) []Execution {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Execution
	for i := len(l.order) - 1; i >= 0 && len(out) < limit; i-- {
		entry := l.entries[l.order[i]]
		if f.WorkflowID != "" && entry.ex.WorkflowID != f.WorkflowID {
			continue
		}
		if f.Status != "" && entry.ex.Status != f.Status {
			continue
		}
		out = append(out, entry.ex.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
