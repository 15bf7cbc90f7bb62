package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dialogmesh/dialogmesh/core"
)

// InMemoryStore is a process-local MemoryStore keeping entries per scope.
// Retrieval is a linear scan scored by keyword overlap. Suitable for tests,
// demos and the session-history tier; swap for the SQLite store (or a vector
// index) when durability or semantic recall is needed.
//
// Concurrency: protected by RWMutex; Add is append-only.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]core.MemoryEntry // scope key -> entries in arrival order
}

// NewInMemoryStore constructs an empty in-memory memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string][]core.MemoryEntry)}
}

// Add appends an entry to the scope. Metadata key "ttl" (time.Duration)
// sets an expiry.
func (m *InMemoryStore) Add(_ context.Context, scope core.Scope, content string, metadata map[string]any) (string, error) {
	entry := core.MemoryEntry{
		ID:        core.NewID(),
		Scope:     scope,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	if ttl, ok := metadata["ttl"].(time.Duration); ok && ttl > 0 {
		entry.ExpiresAt = entry.CreatedAt.Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := scope.String()
	m.entries[key] = append(m.entries[key], entry)
	return entry.ID, nil
}

// Retrieve scores every live entry in scope against query and returns the
// top entries by score, most recent first between equal scores.
func (m *InMemoryStore) Retrieve(ctx context.Context, scope core.Scope, query string, limit int) ([]core.ScoredEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	stored := m.entries[scope.String()]
	now := time.Now().UTC()
	results := make([]core.ScoredEntry, 0, len(stored))
	for _, e := range stored {
		if e.Expired(now) {
			continue
		}
		if score := relevance(query, e.Content); score > 0 {
			results = append(results, core.ScoredEntry{Entry: e, Score: score})
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.CreatedAt.After(results[j].Entry.CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DeleteScope removes every entry belonging to scope.
func (m *InMemoryStore) DeleteScope(_ context.Context, scope core.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, scope.String())
	return nil
}

// Len reports the number of live entries in scope. Test helper.
func (m *InMemoryStore) Len(scope core.Scope) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[scope.String()])
}

// Entries returns the scope's entries in arrival order. Test helper.
func (m *InMemoryStore) Entries(scope core.Scope) []core.MemoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.entries[scope.String()]
	out := make([]core.MemoryEntry, len(stored))
	copy(out, stored)
	return out
}
