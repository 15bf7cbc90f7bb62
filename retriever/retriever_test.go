package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/memory"
)

// scriptedStore returns fixed entries or a fixed error, optionally after a
// delay, so fusion behavior can be pinned down deterministically.
type scriptedStore struct {
	entries []core.ScoredEntry
	err     error
	delay   time.Duration
}

func (s *scriptedStore) Add(context.Context, core.Scope, string, map[string]any) (string, error) {
	return core.NewID(), nil
}

func (s *scriptedStore) Retrieve(ctx context.Context, _ core.Scope, _ string, _ int) ([]core.ScoredEntry, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]core.ScoredEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *scriptedStore) DeleteScope(context.Context, core.Scope) error { return nil }

func scored(content string, score float64) core.ScoredEntry {
	return core.ScoredEntry{
		Entry: core.MemoryEntry{ID: core.NewID(), Content: content},
		Score: score,
	}
}

func TestFusion_TieBreakOrderIsDeterministic(t *testing.T) {
	private := &scriptedStore{entries: []core.ScoredEntry{scored("A", 0.9)}}
	public := &scriptedStore{entries: []core.ScoredEntry{scored("B", 0.9)}}
	history := &scriptedStore{entries: []core.ScoredEntry{scored("C", 0.9)}}

	f := New(history, private, public, func(o *Options) { o.CacheSize = 0 })

	for i := 0; i < 20; i++ {
		got, err := f.Retrieve(context.Background(), "q", core.SessionKey{UserID: "u", SessionID: "s"})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "A", got[0].Entry.Content)
		assert.Equal(t, "B", got[1].Entry.Content)
		assert.Equal(t, "C", got[2].Entry.Content)
		assert.Equal(t, core.TierPrivate, got[0].Tier)
		assert.Equal(t, core.TierPublic, got[1].Tier)
		assert.Equal(t, core.TierHistory, got[2].Tier)
	}
}

func TestFusion_SortsByScoreBeforeTier(t *testing.T) {
	private := &scriptedStore{entries: []core.ScoredEntry{scored("low", 0.2)}}
	public := &scriptedStore{entries: []core.ScoredEntry{scored("high", 0.8)}}
	history := &scriptedStore{entries: []core.ScoredEntry{scored("mid", 0.5)}}

	f := New(history, private, public, func(o *Options) { o.CacheSize = 0 })

	got, err := f.Retrieve(context.Background(), "q", core.SessionKey{UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "high", got[0].Entry.Content)
	assert.Equal(t, "mid", got[1].Entry.Content)
	assert.Equal(t, "low", got[2].Entry.Content)
}

func TestFusion_StoreFailureDegradesToEmpty(t *testing.T) {
	private := &scriptedStore{err: errors.New("backend down")}
	public := &scriptedStore{entries: []core.ScoredEntry{scored("B", 0.9)}}
	history := &scriptedStore{entries: []core.ScoredEntry{scored("C", 0.4)}}

	f := New(history, private, public, func(o *Options) { o.CacheSize = 0 })

	got, err := f.Retrieve(context.Background(), "q", core.SessionKey{UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].Entry.Content)
	assert.Equal(t, "C", got[1].Entry.Content)
}

func TestFusion_SlowStoreTimesOutWithoutAborting(t *testing.T) {
	private := &scriptedStore{delay: 500 * time.Millisecond, entries: []core.ScoredEntry{scored("slow", 0.9)}}
	public := &scriptedStore{entries: []core.ScoredEntry{scored("fast", 0.5)}}
	history := &scriptedStore{}

	f := New(history, private, public, func(o *Options) {
		o.StoreTimeout = 20 * time.Millisecond
		o.CacheSize = 0
	})

	start := time.Now()
	got, err := f.Retrieve(context.Background(), "q", core.SessionKey{UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, "fast", got[0].Entry.Content)
}

func TestFusion_CapTruncates(t *testing.T) {
	var entries []core.ScoredEntry
	for i := 0; i < 8; i++ {
		entries = append(entries, scored("p", float64(i)/10))
	}
	private := &scriptedStore{entries: entries}
	public := &scriptedStore{entries: entries}
	history := &scriptedStore{entries: entries}

	f := New(history, private, public, func(o *Options) {
		o.Cap = 10
		o.CacheSize = 0
	})

	got, err := f.Retrieve(context.Background(), "q", core.SessionKey{UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	assert.Len(t, got, 10)
	// Truncation keeps the highest scores.
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestFusion_CancelledContext(t *testing.T) {
	f := New(&scriptedStore{}, &scriptedStore{}, &scriptedStore{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Retrieve(ctx, "q", core.SessionKey{UserID: "u", SessionID: "s"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFusion_CacheServesRepeatQueries(t *testing.T) {
	store := memory.NewInMemoryStore()
	_, err := store.Add(context.Background(), core.PublicScope(), "return policy is 30 days", nil)
	require.NoError(t, err)

	f := New(memory.NewInMemoryStore(), memory.NewInMemoryStore(), store, func(o *Options) {
		o.CacheSize = 16
		o.CacheTTL = time.Minute
	})

	key := core.SessionKey{UserID: "u", SessionID: "s"}
	first, err := f.Retrieve(context.Background(), "return policy", key)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Mutating the store does not change the cached result within the TTL.
	_, err = store.Add(context.Background(), core.PublicScope(), "return policy update", nil)
	require.NoError(t, err)
	second, err := f.Retrieve(context.Background(), "return policy", key)
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))
}
