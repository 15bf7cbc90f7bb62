package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogmesh/dialogmesh/core"
)

var _ core.MemoryStore = (*SQLiteStore)(nil)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_AddRetrieveRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	scope := core.PrivateScope("u1")
	ctx := context.Background()

	id, err := s.Add(ctx, scope, "allergic to peanuts", map[string]any{"source": "profile"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Retrieve(ctx, scope, "peanuts", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].Entry.ID)
	assert.Equal(t, "allergic to peanuts", got[0].Entry.Content)
	assert.Equal(t, "profile", got[0].Entry.Metadata["source"])
}

func TestSQLiteStore_ScopeIsolation(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, core.PrivateScope("u1"), "secret preference", nil)
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, core.PrivateScope("u2"), "preference", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteStore_ExpiredRowsFiltered(t *testing.T) {
	s := newSQLiteStore(t)
	scope := core.PublicScope()
	ctx := context.Background()

	// A sub-second TTL truncates to the current unix second, which the read
	// filter already treats as expired.
	_, err := s.Add(ctx, scope, "flash sale today", map[string]any{"ttl": time.Millisecond})
	require.NoError(t, err)
	_, err = s.Add(ctx, scope, "permanent sale policy", nil)
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, scope, "sale", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "permanent sale policy", got[0].Entry.Content)
}

func TestSQLiteStore_Reap(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, core.PublicScope(), "short lived", map[string]any{"ttl": time.Millisecond})
	require.NoError(t, err)
	_, err = s.Add(ctx, core.PublicScope(), "long lived", nil)
	require.NoError(t, err)

	n, err := s.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteStore_DeleteScopeCascades(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	scope := core.SessionScope(core.SessionKey{UserID: "u", SessionID: "s"})

	_, err := s.Add(ctx, scope, "turn transcript", nil)
	require.NoError(t, err)
	_, err = s.Add(ctx, core.PrivateScope("u"), "unrelated", nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteScope(ctx, scope))

	got, err := s.Retrieve(ctx, scope, "", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	kept, err := s.Retrieve(ctx, core.PrivateScope("u"), "", 10)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestSQLiteStore_LimitAndOrdering(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	scope := core.PublicScope()

	_, err := s.Add(ctx, scope, "shipping info only", nil)
	require.NoError(t, err)
	_, err = s.Add(ctx, scope, "shipping and returns info", nil)
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, scope, "shipping returns", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "shipping and returns info", got[0].Entry.Content)
}
