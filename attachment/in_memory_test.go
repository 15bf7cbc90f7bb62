package attachment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogmesh/dialogmesh/core"
)

func TestInMemoryStore_SaveGetRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	key := core.SessionKey{UserID: "u", SessionID: "s"}

	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	id, err := s.Save(key, "image/png", payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, meta, err := s.Get(key, id)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, "image/png", meta.MimeType)
	assert.Equal(t, len(payload), meta.Size)

	// Returned payload is a copy.
	got[0] = 0xFF
	again, _, err := s.Get(key, id)
	require.NoError(t, err)
	assert.Equal(t, payload, again)
}

func TestInMemoryStore_GetMissing(t *testing.T) {
	s := NewInMemoryStore()
	key := core.SessionKey{UserID: "u", SessionID: "s"}

	_, _, err := s.Get(key, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_SessionIsolationAndCascade(t *testing.T) {
	s := NewInMemoryStore()
	k1 := core.SessionKey{UserID: "u", SessionID: "s1"}
	k2 := core.SessionKey{UserID: "u", SessionID: "s2"}

	id1, err := s.Save(k1, "image/png", []byte{1})
	require.NoError(t, err)
	_, err = s.Save(k2, "image/jpeg", []byte{2})
	require.NoError(t, err)

	_, _, err = s.Get(k2, id1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteSession(k1))
	_, _, err = s.Get(k1, id1)
	assert.ErrorIs(t, err, ErrNotFound)

	metas, err := s.List(k2)
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}
