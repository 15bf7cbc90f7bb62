package attachment

import (
	"sort"
	"sync"
	"time"

	"github.com/dialogmesh/dialogmesh/core"
)

// InMemoryStore is a trivial in-process Store implementation useful for
// tests, examples and single-process prototypes. It keeps all attachments in
// a nested map guarded by an RWMutex. Payloads are copied on save / retrieval
// to avoid accidental external mutation of internal buffers.
//
// Layout: session -> attachmentID -> record
//
// This implementation is intentionally minimal; it does not enforce retention
// limits, size quotas, or eviction. For production, prefer a durable
// implementation that can scale and survive process restarts.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]record
}

type record struct {
	meta Attachment
	data []byte
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore returns an empty in-memory attachment store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]map[string]record)}
}

// Save stores the payload under a fresh id. The input slice is copied before
// storage.
func (s *InMemoryStore) Save(key core.SessionKey, mimeType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := key.String()
	if _, exists := s.sessions[bucket]; !exists {
		s.sessions[bucket] = make(map[string]record)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	id := core.NewID()
	s.sessions[bucket][id] = record{
		meta: Attachment{
			ID:        id,
			MimeType:  mimeType,
			Size:      len(cp),
			CreatedAt: time.Now().UTC(),
		},
		data: cp,
	}
	return id, nil
}

// Get returns a copy of the stored payload or ErrNotFound.
func (s *InMemoryStore) Get(key core.SessionKey, attachmentID string) ([]byte, Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.sessions[key.String()]
	if !ok {
		return nil, Attachment{}, ErrNotFound
	}
	rec, ok := bucket[attachmentID]
	if !ok {
		return nil, Attachment{}, ErrNotFound
	}
	cp := make([]byte, len(rec.data))
	copy(cp, rec.data)
	return cp, rec.meta, nil
}

// List returns metadata for the session's attachments, oldest first.
func (s *InMemoryStore) List(key core.SessionKey) ([]Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.sessions[key.String()]
	if !ok {
		return []Attachment{}, nil
	}
	metas := make([]Attachment, 0, len(bucket))
	for _, rec := range bucket {
		metas = append(metas, rec.meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedAt.Before(metas[j].CreatedAt) })
	return metas, nil
}

// DeleteSession removes every attachment stored for the session.
func (s *InMemoryStore) DeleteSession(key core.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key.String())
	return nil
}
