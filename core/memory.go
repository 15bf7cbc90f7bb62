package core

import (
	"context"
	"time"
)

// Scope identifies the ownership boundary of a memory entry. Session scopes
// live and die with one conversation; private scopes persist per user; the
// public scope is shared by everyone.
type Scope struct {
	Kind string // "session", "private" or "public"
	ID   string // session key string or user id; empty for public
}

// Scope kind labels.
const (
	ScopeKindSession = "session"
	ScopeKindPrivate = "private"
	ScopeKindPublic  = "public"
)

// SessionScope returns the scope bound to one session's lifetime.
func SessionScope(key SessionKey) Scope {
	return Scope{Kind: ScopeKindSession, ID: key.UserID + "/" + key.SessionID}
}

// PrivateScope returns the per-user scope persisting across sessions.
func PrivateScope(userID string) Scope { return Scope{Kind: ScopeKindPrivate, ID: userID} }

// PublicScope returns the shared, unscoped memory space.
func PublicScope() Scope { return Scope{Kind: ScopeKindPublic} }

// String renders the scope as a stable storage key.
func (s Scope) String() string {
	if s.ID == "" {
		return s.Kind
	}
	return s.Kind + ":" + s.ID
}

// MemoryEntry is a retrievable piece of conversational memory. The relevance
// score is computed per query, not stored intrinsically.
type MemoryEntry struct {
	ID        string         `json:"id"`
	Scope     Scope          `json:"scope"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
}

// Expired reports whether the entry has an expiry in the past.
func (e MemoryEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Tier labels the memory tier a fused entry came from. Ordering is assigned
// by the fusion retriever, not by the stores.
type Tier int

const (
	// TierPrivate is per-user memory, assumed most specific.
	TierPrivate Tier = iota
	// TierPublic is shared memory.
	TierPublic
	// TierHistory is the session transcript tier.
	TierHistory
)

// String returns a human-readable tier label.
func (t Tier) String() string {
	switch t {
	case TierPrivate:
		return "private"
	case TierPublic:
		return "public"
	case TierHistory:
		return "history"
	default:
		return "unknown"
	}
}

// ScoredEntry pairs a retrieved entry with its per-query relevance score in
// [0,1] and the tier it was fetched from.
type ScoredEntry struct {
	Entry MemoryEntry `json:"entry"`
	Score float64     `json:"score"`
	Tier  Tier        `json:"tier"`
}

// MemoryStore persists and retrieves memory entries for one or more scopes.
// Implementations must be safe for unlimited concurrent readers; Add is
// append-only and independently safe across sessions.
type MemoryStore interface {
	// Add appends an entry returning its id.
	Add(ctx context.Context, scope Scope, content string, metadata map[string]any) (string, error)

	// Retrieve returns up to limit entries relevant to query within scope,
	// each with a score in [0,1]. Order between equal scores is unspecified.
	Retrieve(ctx context.Context, scope Scope, query string, limit int) ([]ScoredEntry, error)

	// DeleteScope removes every entry belonging to scope. Used when a session
	// is deleted to cascade its session-scope memory.
	DeleteScope(ctx context.Context, scope Scope) error
}
