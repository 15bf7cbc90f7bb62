package core

import (
	"sync"
	"time"
)

// SessionStatus tracks the lifecycle of a session.
type SessionStatus string

const (
	// StatusActive means the session exists and no turn is in flight.
	StatusActive SessionStatus = "active"
	// StatusBusy means a turn currently owns the session.
	StatusBusy SessionStatus = "busy"
	// StatusClosed means the session was deleted or evicted. Closed sessions
	// accept no further turns.
	StatusClosed SessionStatus = "closed"
)

// SessionKey identifies a session by its owning user and session id.
type SessionKey struct {
	UserID    string
	SessionID string
}

// String renders the key as "user/session", the form used for store buckets
// and log fields.
func (k SessionKey) String() string { return k.UserID + "/" + k.SessionID }

// Validate checks both key components are present.
func (k SessionKey) Validate() error {
	if k.UserID == "" {
		return ErrMissingUser
	}
	if k.SessionID == "" {
		return ErrMissingSession
	}
	return nil
}

// Session is a conversational container holding an ordered, append-only
// message history. It is safe for concurrent access.
//
// Contract:
//   - Messages are append-only and ordered by arrival; they are never edited
//   - The message list is mutated only by the single turn holding the
//     session's busy flag
//   - Mutations update LastActivity
//   - History returns a defensive copy to avoid external mutation
type Session struct {
	Key          SessionKey
	Status       SessionStatus
	Messages     []Message
	Created      time.Time
	LastActivity time.Time
	TurnSeq      int

	mu sync.RWMutex
}

// NewSession creates an active session for the given key.
func NewSession(key SessionKey) *Session {
	now := time.Now().UTC()
	return &Session{Key: key, Status: StatusActive, Created: now, LastActivity: now}
}

// Append adds messages to the history updating LastActivity.
func (s *Session) Append(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msgs...)
	s.LastActivity = time.Now().UTC()
}

// History returns a defensive copy of the full message slice.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs
}

// Len returns the message count.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Messages)
}

// NextTurnSeq increments and returns the per-session turn sequence number.
func (s *Session) NextTurnSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TurnSeq++
	return s.TurnSeq
}

// SetStatus transitions the session's lifecycle status.
func (s *Session) SetStatus(st SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = st
	s.LastActivity = time.Now().UTC()
}

// GetStatus returns the current lifecycle status.
func (s *Session) GetStatus() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// Idle reports whether the session has seen no activity for at least ttl and
// no turn is in flight. Busy sessions are never idle regardless of age.
func (s *Session) Idle(ttl time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Status == StatusBusy {
		return false
	}
	return time.Since(s.LastActivity) >= ttl
}

// Detail is a point-in-time snapshot of a session used by query surfaces.
type Detail struct {
	Key          SessionKey    `json:"key"`
	Status       SessionStatus `json:"status"`
	MessageCount int           `json:"message_count"`
	Created      time.Time     `json:"created"`
	LastActivity time.Time     `json:"last_activity"`
	Messages     []Message     `json:"messages,omitempty"`
}

// Snapshot captures the session state, optionally including the full history.
func (s *Session) Snapshot(withMessages bool) Detail {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := Detail{
		Key:          s.Key,
		Status:       s.Status,
		MessageCount: len(s.Messages),
		Created:      s.Created,
		LastActivity: s.LastActivity,
	}
	if withMessages {
		d.Messages = make([]Message, len(s.Messages))
		copy(d.Messages, s.Messages)
	}
	return d
}
