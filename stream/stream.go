// Package stream carries turn progress to consumers as an ordered event
// sequence. Every turn produces exactly one terminal event (end or error);
// the concatenation of all content-delta payloads equals the final text
// carried by the end event.
package stream

import (
	"time"

	"github.com/dialogmesh/dialogmesh/core"
)

// Kind discriminates the event union.
type Kind string

const (
	// KindStart opens the sequence; always the first event of a turn.
	KindStart Kind = "start"
	// KindContentDelta carries an incremental slice of assistant text.
	KindContentDelta Kind = "content-delta"
	// KindToolInvoked reports a completed tool dispatch, successful or not.
	KindToolInvoked Kind = "tool-invoked"
	// KindError terminates a failed turn. No end event follows.
	KindError Kind = "error"
	// KindEnd terminates a successful (possibly truncated or aborted) turn.
	KindEnd Kind = "end"
)

// ToolInvocation describes one dispatched tool call on a tool-invoked event.
type ToolInvocation struct {
	CallID   string        `json:"call_id"`
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Event is the unit of turn progress delivered to consumers. After emission
// it should be treated as immutable. Seq is a per-turn monotonic counter.
type Event struct {
	ID        string          `json:"id"`
	TurnID    string          `json:"turn_id"`
	Seq       int             `json:"seq"`
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Delta     string          `json:"delta,omitempty"`
	Tool      *ToolInvocation `json:"tool,omitempty"`
	ErrorMsg  string          `json:"error,omitempty"`

	// Terminal metadata, populated on end events only.
	Text       string `json:"text,omitempty"`
	Incomplete bool   `json:"incomplete,omitempty"`
	Aborted    bool   `json:"aborted,omitempty"`
}

// Terminal reports whether the event closes its turn's sequence.
func (e Event) Terminal() bool { return e.Kind == KindEnd || e.Kind == KindError }

func newEvent(turnID string, kind Kind) Event {
	return Event{
		ID:        core.NewID(),
		TurnID:    turnID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}
