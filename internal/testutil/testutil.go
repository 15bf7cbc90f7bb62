// Package testutil provides shared helpers for building fixtures in tests.
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/stream"
)

// Key returns a session key for tests.
func Key(user, session string) core.SessionKey {
	return core.SessionKey{UserID: user, SessionID: session}
}

// Seed writes an entry into the store, failing the test on error.
func Seed(t *testing.T, store core.MemoryStore, scope core.Scope, content string, metadata map[string]any) string {
	t.Helper()
	id, err := store.Add(context.Background(), scope, content, metadata)
	if err != nil {
		t.Fatalf("seed memory: %v", err)
	}
	return id
}

// Args marshals a map into the raw JSON argument string of a tool call.
func Args(t *testing.T, m map[string]any) string {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return string(b)
}

// Drain collects every event from the stream until the channel closes or the
// timeout expires.
func Drain(t *testing.T, events <-chan stream.Event, timeout time.Duration) []stream.Event {
	t.Helper()
	var collected []stream.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, ev)
		case <-deadline:
			t.Fatalf("timed out draining events after %v (got %d events)", timeout, len(collected))
			return collected
		}
	}
}

// Kinds projects the event sequence onto its kind labels.
func Kinds(events []stream.Event) []stream.Kind {
	kinds := make([]stream.Kind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// DeltaText concatenates all content-delta payloads in order.
func DeltaText(events []stream.Event) string {
	out := ""
	for _, ev := range events {
		if ev.Kind == stream.KindContentDelta {
			out += ev.Delta
		}
	}
	return out
}

// Terminal returns the single terminal event, failing the test when the
// sequence has none or more than one.
func Terminal(t *testing.T, events []stream.Event) stream.Event {
	t.Helper()
	var term *stream.Event
	for i := range events {
		if events[i].Terminal() {
			if term != nil {
				t.Fatalf("multiple terminal events: %s then %s", term.Kind, events[i].Kind)
			}
			term = &events[i]
		}
	}
	if term == nil {
		t.Fatal("no terminal event in stream")
	}
	return *term
}
