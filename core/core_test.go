package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_TextConcatenatesParts(t *testing.T) {
	m := NewMessage(RoleAssistant,
		TextPart{Text: "Hello, "},
		ImagePart{URI: "https://example.com/cat.png"},
		TextPart{Text: "world"},
	)
	assert.Equal(t, "Hello, world", m.Text())
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr error
	}{
		{"plain text ok", NewUserMessage("hi"), nil},
		{"empty message", NewMessage(RoleUser), ErrEmptyMessage},
		{"whitespace only", NewMessage(RoleUser, TextPart{Text: "   "}), ErrEmptyMessage},
		{"blank image part", NewMessage(RoleUser, TextPart{Text: "x"}, ImagePart{}), ErrInvalidPart},
		{"image with uri ok", NewMessage(RoleUser, ImagePart{URI: "https://x/y.png"}), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestMessage_ToolCalls(t *testing.T) {
	m := NewMessage(RoleAssistant,
		TextPart{Text: "let me check"},
		ToolCallPart{Call: ToolCall{ID: "c1", Name: "get_policy", Arguments: `{"type":"returns"}`}},
	)
	calls := m.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_policy", calls[0].Name)
	assert.False(t, m.IsEmpty())
}

func TestNewToolMessage(t *testing.T) {
	m := NewToolMessage("c1", "get_policy", map[string]any{"days": 30}, nil)
	assert.Equal(t, RoleTool, m.Role)
	assert.Equal(t, "c1", m.ToolCallID)
	require.Len(t, m.Parts, 1)
	part := m.Parts[0].(ToolResultPart)
	assert.Empty(t, part.Error)

	failed := NewToolMessage("c2", "get_policy", nil, assert.AnError)
	part = failed.Parts[0].(ToolResultPart)
	assert.NotEmpty(t, part.Error)
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "u1/s1", SessionKey{UserID: "u1", SessionID: "s1"}.String())
	assert.ErrorIs(t, SessionKey{SessionID: "s"}.Validate(), ErrMissingUser)
	assert.ErrorIs(t, SessionKey{UserID: "u"}.Validate(), ErrMissingSession)
	assert.NoError(t, SessionKey{UserID: "u", SessionID: "s"}.Validate())
}

func TestSession_AppendAndHistoryCopy(t *testing.T) {
	s := NewSession(SessionKey{UserID: "u", SessionID: "s"})
	s.Append(NewUserMessage("hi"), NewAssistantMessage("hello"))

	history := s.History()
	require.Len(t, history, 2)

	history[0] = NewUserMessage("mutated")
	assert.Equal(t, "hi", s.History()[0].Text(), "history must be a defensive copy")
}

func TestSession_IdleNeverWhileBusy(t *testing.T) {
	s := NewSession(SessionKey{UserID: "u", SessionID: "s"})
	s.LastActivity = time.Now().Add(-time.Hour)

	assert.True(t, s.Idle(time.Minute))
	s.Status = StatusBusy
	assert.False(t, s.Idle(time.Minute))
}

func TestSession_Snapshot(t *testing.T) {
	s := NewSession(SessionKey{UserID: "u", SessionID: "s"})
	s.Append(NewUserMessage("hi"))

	d := s.Snapshot(false)
	assert.Equal(t, 1, d.MessageCount)
	assert.Nil(t, d.Messages)

	d = s.Snapshot(true)
	require.Len(t, d.Messages, 1)
}

func TestScopes(t *testing.T) {
	key := SessionKey{UserID: "u1", SessionID: "s1"}
	assert.NotEqual(t, SessionScope(key).String(), PrivateScope("u1").String())
	assert.NotEqual(t, PrivateScope("u1").String(), PrivateScope("u2").String())
	assert.Equal(t, PublicScope().String(), PublicScope().String())
}

func TestMemoryEntry_Expired(t *testing.T) {
	now := time.Now().UTC()
	assert.False(t, MemoryEntry{}.Expired(now), "zero expiry never expires")
	assert.True(t, MemoryEntry{ExpiresAt: now.Add(-time.Second)}.Expired(now))
	assert.False(t, MemoryEntry{ExpiresAt: now.Add(time.Second)}.Expired(now))
}
