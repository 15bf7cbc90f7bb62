package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Conversation roles carried by messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

// Validation errors raised before any turn starts. No state is mutated when
// one of these is returned.
var (
	ErrMissingUser    = errors.New("user id is required")
	ErrMissingSession = errors.New("session id is required")
	ErrEmptyMessage   = errors.New("message content is empty")
	ErrInvalidPart    = errors.New("message part is malformed")
)

// Part represents a polymorphic segment of message content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) isPart() {}

// ImagePart references an image either inline (Bytes, base64) or through an
// attachment id / external URI. Inline bytes are moved into the attachment
// store before the message is appended; appended messages only carry
// references.
type ImagePart struct {
	AttachmentID string `json:"attachment_id,omitempty"`
	URI          string `json:"uri,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	Bytes        string `json:"bytes,omitempty"`
}

func (ImagePart) isPart() {}

// ToolCallPart carries a tool call proposed by the backend inside an
// assistant-role message, so the conversation can be replayed to the backend
// on subsequent rounds.
type ToolCallPart struct {
	Call ToolCall `json:"call"`
}

func (ToolCallPart) isPart() {}

// ToolResultPart records the outcome of a tool call inside a tool-role
// message. Error is populated when the invocation failed; Result is any
// JSON-serializable shape on success.
type ToolResultPart struct {
	Name   string `json:"name"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (ToolResultPart) isPart() {}

// Message is an immutable record appended to a session. Role is one of the
// Role* constants; Parts hold the ordered content segments. ToolCallID links
// a tool-role message to the call that produced it.
type Message struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Parts      []Part    `json:"parts"`
	Timestamp  time.Time `json:"timestamp"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Incomplete bool      `json:"incomplete,omitempty"`
	Aborted    bool      `json:"aborted,omitempty"`
}

// NewMessage creates a bare message with a fresh id and UTC timestamp.
func NewMessage(role string, parts ...Part) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Parts:     parts,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessage creates a user-authored plain text message.
func NewUserMessage(text string) Message {
	return NewMessage(RoleUser, TextPart{Text: text})
}

// NewAssistantMessage creates an assistant text message.
func NewAssistantMessage(text string) Message {
	return NewMessage(RoleAssistant, TextPart{Text: text})
}

// NewToolMessage records the outcome of a tool call, successful or not.
// Every dispatched ToolCall is paired with exactly one of these.
func NewToolMessage(toolCallID, name string, result any, err error) Message {
	part := ToolResultPart{Name: name, Result: result}
	if err != nil {
		part.Error = err.Error()
	}
	m := NewMessage(RoleTool, part)
	m.ToolCallID = toolCallID
	return m
}

// Text concatenates the message's text parts preserving order.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool calls proposed by an assistant message, in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc.Call)
		}
	}
	return calls
}

// IsEmpty reports whether the message carries no usable content.
func (m Message) IsEmpty() bool {
	if len(m.Parts) == 0 {
		return true
	}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			if strings.TrimSpace(v.Text) != "" {
				return false
			}
		case ImagePart:
			if v.AttachmentID != "" || v.URI != "" || v.Bytes != "" {
				return false
			}
		case ToolCallPart, ToolResultPart:
			return false
		}
	}
	return true
}

// Validate checks the structural shape of an inbound user message.
func (m Message) Validate() error {
	if m.IsEmpty() {
		return ErrEmptyMessage
	}
	for _, p := range m.Parts {
		if img, ok := p.(ImagePart); ok {
			if img.AttachmentID == "" && img.URI == "" && img.Bytes == "" {
				return ErrInvalidPart
			}
		}
	}
	return nil
}

// NewID generates a unique identifier for messages, turns and tool calls.
func NewID() string { return uuid.NewString() }
