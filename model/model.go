package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/dialogmesh/dialogmesh/core"
)

// Request captures the normalized backend input assembled by the orchestrator.
// Instructions carries the system prompt with any fused memory already folded
// in; Messages is the conversation so far, oldest first.
type Request struct {
	Instructions string                `json:"instructions"`
	Messages     []core.Message        `json:"messages"`
	Tools        []core.ToolDefinition `json:"tools,omitempty"`
	Stream       bool                  `json:"stream,omitempty"`
	Temperature  float64               `json:"temperature,omitempty"`
	MaxTokens    int                   `json:"max_tokens,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a backend.
//
// Partial chunks carry incremental text in Delta. The final chunk carries the
// complete text in Text plus any tool calls the backend proposed; the
// concatenation of all Delta values equals Text.
type Response struct {
	ID           string          `json:"id"`
	Partial      bool            `json:"partial"`
	Delta        string          `json:"delta,omitempty"`
	Text         string          `json:"text,omitempty"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        *TokenUsage     `json:"usage,omitempty"`
}

// Info contains metadata about a backend implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the orchestrator needs to drive generation.
// Implementations stream responses on the first channel and report at most one
// fatal error on the second; both channels are closed when generation ends.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the backend implementation.
	Info() Info
}

// Turn scripts one Generate call of a ScriptedModel.
type Turn struct {
	Text      string
	ToolCalls []core.ToolCall
	Err       error
}

// ScriptedModel is an in-memory Model that replays queued turns in order,
// useful for tests and examples. Each Generate call consumes one turn; a
// turn with tool calls yields finish reason "tool_calls", otherwise "stop".
type ScriptedModel struct {
	mu    sync.Mutex
	info  Info
	turns []Turn
	calls []Request
}

// NewScriptedModel constructs a ScriptedModel with tool support enabled.
func NewScriptedModel(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{
		info: Info{
			Name:          "scripted",
			Provider:      "scripted",
			SupportsTools: true,
		},
		turns: turns,
	}
}

// Enqueue appends a turn to the script.
func (m *ScriptedModel) Enqueue(t Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
}

// Requests returns the Generate requests observed so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// Generate implements Model; emits per-rune deltas when streaming is
// requested, then the final response.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls = append(m.calls, req)
	var turn Turn
	if len(m.turns) > 0 {
		turn = m.turns[0]
		m.turns = m.turns[1:]
	} else {
		turn = Turn{Err: fmt.Errorf("scripted model: no turns queued")}
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}
		if req.Stream {
			for _, r := range turn.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Delta: string(r)}:
				}
			}
		}
		finish := "stop"
		if len(turn.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		respCh <- Response{
			ID:           core.NewID(),
			Text:         turn.Text,
			ToolCalls:    turn.ToolCalls,
			FinishReason: finish,
		}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }
