package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogmesh/dialogmesh/core"
)

func echoTool() *FunctionTool {
	return NewFunctionTool(
		"echo",
		"Echo the input back",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	)
}

func TestRegistry_RegisterAndDescribe(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())
	r.Register(NewFunctionTool("alpha", "First", map[string]any{"type": "object"}, nil))

	defs := r.Describe()
	require.Len(t, defs, 2)
	// Sorted by name for deterministic request building.
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "echo", defs[1].Name)

	r.Unregister("alpha")
	assert.Len(t, r.Describe(), 1)
}

func TestRegistry_InvokeSuccess(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())

	out := r.Invoke(context.Background(), core.ToolCall{
		ID:        "c1",
		Name:      "echo",
		Arguments: `{"text":"hi"}`,
	})
	require.True(t, out.Ok())
	assert.Equal(t, "hi", out.Result)
}

func TestRegistry_InvokeUnknownTool(t *testing.T) {
	r := NewRegistry()
	out := r.Invoke(context.Background(), core.ToolCall{ID: "c1", Name: "nope"})
	require.False(t, out.Ok())
	assert.Equal(t, CodeUnknown, out.Err.Code)
}

func TestRegistry_InvokeBadArguments(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())

	out := r.Invoke(context.Background(), core.ToolCall{
		ID:        "c1",
		Name:      "echo",
		Arguments: `{not json`,
	})
	require.False(t, out.Ok())
	assert.Equal(t, CodeBadArgs, out.Err.Code)
}

func TestRegistry_ValidationFailureSkipsExecution(t *testing.T) {
	called := false
	r := NewRegistry()
	r.Register(NewFunctionTool(
		"strict",
		"Requires a field",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"n": map[string]any{"type": "integer"},
			},
			"required": []string{"n"},
		},
		func(context.Context, map[string]any) (any, error) {
			called = true
			return nil, nil
		},
	))

	out := r.Invoke(context.Background(), core.ToolCall{ID: "c1", Name: "strict", Arguments: `{}`})
	require.False(t, out.Ok())
	assert.Equal(t, CodeValidation, out.Err.Code)
	assert.False(t, called, "tool must not run on validation failure")
}

func TestRegistry_PanicIsContained(t *testing.T) {
	r := NewRegistry()
	r.Register(NewFunctionTool("boom", "Panics", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) {
			panic("kaboom")
		}))

	out := r.Invoke(context.Background(), core.ToolCall{ID: "c1", Name: "boom"})
	require.False(t, out.Ok())
	assert.Equal(t, CodeExecution, out.Err.Code)
	assert.Contains(t, out.Err.Message, "kaboom")
}

func TestRegistry_CallTimeout(t *testing.T) {
	r := NewRegistry(func(o *RegistryOptions) { o.CallTimeout = 20 * time.Millisecond })
	r.Register(NewFunctionTool("slow", "Sleeps", map[string]any{"type": "object"},
		func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-time.After(time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))

	out := r.Invoke(context.Background(), core.ToolCall{ID: "c1", Name: "slow"})
	require.False(t, out.Ok())
	assert.Equal(t, CodeTimeout, out.Err.Code)
}

func TestRegistry_ExecutionErrorWrapped(t *testing.T) {
	r := NewRegistry()
	r.Register(NewFunctionTool("fail", "Always fails", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("backend unavailable")
		}))

	out := r.Invoke(context.Background(), core.ToolCall{ID: "c1", Name: "fail"})
	require.False(t, out.Ok())
	assert.Equal(t, CodeExecution, out.Err.Code)
	assert.Error(t, out.AsError())
	assert.Contains(t, out.AsError().Error(), "backend unavailable")
}
