package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/internal/util"
	"github.com/dialogmesh/dialogmesh/logging"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// CallTimeout bounds each individual tool invocation. Zero disables the
	// per-call timeout (the caller's context still applies).
	CallTimeout time.Duration
	// Logger receives invocation records.
	Logger logging.Logger
}

// Registry maps tool names to schema-validated invocations. It is a
// read-mostly shared resource safe for unlimited concurrent readers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	callTimeout time.Duration
	logger      logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{CallTimeout: 15 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		tools:       make(map[string]Tool),
		callTimeout: opts.CallTimeout,
		logger:      logging.OrNoOp(opts.Logger),
	}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Describe returns the schema catalog exposed to generation backends,
// sorted by name for deterministic request building.
func (r *Registry) Describe() []core.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]core.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, core.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invoke dispatches a proposed tool call. The raw JSON arguments are decoded
// and validated against the tool's schema before execution; validation
// failures produce an Outcome without invoking the tool. Execution runs under
// the per-call timeout with panic containment. Invoke never returns a Go
// error: every failure mode is encoded in the Outcome.
func (r *Registry) Invoke(ctx context.Context, call core.ToolCall) Outcome {
	t, ok := r.Get(call.Name)
	if !ok {
		return Outcome{Err: NewToolError(call.Name, "tool not registered", CodeUnknown)}
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return Outcome{Err: NewToolError(call.Name, fmt.Sprintf("decode arguments: %v", err), CodeBadArgs)}
		}
	}

	if err := util.ValidateArguments(args, t.Parameters()); err != nil {
		r.logger.Warn("tool argument validation failed", "tool", call.Name, "error", err.Error())
		return Outcome{Err: &ToolError{
			Tool:    call.Name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}}
	}

	callCtx := ctx
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := r.call(callCtx, t, args)
	dur := time.Since(start)

	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	if err != nil {
		r.logger.Info("tool invocation failed", "tool", call.Name, "duration_ms", dur.Milliseconds(), "error", err.Error())
		if toolErr, ok := err.(*ToolError); ok {
			return Outcome{Err: toolErr}
		}
		code := CodeExecution
		if callCtx.Err() == context.DeadlineExceeded {
			code = CodeTimeout
		}
		return Outcome{Err: NewToolError(call.Name, err.Error(), code)}
	}

	r.logger.Info("tool invocation succeeded", "tool", call.Name, "duration_ms", dur.Milliseconds())
	return Outcome{Result: result}
}

// call executes the tool with panic containment.
func (r *Registry) call(ctx context.Context, t Tool, args map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panic recovered", "tool", t.Name(), "recover", rec, "stack", string(debug.Stack()))
			err = NewToolError(t.Name(), fmt.Sprintf("panic: %v", rec), CodeExecution)
		}
	}()
	return t.Call(ctx, args)
}
