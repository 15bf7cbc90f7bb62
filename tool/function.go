package tool

import (
	"context"

	"github.com/dialogmesh/dialogmesh/internal/util"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a
// tool. It holds a lightweight JSON-Schema-like parameter specification; the
// registry validates arguments against it before Call runs, so fn receives
// already-validated args.
//
// A FunctionTool has no internal mutable state after construction and is safe
// for concurrent use by multiple goroutines.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	policyTool := NewFunctionTool(
//	  "get_policy",
//	  "Fetch a store policy document by type",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "type": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"type"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return lookupPolicy(args["type"].(string))
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{name: name, description: description, parameters: parameters, fn: fn}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection. Convenience for simple argument containers.
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.SchemaFromStruct(structType), fn)
}

// Name returns the unique tool name used in tool call routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to backends.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call invokes the underlying function.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}
