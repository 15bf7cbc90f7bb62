// Package tool implements the tool calling subsystem that lets the turn
// orchestrator invoke structured capabilities (APIs, lookups, side effects)
// with schema validated arguments and uniform error handling. Invocation
// produces a discriminated Outcome rather than a raised error so the
// orchestrator's control flow stays explicit.
package tool

import (
	"context"
	"fmt"

	"github.com/dialogmesh/dialogmesh/internal/util"
)

// Error codes attached to ToolError for categorization.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeUnknown    = "UNKNOWN_TOOL"
	CodeTimeout    = "TIMEOUT"
	CodeBadArgs    = "MALFORMED_ARGUMENTS"
)

// Tool defines a named external operation callable during a turn.
//
// Implementations should:
//   - Provide clear, descriptive names (snake_case recommended)
//   - Define a proper JSON schema for parameters
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description is provided to the generation backend to help it decide
	// when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with already-validated arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError re-exports the shared schema validation error type.
type ValidationError = util.ValidationError

// ToolError describes a failed tool invocation.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// Outcome is the discriminated result of a tool invocation: exactly one of
// Result or Err is meaningful. Failures are data, not control flow; the
// orchestrator turns either arm into a tool-role message and continues.
type Outcome struct {
	Result any
	Err    *ToolError
}

// Ok reports whether the invocation succeeded.
func (o Outcome) Ok() bool { return o.Err == nil }

// AsError returns the failure as a plain error, or nil on success.
func (o Outcome) AsError() error {
	if o.Err == nil {
		return nil
	}
	return o.Err
}
