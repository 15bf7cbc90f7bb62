package core

// ToolCall describes a tool invocation request proposed by a generation
// backend. Arguments is the raw JSON payload as produced by the backend;
// validation against the registered schema happens at dispatch time.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolDefinition declaratively exposes a callable tool to the backend.
// Parameters is a JSON Schema object (minimal subset).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
