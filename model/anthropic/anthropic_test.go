package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/model"
)

var _ model.Model = (*Model)(nil)

func TestBuildMessages_MergesConsecutiveToolResults(t *testing.T) {
	m := NewModel()
	msgs := []core.Message{
		core.NewUserMessage("Check both policies."),
		core.NewMessage(core.RoleAssistant,
			core.ToolCallPart{Call: core.ToolCall{ID: "c1", Name: "get_policy", Arguments: `{"type":"returns"}`}},
			core.ToolCallPart{Call: core.ToolCall{ID: "c2", Name: "get_policy", Arguments: `{"type":"shipping"}`}},
		),
		core.NewToolMessage("c1", "get_policy", "30 days", nil),
		core.NewToolMessage("c2", "get_policy", "5 business days", nil),
		core.NewAssistantMessage("Done."),
	}

	out := m.buildMessages(msgs)
	require.Len(t, out, 4)

	// user, assistant (tool_use x2), user (tool_result x2), assistant
	assert.Equal(t, "user", string(out[0].Role))
	assert.Equal(t, "assistant", string(out[1].Role))
	assert.Len(t, out[1].Content, 2)
	assert.Equal(t, "user", string(out[2].Role))
	assert.Len(t, out[2].Content, 2)
	assert.Equal(t, "assistant", string(out[3].Role))
}

func TestBuildMessages_SystemAndOrphanToolSkipped(t *testing.T) {
	m := NewModel()
	msgs := []core.Message{
		core.NewMessage(core.RoleSystem, core.TextPart{Text: "ignored here"}),
		core.NewToolMessage("", "orphan", "x", nil),
	}
	assert.Empty(t, m.buildMessages(msgs))
}

func TestRenderToolResult(t *testing.T) {
	content, isErr := renderToolResult(core.NewToolMessage("c1", "t", "plain", nil))
	assert.Equal(t, "plain", content)
	assert.False(t, isErr)

	content, isErr = renderToolResult(core.NewToolMessage("c1", "t", map[string]any{"days": 30}, nil))
	assert.JSONEq(t, `{"days":30}`, content)
	assert.False(t, isErr)

	content, isErr = renderToolResult(core.NewToolMessage("c1", "t", nil, assert.AnError))
	assert.Equal(t, assert.AnError.Error(), content)
	assert.True(t, isErr)
}

func TestBuildTools_SchemaMapping(t *testing.T) {
	m := NewModel()
	defs := []core.ToolDefinition{{
		Name:        "get_policy",
		Description: "Fetch a policy",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"type": map[string]any{"type": "string"},
			},
			"required": []interface{}{"type"},
		},
	}}

	tools := m.buildTools(defs)
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "get_policy", tools[0].OfTool.Name)
	assert.Equal(t, []string{"type"}, tools[0].OfTool.InputSchema.Required)
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) { o.Model = "claude-sonnet-4-20250514" })
	info := m.Info()
	assert.Equal(t, "claude-sonnet-4-20250514", info.Name)
	assert.Equal(t, "anthropic", info.Provider)
	assert.True(t, info.SupportsTools)
}
