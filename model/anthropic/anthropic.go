// Package anthropic provides a backend wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/model"
)

// Options configures the Anthropic backend adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic backend using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic backend from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

// Generate implements unified streaming / non-streaming generation.
//
// The Messages API call is always issued non-streaming; when the caller
// requested streaming the full text is delivered as a single delta before the
// final response, which keeps the delta/final contract intact for consumers.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    m.buildMessages(req.Messages),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}
		if req.Temperature != 0 {
			params.Temperature = anthropic.Float(req.Temperature)
		}
		if req.MaxTokens != 0 {
			params.MaxTokens = int64(req.MaxTokens)
		}
		if req.Instructions != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
		}
		if len(req.Tools) > 0 {
			params.Tools = m.buildTools(req.Tools)
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		var text string
		var toolCalls []core.ToolCall
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text += block.AsText().Text
			case "tool_use":
				toolBlock := block.AsToolUse()
				args := ""
				if toolBlock.Input != nil {
					if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
						args = string(argsBytes)
					}
				}
				toolCalls = append(toolCalls, core.ToolCall{
					ID:        toolBlock.ID,
					Name:      toolBlock.Name,
					Arguments: args,
				})
			}
		}

		if req.Stream && text != "" {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- model.Response{Partial: true, Delta: text}:
			}
		}

		finishReason := "stop"
		if resp.StopReason != "" {
			finishReason = string(resp.StopReason)
		}

		out <- model.Response{
			ID:           resp.ID,
			Text:         text,
			ToolCalls:    toolCalls,
			FinishReason: finishReason,
			Usage: &model.TokenUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		}
	}()

	return out, errCh
}

// buildMessages converts normalized messages to Anthropic message format.
// Tool-role messages become tool_result blocks inside a user message; runs of
// consecutive tool results are merged so role alternation is preserved.
func (m *Model) buildMessages(msgs []core.Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case core.RoleSystem:
			continue // handled via params.System
		case core.RoleTool:
			if msg.ToolCallID == "" {
				continue
			}
			content, isError := renderToolResult(msg)
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, content, isError))
		case core.RoleAssistant:
			flushResults()
			content := m.buildAssistantContent(msg)
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		default:
			flushResults()
			content := m.buildUserContent(msg)
			if len(content) > 0 {
				messages = append(messages, anthropic.NewUserMessage(content...))
			}
		}
	}
	flushResults()

	return messages
}

// renderToolResult serializes a tool outcome and reports whether it failed.
func renderToolResult(msg core.Message) (string, bool) {
	for _, p := range msg.Parts {
		tr, ok := p.(core.ToolResultPart)
		if !ok {
			continue
		}
		if tr.Error != "" {
			return tr.Error, true
		}
		if s, ok := tr.Result.(string); ok {
			return s, false
		}
		if b, err := json.Marshal(tr.Result); err == nil {
			return string(b), false
		}
		return fmt.Sprintf("%v", tr.Result), false
	}
	return msg.Text(), false
}

// buildUserContent builds content blocks for user messages
func (m *Model) buildUserContent(msg core.Message) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	for _, p := range msg.Parts {
		if tp, ok := p.(core.TextPart); ok && tp.Text != "" {
			content = append(content, anthropic.NewTextBlock(tp.Text))
		}
	}

	return content
}

// buildAssistantContent builds content blocks for assistant messages
func (m *Model) buildAssistantContent(msg core.Message) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion

	for _, p := range msg.Parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				content = append(content, anthropic.NewTextBlock(part.Text))
			}
		case core.ToolCallPart:
			var input interface{}
			if part.Call.Arguments != "" {
				if err := json.Unmarshal([]byte(part.Call.Arguments), &input); err != nil {
					input = part.Call.Arguments // fallback to string
				}
			}
			content = append(content, anthropic.NewToolUseBlock(part.Call.ID, input, part.Call.Name))
		}
	}

	return content
}

// buildTools converts normalized tool definitions to Anthropic tool format
func (m *Model) buildTools(tools []core.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if tool.Parameters != nil {
			if properties, exists := tool.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := tool.Parameters["required"]; exists {
				if reqSlice, ok := required.([]string); ok {
					inputSchema.Required = reqSlice
				} else if reqInterface, ok := required.([]interface{}); ok {
					var reqStrings []string
					for _, r := range reqInterface {
						if s, ok := r.(string); ok {
							reqStrings = append(reqStrings, s)
						}
					}
					inputSchema.Required = reqStrings
				}
			}
		}

		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
	}

	return anthropicTools
}

// Info returns metadata describing this Anthropic backend implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
