package turn

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/dialogmesh/dialogmesh/core"
)

// TokenCounter estimates token counts for history budgeting. It resolves a
// tiktoken encoding for the configured model and falls back to a rune-based
// heuristic when no encoding is available (offline builds, unknown models).
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter for the given model name. The zero-value
// counter is usable and always uses the heuristic.
func NewTokenCounter(modelName string) *TokenCounter {
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}
	return &TokenCounter{enc: enc}
}

// Count returns the estimated token count for s.
func (c *TokenCounter) Count(s string) int {
	if c == nil || c.enc == nil {
		// Rough rule of thumb: four runes per token.
		return len([]rune(s))/4 + 1
	}
	return len(c.enc.Encode(s, nil, nil))
}

// CountMessage estimates the token cost of a message, including a small fixed
// overhead per message for role and framing.
func (c *TokenCounter) CountMessage(m core.Message) int {
	n := 4
	n += c.Count(m.Text())
	for _, call := range m.ToolCalls() {
		n += c.Count(call.Name) + c.Count(call.Arguments)
	}
	return n
}

// budgetHistory returns the most recent suffix of msgs that fits within the
// token budget. The newest message is always kept. Tool-role messages whose
// originating assistant call fell outside the window are trimmed off the
// front so the backend never sees orphaned tool results.
func budgetHistory(msgs []core.Message, budget int, counter *TokenCounter) []core.Message {
	if budget <= 0 || len(msgs) == 0 {
		return msgs
	}
	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := counter.CountMessage(msgs[i])
		if total+cost > budget && start < len(msgs) {
			break
		}
		total += cost
		start = i
	}
	for start < len(msgs)-1 && msgs[start].Role == core.RoleTool {
		start++
	}
	return msgs[start:]
}
