// Package tokencount estimates token counts from text length. The
// simulator uses it to fabricate plausible usage numbers for requests
// that never reach a real provider; the ~4-bytes-per-token heuristic
// tracks GPT-family tokenizers closely enough for that.
package tokencount

import (
	gateway "github.com/himmiroute/himmi/internal"
)

// Counter estimates token counts for requests and text.
type Counter struct{}

// NewCounter creates a new Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// EstimateRequest estimates the prompt-side token count for a chat
// completion request, including per-message overhead for role and
// formatting the way OpenAI-family tokenizers count it.
func (c *Counter) EstimateRequest(model string, messages []gateway.Message) int {
	total := 0
	overhead := messageOverhead(model)
	for _, m := range messages {
		total += overhead
		total += estimateTokens(m.Role)
		total += estimateTokens(string(m.Content))
		if m.Name != "" {
			total += estimateTokens(m.Name) + 1 // name costs 1 extra token
		}
		if len(m.ToolCalls) > 0 {
			total += estimateTokens(string(m.ToolCalls))
		}
		if m.ToolCallID != "" {
			total += estimateTokens(m.ToolCallID)
		}
	}
	total += 3 // every reply is primed with <|start|>assistant<|message|>
	return max(total, 1)
}

// CountText estimates tokens for a plain text string, floored at one so
// a generated reply never prices to zero.
func (c *Counter) CountText(_ string, text string) int {
	return max(estimateTokens(text), 1)
}

// estimateTokens approximates English text at ~4 bytes per token.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	// ~4 bytes per token for English; ceil division.
	return (len(s) + 3) / 4
}

// messageOverhead returns per-message token overhead.
// GPT-4o and newer use 4 tokens per message; older models use 3.
func messageOverhead(_ string) int {
	return 4
}
