// Package budget estimates the token cost of a generation prompt. Chat
// backends use different tokenizers, so the estimate is a character
// heuristic: 1 token ≈ 4 characters of English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// perMessageOverhead approximates the role and framing tokens most chat
	// APIs add to each message.
	perMessageOverhead = 4

	// DefaultMaxContextTokens is the default prompt budget in tokens. It fits
	// 8k-context models (Llama 3 8B, GPT-3.5) with room left for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs,
// summing role, content and per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Over reports how many estimated tokens msgs exceed maxTokens by.
// It returns 0 when the prompt fits.
func Over(msgs []*schema.Message, maxTokens int) int {
	if over := EstimateMessages(msgs) - maxTokens; over > 0 {
		return over
	}
	return 0
}
