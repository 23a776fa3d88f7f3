package usage

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/guiofsaints/procureflow-sub000/internal/llm"
)

const (
	charsPerToken      = 4
	perMessageOverhead = 4
)

// Accountant counts tokens and converts usage into cost.
type Accountant struct {
	pricing *Pricing
	now     func() time.Time
}

// NewAccountant creates an accountant using the given pricing table
func NewAccountant(pricing *Pricing) *Accountant {
	if pricing == nil {
		pricing = NewPricing(DefaultPrices(), Price{})
	}
	return &Accountant{pricing: pricing, now: time.Now}
}

// CountText estimates the tokens of a piece of text.
func (a *Accountant) CountText(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}

// CountMessage estimates the tokens one message contributes to a prompt.
func (a *Accountant) CountMessage(msg llm.Message) int {
	tokens := perMessageOverhead + a.CountText(msg.Content)
	for _, tc := range msg.ToolCalls {
		tokens += a.CountText(tc.Name) + a.CountText(string(tc.Arguments))
	}
	return tokens
}

// CountTokens estimates the tokens of a message list.
func (a *Accountant) CountTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += a.CountMessage(msg)
	}
	return total
}

// EstimateCost returns the USD cost of a call at the configured price.
func (a *Accountant) EstimateCost(provider, model string, promptTokens, completionTokens int) float64 {
	price, _ := a.pricing.Lookup(provider, model)
	return price.Cost(promptTokens, completionTokens)
}

// Reconcile returns the provider-reported usage, or a local estimate from
// the prompt and response when the provider reported none.
func (a *Accountant) Reconcile(prompt []llm.Message, resp *llm.Response) llm.Usage {
	if !resp.Usage.IsZero() {
		return resp.Usage
	}
	completion := a.CountText(resp.Text)
	for _, tc := range resp.ToolCalls {
		completion += a.CountText(tc.Name) + a.CountText(string(tc.Arguments))
	}
	return llm.Usage{
		PromptTokens:     a.CountTokens(prompt),
		CompletionTokens: completion,
	}
}

// NewRecord builds the usage record for one successful provider response.
func (a *Accountant) NewRecord(conversationID, provider, model string, u llm.Usage) Record {
	return Record{
		ID:               uuid.NewString(),
		ConversationID:   conversationID,
		Provider:         provider,
		Model:            model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		EstimatedCostUSD: a.EstimateCost(provider, model, u.PromptTokens, u.CompletionTokens),
		Timestamp:        a.now().UTC(),
	}
}
