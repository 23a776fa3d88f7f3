package usage

import (
	"context"
	"sync"
	"time"
)

// Record is one accounted provider call. Records are append-only.
type Record struct {
	ID               string    `json:"id" db:"id"`
	ConversationID   string    `json:"conversation_id" db:"conversation_id"`
	Provider         string    `json:"provider" db:"provider"`
	Model            string    `json:"model" db:"model"`
	PromptTokens     int       `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens" db:"completion_tokens"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd" db:"estimated_cost_usd"`
	Timestamp        time.Time `json:"timestamp" db:"created_at"`
}

// Totals aggregates records
type Totals struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Add accumulates one record
func (t *Totals) Add(r Record) {
	t.Calls++
	t.PromptTokens += r.PromptTokens
	t.CompletionTokens += r.CompletionTokens
	t.EstimatedCostUSD += r.EstimatedCostUSD
}

// Summarize totals a list of records
func Summarize(records []Record) Totals {
	var t Totals
	for _, r := range records {
		t.Add(r)
	}
	return t
}

// Ledger persists usage records
type Ledger interface {
	Append(ctx context.Context, r Record) error
	ListByConversation(ctx context.Context, conversationID string) ([]Record, error)
}

// MemoryLedger keeps records in process memory
type MemoryLedger struct {
	records []Record
	mu      sync.RWMutex
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Append stores a record
func (l *MemoryLedger) Append(_ context.Context, r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
	return nil
}

// ListByConversation returns a conversation's records in insertion order
func (l *MemoryLedger) ListByConversation(_ context.Context, conversationID string) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Record
	for _, r := range l.records {
		if r.ConversationID == conversationID {
			out = append(out, r)
		}
	}
	return out, nil
}

// All returns every record
func (l *MemoryLedger) All() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Record(nil), l.records...)
}
