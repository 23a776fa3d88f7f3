// Package sqlstore implements the repositories on SQL databases through sqlx.
// Queries are written with ? placeholders and rebound for the driver.
package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/guiofsaints/procureflow-sub000/internal/database"
	"github.com/guiofsaints/procureflow-sub000/internal/usage"
)

// UsageRepository implements usage.Ledger
type UsageRepository struct {
	db *sqlx.DB
}

// NewUsageRepository creates a SQL usage ledger
func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

type usageRow struct {
	ID               string  `db:"id"`
	ConversationID   string  `db:"conversation_id"`
	Provider         string  `db:"provider"`
	Model            string  `db:"model"`
	PromptTokens     int     `db:"prompt_tokens"`
	CompletionTokens int     `db:"completion_tokens"`
	EstimatedCostUSD float64 `db:"estimated_cost_usd"`
	CreatedAt        string  `db:"created_at"`
}

// Append stores one record
func (r *UsageRepository) Append(ctx context.Context, rec usage.Record) error {
	query := r.db.Rebind(`
		INSERT INTO usage_records (id, conversation_id, provider, model, prompt_tokens, completion_tokens, estimated_cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.ConversationID, rec.Provider, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.EstimatedCostUSD,
		database.FormatTime(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// ListByConversation returns a conversation's records, oldest first
func (r *UsageRepository) ListByConversation(ctx context.Context, conversationID string) ([]usage.Record, error) {
	var rows []usageRow
	query := r.db.Rebind(`
		SELECT id, conversation_id, provider, model, prompt_tokens, completion_tokens, estimated_cost_usd, created_at
		FROM usage_records
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`)
	if err := r.db.SelectContext(ctx, &rows, query, conversationID); err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}

	records := make([]usage.Record, 0, len(rows))
	for _, row := range rows {
		ts, err := database.ParseTime(row.CreatedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, usage.Record{
			ID:               row.ID,
			ConversationID:   row.ConversationID,
			Provider:         row.Provider,
			Model:            row.Model,
			PromptTokens:     row.PromptTokens,
			CompletionTokens: row.CompletionTokens,
			EstimatedCostUSD: row.EstimatedCostUSD,
			Timestamp:        ts,
		})
	}
	return records, nil
}

var _ usage.Ledger = (*UsageRepository)(nil)
