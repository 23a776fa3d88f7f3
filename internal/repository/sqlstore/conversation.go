package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/guiofsaints/procureflow-sub000/internal/database"
	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/repository"
)

// ConversationRepository implements repository.ConversationRepository
type ConversationRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewConversationRepository creates a SQL conversation repository
func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db, now: time.Now}
}

type messageRow struct {
	ConversationID string `db:"conversation_id"`
	Role           string `db:"role"`
	Content        string `db:"content"`
	Name           string `db:"name"`
	ToolCallID     string `db:"tool_call_id"`
	ToolCalls      string `db:"tool_calls"`
	CreatedAt      string `db:"created_at"`
}

// Owner returns the user that created the conversation
func (r *ConversationRepository) Owner(ctx context.Context, conversationID string) (string, error) {
	return r.owner(ctx, r.db, conversationID)
}

func (r *ConversationRepository) owner(ctx context.Context, q sqlx.QueryerContext, conversationID string) (string, error) {
	var userID string
	query := r.db.Rebind(`SELECT user_id FROM conversations WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &userID, query, conversationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", repository.ErrConversationNotFound
		}
		return "", fmt.Errorf("conversation owner: %w", err)
	}
	return userID, nil
}

// checkOwner reports ErrNotOwner for conversations created by someone else.
// Unknown conversations pass.
func (r *ConversationRepository) checkOwner(ctx context.Context, q sqlx.QueryerContext, userID, conversationID string) error {
	owner, err := r.owner(ctx, q, conversationID)
	switch {
	case errors.Is(err, repository.ErrConversationNotFound):
		return nil
	case err != nil:
		return err
	case owner != userID:
		return repository.ErrNotOwner
	}
	return nil
}

// Load returns the conversation's messages in insertion order
func (r *ConversationRepository) Load(ctx context.Context, userID, conversationID string) ([]llm.Message, error) {
	if err := r.checkOwner(ctx, r.db, userID, conversationID); err != nil {
		return nil, err
	}

	var rows []messageRow
	query := r.db.Rebind(`
		SELECT m.conversation_id, m.role, m.content, m.name, m.tool_call_id, m.tool_calls, m.created_at
		FROM conversation_messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.conversation_id = ? AND c.user_id = ?
		ORDER BY m.id ASC
	`)
	if err := r.db.SelectContext(ctx, &rows, query, conversationID, userID); err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	messages := make([]llm.Message, 0, len(rows))
	for i, row := range rows {
		msg := llm.Message{
			Role:       llm.Role(row.Role),
			Content:    row.Content,
			Name:       row.Name,
			ToolCallID: row.ToolCallID,
		}
		if row.ToolCalls != "" {
			if err := json.Unmarshal([]byte(row.ToolCalls), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of message %d: %w", i, err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Append stores messages in one transaction. The first append records the
// conversation's owner.
func (r *ConversationRepository) Append(ctx context.Context, userID, conversationID string, messages ...llm.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	createdAt := database.FormatTime(r.now())
	claim := tx.Rebind(`
		INSERT INTO conversations (id, user_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)
	if _, err := tx.ExecContext(ctx, claim, conversationID, userID, createdAt); err != nil {
		return fmt.Errorf("claim conversation: %w", err)
	}
	if err := r.checkOwner(ctx, tx, userID, conversationID); err != nil {
		return err
	}

	query := tx.Rebind(`
		INSERT INTO conversation_messages (conversation_id, role, content, name, tool_call_id, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	for _, msg := range messages {
		var toolCalls string
		if len(msg.ToolCalls) > 0 {
			b, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			toolCalls = string(b)
		}
		if _, err := tx.ExecContext(ctx, query,
			conversationID, string(msg.Role), msg.Content, msg.Name, msg.ToolCallID, toolCalls, createdAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Clear deletes the conversation and its messages
func (r *ConversationRepository) Clear(ctx context.Context, userID, conversationID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := r.checkOwner(ctx, tx, userID, conversationID); err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM conversation_messages WHERE conversation_id = ?`,
		`DELETE FROM conversations WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), conversationID); err != nil {
			return fmt.Errorf("clear conversation: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

var _ repository.ConversationRepository = (*ConversationRepository)(nil)
