package repository

import (
	"context"
	"errors"

	"github.com/guiofsaints/procureflow-sub000/internal/llm"
)

var (
	// ErrConversationNotFound is returned by Owner for conversations that
	// were never stored.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrNotOwner is returned when a user touches a conversation another
	// user created.
	ErrNotOwner = errors.New("conversation belongs to another user")
)

// ConversationRepository stores conversation history between turns. The
// first Append claims the conversation for its user; every later call by a
// different user fails with ErrNotOwner. Loading an unknown conversation
// yields an empty history.
type ConversationRepository interface {
	Owner(ctx context.Context, conversationID string) (string, error)
	Load(ctx context.Context, userID, conversationID string) ([]llm.Message, error)
	Append(ctx context.Context, userID, conversationID string, messages ...llm.Message) error
	Clear(ctx context.Context, userID, conversationID string) error
}
