package repository

import (
	"context"
	"sync"

	"github.com/guiofsaints/procureflow-sub000/internal/llm"
)

type memoryConversation struct {
	owner    string
	messages []llm.Message
}

// MemoryConversationRepository keeps history in process memory
type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*memoryConversation
}

// NewMemoryConversationRepository creates an empty repository
func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{conversations: make(map[string]*memoryConversation)}
}

func (r *MemoryConversationRepository) Owner(_ context.Context, conversationID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		return "", ErrConversationNotFound
	}
	return conv.owner, nil
}

func (r *MemoryConversationRepository) Load(_ context.Context, userID, conversationID string) ([]llm.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		return []llm.Message{}, nil
	}
	if conv.owner != userID {
		return nil, ErrNotOwner
	}
	return append([]llm.Message{}, conv.messages...), nil
}

func (r *MemoryConversationRepository) Append(_ context.Context, userID, conversationID string, messages ...llm.Message) error {
	if len(messages) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		conv = &memoryConversation{owner: userID}
		r.conversations[conversationID] = conv
	}
	if conv.owner != userID {
		return ErrNotOwner
	}
	conv.messages = append(conv.messages, messages...)
	return nil
}

func (r *MemoryConversationRepository) Clear(_ context.Context, userID, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		return nil
	}
	if conv.owner != userID {
		return ErrNotOwner
	}
	delete(r.conversations, conversationID)
	return nil
}

var _ ConversationRepository = (*MemoryConversationRepository)(nil)
