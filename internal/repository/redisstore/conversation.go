// Package redisstore keeps conversation history in Redis lists.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/guiofsaints/procureflow-sub000/internal/config"
	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/repository"
)

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// ConversationRepository stores each conversation as a list of JSON
// messages. Every append refreshes the TTL.
type ConversationRepository struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger logrus.FieldLogger
}

// NewConversationRepository creates a Redis conversation repository
func NewConversationRepository(rdb redis.Cmdable, ttl time.Duration, logger logrus.FieldLogger) *ConversationRepository {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ConversationRepository{rdb: rdb, ttl: ttl, logger: logger}
}

func conversationKey(conversationID string) string {
	return fmt.Sprintf("procureflow:conversation:%s:messages", conversationID)
}

func ownerKey(conversationID string) string {
	return fmt.Sprintf("procureflow:conversation:%s:owner", conversationID)
}

// Owner returns the user that created the conversation
func (r *ConversationRepository) Owner(ctx context.Context, conversationID string) (string, error) {
	owner, err := r.rdb.Get(ctx, ownerKey(conversationID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrConversationNotFound
		}
		return "", fmt.Errorf("conversation owner: %w", err)
	}
	return owner, nil
}

func (r *ConversationRepository) checkOwner(ctx context.Context, userID, conversationID string) error {
	owner, err := r.Owner(ctx, conversationID)
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

// Append pushes messages onto the conversation list. The owner key is set
// with SETNX so the first writer claims the conversation.
func (r *ConversationRepository) Append(ctx context.Context, userID, conversationID string, messages ...llm.Message) error {
	if len(messages) == 0 {
		return nil
	}
	key := conversationKey(conversationID)

	values := make([]any, 0, len(messages))
	for _, msg := range messages {
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		values = append(values, b)
	}

	claimed, err := r.rdb.SetNX(ctx, ownerKey(conversationID), userID, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim conversation: %w", err)
	}
	if !claimed {
		if err := r.checkOwner(ctx, userID, conversationID); err != nil {
			return err
		}
	}

	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
		pipe.Expire(ctx, ownerKey(conversationID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.WithError(err).WithField("key", key).Error("Failed to append conversation messages")
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

// Load returns the conversation's messages in order
func (r *ConversationRepository) Load(ctx context.Context, userID, conversationID string) ([]llm.Message, error) {
	if err := r.checkOwner(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	key := conversationKey(conversationID)

	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []llm.Message{}, nil
		}
		r.logger.WithError(err).WithField("key", key).Error("Failed to load conversation")
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	messages := make([]llm.Message, 0, len(rows))
	for i, s := range rows {
		var msg llm.Message
		if err := json.Unmarshal([]byte(s), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Clear deletes the conversation
func (r *ConversationRepository) Clear(ctx context.Context, userID, conversationID string) error {
	if err := r.checkOwner(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := r.rdb.Del(ctx, conversationKey(conversationID), ownerKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

var _ repository.ConversationRepository = (*ConversationRepository)(nil)
