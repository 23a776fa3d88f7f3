package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiofsaints/procureflow-sub000/internal/config"
	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/orchestrator"
	"github.com/guiofsaints/procureflow-sub000/internal/repository"
	"github.com/guiofsaints/procureflow-sub000/internal/repository/redisstore"
	"github.com/guiofsaints/procureflow-sub000/internal/repository/sqlstore"
	"github.com/guiofsaints/procureflow-sub000/internal/usage"
)

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	for _, key := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func newServices(t *testing.T, cfg *config.Config) *Services {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func TestNew_MemoryDefaults(t *testing.T) {
	s := newServices(t, loadConfig(t))

	require.NotNil(t, s.Engine)
	assert.IsType(t, &usage.MemoryLedger{}, s.Ledger)
	assert.IsType(t, &repository.MemoryConversationRepository{}, s.Conversations)
	assert.Nil(t, s.Tokens)
	assert.Len(t, s.Tools.Definitions(), 7)

	// Hosted providers have no keys; the local one needs only a base URL.
	assert.Equal(t, []string{"openai", "anthropic", "gemini", "ollama"}, s.Providers.List())
	_, ready := s.Providers.Get("ollama")
	assert.True(t, ready)
	_, ready = s.Providers.Get("openai")
	assert.False(t, ready)
	assert.Len(t, s.Skipped, 3)
}

func TestNew_SQLiteStorage(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = ":memory:"
	s := newServices(t, cfg)

	assert.IsType(t, &sqlstore.UsageRepository{}, s.Ledger)
	assert.IsType(t, &sqlstore.ConversationRepository{}, s.Conversations)

	ctx := context.Background()
	require.NoError(t, s.Ledger.Append(ctx, usage.Record{ID: "r1", ConversationID: "c1", Provider: "ollama"}))
	records, err := s.Ledger.ListByConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	require.NoError(t, s.Conversations.Append(ctx, "user-1", "c1", llm.UserMessage("hi")))
	owner, err := s.Conversations.Owner(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner, "the migrated schema tracks owners")
}

func TestNew_RedisConversations(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()
	s := newServices(t, cfg)

	assert.IsType(t, &redisstore.ConversationRepository{}, s.Conversations)
	assert.IsType(t, &usage.MemoryLedger{}, s.Ledger)
}

func TestNew_Errors(t *testing.T) {
	logger, _ := test.NewNullLogger()

	t.Run("moderation without key", func(t *testing.T) {
		cfg := loadConfig(t)
		cfg.Safety.Moderation = true
		_, err := New(context.Background(), cfg, logger)
		assert.ErrorContains(t, err, "moderation")
	})

	t.Run("redis unreachable", func(t *testing.T) {
		cfg := loadConfig(t)
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = "127.0.0.1:1"
		_, err := New(context.Background(), cfg, logger)
		assert.Error(t, err)
	})
}

func TestNew_TokensAndModeration(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Auth.JWTSecret = "secret"
	cfg.Safety.Moderation = true
	cfg.Providers[0].APIKey = "sk-test"
	s := newServices(t, cfg)

	require.NotNil(t, s.Tokens)
	token, err := s.Tokens.Issue("user-1", 0)
	require.NoError(t, err)
	claims, err := s.Tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)

	_, ready := s.Providers.Get("openai")
	assert.True(t, ready)
}

func TestServices_RunTurnWithoutProviders(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Providers = cfg.Providers[:1]
	s := newServices(t, cfg)

	_, err := s.Engine.RunTurn(context.Background(), orchestrator.TurnRequest{UserID: "u1", Message: "hello"})
	require.Error(t, err)
}

func TestEngineConfig(t *testing.T) {
	base := config.OrchestratorConfig{MaxToolCallsPerTurn: 4, TurnTimeout: time.Minute, MaxTokens: 512}

	out := engineConfig(base)
	assert.Equal(t, 4, out.MaxToolCallsPerTurn)
	assert.Equal(t, time.Minute, out.TurnTimeout)
	assert.Equal(t, 512, out.MaxTokens)
	assert.Nil(t, out.Temperature)

	temp := 0.25
	base.Temperature = &temp
	out = engineConfig(base)
	require.NotNil(t, out.Temperature)
	assert.InDelta(t, 0.25, *out.Temperature, 1e-6)
}
