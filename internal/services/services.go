// Package services builds the object graph shared by the server and the
// CLI from the resolved configuration.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/guiofsaints/procureflow-sub000/internal/auth"
	"github.com/guiofsaints/procureflow-sub000/internal/commerce"
	"github.com/guiofsaints/procureflow-sub000/internal/config"
	"github.com/guiofsaints/procureflow-sub000/internal/database"
	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/memory"
	"github.com/guiofsaints/procureflow-sub000/internal/orchestrator"
	"github.com/guiofsaints/procureflow-sub000/internal/providers"
	"github.com/guiofsaints/procureflow-sub000/internal/providers/factory"
	"github.com/guiofsaints/procureflow-sub000/internal/providers/openai"
	"github.com/guiofsaints/procureflow-sub000/internal/repository"
	"github.com/guiofsaints/procureflow-sub000/internal/repository/redisstore"
	"github.com/guiofsaints/procureflow-sub000/internal/repository/sqlstore"
	"github.com/guiofsaints/procureflow-sub000/internal/safety"
	"github.com/guiofsaints/procureflow-sub000/internal/tools"
	"github.com/guiofsaints/procureflow-sub000/internal/usage"
)

// Services holds all service instances
type Services struct {
	Config *config.Config

	// Primary entry point - all clients run turns through this
	Engine *orchestrator.Engine

	Providers     *providers.Registry
	Gateway       *llm.Gateway
	Tools         *tools.Registry
	Commerce      *commerce.MemoryService
	Ledger        usage.Ledger
	Conversations repository.ConversationRepository
	Tokens        *auth.TokenService // nil when no JWT secret is configured

	// Skipped lists providers that were declared but could not be built
	Skipped []error

	closers []func() error
}

// New creates all service instances. Storage connections are opened here;
// call Close when done.
func New(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (_ *Services, err error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Services{Config: cfg}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.Providers, s.Skipped = factory.Build(ctx, cfg.ProviderConfigs())
	for _, skipped := range s.Skipped {
		logger.WithError(skipped).Debug("Provider not available")
	}

	s.Gateway = newGateway(cfg.Reliability, s.Providers, logger)

	s.Commerce = commerce.NewMemoryService(commerce.DefaultCatalog())
	s.Tools = tools.NewRegistry()
	if err := commerce.RegisterTools(s.Tools, s.Commerce); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	executor := tools.NewExecutor(s.Tools,
		tools.WithTimeout(cfg.Tools.Timeout),
		tools.WithParallelism(cfg.Tools.Parallelism),
		tools.WithLogger(logger),
	)

	gate, err := newGate(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := s.openStorage(ctx, cfg, logger); err != nil {
		return nil, err
	}

	if cfg.Auth.JWTSecret != "" {
		s.Tokens = auth.NewTokenService(cfg.Auth.JWTSecret)
	}

	accountant := usage.NewAccountant(cfg.Pricing.Table())
	s.Engine, err = orchestrator.NewEngine(orchestrator.Dependencies{
		Providers: s.Providers,
		Gateway:   s.Gateway,
		Executor:  executor,
		Memory: memory.NewManager(memory.Config{
			SystemPrompt: cfg.Memory.SystemPrompt,
			TokenBudget:  cfg.Memory.TokenBudget,
			MaxMessages:  cfg.Memory.MaxMessages,
		}, accountant, logger),
		Gate:       gate,
		Accountant: accountant,
		Ledger:     s.Ledger,
		Logger:     logger,
	}, engineConfig(cfg.Orchestrator))
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"providers":     s.Providers.List(),
		"tools":         len(s.Tools.Definitions()),
		"database":      cfg.Database.Driver,
		"redis_history": cfg.Redis.Enabled,
	}).Info("Services initialized")
	return s, nil
}

func newGateway(rc config.ReliabilityConfig, registry *providers.Registry, logger logrus.FieldLogger) *llm.Gateway {
	gateway := llm.NewGateway(
		llm.WithLogger(logger),
		llm.WithRateLimiter(llm.NewTokenBucketLimiter(rc.DefaultRPM, rc.DefaultBurst, rc.MaxWait)),
		llm.WithCircuitBreaker(llm.NewCircuitBreaker(rc.BreakerConfig(), logger)),
		llm.WithRetryPolicy(rc.RetryPolicy()),
		llm.WithMetrics(llm.NewMetricsCollector()),
		llm.WithDefaultTimeout(rc.DefaultTimeout),
	)
	for _, name := range registry.List() {
		if p, ok := registry.Get(name); ok {
			gateway.Register(p)
		}
	}
	return gateway
}

func newGate(cfg *config.Config, logger logrus.FieldLogger) (*safety.Gate, error) {
	opts := []safety.Option{safety.WithLogger(logger)}
	if cfg.Safety.Moderation {
		moderator, err := newModerator(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, safety.WithModerator(moderator))
	}
	gate, err := safety.NewGate(safety.Config{
		MaxInputChars: cfg.Safety.MaxInputChars,
		Patterns:      cfg.Safety.Patterns,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("safety gate: %w", err)
	}
	return gate, nil
}

// newModerator uses the named openai provider's credentials, or the first
// openai provider that has a key.
func newModerator(cfg *config.Config) (*openai.Moderator, error) {
	for _, p := range cfg.ProviderConfigs() {
		if p.Type != "openai" || p.APIKey == "" {
			continue
		}
		if cfg.Safety.ModerationProvider != "" && p.Name != cfg.Safety.ModerationProvider {
			continue
		}
		return openai.NewModerator(p.APIKey, p.BaseURL), nil
	}
	return nil, errors.New("moderation is enabled but no openai provider has an API key")
}

// openStorage selects the usage ledger and conversation store: SQL when a
// database is configured, Redis for conversations when enabled, memory
// otherwise.
func (s *Services) openStorage(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) error {
	s.Ledger = usage.NewMemoryLedger()
	s.Conversations = repository.NewMemoryConversationRepository()

	if cfg.Database.Driver != "" && cfg.Database.Driver != "memory" {
		db, err := database.NewConnection(cfg.Database)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, db.Close)
		if err := database.Migrate(db, cfg.Database); err != nil {
			return err
		}
		s.Ledger = sqlstore.NewUsageRepository(db.DB)
		s.Conversations = sqlstore.NewConversationRepository(db.DB)
	}

	if cfg.Redis.Enabled {
		client, err := redisstore.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, client.Close)
		s.Conversations = redisstore.NewConversationRepository(client, cfg.Redis.TTL, logger)
	}
	return nil
}

// Close releases storage connections
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func engineConfig(c config.OrchestratorConfig) orchestrator.Config {
	out := orchestrator.Config{
		MaxToolCallsPerTurn: c.MaxToolCallsPerTurn,
		TurnTimeout:         c.TurnTimeout,
		MaxTokens:           c.MaxTokens,
	}
	if c.Temperature != nil {
		t := float32(*c.Temperature)
		out.Temperature = &t
	}
	return out
}
