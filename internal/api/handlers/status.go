package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/guiofsaints/procureflow-sub000/internal/api/middleware"
	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/tools"
	"github.com/guiofsaints/procureflow-sub000/internal/usage"
)

// ProviderCatalog lists declared providers
type ProviderCatalog interface {
	Configs() []llm.ProviderConfig
	Get(name string) (llm.Provider, bool)
}

// GatewayStatus reports reliability state
type GatewayStatus interface {
	GetMetrics() llm.MetricsSnapshot
	BreakerStates() map[string]string
}

// UsageLister reads usage records
type UsageLister interface {
	ListByConversation(ctx context.Context, conversationID string) ([]usage.Record, error)
}

// ProviderInfo describes one provider on GET /providers
type ProviderInfo struct {
	Name                string `json:"name"`
	Type                string `json:"type"`
	Model               string `json:"model"`
	SupportsToolCalling bool   `json:"supports_tool_calling"`
	Ready               bool   `json:"ready"`
	Breaker             string `json:"breaker"`
}

// StatusHandlers serves read-only operational endpoints
type StatusHandlers struct {
	providers ProviderCatalog
	gateway   GatewayStatus
	tools     *tools.Registry
	ledger    UsageLister
	owners    OwnerLookup
	logger    logrus.FieldLogger
}

// NewStatusHandlers creates status handlers. Usage is only served for
// conversations owners can vouch for; a nil owners hides it entirely.
func NewStatusHandlers(providers ProviderCatalog, gateway GatewayStatus, registry *tools.Registry, ledger UsageLister, owners OwnerLookup, logger logrus.FieldLogger) *StatusHandlers {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StatusHandlers{
		providers: providers,
		gateway:   gateway,
		tools:     registry,
		ledger:    ledger,
		owners:    owners,
		logger:    logger,
	}
}

// GetProviders handles GET /api/v1/providers
func (h *StatusHandlers) GetProviders(c *fiber.Ctx) error {
	states := h.gateway.BreakerStates()
	configs := h.providers.Configs()

	list := make([]ProviderInfo, 0, len(configs))
	for _, cfg := range configs {
		_, ready := h.providers.Get(cfg.Name)
		breaker, ok := states[cfg.Name]
		if !ok {
			breaker = llm.StateClosed.String()
		}
		list = append(list, ProviderInfo{
			Name:                cfg.Name,
			Type:                cfg.Type,
			Model:               cfg.Model,
			SupportsToolCalling: cfg.SupportsToolCalling,
			Ready:               ready,
			Breaker:             breaker,
		})
	}

	return c.JSON(fiber.Map{
		"providers": list,
		"metrics":   h.gateway.GetMetrics(),
	})
}

// GetTools handles GET /api/v1/tools
func (h *StatusHandlers) GetTools(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"tools": h.tools.Definitions(),
	})
}

// GetUsage handles GET /api/v1/conversations/:id/usage
func (h *StatusHandlers) GetUsage(c *fiber.Ctx) error {
	if h.owners == nil {
		return errConversationNotFound
	}
	ctx := c.UserContext()
	id := c.Params("id")
	if err := authorizeConversation(ctx, h.owners, h.logger, middleware.UserID(c), id, false); err != nil {
		return err
	}
	records, err := h.ledger.ListByConversation(ctx, id)
	if err != nil {
		h.logger.WithError(err).WithField("conversation_id", id).Error("Failed to list usage")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to load usage")
	}
	return c.JSON(fiber.Map{
		"conversation_id": id,
		"records":         records,
		"totals":          usage.Summarize(records),
	})
}

// Health handles GET /api/v1/health
func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "procureflow",
	})
}
