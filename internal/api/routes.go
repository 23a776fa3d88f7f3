// Package api exposes the orchestration core over HTTP.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/guiofsaints/procureflow-sub000/internal/api/handlers"
	"github.com/guiofsaints/procureflow-sub000/internal/api/middleware"
	"github.com/guiofsaints/procureflow-sub000/internal/auth"
	"github.com/guiofsaints/procureflow-sub000/internal/config"
	"github.com/guiofsaints/procureflow-sub000/internal/repository"
	"github.com/guiofsaints/procureflow-sub000/internal/tools"
)

// Dependencies are the services the routes are wired to. Conversations,
// Carts and Tokens may be nil.
type Dependencies struct {
	Runner        handlers.TurnRunner
	Providers     handlers.ProviderCatalog
	Gateway       handlers.GatewayStatus
	Tools         *tools.Registry
	Ledger        handlers.UsageLister
	Conversations repository.ConversationRepository
	Carts         handlers.CartSnapshotter
	Tokens        *auth.TokenService
	Logger        logrus.FieldLogger
}

// NewApp builds the fiber application with middleware and routes
func NewApp(deps Dependencies, cfg *config.Config) *fiber.App {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}

	app := fiber.New(fiber.Config{
		AppName:               "ProcureFlow",
		ErrorHandler:          middleware.ErrorHandler,
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
	})

	app.Use(middleware.RequestLogger(middleware.RequestLogConfig{
		Logger:    deps.Logger,
		SkipPaths: []string{"/api/v1/health"},
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + middleware.UserIDHeader,
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	SetupRoutes(app, deps, cfg)
	return app
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, deps Dependencies, cfg *config.Config) {
	api := app.Group("/api/v1")

	// Health check stays outside auth and rate limits
	api.Get("/health", handlers.Health)

	protected := api.Group("",
		middleware.AuthMiddleware(middleware.AuthConfig{
			Tokens:   deps.Tokens,
			Required: cfg.Auth.Required,
		}),
	)
	if cfg.Server.RequestsPerMin > 0 {
		protected.Use(middleware.APIRateLimit(cfg.Server.RequestsPerMin, time.Minute))
	}

	turns := handlers.NewTurnHandlers(deps.Runner, deps.Conversations, deps.Carts, deps.Logger)
	protected.Post("/turns", turns.CreateTurn)
	protected.Get("/conversations/:id/messages", turns.GetMessages)
	protected.Delete("/conversations/:id", turns.DeleteConversation)

	var owners handlers.OwnerLookup
	if deps.Conversations != nil {
		owners = deps.Conversations
	}
	status := handlers.NewStatusHandlers(deps.Providers, deps.Gateway, deps.Tools, deps.Ledger, owners, deps.Logger)
	protected.Get("/conversations/:id/usage", status.GetUsage)
	protected.Get("/providers", status.GetProviders)
	protected.Get("/tools", status.GetTools)
}
