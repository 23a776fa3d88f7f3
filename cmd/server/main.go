package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/guiofsaints/procureflow-sub000/internal/api"
	"github.com/guiofsaints/procureflow-sub000/internal/config"
	"github.com/guiofsaints/procureflow-sub000/internal/services"
)

func main() {
	configPath := flag.String("config", "", "path to config.json")
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to read .env")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := cfg.NewLogger()

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("No JWT secret configured; callers are identified by the X-User-ID header")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := services.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize services")
	}
	defer svc.Close()

	app := api.NewApp(api.Dependencies{
		Runner:        svc.Engine,
		Providers:     svc.Providers,
		Gateway:       svc.Gateway,
		Tools:         svc.Tools,
		Ledger:        svc.Ledger,
		Conversations: svc.Conversations,
		Carts:         svc.Commerce,
		Tokens:        svc.Tokens,
		Logger:        logger,
	}, cfg)

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.WithError(err).Error("Shutdown failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"addr":        cfg.Server.Addr(),
		"environment": cfg.Environment,
	}).Info("ProcureFlow starting")
	if err := app.Listen(cfg.Server.Addr()); err != nil {
		logger.WithError(err).Fatal("Failed to start server")
	}
}
