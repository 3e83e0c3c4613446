package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/tubepost/api/internal/app"
	"github.com/tubepost/api/internal/config"
	"github.com/tubepost/api/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)

	if cfg.Store.Driver == config.StoreDriverMemory {
		log.Fatal("The worker shares state through Redis; set STORE_DRIVER=redis or run the server standalone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.NewBackend(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize backend")
	}
	defer backend.Close()

	orch := backend.NewOrchestrator(cfg, log)
	if err := app.RunWorker(ctx, cfg, orch, log); err != nil {
		log.WithError(err).Error("Worker error")
	}
}
