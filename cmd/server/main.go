package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tubepost/api/internal/app"
	"github.com/tubepost/api/internal/command"
	"github.com/tubepost/api/internal/config"
	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/server"
	ws "github.com/tubepost/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.NewBackend(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize backend")
	}
	defer backend.Close()

	g, ctx := errgroup.WithContext(ctx)

	// Command channel: in-process in standalone mode, asynq otherwise
	var sender command.Sender
	if cfg.Store.Driver == config.StoreDriverMemory {
		orch := backend.NewOrchestrator(cfg, log)
		if err := orch.Recover(ctx); err != nil {
			log.WithError(err).Fatal("Failed to recover state")
		}
		local := command.NewLocalSender(orch, log)
		defer local.Wait()
		sender = local
		log.Info("Running standalone with in-memory state")
	} else {
		asynqClient := asynq.NewClient(app.RedisOpt(cfg))
		defer asynqClient.Close()
		sender = command.NewAsynqSender(asynqClient, log)

		if cfg.Worker.Embedded {
			orch := backend.NewOrchestrator(cfg, log)
			g.Go(func() error {
				return app.RunWorker(ctx, cfg, orch, log)
			})
		}
	}

	validate := validator.New()

	hub := ws.NewHub(ws.HubConfig{
		Store:       backend.Store,
		Sender:      sender,
		Indicator:   backend.Badges,
		Validate:    validate,
		SourceMatch: cfg.Generation.SourceMatch,
		Log:         log,
	})
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	stopFollow, err := hub.Follow(ctx, backend.Badges, backend.Notifications)
	if err != nil {
		log.WithError(err).Fatal("Failed to follow badge and notification feeds")
	}
	defer stopFollow()

	srv := server.New(server.Deps{
		Config:        cfg,
		Store:         backend.Store,
		Sender:        sender,
		Badges:        backend.Badges,
		Notifications: backend.Notifications,
		Hub:           hub,
		Redis:         backend.Redis,
		Validate:      validate,
		Log:           log,
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down server...")
		return srv.ShutdownWithTimeout(10 * time.Second)
	})

	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		log.WithField("addr", addr).Info("Server starting")
		if err := srv.Listen(addr); err != nil {
			return err
		}
		// Listen returns nil after a graceful shutdown; stop the rest too
		stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Server error")
		os.Exit(1)
	}
}
