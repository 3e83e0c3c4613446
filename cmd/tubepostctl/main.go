package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/tubepost/api/cmd/tubepostctl/commands"
	"github.com/tubepost/api/internal/app"
	"github.com/tubepost/api/internal/command"
	"github.com/tubepost/api/internal/config"
	"github.com/tubepost/api/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCmd(connect).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// connect reaches the same Redis the server and worker use
func connect(ctx context.Context) (*commands.Env, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Driver == config.StoreDriverMemory {
		return nil, nil, fmt.Errorf("tubepostctl: %w", app.ErrRedisRequired)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	log.SetOutput(os.Stderr)

	backend, err := app.NewBackend(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	asynqClient := asynq.NewClient(app.RedisOpt(cfg))

	env := &commands.Env{
		Store:       backend.Store,
		Sender:      command.NewAsynqSender(asynqClient, log),
		Indicator:   backend.Badges,
		SourceMatch: cfg.Generation.SourceMatch,
		Log:         log,
	}
	return env, func() {
		asynqClient.Close()
		backend.Close()
	}, nil
}
