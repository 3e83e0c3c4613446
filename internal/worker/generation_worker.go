package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/tubepost/api/internal/command"
	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/model"
	"github.com/tubepost/api/internal/service"
)

// GenerationWorker processes generation commands from the asynq queue
type GenerationWorker struct {
	handler command.Handler
	log     *logrus.Entry
}

// NewGenerationWorker creates a worker that forwards commands to h, normally
// a *service.Orchestrator.
func NewGenerationWorker(h command.Handler, log logrus.FieldLogger) *GenerationWorker {
	return &GenerationWorker{
		handler: h,
		log:     logger.Component(log, "generation-worker"),
	}
}

// Register installs the worker's handlers on mux
func (w *GenerationWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(command.TaskTypeStart, w.ProcessStart)
	mux.HandleFunc(command.TaskTypeReset, w.ProcessReset)
}

// ProcessStart runs a generation job to completion
func (w *GenerationWorker) ProcessStart(ctx context.Context, t *asynq.Task) error {
	cmd, err := command.Decode(t.Payload(), model.ActionStartGeneration)
	if err != nil {
		w.log.WithError(err).Warn("dropping start command")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return w.process(ctx, cmd)
}

// ProcessReset returns the record to idle
func (w *GenerationWorker) ProcessReset(ctx context.Context, t *asynq.Task) error {
	cmd, err := command.Decode(t.Payload(), model.ActionReset)
	if err != nil {
		w.log.WithError(err).Warn("dropping reset command")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return w.process(ctx, cmd)
}

func (w *GenerationWorker) process(ctx context.Context, cmd model.Command) error {
	log := w.log.WithField("action", cmd.Action)
	if id, ok := asynq.GetTaskID(ctx); ok {
		log = log.WithField("task_id", id)
	}

	err := command.Dispatch(ctx, w.handler, cmd)
	switch {
	case err == nil:
		log.Debug("command handled")
		return nil
	case errors.Is(err, service.ErrJobRunning):
		// start while running is ignored, not failed
		log.Info("start ignored: job already running")
		return nil
	case errors.Is(err, service.ErrEmptyURL):
		log.Warn("start rejected: empty url")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		log.WithError(err).Error("command failed")
		return err
	}
}
