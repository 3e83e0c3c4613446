package command

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/model"
)

// Enqueuer is the part of *asynq.Client the sender needs
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqSender queues commands for the worker process
type AsynqSender struct {
	client Enqueuer
	log    *logrus.Entry
}

func NewAsynqSender(client Enqueuer, log logrus.FieldLogger) *AsynqSender {
	return &AsynqSender{
		client: client,
		log:    logger.Component(log, "command-sender"),
	}
}

func (s *AsynqSender) StartGeneration(ctx context.Context, url string) (string, error) {
	return s.send(ctx, TaskTypeStart, model.Command{Action: model.ActionStartGeneration, URL: url})
}

func (s *AsynqSender) Reset(ctx context.Context) (string, error) {
	return s.send(ctx, TaskTypeReset, model.Command{Action: model.ActionReset})
}

func (s *AsynqSender) send(ctx context.Context, taskType string, cmd model.Command) (string, error) {
	payload, err := Encode(cmd)
	if err != nil {
		return "", err
	}

	// Commands are not retried: a failed generation is an outcome, not a fault.
	info, err := s.client.EnqueueContext(ctx, asynq.NewTask(taskType, payload),
		asynq.Queue(Queue),
		asynq.MaxRetry(0),
		asynq.Retention(time.Hour),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}

	s.log.WithFields(logrus.Fields{"task_id": info.ID, "action": cmd.Action}).Debug("command queued")
	return info.ID, nil
}
