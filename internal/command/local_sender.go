package command

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/model"
)

// LocalSender hands commands to an orchestrator in the same process. Each
// command runs on its own goroutine so the caller never waits for a job.
type LocalSender struct {
	handler Handler
	log     *logrus.Entry
	wg      sync.WaitGroup
}

func NewLocalSender(h Handler, log logrus.FieldLogger) *LocalSender {
	return &LocalSender{
		handler: h,
		log:     logger.Component(log, "command-sender"),
	}
}

func (s *LocalSender) StartGeneration(ctx context.Context, url string) (string, error) {
	return s.send(ctx, model.Command{Action: model.ActionStartGeneration, URL: url}), nil
}

func (s *LocalSender) Reset(ctx context.Context) (string, error) {
	return s.send(ctx, model.Command{Action: model.ActionReset}), nil
}

func (s *LocalSender) send(ctx context.Context, cmd model.Command) string {
	id := uuid.New().String()
	ctx = context.WithoutCancel(ctx)
	log := s.log.WithFields(logrus.Fields{"task_id": id, "action": cmd.Action})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := Dispatch(ctx, s.handler, cmd)
		switch {
		case err == nil:
			log.Debug("command handled")
		case errors.Is(err, ErrUnknownAction):
			log.WithError(err).Warn("command rejected")
		default:
			log.WithError(err).Info("command not applied")
		}
	}()
	return id
}

// Wait blocks until every dispatched command has returned
func (s *LocalSender) Wait() {
	s.wg.Wait()
}
