package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tubepost/api/internal/client"
	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/model"
	"github.com/tubepost/api/internal/notify"
	"github.com/tubepost/api/internal/store"
)

// Orchestrator errors
var (
	ErrEmptyURL   = errors.New("url is required")
	ErrJobRunning = errors.New("a generation job is already running")
)

// InterruptedMessage is recorded for a job whose orchestrator died mid-call
const InterruptedMessage = "Generation was interrupted before it finished."

// sideEffectTimeout bounds badge and notification calls
const sideEffectTimeout = 5 * time.Second

// Orchestrator owns the generation job lifecycle. It is the only writer of
// the state record.
type Orchestrator struct {
	store     store.Store
	generator client.Generator
	indicator notify.Indicator
	notifier  notify.Notifier
	log       *logrus.Entry
	now       func() time.Time

	// set while a remote call is in flight, including after a reset cleared the record
	inFlight atomic.Bool
	// serializes record transitions (start, reset, resolve, recover)
	mu sync.Mutex
	// job whose terminal write failed; its running record is known stale
	stranded string
	wg       sync.WaitGroup
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(st store.Store, gen client.Generator, indicator notify.Indicator, notifier notify.Notifier, log logrus.FieldLogger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     st,
		generator: gen,
		indicator: indicator,
		notifier:  notifier,
		log:       logger.Component(log, "orchestrator"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartGeneration runs one job for url to completion. The remote call is not
// tied to ctx's cancellation: once started, a job always resolves.
//
// Returns ErrJobRunning without touching the record when a job is in flight.
// The returned error only reports failures to persist state; a failed
// generation is a normal outcome recorded in the store.
func (o *Orchestrator) StartGeneration(ctx context.Context, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return ErrEmptyURL
	}

	running, err := o.begin(ctx, url)
	if err != nil {
		return err
	}
	defer o.wg.Done()
	defer o.inFlight.Store(false)

	log := o.log.WithFields(logrus.Fields{"job_id": running.JobID, "url": url})
	log.Info("generation started")

	callCtx := context.WithoutCancel(ctx)
	artifact, genErr := o.generator.Generate(callCtx, url)
	if genErr == nil && artifact == nil {
		genErr = &client.GenerationError{Kind: client.ErrorKindMalformed, Message: client.DefaultFailureMessage}
	}

	if genErr != nil {
		msg := failureMessage(genErr)
		log.WithError(genErr).Warn("generation failed")
		return o.resolve(callCtx, running, running.Fail(msg, o.now()), model.BadgeError, nil)
	}

	log.WithField("title", artifact.Title).Info("generation complete")
	ready := notify.GenerationReady(running.JobID, artifact.Title, o.now())
	return o.resolve(callCtx, running, running.Complete(*artifact, o.now()), model.BadgeDone, &ready)
}

// begin moves the record to Running and claims the in-flight slot
func (o *Orchestrator) begin(ctx context.Context, url string) (model.JobState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inFlight.Load() {
		o.log.WithField("url", url).Info("ignoring start: job in flight")
		return model.JobState{}, ErrJobRunning
	}

	current, err := o.store.Read(ctx)
	if err != nil {
		return model.JobState{}, fmt.Errorf("failed to read state: %w", err)
	}
	if current.Status == model.JobStatusRunning {
		if current.JobID == "" || current.JobID != o.stranded {
			o.log.WithFields(logrus.Fields{"url": url, "job_id": current.JobID}).Info("ignoring start: record is running")
			return model.JobState{}, ErrJobRunning
		}
		if err := o.store.Write(ctx, current.Fail(InterruptedMessage, o.now())); err != nil {
			return model.JobState{}, fmt.Errorf("failed to fail stranded job: %w", err)
		}
		o.log.WithField("job_id", current.JobID).Warn("failed stranded job before new start")
	}
	o.stranded = ""

	running := model.RunningState(uuid.New().String(), url, o.now())
	if err := o.store.Write(ctx, running); err != nil {
		return model.JobState{}, fmt.Errorf("failed to record job start: %w", err)
	}
	o.inFlight.Store(true)
	o.wg.Add(1)

	o.setBadge(ctx, model.BadgeRunning)
	return running, nil
}

// resolve writes the terminal record, then the badge and notification
func (o *Orchestrator) resolve(ctx context.Context, running, final model.JobState, badge model.Badge, ready *model.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	log := o.log.WithField("job_id", running.JobID)

	if current, err := o.store.Read(ctx); err == nil && current.JobID != running.JobID {
		// The record was reset while the call was in flight. The result still
		// lands on it; see DESIGN.md, reset during a running job.
		log.WithField("status", current.Status).Warn("job result overwrites a record reset mid-flight")
	}

	if err := o.store.Write(ctx, final); err != nil {
		log.WithError(err).Warn("failed to record job outcome, retrying once")
		if err := o.store.Write(ctx, final); err != nil {
			// the record is left running with nothing in flight; the next start fails it
			o.stranded = running.JobID
			log.WithError(err).Error("failed to record job outcome")
			o.setBadge(ctx, model.BadgeError)
			return fmt.Errorf("failed to record job outcome: %w", err)
		}
	}

	o.setBadge(ctx, badge)
	if ready != nil {
		o.notify(ctx, *ready)
	}
	return nil
}

// Reset returns the record to idle and clears the badge. An in-flight call
// is not cancelled.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	current, err := o.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if current.Status != model.JobStatusIdle {
		if err := o.store.Write(ctx, model.IdleState()); err != nil {
			return fmt.Errorf("failed to reset state: %w", err)
		}
		o.log.WithFields(logrus.Fields{"job_id": current.JobID, "from": current.Status}).Info("state reset")
	}

	o.setBadge(ctx, model.BadgeClear)
	return nil
}

// Recover fails a record left running by an orchestrator that stopped
// mid-call. Call it once at startup, before accepting commands.
func (o *Orchestrator) Recover(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inFlight.Load() {
		return nil
	}

	current, err := o.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if current.Status != model.JobStatusRunning {
		return nil
	}

	if err := o.store.Write(ctx, current.Fail(InterruptedMessage, o.now())); err != nil {
		return fmt.Errorf("failed to fail interrupted job: %w", err)
	}
	o.log.WithField("job_id", current.JobID).Warn("recovered interrupted job")
	o.setBadge(ctx, model.BadgeError)
	return nil
}

// Running reports whether a remote call is in flight
func (o *Orchestrator) Running() bool {
	return o.inFlight.Load()
}

// Wait blocks until no job is in flight
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) setBadge(ctx context.Context, badge model.Badge) {
	if o.indicator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := o.indicator.SetBadge(ctx, badge); err != nil {
		o.log.WithError(err).WithField("badge", badge.Text).Warn("failed to set badge")
	}
}

func (o *Orchestrator) notify(ctx context.Context, n model.Notification) {
	if o.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := o.notifier.Notify(ctx, n); err != nil {
		o.log.WithError(err).WithField("job_id", n.JobID).Warn("failed to send notification")
	}
}

func failureMessage(err error) string {
	var genErr *client.GenerationError
	if errors.As(err, &genErr) && genErr.Message != "" {
		return genErr.Message
	}
	return client.DefaultFailureMessage
}
