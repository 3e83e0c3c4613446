// Package observer is the UI side of the generation job. An Observer mirrors
// the stored record for one open UI and relays the user's commands.
package observer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tubepost/api/internal/command"
	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/model"
	"github.com/tubepost/api/internal/notify"
	"github.com/tubepost/api/internal/store"
)

// DefaultSourceMatch identifies pages a post can be generated from
const DefaultSourceMatch = "youtube.com/watch"

const (
	pageLookupTimeout = 2 * time.Second
	badgeClearTimeout = 5 * time.Second
)

var ErrNoURL = errors.New("no url to generate from")

// PageContext reports the URL of the page the user is looking at
type PageContext interface {
	ActiveURL(ctx context.Context) (string, error)
}

// PageContextFunc adapts a function to PageContext
type PageContextFunc func(ctx context.Context) (string, error)

func (f PageContextFunc) ActiveURL(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticPage is a PageContext for a URL known up front
func StaticPage(url string) PageContext {
	return PageContextFunc(func(context.Context) (string, error) { return url, nil })
}

// Snapshot is what a UI renders
type Snapshot struct {
	State        model.JobState
	Status       model.JobStatus
	Artifact     *model.Artifact
	ErrorMessage string
	InputURL     string
}

// Observer tracks the record from Activate until Deactivate
type Observer struct {
	store     store.Store
	sender    command.Sender
	indicator notify.Indicator
	page      PageContext
	match     string
	log       *logrus.Entry

	// held for the whole of Activate so only one subscription is opened
	activation sync.Mutex

	mu        sync.Mutex
	snap      Snapshot
	seen      bool
	unsub     store.Unsubscribe
	listeners []func(Snapshot)
}

// Option configures an Observer
type Option func(*Observer)

// WithPageContext enables input prefill from the active page
func WithPageContext(p PageContext) Option {
	return func(o *Observer) { o.page = p }
}

// WithSourceMatch overrides the substring a page URL must contain to prefill
func WithSourceMatch(match string) Option {
	return func(o *Observer) {
		if match != "" {
			o.match = match
		}
	}
}

// WithIndicator lets activation clear the badge
func WithIndicator(i notify.Indicator) Option {
	return func(o *Observer) { o.indicator = i }
}

func New(st store.Store, sender command.Sender, log logrus.FieldLogger, opts ...Option) *Observer {
	o := &Observer{
		store:  st,
		sender: sender,
		match:  DefaultSourceMatch,
		log:    logger.Component(log, "observer"),
		snap:   Snapshot{State: model.IdleState(), Status: model.JobStatusIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MatchesSource reports whether url is a page a post can be generated from
func MatchesSource(url, match string) bool {
	return url != "" && match != "" && strings.Contains(url, match)
}

// Activate subscribes to changes, then reads the current record. Changes that
// race the read are ordered by revision, so none is lost or applied twice.
// Activating an active observer is a no-op.
func (o *Observer) Activate(ctx context.Context) error {
	o.activation.Lock()
	defer o.activation.Unlock()

	if o.Active() {
		return nil
	}

	unsub, err := o.store.Subscribe(ctx, o.apply)
	if err != nil {
		return err
	}

	current, err := o.store.Read(ctx)
	if err != nil {
		unsub()
		return err
	}

	o.mu.Lock()
	o.unsub = unsub
	o.mu.Unlock()

	o.apply(current)
	o.prefill(ctx)
	o.clearBadge(ctx)
	return nil
}

// Deactivate releases the subscription
func (o *Observer) Deactivate() {
	o.mu.Lock()
	unsub := o.unsub
	o.unsub = nil
	o.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Active reports whether the observer holds a subscription
func (o *Observer) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unsub != nil
}

// Snapshot returns the current view
func (o *Observer) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// OnChange registers fn to run after every applied change. fn runs on the
// delivering goroutine and must not block for long.
func (o *Observer) OnChange(fn func(Snapshot)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// Start relays a start command for url, or for the prefilled URL when url is empty
func (o *Observer) Start(ctx context.Context, url string) (string, error) {
	url = strings.TrimSpace(url)
	o.mu.Lock()
	if url == "" {
		url = o.snap.InputURL
	} else {
		o.snap.InputURL = url
	}
	o.mu.Unlock()

	if url == "" {
		return "", ErrNoURL
	}
	return o.sender.StartGeneration(ctx, url)
}

// Reset relays a reset command
func (o *Observer) Reset(ctx context.Context) (string, error) {
	return o.sender.Reset(ctx)
}

func (o *Observer) apply(state model.JobState) {
	o.mu.Lock()
	if o.seen && state.Revision <= o.snap.State.Revision {
		o.mu.Unlock()
		return
	}
	o.seen = true
	o.snap.State = state
	o.snap.Status = state.Status
	o.snap.Artifact = nil
	if state.Status == model.JobStatusComplete {
		o.snap.Artifact = state.Content
	}
	o.snap.ErrorMessage = state.ErrorMessage()
	snap := o.snap
	listeners := append([]func(Snapshot){}, o.listeners...)
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// prefill fills the input from the active page, once, and only while idle
func (o *Observer) prefill(ctx context.Context) {
	if o.page == nil {
		return
	}
	o.mu.Lock()
	idle := o.snap.Status == model.JobStatusIdle && o.snap.InputURL == ""
	o.mu.Unlock()
	if !idle {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, pageLookupTimeout)
	defer cancel()
	url, err := o.page.ActiveURL(ctx)
	if err != nil {
		o.log.WithError(err).Debug("page lookup failed")
		return
	}
	if !MatchesSource(url, o.match) {
		return
	}

	o.mu.Lock()
	if o.snap.Status != model.JobStatusIdle || o.snap.InputURL != "" {
		o.mu.Unlock()
		return
	}
	o.snap.InputURL = url
	snap := o.snap
	listeners := append([]func(Snapshot){}, o.listeners...)
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

func (o *Observer) clearBadge(ctx context.Context) {
	if o.indicator == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), badgeClearTimeout)
	defer cancel()
	if err := o.indicator.SetBadge(ctx, model.BadgeClear); err != nil {
		o.log.WithError(err).Warn("failed to clear badge")
	}
}
