package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubepost/api/internal/command"
	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/model"
	"github.com/tubepost/api/internal/notify"
	"github.com/tubepost/api/internal/service"
	"github.com/tubepost/api/internal/store"
)

const videoURL = "https://www.youtube.com/watch?v=abc"

type fakeSender struct {
	mu     sync.Mutex
	starts []string
	resets int
}

func (s *fakeSender) StartGeneration(_ context.Context, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, url)
	return "id", nil
}

func (s *fakeSender) Reset(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return "id", nil
}

// scriptedStore hands the listener to the test and lets it inject changes
// around the initial read.
type scriptedStore struct {
	listener store.Listener
	current  model.JobState
	onRead   func()
}

func (s *scriptedStore) Write(context.Context, model.JobState) error { return nil }

func (s *scriptedStore) Read(context.Context) (model.JobState, error) {
	if s.onRead != nil {
		s.onRead()
	}
	return s.current, nil
}

func (s *scriptedStore) Subscribe(_ context.Context, fn store.Listener) (store.Unsubscribe, error) {
	s.listener = fn
	return func() { s.listener = nil }, nil
}

func revision(state model.JobState, rev int64) model.JobState {
	state.Revision = rev
	return state
}

func completed(title string) model.JobState {
	now := time.Now()
	return model.RunningState("job", videoURL, now).Complete(model.Artifact{Title: title, ContentHTML: "x"}, now)
}

type generatorFunc func(ctx context.Context, url string) (*model.Artifact, error)

func (f generatorFunc) Generate(ctx context.Context, url string) (*model.Artifact, error) {
	return f(ctx, url)
}

func TestActivate_ReadsCurrentState(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Write(context.Background(), completed("T")))

	o := New(st, &fakeSender{}, logger.Discard())
	require.NoError(t, o.Activate(context.Background()))
	defer o.Deactivate()

	snap := o.Snapshot()
	assert.Equal(t, model.JobStatusComplete, snap.Status)
	require.NotNil(t, snap.Artifact)
	assert.Equal(t, "T", snap.Artifact.Title)
	assert.Empty(t, snap.ErrorMessage)
}

func TestActivate_ChangeBetweenSubscribeAndRead(t *testing.T) {
	st := &scriptedStore{}
	latest := revision(completed("T"), 3)
	st.onRead = func() {
		// the write lands after subscribing but before the read returns
		st.listener(latest)
		st.current = latest
	}

	o := New(st, &fakeSender{}, logger.Discard())
	var seen []int64
	o.OnChange(func(s Snapshot) { seen = append(seen, s.State.Revision) })

	require.NoError(t, o.Activate(context.Background()))
	assert.Equal(t, model.JobStatusComplete, o.Snapshot().Status)
	assert.Equal(t, []int64{3}, seen, "the same revision is applied once")
}

func TestApply_DropsStaleRevisions(t *testing.T) {
	st := &scriptedStore{current: revision(completed("current"), 5)}
	o := New(st, &fakeSender{}, logger.Discard())
	require.NoError(t, o.Activate(context.Background()))

	running := revision(model.RunningState("old", videoURL, time.Now()), 4)
	st.listener(running)
	st.listener(revision(completed("current"), 5))
	assert.Equal(t, model.JobStatusComplete, o.Snapshot().Status)
	assert.Equal(t, int64(5), o.Snapshot().State.Revision)

	st.listener(revision(model.IdleState(), 6))
	assert.Equal(t, model.JobStatusIdle, o.Snapshot().Status)
	assert.Nil(t, o.Snapshot().Artifact)
}

func TestSnapshot_FailedState(t *testing.T) {
	st := store.NewMemoryStore()
	failed := model.RunningState("j", videoURL, time.Now()).Fail("rate limited", time.Now())
	require.NoError(t, st.Write(context.Background(), failed))

	o := New(st, &fakeSender{}, logger.Discard())
	require.NoError(t, o.Activate(context.Background()))
	defer o.Deactivate()

	assert.Equal(t, model.JobStatusFailed, o.Snapshot().Status)
	assert.Equal(t, "rate limited", o.Snapshot().ErrorMessage)
	assert.Nil(t, o.Snapshot().Artifact)
}

func TestDeactivate_ReleasesSubscription(t *testing.T) {
	st := store.NewMemoryStore()
	o := New(st, &fakeSender{}, logger.Discard())

	require.NoError(t, o.Activate(context.Background()))
	require.NoError(t, o.Activate(context.Background()))
	assert.Equal(t, 1, st.Listeners())
	assert.True(t, o.Active())

	o.Deactivate()
	o.Deactivate()
	assert.Equal(t, 0, st.Listeners())
	assert.False(t, o.Active())

	require.NoError(t, st.Write(context.Background(), completed("late")))
	assert.Equal(t, model.JobStatusIdle, o.Snapshot().Status)
}

func TestActivate_ConcurrentCallsSubscribeOnce(t *testing.T) {
	st := store.NewMemoryStore()
	o := New(st, &fakeSender{}, logger.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Activate(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, st.Listeners())

	o.Deactivate()
	assert.Equal(t, 0, st.Listeners())
}

func TestPrefill(t *testing.T) {
	cases := []struct {
		name  string
		state *model.JobState
		page  PageContext
		want  string
	}{
		{name: "idle on video page", page: StaticPage(videoURL), want: videoURL},
		{name: "idle elsewhere", page: StaticPage("https://example.com/")},
		{name: "page lookup fails", page: PageContextFunc(func(context.Context) (string, error) {
			return "", errors.New("no active tab")
		})},
		{name: "not idle", state: func() *model.JobState { s := completed("T"); return &s }(), page: StaticPage(videoURL)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			if tc.state != nil {
				require.NoError(t, st.Write(context.Background(), *tc.state))
			}
			o := New(st, &fakeSender{}, logger.Discard(), WithPageContext(tc.page))
			require.NoError(t, o.Activate(context.Background()))
			defer o.Deactivate()

			assert.Equal(t, tc.want, o.Snapshot().InputURL)
		})
	}
}

func TestWithSourceMatch(t *testing.T) {
	o := New(store.NewMemoryStore(), &fakeSender{}, logger.Discard(),
		WithPageContext(StaticPage("https://vimeo.com/123")), WithSourceMatch("vimeo.com/"))
	require.NoError(t, o.Activate(context.Background()))
	defer o.Deactivate()
	assert.Equal(t, "https://vimeo.com/123", o.Snapshot().InputURL)
}

func TestActivate_ClearsBadge(t *testing.T) {
	indicator := notify.NewMemoryIndicator()
	require.NoError(t, indicator.SetBadge(context.Background(), model.BadgeDone))

	o := New(store.NewMemoryStore(), &fakeSender{}, logger.Discard(), WithIndicator(indicator))
	require.NoError(t, o.Activate(context.Background()))
	defer o.Deactivate()

	badge, err := indicator.Badge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.BadgeClear, badge)
}

func TestStartAndReset_RelayCommands(t *testing.T) {
	sender := &fakeSender{}
	o := New(store.NewMemoryStore(), sender, logger.Discard(), WithPageContext(StaticPage(videoURL)))
	ctx := context.Background()

	_, err := o.Start(ctx, "")
	assert.ErrorIs(t, err, ErrNoURL)

	require.NoError(t, o.Activate(ctx))
	defer o.Deactivate()

	_, err = o.Start(ctx, "")
	require.NoError(t, err)
	_, err = o.Start(ctx, "https://youtube.com/watch?v=other")
	require.NoError(t, err)
	_, err = o.Reset(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{videoURL, "https://youtube.com/watch?v=other"}, sender.starts)
	assert.Equal(t, 1, sender.resets)
	assert.Equal(t, "https://youtube.com/watch?v=other", o.Snapshot().InputURL)
}

func TestTwoObserversSeeTheSameOutcome(t *testing.T) {
	st := store.NewMemoryStore()
	orch := service.NewOrchestrator(st, generatorFunc(func(context.Context, string) (*model.Artifact, error) {
		return &model.Artifact{Title: "T", SummaryForCard: "S", ContentHTML: "<p>x</p>"}, nil
	}), notify.NewMemoryIndicator(), notify.NewMemoryNotifier(5), logger.Discard())
	sender := command.NewLocalSender(orch, logger.Discard())
	ctx := context.Background()

	first := New(st, sender, logger.Discard())
	second := New(st, sender, logger.Discard())
	require.NoError(t, first.Activate(ctx))
	defer first.Deactivate()
	require.NoError(t, second.Activate(ctx))
	defer second.Deactivate()

	var mu sync.Mutex
	var firstStatuses []model.JobStatus
	first.OnChange(func(s Snapshot) {
		mu.Lock()
		firstStatuses = append(firstStatuses, s.Status)
		mu.Unlock()
	})

	_, err := first.Start(ctx, videoURL)
	require.NoError(t, err)
	sender.Wait()

	for _, o := range []*Observer{first, second} {
		snap := o.Snapshot()
		assert.Equal(t, model.JobStatusComplete, snap.Status)
		require.NotNil(t, snap.Artifact)
		assert.Equal(t, "T", snap.Artifact.Title)
	}
	mu.Lock()
	assert.Equal(t, []model.JobStatus{model.JobStatusRunning, model.JobStatusComplete}, firstStatuses)
	mu.Unlock()

	_, err = second.Reset(ctx)
	require.NoError(t, err)
	sender.Wait()
	assert.Equal(t, model.JobStatusIdle, first.Snapshot().Status)
	assert.Equal(t, model.JobStatusIdle, second.Snapshot().Status)
}

func TestMatchesSource(t *testing.T) {
	assert.True(t, MatchesSource(videoURL, DefaultSourceMatch))
	assert.False(t, MatchesSource("https://youtube.com/", DefaultSourceMatch))
	assert.False(t, MatchesSource("", DefaultSourceMatch))
}
