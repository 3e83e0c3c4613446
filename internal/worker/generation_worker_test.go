package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubepost/api/internal/command"
	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/model"
	"github.com/tubepost/api/internal/notify"
	"github.com/tubepost/api/internal/service"
	"github.com/tubepost/api/internal/store"
)

type stubHandler struct {
	startErr error
	resetErr error
	starts   []string
	resets   int
}

func (h *stubHandler) StartGeneration(_ context.Context, url string) error {
	h.starts = append(h.starts, url)
	return h.startErr
}

func (h *stubHandler) Reset(context.Context) error {
	h.resets++
	return h.resetErr
}

type generatorFunc func(ctx context.Context, url string) (*model.Artifact, error)

func (f generatorFunc) Generate(ctx context.Context, url string) (*model.Artifact, error) {
	return f(ctx, url)
}

func task(t *testing.T, typ string, cmd model.Command) *asynq.Task {
	t.Helper()
	payload, err := command.Encode(cmd)
	require.NoError(t, err)
	return asynq.NewTask(typ, payload)
}

func TestProcessStart_RoundTripThroughOrchestrator(t *testing.T) {
	st := store.NewMemoryStore()
	indicator := notify.NewMemoryIndicator()
	orch := service.NewOrchestrator(st, generatorFunc(func(context.Context, string) (*model.Artifact, error) {
		return &model.Artifact{Title: "T", SummaryForCard: "S", ContentHTML: "<p>x</p>"}, nil
	}), indicator, notify.NewMemoryNotifier(5), logger.Discard())
	w := NewGenerationWorker(orch, logger.Discard())
	ctx := context.Background()

	err := w.ProcessStart(ctx, task(t, command.TaskTypeStart, model.Command{
		Action: model.ActionStartGeneration, URL: "https://youtube.com/watch?v=1",
	}))
	require.NoError(t, err)

	state, err := st.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusComplete, state.Status)
	assert.Equal(t, "https://youtube.com/watch?v=1", state.URL)

	require.NoError(t, w.ProcessReset(ctx, task(t, command.TaskTypeReset, model.Command{Action: model.ActionReset})))
	state, err = st.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusIdle, state.Status)
	badge, err := indicator.Badge(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BadgeClear, badge)
}

func TestProcessStart_JobRunningIsNotAFailure(t *testing.T) {
	h := &stubHandler{startErr: service.ErrJobRunning}
	w := NewGenerationWorker(h, logger.Discard())

	err := w.ProcessStart(context.Background(), task(t, command.TaskTypeStart, model.Command{
		Action: model.ActionStartGeneration, URL: "u",
	}))
	assert.NoError(t, err)
	assert.Equal(t, []string{"u"}, h.starts)
}

func TestProcessStart_EmptyURLSkipsRetry(t *testing.T) {
	h := &stubHandler{startErr: service.ErrEmptyURL}
	w := NewGenerationWorker(h, logger.Discard())

	err := w.ProcessStart(context.Background(), task(t, command.TaskTypeStart, model.Command{
		Action: model.ActionStartGeneration,
	}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessStart_BadPayload(t *testing.T) {
	h := &stubHandler{}
	w := NewGenerationWorker(h, logger.Discard())

	err := w.ProcessStart(context.Background(), asynq.NewTask(command.TaskTypeStart, []byte(`{`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = w.ProcessStart(context.Background(), task(t, command.TaskTypeStart, model.Command{Action: model.ActionReset}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, h.starts)
}

func TestProcessReset_StoreFailureIsReturned(t *testing.T) {
	storeErr := errors.New("redis down")
	w := NewGenerationWorker(&stubHandler{resetErr: storeErr}, logger.Discard())

	err := w.ProcessReset(context.Background(), task(t, command.TaskTypeReset, model.Command{Action: model.ActionReset}))
	assert.ErrorIs(t, err, storeErr)
}

func TestRegister(t *testing.T) {
	h := &stubHandler{}
	w := NewGenerationWorker(h, logger.Discard())
	mux := asynq.NewServeMux()
	w.Register(mux)

	err := mux.ProcessTask(context.Background(), task(t, command.TaskTypeReset, model.Command{Action: model.ActionReset}))
	require.NoError(t, err)
	assert.Equal(t, 1, h.resets)
}
