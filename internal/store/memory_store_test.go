package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tubepost/api/internal/model"
)

func TestMemoryStore_ReadDefaultsToIdle(t *testing.T) {
	s := NewMemoryStore()
	state, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.IdleState(), state)
}

func TestMemoryStore_WriteAssignsRevisions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	running := model.RunningState("job-1", "u", time.Now())
	require.NoError(t, s.Write(ctx, running))
	require.NoError(t, s.Write(ctx, running.Fail("boom", time.Now())))

	state, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, state.Status)
	assert.Equal(t, int64(2), state.Revision)
}

func TestMemoryStore_RejectsInvalidRecord(t *testing.T) {
	s := NewMemoryStore()
	err := s.Write(context.Background(), model.JobState{Status: model.JobStatusComplete})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	state, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusIdle, state.Status)
}

func TestMemoryStore_SubscribersSeeSameSequence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var first, second []model.JobStatus
	unsubA, err := s.Subscribe(ctx, func(st model.JobState) { first = append(first, st.Status) })
	require.NoError(t, err)
	unsubB, err := s.Subscribe(ctx, func(st model.JobState) { second = append(second, st.Status) })
	require.NoError(t, err)
	assert.Equal(t, 2, s.Listeners())

	running := model.RunningState("job-1", "u", time.Now())
	require.NoError(t, s.Write(ctx, running))
	require.NoError(t, s.Write(ctx, running.Complete(model.Artifact{Title: "T", ContentHTML: "x"}, time.Now())))

	want := []model.JobStatus{model.JobStatusRunning, model.JobStatusComplete}
	assert.Equal(t, want, first)
	assert.Equal(t, want, second)

	unsubA()
	unsubA()
	require.NoError(t, s.Write(ctx, model.IdleState()))
	assert.Len(t, first, 2, "no delivery after unsubscribe")
	assert.Len(t, second, 3)

	unsubB()
	assert.Equal(t, 0, s.Listeners())
}

func TestMemoryStore_ListenerMayRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var seen model.JobState
	unsub, err := s.Subscribe(ctx, func(model.JobState) {
		seen, _ = s.Read(ctx)
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, s.Write(ctx, model.RunningState("job-1", "u", time.Now())))
	assert.Equal(t, model.JobStatusRunning, seen.Status)
}
