package store

import (
	"context"
	"sync"

	"github.com/tubepost/api/internal/model"
)

// MemoryStore keeps the record in process memory. It backs standalone mode,
// where the server runs the orchestrator itself and no Redis is available.
//
// Listeners run synchronously on the writer's goroutine, one write at a time,
// so every listener sees the same sequence. A listener must not call Write.
type MemoryStore struct {
	mu        sync.RWMutex
	state     model.JobState
	written   bool
	listeners map[int]Listener
	nextID    int

	// serializes delivery so that listeners never see writes interleaved
	deliverMu sync.Mutex
}

// NewMemoryStore creates an empty store that reads as idle
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listeners: make(map[int]Listener),
	}
}

func (s *MemoryStore) Write(ctx context.Context, state model.JobState) error {
	if err := validate(state); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	state.Revision = s.state.Revision + 1
	s.state = state
	s.written = true
	listeners := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
	return nil
}

func (s *MemoryStore) Read(ctx context.Context) (model.JobState, error) {
	if err := ctx.Err(); err != nil {
		return model.JobState{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.written {
		return model.IdleState(), nil
	}
	return s.state, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, fn Listener) (Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}, nil
}

// Listeners reports how many subscriptions are active
func (s *MemoryStore) Listeners() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}
