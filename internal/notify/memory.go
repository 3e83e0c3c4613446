package notify

import (
	"context"
	"sync"

	"github.com/tubepost/api/internal/model"
)

type watchers[T any] struct {
	mu     sync.Mutex
	fns    map[int]func(T)
	nextID int
}

func (w *watchers[T]) add(fn func(T)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func(T))
	}
	id := w.nextID
	w.nextID++
	w.fns[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.fns, id)
		w.mu.Unlock()
	}
}

func (w *watchers[T]) emit(v T) {
	w.mu.Lock()
	fns := make([]func(T), 0, len(w.fns))
	for id := 0; id < w.nextID; id++ {
		if fn, ok := w.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// MemoryIndicator holds the badge in process memory (standalone mode)
type MemoryIndicator struct {
	mu       sync.RWMutex
	badge    model.Badge
	watchers watchers[model.Badge]
}

func NewMemoryIndicator() *MemoryIndicator {
	return &MemoryIndicator{}
}

func (i *MemoryIndicator) SetBadge(ctx context.Context, badge model.Badge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	i.badge = badge
	i.mu.Unlock()
	i.watchers.emit(badge)
	return nil
}

func (i *MemoryIndicator) Badge(ctx context.Context) (model.Badge, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.badge, nil
}

func (i *MemoryIndicator) Watch(ctx context.Context, fn func(model.Badge)) (func(), error) {
	return i.watchers.add(fn), nil
}

// MemoryNotifier keeps recent notifications in process memory (standalone mode)
type MemoryNotifier struct {
	mu       sync.RWMutex
	history  int64
	recent   []model.Notification
	watchers watchers[model.Notification]
}

func NewMemoryNotifier(history int64) *MemoryNotifier {
	if history <= 0 {
		history = 20
	}
	return &MemoryNotifier{history: history}
}

func (n *MemoryNotifier) Notify(ctx context.Context, notification model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	n.recent = append([]model.Notification{notification}, n.recent...)
	if int64(len(n.recent)) > n.history {
		n.recent = n.recent[:n.history]
	}
	n.mu.Unlock()
	n.watchers.emit(notification)
	return nil
}

func (n *MemoryNotifier) Recent(ctx context.Context, limit int64) ([]model.Notification, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if limit <= 0 || limit > int64(len(n.recent)) {
		limit = int64(len(n.recent))
	}
	out := make([]model.Notification, limit)
	copy(out, n.recent[:limit])
	return out, nil
}

func (n *MemoryNotifier) Watch(ctx context.Context, fn func(model.Notification)) (func(), error) {
	return n.watchers.add(fn), nil
}
