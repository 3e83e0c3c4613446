package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tubepost/api/internal/logger"
	"github.com/tubepost/api/internal/model"
)

const resyncTimeout = 5 * time.Second

// RedisStore keeps the record as one JSON value and announces every write on
// a Pub/Sub channel carrying the full record.
type RedisStore struct {
	redis   *redis.Client
	key     string
	channel string
	log     *logrus.Entry

	// writer-side revision counter; valid because there is a single writer
	mu       sync.Mutex
	revision int64
	loaded   bool
}

// NewRedisStore creates a store under the given key prefix (e.g. "tubepost:")
func NewRedisStore(redisClient *redis.Client, keyPrefix string, log logrus.FieldLogger) *RedisStore {
	return &RedisStore{
		redis:   redisClient,
		key:     keyPrefix + "generation:state",
		channel: keyPrefix + "generation:changes",
		log:     logger.Component(log, "state-store"),
	}
}

// Write replaces the record and publishes it in one MULTI/EXEC transaction,
// so readers never see a record that was not announced or vice versa.
func (s *RedisStore) Write(ctx context.Context, state model.JobState) error {
	if err := validate(state); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		current, err := s.Read(ctx)
		if err != nil {
			return fmt.Errorf("failed to load revision: %w", err)
		}
		s.revision = current.Revision
		s.loaded = true
	}

	state.Revision = s.revision + 1
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key, data, 0)
		pipe.Publish(ctx, s.channel, data)
		return nil
	})
	if err != nil {
		// the transaction may or may not have applied; reload before the next write
		s.loaded = false
		return fmt.Errorf("failed to write state: %w", err)
	}

	s.revision = state.Revision
	s.log.WithFields(logrus.Fields{
		"status":   state.Status,
		"job_id":   state.JobID,
		"revision": state.Revision,
	}).Debug("state written")
	return nil
}

func (s *RedisStore) Read(ctx context.Context) (model.JobState, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return model.IdleState(), nil
		}
		return model.JobState{}, fmt.Errorf("failed to read state: %w", err)
	}

	var state model.JobState
	if err := json.Unmarshal(data, &state); err != nil {
		return model.JobState{}, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return state, nil
}

// Subscribe opens a dedicated Pub/Sub connection for fn. It returns once Redis
// has confirmed the subscription, so no write after that point is missed.
//
// go-redis resubscribes on its own after a dropped connection, and anything
// published during the gap is gone. Each resubscription therefore redelivers
// the current record; listeners drop it by revision if they already have it.
func (s *RedisStore) Subscribe(ctx context.Context, fn Listener) (Unsubscribe, error) {
	pubsub := s.redis.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to state changes: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.ChannelWithSubscriptions() {
			switch m := msg.(type) {
			case *redis.Subscription:
				if m.Kind == "subscribe" {
					s.resync(ctx, fn)
				}
			case *redis.Message:
				var state model.JobState
				if err := json.Unmarshal([]byte(m.Payload), &state); err != nil {
					s.log.WithError(err).Warn("dropping undecodable state change")
					continue
				}
				fn(state)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				s.log.WithError(err).Debug("failed to close state subscription")
			}
			<-done
		})
	}, nil
}

func (s *RedisStore) resync(ctx context.Context, fn Listener) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resyncTimeout)
	defer cancel()
	state, err := s.Read(ctx)
	if err != nil {
		s.log.WithError(err).Warn("failed to resync state after resubscribe")
		return
	}
	s.log.WithField("revision", state.Revision).Info("state subscription resumed")
	fn(state)
}
