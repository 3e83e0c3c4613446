package notify

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

// RedisIndicator stores the badge in Redis and announces changes
type RedisIndicator struct {
	redis   *redis.Client
	key     string
	channel string
	log     *logrus.Entry
}

func NewRedisIndicator(redisClient *redis.Client, keyPrefix string, log logrus.FieldLogger) *RedisIndicator {
	return &RedisIndicator{
		redis:   redisClient,
		key:     keyPrefix + "badge",
		channel: keyPrefix + "badge:changes",
		log:     logger.Component(log, "indicator"),
	}
}

func (i *RedisIndicator) SetBadge(ctx context.Context, badge model.Badge) error {
	data, err := json.Marshal(badge)
	if err != nil {
		return fmt.Errorf("failed to marshal badge: %w", err)
	}
	_, err = i.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, i.key, data, 0)
		pipe.Publish(ctx, i.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set badge: %w", err)
	}
	return nil
}

func (i *RedisIndicator) Badge(ctx context.Context) (model.Badge, error) {
	data, err := i.redis.Get(ctx, i.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return model.BadgeClear, nil
		}
		return model.Badge{}, fmt.Errorf("failed to read badge: %w", err)
	}
	var badge model.Badge
	if err := json.Unmarshal(data, &badge); err != nil {
		return model.Badge{}, fmt.Errorf("failed to unmarshal badge: %w", err)
	}
	return badge, nil
}

// Watch delivers badge changes. After a reconnect the current badge is
// delivered again, since changes published during the gap are lost.
func (i *RedisIndicator) Watch(ctx context.Context, fn func(model.Badge)) (func(), error) {
	resync := func(ctx context.Context) error {
		badge, err := i.Badge(ctx)
		if err != nil {
			return err
		}
		fn(badge)
		return nil
	}
	return watch(ctx, i.redis, i.channel, i.log, resync, func(payload []byte) error {
		var badge model.Badge
		if err := json.Unmarshal(payload, &badge); err != nil {
			return err
		}
		fn(badge)
		return nil
	})
}

// RedisNotifier keeps a capped list of recent notifications and publishes new ones
type RedisNotifier struct {
	redis   *redis.Client
	key     string
	channel string
	history int64
	log     *logrus.Entry
}

func NewRedisNotifier(redisClient *redis.Client, keyPrefix string, history int64, log logrus.FieldLogger) *RedisNotifier {
	if history <= 0 {
		history = 20
	}
	return &RedisNotifier{
		redis:   redisClient,
		key:     keyPrefix + "notifications",
		channel: keyPrefix + "notifications:new",
		history: history,
		log:     logger.Component(log, "notifier"),
	}
}

func (n *RedisNotifier) Notify(ctx context.Context, notification model.Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	_, err = n.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, n.key, data)
		pipe.LTrim(ctx, n.key, 0, n.history-1)
		pipe.Publish(ctx, n.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Recent returns up to limit notifications, newest first
func (n *RedisNotifier) Recent(ctx context.Context, limit int64) ([]model.Notification, error) {
	if limit <= 0 || limit > n.history {
		limit = n.history
	}
	items, err := n.redis.LRange(ctx, n.key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notifications: %w", err)
	}
	out := make([]model.Notification, 0, len(items))
	for _, item := range items {
		var notification model.Notification
		if err := json.Unmarshal([]byte(item), &notification); err != nil {
			n.log.WithError(err).Warn("skipping undecodable notification")
			continue
		}
		out = append(out, notification)
	}
	return out, nil
}

// Watch delivers new notifications. After a reconnect, notifications
// published during the gap are replayed from the history list, oldest first.
func (n *RedisNotifier) Watch(ctx context.Context, fn func(model.Notification)) (func(), error) {
	// only touched on the watch goroutine once it starts
	var lastID string
	if recent, err := n.Recent(ctx, 1); err == nil && len(recent) > 0 {
		lastID = recent[0].ID
	}

	resync := func(ctx context.Context) error {
		recent, err := n.Recent(ctx, n.history)
		if err != nil {
			return err
		}
		missed := recent
		for i, item := range recent {
			if item.ID == lastID {
				missed = recent[:i]
				break
			}
		}
		for i := len(missed) - 1; i >= 0; i-- {
			lastID = missed[i].ID
			fn(missed[i])
		}
		return nil
	}
	return watch(ctx, n.redis, n.channel, n.log, resync, func(payload []byte) error {
		var notification model.Notification
		if err := json.Unmarshal(payload, &notification); err != nil {
			return err
		}
		lastID = notification.ID
		fn(notification)
		return nil
	})
}

const resyncTimeout = 5 * time.Second

// watch runs handle for every message on channel, and resync each time
// go-redis resubscribes after a dropped connection.
func watch(ctx context.Context, rdb *redis.Client, channel string, log *logrus.Entry, resync func(context.Context) error, handle func([]byte) error) (func(), error) {
	pubsub := rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.ChannelWithSubscriptions() {
			switch m := msg.(type) {
			case *redis.Subscription:
				if m.Kind != "subscribe" {
					continue
				}
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resyncTimeout)
				if err := resync(rctx); err != nil {
					log.WithError(err).WithField("channel", channel).Warn("failed to resync after resubscribe")
				}
				cancel()
			case *redis.Message:
				if err := handle([]byte(m.Payload)); err != nil {
					log.WithError(err).WithField("channel", channel).Warn("dropping undecodable message")
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			pubsub.Close()
			<-done
		})
	}, nil
}
