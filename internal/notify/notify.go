// Package notify carries the orchestrator's side effects: the badge shown on
// the UI entry point and the notification fired when a post is ready.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tubepost/api/internal/model"
)

// Notification text
const (
	NotificationTitle    = "Blog Post Ready!"
	NotificationPriority = 2
)

// Indicator sets the badge
type Indicator interface {
	SetBadge(ctx context.Context, badge model.Badge) error
}

// Notifier delivers a user-facing notification
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// BadgeFeed is an Indicator whose current value can be read and watched
type BadgeFeed interface {
	Indicator
	Badge(ctx context.Context) (model.Badge, error)
	Watch(ctx context.Context, fn func(model.Badge)) (func(), error)
}

// NotificationFeed is a Notifier that keeps recent notifications and can be watched
type NotificationFeed interface {
	Notifier
	Recent(ctx context.Context, limit int64) ([]model.Notification, error)
	Watch(ctx context.Context, fn func(model.Notification)) (func(), error)
}

// GenerationReady builds the notification for a finished post
func GenerationReady(jobID, title string, at time.Time) model.Notification {
	return model.Notification{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Title:     NotificationTitle,
		Message:   fmt.Sprintf("\"%s\" has been generated. Click to view.", title),
		Priority:  NotificationPriority,
		CreatedAt: at,
	}
}
