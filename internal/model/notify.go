package model

import "time"

// Badge is the short status indicator shown next to the UI entry point
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
}

// Badge values for each lifecycle phase
var (
	BadgeClear   = Badge{}
	BadgeRunning = Badge{Text: "...", Color: "#6366f1"}
	BadgeDone    = Badge{Text: "DONE", Color: "#22c55e"}
	BadgeError   = Badge{Text: "ERR", Color: "#ef4444"}
)

// Notification is the user-facing message fired when a post is ready
type Notification struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}
