package model

// WebSocket message types
const (
	WSMessageTypeState        = "state"
	WSMessageTypeBadge        = "badge"
	WSMessageTypeNotification = "notification"
	WSMessageTypePrefill      = "prefill"
	WSMessageTypeError        = "error"
	WSMessageTypeStart        = "start"
	WSMessageTypeReset        = "reset"
	WSMessageTypePing         = "ping"
	WSMessageTypePong         = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSClientMessage is anything a UI may send over the socket
type WSClientMessage struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

// WSStateMessage carries a full state record and the UI's current input
type WSStateMessage struct {
	Type     string   `json:"type"`
	State    JobState `json:"state"`
	InputURL string   `json:"inputUrl,omitempty"`
}

// WSBadgeMessage carries a badge change
type WSBadgeMessage struct {
	Type  string `json:"type"`
	Badge Badge  `json:"badge"`
}

// WSNotificationMessage carries a completion notification
type WSNotificationMessage struct {
	Type         string       `json:"type"`
	Notification Notification `json:"notification"`
}

// WSPrefillMessage suggests an input URL taken from the user's active page
type WSPrefillMessage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
