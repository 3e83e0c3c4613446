package model

// Command actions accepted by the orchestrator
const (
	ActionStartGeneration = "START_GENERATION"
	ActionReset           = "RESET"
)

// Command is the fire-and-forget message a UI sends to the orchestrator
type Command struct {
	Action string `json:"action"`
	URL    string `json:"url,omitempty"`
}

// StartGenerationRequest is the body of POST /api/generation/start
type StartGenerationRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// CommandAcceptedResponse acknowledges that a command was handed to the channel.
// It says nothing about the outcome; that arrives through the state record.
type CommandAcceptedResponse struct {
	Accepted bool   `json:"accepted"`
	Action   string `json:"action"`
	TaskID   string `json:"taskId,omitempty"`
}
