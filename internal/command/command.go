// Package command carries fire-and-forget commands from a UI to the
// orchestrator. A sender never learns the outcome of a command; the outcome
// shows up in the state store.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tubepost/api/internal/model"
)

// Task types and queue used on the asynq channel
const (
	TaskTypeStart = "generation:start"
	TaskTypeReset = "generation:reset"
	Queue         = "generation"
)

var (
	ErrUnknownAction  = errors.New("unknown command action")
	ErrInvalidPayload = errors.New("invalid command payload")
)

// Sender delivers commands to the orchestrator. The returned ID identifies the
// queued command for logs only.
type Sender interface {
	StartGeneration(ctx context.Context, url string) (string, error)
	Reset(ctx context.Context) (string, error)
}

// Handler is the orchestrator side of the channel
type Handler interface {
	StartGeneration(ctx context.Context, url string) error
	Reset(ctx context.Context) error
}

// Dispatch runs cmd against h
func Dispatch(ctx context.Context, h Handler, cmd model.Command) error {
	switch cmd.Action {
	case model.ActionStartGeneration:
		return h.StartGeneration(ctx, cmd.URL)
	case model.ActionReset:
		return h.Reset(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
}

// Encode serializes a command as a task payload
func Encode(cmd model.Command) ([]byte, error) {
	switch cmd.Action {
	case model.ActionStartGeneration, model.ActionReset:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	return data, nil
}

// Decode parses a task payload and checks it carries the expected action
func Decode(payload []byte, action string) (model.Command, error) {
	var cmd model.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return model.Command{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if cmd.Action != action {
		return model.Command{}, fmt.Errorf("%w: got action %q, want %q", ErrInvalidPayload, cmd.Action, action)
	}
	return cmd, nil
}
