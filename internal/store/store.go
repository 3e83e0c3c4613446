// Package store holds the durable single-slot record of the generation job.
//
// The orchestrator is the only writer. Any number of readers, in any process
// sharing the backend, may read the record and subscribe to its changes.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/tubepost/api/internal/model"
)

// ErrInvalidRecord is returned when a write would persist a record that
// breaks the JobState invariants.
var ErrInvalidRecord = errors.New("invalid job state record")

// Listener receives every record written after it subscribed, in write order.
// A store may redeliver the current record after a reconnect; revisions
// identify the repeat.
type Listener func(model.JobState)

// Unsubscribe stops delivery to a listener. It is safe to call more than once,
// but not from inside the listener itself.
type Unsubscribe func()

// Store persists the job record and fans out change notifications
type Store interface {
	// Write atomically replaces the record. The store assigns the revision.
	Write(ctx context.Context, state model.JobState) error
	// Read returns the last written record, or the idle record if none exists.
	Read(ctx context.Context) (model.JobState, error)
	// Subscribe registers fn for writes from any process. Delivery has started
	// by the time Subscribe returns.
	Subscribe(ctx context.Context, fn Listener) (Unsubscribe, error)
}

func validate(state model.JobState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}
