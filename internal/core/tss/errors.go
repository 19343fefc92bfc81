package tss

import (
	"errors"
	"fmt"

	"github.com/trailsync/trailsync/internal/core/command"
)

// Synchronizer errors
var (
	ErrInvalidDelays = errors.New("invalid trailing delays")

	// ErrRollbackDepthExceeded is matched by errors.Is when a command
	// targets a frame older than the most-delayed state retains.
	ErrRollbackDepthExceeded = errors.New("rollback depth exceeded")

	// ErrWaitingForSynchronization rejects speculative work while a
	// snapshot resync is pending; simulating on stale data would only
	// deepen the divergence.
	ErrWaitingForSynchronization = errors.New("waiting for synchronization")
)

// RollbackDepthError reports a push that the retained history cannot
// represent. Recovery is a full snapshot resync, signaled separately
// through the threshold observers.
type RollbackDepthError struct {
	Frame   command.Frame // requested target frame
	Horizon command.Frame // current frame of the most-delayed state
}

func (e *RollbackDepthError) Error() string {
	return fmt.Sprintf("rollback depth exceeded: frame %d behind confirmed frame %d", e.Frame, e.Horizon)
}

func (e *RollbackDepthError) Is(target error) bool { return target == ErrRollbackDepthExceeded }
