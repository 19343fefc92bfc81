package state

import (
	"errors"
	"fmt"
)

// ErrSnapshotCorrupt is the sentinel matched by errors.Is when snapshot
// deserialization fails structurally.
var ErrSnapshotCorrupt = errors.New("snapshot corrupt")

// ErrUnknownCommand reports a command type with no registered handler path.
var ErrUnknownCommand = errors.New("unknown command type")

// SnapshotCorruptError wraps the structural decode failure. The resync
// attempt is dead; the caller retries the snapshot request, not the decode.
type SnapshotCorruptError struct {
	Cause error
}

func (e *SnapshotCorruptError) Error() string {
	return fmt.Sprintf("snapshot corrupt: %v", e.Cause)
}

func (e *SnapshotCorruptError) Unwrap() error { return e.Cause }

func (e *SnapshotCorruptError) Is(target error) bool { return target == ErrSnapshotCorrupt }
