package command

import (
	"errors"
	"fmt"
)

// ErrPastFrame is the sentinel matched by errors.Is for pushes that target
// a frame the state has already simulated.
var ErrPastFrame = errors.New("invalid command frame")

// PastFrameError reports a push whose target frame is at or before the
// state's current frame. It is a programmer/contract error on the
// non-rollback push path and is never retried.
type PastFrameError struct {
	Frame   Frame
	Current Frame
}

func (e *PastFrameError) Error() string {
	return fmt.Sprintf("invalid command frame %d: state already at frame %d", e.Frame, e.Current)
}

func (e *PastFrameError) Is(target error) bool { return target == ErrPastFrame }
