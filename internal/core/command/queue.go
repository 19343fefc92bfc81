package command

import (
	"github.com/trailsync/trailsync/pkg/encoding"
	"github.com/trailsync/trailsync/pkg/sequence"
)

// Queue holds pending commands keyed by target frame. Within a frame the
// list is kept in canonical order (issuer, then per-issuer sequence), never
// arrival order, so replicas merging streams from different sources apply
// same-frame commands identically.
type Queue struct {
	pending *sequence.FrameMap[Frame, Command]
}

func NewQueue() *Queue {
	return &Queue{pending: sequence.NewFrameMap[Frame, Command]()}
}

// Push queues a command for a frame strictly after current.
//
// An equal command already queued for that frame resolves as: authoritative
// replaces tentative (confirmation wins, queue position kept), anything
// else is a no-op. Distinct commands are inserted at their canonical
// position.
func (q *Queue) Push(current Frame, c Command) error {
	if c.Frame <= current {
		return &PastFrameError{Frame: c.Frame, Current: current}
	}

	list, ok := q.pending.Get(c.Frame)
	if !ok {
		q.pending.Set(c.Frame, []Command{c})
		return nil
	}

	for i, existing := range list {
		if !existing.Equal(c) {
			continue
		}
		if existing.Tentative && !c.Tentative {
			list[i] = c
		}
		return nil
	}

	// Canonical insertion point, independent of arrival order.
	at := len(list)
	for i, existing := range list {
		if c.Before(existing) {
			at = i
			break
		}
	}
	list = append(list, Command{})
	copy(list[at+1:], list[at:])
	list[at] = c
	q.pending.Set(c.Frame, list)
	return nil
}

// Take removes and returns the commands due at frame, in canonical order.
func (q *Queue) Take(frame Frame) []Command {
	list, _ := q.pending.Delete(frame)
	return list
}

// DropThrough discards every entry at or before frame. Used when a state
// is fast-forwarded past frames it will never apply (snapshot restore).
func (q *Queue) DropThrough(frame Frame) {
	for _, f := range q.pending.Keys() {
		if f > frame {
			break
		}
		q.pending.Delete(f)
	}
}

// PendingAfter returns every queued command targeting a frame strictly
// after the given one, ordered by frame then canonically. Used to snapshot
// only commands still in the snapshot's future.
func (q *Queue) PendingAfter(frame Frame) []Command {
	var out []Command
	q.pending.Ascend(func(f Frame, list []Command) bool {
		if f > frame {
			out = append(out, list...)
		}
		return true
	})
	return out
}

// Frames returns the frames with pending commands, ascending.
func (q *Queue) Frames() []Frame { return q.pending.Keys() }

// Len reports the total number of pending commands.
func (q *Queue) Len() int {
	n := 0
	q.pending.Ascend(func(_ Frame, list []Command) bool {
		n += len(list)
		return true
	})
	return n
}

// Clone returns an independent copy; command payloads are copied too.
func (q *Queue) Clone() *Queue {
	out := NewQueue()
	q.pending.Ascend(func(f Frame, list []Command) bool {
		cp := make([]Command, len(list))
		for i, c := range list {
			cp[i] = c.Clone()
		}
		out.pending.Set(f, cp)
		return true
	})
	return out
}

// EncodeTo writes every command with frame > after, for snapshots.
func (q *Queue) EncodeTo(w *encoding.Writer, after Frame) {
	cmds := q.PendingAfter(after)
	w.WriteUvarint(uint64(len(cmds)))
	for _, c := range cmds {
		c.EncodeTo(w)
	}
}

// DecodeQueue reads commands written by EncodeTo into a fresh queue.
// current anchors the past-frame check; snapshot commands are all in the
// snapshot's future by construction.
func DecodeQueue(r *encoding.Reader, current Frame) (*Queue, error) {
	count, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	q := NewQueue()
	for i := uint64(0); i < count; i++ {
		var c Command
		if err := c.DecodeFrom(r); err != nil {
			return nil, err
		}
		if err := q.Push(current, c); err != nil {
			return nil, err
		}
	}
	return q, nil
}
