package motion

import (
	"github.com/pkg/errors"

	"github.com/trailsync/trailsync/internal/core/command"
	"github.com/trailsync/trailsync/internal/core/entity"
	"github.com/trailsync/trailsync/internal/core/state"
	"github.com/trailsync/trailsync/pkg/encoding"
)

// Domain command types.
const (
	// CommandMove sets an entity's velocity.
	CommandMove = command.FirstDomainType
	// CommandTeleport sets an entity's position, zeroing velocity.
	CommandTeleport = command.FirstDomainType + 1
)

// ErrNoTransform reports a motion command addressed to an entity without a
// Transform component.
var ErrNoTransform = errors.New("entity has no transform")

// Move builds a velocity-change command in fixed-point ticks per frame.
func Move(issuer command.ParticipantID, seq uint32, frame command.Frame, id entity.ID, vx, vy int64, tentative bool) command.Command {
	w := encoding.NewWriter()
	w.WriteUvarint(uint64(id))
	w.WriteVarint(vx)
	w.WriteVarint(vy)
	return command.Command{
		Type:      CommandMove,
		Issuer:    issuer,
		Seq:       seq,
		Frame:     frame,
		Tentative: tentative,
		Payload:   w.Bytes(),
	}
}

// Teleport builds a position-set command in fixed-point ticks.
func Teleport(issuer command.ParticipantID, seq uint32, frame command.Frame, id entity.ID, x, y int64) command.Command {
	w := encoding.NewWriter()
	w.WriteUvarint(uint64(id))
	w.WriteVarint(x)
	w.WriteVarint(y)
	return command.Command{
		Type:    CommandTeleport,
		Issuer:  issuer,
		Seq:     seq,
		Frame:   frame,
		Payload: w.Bytes(),
	}
}

// Dispatch is the domain's command handler, usable directly as the
// state.Handler. A command addressed to a despawned entity is a no-op:
// the entity may legitimately have been removed by an earlier command on
// the same timeline.
func Dispatch(st *state.State, c command.Command) error {
	switch c.Type {
	case CommandMove, CommandTeleport:
	default:
		return state.ErrUnknownCommand
	}

	r := encoding.NewReader(c.Payload)
	raw, err := r.ReadUvarint()
	if err != nil {
		return err
	}
	a, err := r.ReadVarint()
	if err != nil {
		return err
	}
	b, err := r.ReadVarint()
	if err != nil {
		return err
	}

	e, ok := st.Store().Get(entity.ID(raw))
	if !ok {
		return nil
	}
	comp, ok := e.Component(TransformType)
	if !ok {
		return errors.Wrapf(ErrNoTransform, "entity %d", raw)
	}
	tr := comp.(*Transform)

	switch c.Type {
	case CommandMove:
		tr.VX, tr.VY = a, b
	case CommandTeleport:
		tr.X, tr.Y = a, b
		tr.VX, tr.VY = 0, 0
	}
	return nil
}
