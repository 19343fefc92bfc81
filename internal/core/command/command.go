package command

import (
	"bytes"

	"github.com/trailsync/trailsync/pkg/encoding"
)

// Frame is one discrete simulation step, the unit of logical time.
type Frame int64

// Type tags the kind of a command. Values below FirstDomainType are
// reserved for the engine's structural changes; domains start at
// FirstDomainType.
type Type uint16

const (
	// TypeEntityAdd carries a serialized entity to insert at the target
	// frame. The payload is entity.Encode output.
	TypeEntityAdd Type = 1
	// TypeEntityRemove carries the uvarint id of the entity to remove.
	TypeEntityRemove Type = 2

	// FirstDomainType is the lowest Type value available to domains.
	FirstDomainType Type = 16
)

// ParticipantID identifies the issuing participant. The server is 0;
// clients get small dense ids at join time. It doubles as the canonical
// tiebreak for same-frame ordering, so it must be replicated consistently.
type ParticipantID uint16

// ServerParticipant issues authoritative structural and administrative
// commands.
const ServerParticipant ParticipantID = 0

// Command is one deferred mutation targeting a simulation frame.
//
// Seq is the per-issuer sequence number; together with Issuer it fixes the
// canonical application order for commands landing on the same frame. It is
// assigned once by the issuer and echoed unchanged by the server, so the
// tentative and authoritative copies of one logical command share it. Seq
// does not participate in the equality rule.
type Command struct {
	Type      Type
	Issuer    ParticipantID
	Seq       uint32
	Frame     Frame
	Tentative bool
	Payload   []byte
}

// Equal reports whether two commands are the same logical command: same
// type, issuer, frame and payload. The tentative flag is deliberately
// ignored so a speculative command matches its later confirmation.
func (c Command) Equal(o Command) bool {
	return c.Type == o.Type &&
		c.Issuer == o.Issuer &&
		c.Frame == o.Frame &&
		bytes.Equal(c.Payload, o.Payload)
}

// Before reports whether c canonically precedes o within one frame.
func (c Command) Before(o Command) bool {
	if c.Issuer != o.Issuer {
		return c.Issuer < o.Issuer
	}
	return c.Seq < o.Seq
}

// Clone returns a copy with its own payload buffer.
func (c Command) Clone() Command {
	if c.Payload != nil {
		p := make([]byte, len(c.Payload))
		copy(p, c.Payload)
		c.Payload = p
	}
	return c
}

// EncodeTo writes the command in canonical binary form.
func (c Command) EncodeTo(w *encoding.Writer) {
	w.WriteUint16(uint16(c.Type))
	w.WriteUint16(uint16(c.Issuer))
	w.WriteUint32(c.Seq)
	w.WriteVarint(int64(c.Frame))
	w.WriteBool(c.Tentative)
	w.WriteBytes(c.Payload)
}

// DecodeFrom reads a command written by EncodeTo.
func (c *Command) DecodeFrom(r *encoding.Reader) error {
	t, err := r.ReadUint16()
	if err != nil {
		return err
	}
	issuer, err := r.ReadUint16()
	if err != nil {
		return err
	}
	seq, err := r.ReadUint32()
	if err != nil {
		return err
	}
	frame, err := r.ReadVarint()
	if err != nil {
		return err
	}
	tentative, err := r.ReadBool()
	if err != nil {
		return err
	}
	payload, err := r.ReadBytes()
	if err != nil {
		return err
	}
	if len(payload) == 0 {
		payload = nil
	}
	c.Type = Type(t)
	c.Issuer = ParticipantID(issuer)
	c.Seq = seq
	c.Frame = Frame(frame)
	c.Tentative = tentative
	c.Payload = payload
	return nil
}
