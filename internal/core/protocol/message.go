package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/trailsync/trailsync/internal/core/command"
	"github.com/trailsync/trailsync/pkg/encoding"
	"github.com/trailsync/trailsync/pkg/generic"
)

// Kind discriminates the envelope taxonomy carried between participants.
type Kind uint8

const (
	// KindCommand carries one simulation command targeting a frame.
	KindCommand Kind = iota + 1
	// KindSynchronize is the server's frame-rate pacing hint.
	KindSynchronize
	// KindSnapshotRequest asks a peer for a full state transfer.
	KindSnapshotRequest
	// KindSnapshotResponse carries the packetized state bytes.
	KindSnapshotResponse
	// KindStructuralChange carries an entity add/remove command.
	KindStructuralChange
	// KindHashCheck carries a confirmed-state digest for comparison.
	KindHashCheck
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindSynchronize:
		return "synchronize"
	case KindSnapshotRequest:
		return "snapshot_request"
	case KindSnapshotResponse:
		return "snapshot_response"
	case KindStructuralChange:
		return "structural_change"
	case KindHashCheck:
		return "hash_check"
	default:
		return "unknown"
	}
}

// Envelope is the unit every transport carries. Payload layout depends on
// Kind: command bytes (canonical binary) for KindCommand and
// KindStructuralChange, packetized state for KindSnapshotResponse, JSON of
// the typed bodies below for the rest.
type Envelope struct {
	Kind    Kind   `json:"kind"`
	Session string `json:"session,omitempty"`
	Frame   int64  `json:"frame,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// Synchronize tells participants the speed the shared simulation should
// run at, derived from the server's load tracking.
type Synchronize struct {
	Speed float64 `json:"speed"`
}

// HashCheck carries the digest of the sender's confirmed state at a frame.
type HashCheck struct {
	Frame  int64  `json:"frame"`
	Digest uint64 `json:"digest"`
}

// Codec translates envelopes to wire bytes and back.
type Codec interface {
	Encode(env *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

// JSONCodec is the default codec. Simple and debuggable; the payload
// bytes inside stay in their canonical binary form, so determinism never
// depends on JSON field ordering.
type JSONCodec struct{}

func (JSONCodec) Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (*Envelope, error) {
	env := AcquireEnvelope()
	if err := json.Unmarshal(data, env); err != nil {
		ReleaseEnvelope(env)
		return nil, errors.Wrap(ErrInvalidEnvelope, err.Error())
	}
	if env.Kind < KindCommand || env.Kind > KindHashCheck {
		ReleaseEnvelope(env)
		return nil, ErrUnknownKind
	}
	return env, nil
}

// envelopePool recycles envelopes on the receive path, where every inbound
// frame allocates one.
var envelopePool = generic.NewHotPool(func() *Envelope { return &Envelope{} }, 64)

// AcquireEnvelope takes a cleared envelope from the pool.
func AcquireEnvelope() *Envelope {
	return envelopePool.Get()
}

// ReleaseEnvelope resets and returns an envelope to the pool. The caller
// must not touch env or its payload afterwards.
func ReleaseEnvelope(env *Envelope) {
	*env = Envelope{}
	envelopePool.Put(env)
}

// CommandEnvelope wraps a command in its wire envelope. Structural
// commands travel as KindStructuralChange so receivers can route them
// without decoding the payload.
func CommandEnvelope(c command.Command) *Envelope {
	kind := KindCommand
	if c.Type == command.TypeEntityAdd || c.Type == command.TypeEntityRemove {
		kind = KindStructuralChange
	}
	w := encoding.NewWriter()
	c.EncodeTo(w)
	env := AcquireEnvelope()
	env.Kind = kind
	env.Frame = int64(c.Frame)
	env.Payload = w.Bytes()
	return env
}

// DecodeCommand extracts the command from a KindCommand or
// KindStructuralChange envelope.
func DecodeCommand(env *Envelope) (command.Command, error) {
	var c command.Command
	if env.Kind != KindCommand && env.Kind != KindStructuralChange {
		return c, ErrUnexpectedKind
	}
	if err := c.DecodeFrom(encoding.NewReader(env.Payload)); err != nil {
		return c, errors.Wrap(ErrInvalidEnvelope, err.Error())
	}
	return c, nil
}

// SynchronizeEnvelope builds a pacing-hint envelope.
func SynchronizeEnvelope(speed float64) (*Envelope, error) {
	payload, err := json.Marshal(Synchronize{Speed: speed})
	if err != nil {
		return nil, errors.Wrap(err, "encode synchronize")
	}
	env := AcquireEnvelope()
	env.Kind = KindSynchronize
	env.Payload = payload
	return env, nil
}

// DecodeSynchronize extracts the pacing hint.
func DecodeSynchronize(env *Envelope) (Synchronize, error) {
	var s Synchronize
	if env.Kind != KindSynchronize {
		return s, ErrUnexpectedKind
	}
	if err := json.Unmarshal(env.Payload, &s); err != nil {
		return s, errors.Wrap(ErrInvalidEnvelope, err.Error())
	}
	return s, nil
}

// HashCheckEnvelope builds a digest-comparison envelope.
func HashCheckEnvelope(frame command.Frame, digest uint64) (*Envelope, error) {
	payload, err := json.Marshal(HashCheck{Frame: int64(frame), Digest: digest})
	if err != nil {
		return nil, errors.Wrap(err, "encode hash check")
	}
	env := AcquireEnvelope()
	env.Kind = KindHashCheck
	env.Frame = int64(frame)
	env.Payload = payload
	return env, nil
}

// DecodeHashCheck extracts the digest comparison body.
func DecodeHashCheck(env *Envelope) (HashCheck, error) {
	var h HashCheck
	if env.Kind != KindHashCheck {
		return h, ErrUnexpectedKind
	}
	if err := json.Unmarshal(env.Payload, &h); err != nil {
		return h, errors.Wrap(ErrInvalidEnvelope, err.Error())
	}
	return h, nil
}

// SnapshotRequestEnvelope asks for a full state transfer.
func SnapshotRequestEnvelope() *Envelope {
	env := AcquireEnvelope()
	env.Kind = KindSnapshotRequest
	return env
}

// SnapshotResponseEnvelope carries packetized state bytes.
func SnapshotResponseEnvelope(frame command.Frame, data []byte) *Envelope {
	env := AcquireEnvelope()
	env.Kind = KindSnapshotResponse
	env.Frame = int64(frame)
	env.Payload = data
	return env
}
