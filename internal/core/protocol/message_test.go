package protocol

import (
	"errors"
	"testing"

	"github.com/trailsync/trailsync/internal/core/command"
)

func TestCommandEnvelopeRoundTrip(t *testing.T) {
	codec := JSONCodec{}
	in := command.Command{
		Type:      command.FirstDomainType + 3,
		Issuer:    7,
		Seq:       42,
		Frame:     120,
		Tentative: true,
		Payload:   []byte{1, 2, 3},
	}

	env := CommandEnvelope(in)
	if env.Kind != KindCommand {
		t.Fatalf("kind = %v, want %v", env.Kind, KindCommand)
	}
	data, err := codec.Encode(env)
	if err != nil {
		t.Fatal(err)
	}
	ReleaseEnvelope(env)

	out, err := codec.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseEnvelope(out)

	got, err := DecodeCommand(out)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(in) || got.Seq != in.Seq || got.Tentative != in.Tentative {
		t.Fatalf("command changed in transit: %+v != %+v", got, in)
	}
}

func TestStructuralCommandsGetOwnKind(t *testing.T) {
	env := CommandEnvelope(command.Command{Type: command.TypeEntityAdd, Frame: 5})
	defer ReleaseEnvelope(env)
	if env.Kind != KindStructuralChange {
		t.Fatalf("kind = %v, want %v", env.Kind, KindStructuralChange)
	}
}

func TestSynchronizeRoundTrip(t *testing.T) {
	env, err := SynchronizeEnvelope(0.85)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseEnvelope(env)

	s, err := DecodeSynchronize(env)
	if err != nil {
		t.Fatal(err)
	}
	if s.Speed != 0.85 {
		t.Fatalf("speed = %v, want 0.85", s.Speed)
	}
}

func TestHashCheckRoundTrip(t *testing.T) {
	env, err := HashCheckEnvelope(90, 0xdeadbeefcafe)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseEnvelope(env)

	h, err := DecodeHashCheck(env)
	if err != nil {
		t.Fatal(err)
	}
	if h.Frame != 90 || h.Digest != 0xdeadbeefcafe {
		t.Fatalf("hash check changed in transit: %+v", h)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	codec := JSONCodec{}
	cases := map[string][]byte{
		"not json":     []byte("{{"),
		"unknown kind": []byte(`{"kind":200}`),
		"zero kind":    []byte(`{"kind":0}`),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := codec.Decode(data); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDecodeKindMismatch(t *testing.T) {
	env := SnapshotRequestEnvelope()
	defer ReleaseEnvelope(env)

	if _, err := DecodeCommand(env); !errors.Is(err, ErrUnexpectedKind) {
		t.Fatalf("got %v, want ErrUnexpectedKind", err)
	}
	if _, err := DecodeHashCheck(env); !errors.Is(err, ErrUnexpectedKind) {
		t.Fatalf("got %v, want ErrUnexpectedKind", err)
	}
}

func TestSnapshotResponseCarriesPayload(t *testing.T) {
	codec := JSONCodec{}
	env := SnapshotResponseEnvelope(77, []byte{9, 8, 7})
	data, err := codec.Encode(env)
	if err != nil {
		t.Fatal(err)
	}
	ReleaseEnvelope(env)

	out, err := codec.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseEnvelope(out)
	if out.Kind != KindSnapshotResponse || out.Frame != 77 || len(out.Payload) != 3 {
		t.Fatalf("snapshot envelope changed in transit: %+v", out)
	}
}
