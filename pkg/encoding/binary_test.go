package encoding

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteUvarint(300)
	w.WriteVarint(-42)
	w.WriteUint64(1<<63 + 7)
	w.WriteUint32(0xdeadbeef)
	w.WriteUint16(65535)
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteFloat64(2.5)
	w.WriteBytes([]byte{1, 2, 3})
	w.WriteString("transform")

	r := NewReader(w.Bytes())

	if v, err := r.ReadUvarint(); err != nil || v != 300 {
		t.Fatalf("ReadUvarint = %d, %v", v, err)
	}
	if v, err := r.ReadVarint(); err != nil || v != -42 {
		t.Fatalf("ReadVarint = %d, %v", v, err)
	}
	if v, err := r.ReadUint64(); err != nil || v != 1<<63+7 {
		t.Fatalf("ReadUint64 = %d, %v", v, err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 0xdeadbeef {
		t.Fatalf("ReadUint32 = %d, %v", v, err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 65535 {
		t.Fatalf("ReadUint16 = %d, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || !v {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	if v, err := r.ReadFloat64(); err != nil || v != 2.5 {
		t.Fatalf("ReadFloat64 = %v, %v", v, err)
	}
	if b, err := r.ReadBytes(); err != nil || !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Fatalf("ReadBytes = %v, %v", b, err)
	}
	if s, err := r.ReadString(); err != nil || s != "transform" {
		t.Fatalf("ReadString = %q, %v", s, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected empty reader, %d bytes left", r.Remaining())
	}
}

func TestReaderTruncated(t *testing.T) {
	w := NewWriter()
	w.WriteUint64(99)
	data := w.Bytes()

	r := NewReader(data[:4])
	if _, err := r.ReadUint64(); !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("expected ErrShortBuffer, got %v", err)
	}
}

func TestReaderBytesLengthOverrun(t *testing.T) {
	w := NewWriter()
	w.WriteUvarint(1 << 20) // claims a megabyte that is not there

	r := NewReader(w.Bytes())
	if _, err := r.ReadBytes(); !errors.Is(err, ErrValueTooLong) {
		t.Fatalf("expected ErrValueTooLong, got %v", err)
	}
}

func TestWriterDeterministic(t *testing.T) {
	build := func() []byte {
		w := NewWriter()
		w.WriteVarint(-1234)
		w.WriteString("entity")
		w.WriteUvarint(77)
		return w.Bytes()
	}
	if !bytes.Equal(build(), build()) {
		t.Fatal("identical writes produced different bytes")
	}
}
