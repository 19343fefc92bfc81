package encoding

// Serializable is the contract for values that round-trip through the
// canonical binary form produced by Writer and consumed by Reader.
type Serializable[T any] interface {
	Serialize() ([]byte, error)
	Deserialize([]byte) error
}

// BinaryValue is implemented by values that encode themselves into an
// existing Writer, so aggregates can be folded into one buffer.
type BinaryValue interface {
	EncodeTo(w *Writer)
	DecodeFrom(r *Reader) error
}
