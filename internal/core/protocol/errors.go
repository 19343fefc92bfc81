package protocol

import "errors"

// Wire protocol errors
var (
	// Envelope errors

	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrUnknownKind     = errors.New("unknown envelope kind")
	ErrUnexpectedKind  = errors.New("unexpected envelope kind")
	ErrEnvelopeTooBig  = errors.New("envelope exceeds size limit")

	// Connection errors

	ErrConnectionClosed  = errors.New("connection is closed")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrWriteQueueFull    = errors.New("write queue is full")

	// Transport errors

	ErrListenFailed = errors.New("listen failed")
	ErrDialFailed   = errors.New("dial failed")
)
