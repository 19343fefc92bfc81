package server

import "errors"

// Server lifecycle and session errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrMaxSessionsReached   = errors.New("maximum sessions reached")
	ErrSessionNotFound      = errors.New("session not found")
)
