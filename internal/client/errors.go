package client

import "errors"

var (
	// ErrConnectionLost is returned by every pending and later operation
	// once the agent connection has failed or been closed.
	ErrConnectionLost = errors.New("client: connection lost")
	// ErrContextRegistered is returned when destroying a request context
	// that is still waiting for frames.
	ErrContextRegistered = errors.New("client: request context still registered")
	ErrNotStarted        = errors.New("client: dispatch loop not started")
	ErrAlreadyStarted    = errors.New("client: dispatch loop already started")
)
