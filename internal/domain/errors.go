package domain

import "errors"

var (
	// ErrNotConnected the session is not in the connected state
	ErrNotConnected = errors.New("whatsapp session is not connected")
	// ErrTerminalLogout the linked device was logged out and needs re-pairing
	ErrTerminalLogout = errors.New("whatsapp session logged out")
	// ErrInvalidRequest missing or malformed input
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTransportFailure the transport rejected the send or did not answer in time
	ErrTransportFailure = errors.New("whatsapp transport failure")
	// ErrPersistenceFailure a store write failed
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrQueueClosed the send queue is shutting down
	ErrQueueClosed = errors.New("send queue closed")
)
