package chatlink

import "errors"

// Domain-specific errors for chat link operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTransportUninitialized is returned when the link has no transport or
	// a command arrives before Start.
	ErrTransportUninitialized = errors.New("chatlink: transport not initialised")

	// ErrAlreadyInProgress is returned by Connect while a connection attempt is running.
	ErrAlreadyInProgress = errors.New("chatlink: connection already in progress")

	// ErrTimeout wraps transport operations that exceeded their bound.
	ErrTimeout = errors.New("chatlink: operation timed out")

	// ErrTransport wraps failures reported by the transport.
	ErrTransport = errors.New("chatlink: transport error")

	// ErrNotConnected is returned by Publish when the link is not connected.
	ErrNotConnected = errors.New("chatlink: not connected")

	// ErrEmptyPayload is returned by Publish for blank text.
	ErrEmptyPayload = errors.New("chatlink: message text is empty")

	// ErrDisposed is returned by every command after Dispose.
	ErrDisposed = errors.New("chatlink: link disposed")

	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("chatlink: invalid options")
)
