package bridge

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for a call.
	ErrSessionNotFound = errors.New("bridge: session not found")

	// ErrQueueOverflow is returned by Ingest under the reject_new policy
	// when the session queue is full. The rejected block is dropped.
	ErrQueueOverflow = errors.New("bridge: session queue full")

	// ErrEndpointAttached is returned when the same side of a call attaches
	// twice.
	ErrEndpointAttached = errors.New("bridge: endpoint already attached")

	// ErrSessionClosed is returned for operations on a session that is
	// draining or closed, and for attachments during shutdown.
	ErrSessionClosed = errors.New("bridge: session closed")

	// ErrTooManySessions is returned when max_sessions is reached.
	ErrTooManySessions = errors.New("bridge: too many sessions")
)
