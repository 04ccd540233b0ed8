package domain

import "errors"

// Failure taxonomy. Nothing here is fatal to the relay process; every error
// is isolated to the connection or message that raised it.
var (
	// ErrNotFound: a lookup for an unregistered connection id.
	ErrNotFound = errors.New("connection not found")

	// ErrMalformed: an envelope missing required fields for its kind.
	ErrMalformed = errors.New("malformed payload")

	// ErrUnknownEvent: an event name outside the closed set.
	ErrUnknownEvent = errors.New("unknown event kind")

	// ErrQueueFull: a connection's outbound queue overflowed; the newest
	// message was dropped rather than blocking the sender.
	ErrQueueFull = errors.New("outbound queue full")
)
