package app

import "errors"

var (
	// ErrNotFound means no message satisfies the request, either because the
	// id is unknown or its sender is not deliverable.
	ErrNotFound = errors.New("message not found")
	// ErrUnknownSender means no trust record exists for the sender id.
	ErrUnknownSender = errors.New("unknown sender")
	// ErrInvalidDuration means a nightlight duration outside the allowed set.
	ErrInvalidDuration = errors.New("invalid nightlight duration")
)
