package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrClosed   = errors.New("queue closed")
	ErrFull     = errors.New("queue full")
	ErrUnknown  = errors.New("message not in flight")
	ErrProvider = errors.New("provider is required")
)
