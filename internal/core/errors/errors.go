package errors

import "errors"

// Failures the notification subsystem surfaces to its callers. Everything
// else is terminal for the affected connection and reported via logs.
var (
	// Admission
	ErrCapacityExceeded = errors.New("connection capacity exceeded")

	// Delivery
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)
