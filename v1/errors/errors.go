package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")
	// ErrInvalidConfiguration is returned when a component is constructed
	// without the collaborators it needs.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
