package alerting

import "errors"

var (
	// ErrInvalidPIN is returned when a cancellation PIN does not match
	ErrInvalidPIN = errors.New("invalid cancellation pin")

	// ErrNotCountingDown is returned when cancelling without a countdown in progress
	ErrNotCountingDown = errors.New("no countdown in progress")
)
