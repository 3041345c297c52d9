package monitor

import "errors"

var (
	// ErrAlreadyRunning is returned when Start is called on a running service
	ErrAlreadyRunning = errors.New("monitoring already running")

	// ErrNotRunning is returned when the service is not monitoring
	ErrNotRunning = errors.New("monitoring not running")

	// ErrMissingAlertSink is returned by New without an alert sink
	ErrMissingAlertSink = errors.New("alert sink is required")

	// ErrMissingUserID is returned by New without a protected user
	ErrMissingUserID = errors.New("user id is required")
)
