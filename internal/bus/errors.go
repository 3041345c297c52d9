package bus

import "errors"

var (
	// ErrUnknownAction is returned for a control request with an unsupported action
	ErrUnknownAction = errors.New("unknown control action")

	// ErrMissingController is returned by NewControlServer without a controller
	ErrMissingController = errors.New("controller is required")
)
