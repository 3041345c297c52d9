package scheduler

import "errors"

// ErrJobNotFound is returned when removing a job that is not scheduled
var ErrJobNotFound = errors.New("job not found")
