package model

import "time"

const (
	DefaultCancellationPIN          = "0000"
	DefaultCancellationTimerSeconds = 10
)

// Profile holds the protected user's settings used by the engine
type Profile struct {
	UserID                   string `json:"user_id"`
	DisplayName              string `json:"display_name"`
	CancellationPIN          string `json:"cancellation_pin"`
	CancellationTimerSeconds int    `json:"cancellation_timer_seconds"`
}

// DefaultProfile returns the profile used when none can be loaded
func DefaultProfile(userID string) Profile {
	return Profile{
		UserID:                   userID,
		CancellationPIN:          DefaultCancellationPIN,
		CancellationTimerSeconds: DefaultCancellationTimerSeconds,
	}
}

// WithDefaults fills unset PIN and timer values
func (p Profile) WithDefaults() Profile {
	if p.CancellationPIN == "" {
		p.CancellationPIN = DefaultCancellationPIN
	}
	if p.CancellationTimerSeconds <= 0 {
		p.CancellationTimerSeconds = DefaultCancellationTimerSeconds
	}
	return p
}

// Countdown returns the configured cancellation delay
func (p Profile) Countdown() time.Duration {
	return time.Duration(p.WithDefaults().CancellationTimerSeconds) * time.Second
}
