package monitor

import (
	"context"
	"time"

	"github.com/t77yq/safewatch/internal/model"
	"github.com/t77yq/safewatch/internal/ruleset"
)

// RuleSource returns the rules assigned to the protected user
type RuleSource = ruleset.Source

// ProfileSource reads the protected user's engine settings
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (*model.Profile, error)
}

// AlertSink persists alerts and returns the stored alert ID
type AlertSink interface {
	CreateAlert(ctx context.Context, alert *model.Alert) (string, error)
}

// Subscription is an active stream registration
type Subscription interface {
	Unsubscribe() error
}

// LocationSource pushes location fixes to handler until unsubscribed
type LocationSource interface {
	SubscribeLocation(ctx context.Context, req model.LocationRequest, handler func(model.LocationFix)) (Subscription, error)
}

// MotionSource pushes accelerometer samples to handler until unsubscribed
type MotionSource interface {
	SubscribeMotion(ctx context.Context, req model.MotionRequest, handler func(model.MotionSample)) (Subscription, error)
}

// Clock returns the current time
type Clock func() time.Time

// Ticker delivers countdown ticks
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a ticker firing every d
type TickerFactory func(d time.Duration) Ticker

type stdTicker struct {
	t *time.Ticker
}

func (t stdTicker) C() <-chan time.Time { return t.t.C }
func (t stdTicker) Stop()               { t.t.Stop() }

// NewStdTicker wraps time.NewTicker
func NewStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}
