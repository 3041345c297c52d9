package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/safewatch/internal/model"
	"github.com/t77yq/safewatch/internal/monitor"
)

// Device connects the engine to the device streams of one protected user.
// It is the engine's LocationSource, MotionSource, HeartbeatPublisher and a
// notification channel for the device UI.
type Device struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	userID string
	logger *zap.Logger
	clock  func() time.Time
}

// NewDevice creates the device adapter for userID
func NewDevice(nc *nats.Conn, js nats.JetStreamContext, userID string, logger *zap.Logger) *Device {
	return &Device{
		nc:     nc,
		js:     js,
		userID: userID,
		logger: logger.Named("device"),
		clock:  time.Now,
	}
}

// SubscribeLocation asks the device for location updates and delivers the
// fixes to handler. Fixes closer than req.MinInterval to the previous
// delivered fix are dropped.
func (d *Device) SubscribeLocation(_ context.Context, req model.LocationRequest, handler func(model.LocationFix)) (monitor.Subscription, error) {
	if err := d.request("location", req); err != nil {
		d.logger.Warn("Failed to send location request", zap.Error(err))
	}

	// callbacks of one subscription run sequentially
	var last time.Time
	sub, err := d.js.Subscribe(LocationSubject(d.userID), func(msg *nats.Msg) {
		var fix model.LocationFix
		if err := json.Unmarshal(msg.Data, &fix); err != nil {
			d.logger.Error("Failed to unmarshal location fix", zap.Error(err))
			return
		}
		if fix.Timestamp.IsZero() {
			fix.Timestamp = d.clock()
		}

		if !last.IsZero() && fix.Timestamp.Sub(last) < req.MinInterval {
			return
		}
		last = fix.Timestamp

		handler(fix)
	}, nats.DeliverNew(), nats.AckNone())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to location: %w", err)
	}

	d.logger.Info("Subscribed to location updates",
		zap.Duration("interval", req.Interval),
		zap.Duration("min_interval", req.MinInterval))
	return sub, nil
}

// SubscribeMotion asks the device for accelerometer samples and delivers
// them to handler
func (d *Device) SubscribeMotion(_ context.Context, req model.MotionRequest, handler func(model.MotionSample)) (monitor.Subscription, error) {
	if err := d.request("motion", req); err != nil {
		d.logger.Warn("Failed to send motion request", zap.Error(err))
	}

	sub, err := d.js.Subscribe(MotionSubject(d.userID), func(msg *nats.Msg) {
		var sample model.MotionSample
		if err := json.Unmarshal(msg.Data, &sample); err != nil {
			d.logger.Error("Failed to unmarshal motion sample", zap.Error(err))
			return
		}
		if sample.Timestamp.IsZero() {
			sample.Timestamp = d.clock()
		}
		handler(sample)
	}, nats.DeliverNew(), nats.AckNone())
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to motion: %w", err)
	}

	d.logger.Info("Subscribed to motion samples", zap.Duration("sampling_period", req.SamplingPeriod))
	return sub, nil
}

// PublishHeartbeat stores a heartbeat in the device stream
func (d *Device) PublishHeartbeat(ctx context.Context, hb model.Heartbeat) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}
	if _, err := d.js.Publish(HeartbeatSubject(d.userID), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish heartbeat: %w", err)
	}
	return nil
}

// Notify sends a notification to the device UI
func (d *Device) Notify(_ context.Context, n model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := d.nc.Publish(NotificationSubject(d.userID), data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func (d *Device) request(sensor string, req any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return d.nc.Publish(RequestSubject(d.userID, sensor), data)
}
