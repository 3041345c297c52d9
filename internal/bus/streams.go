// Package bus carries the device streams, alerts, control requests and UI
// notifications of the engine over NATS.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	DeviceStreamName = "DEVICE"
	AlertStreamName  = "ALERTS"

	deviceStreamMaxAge = time.Hour
	alertStreamMaxAge  = 7 * 24 * time.Hour
	streamMaxMsgs      = -1
	operationTimeout   = 30 * time.Second
)

// LocationSubject carries LocationFix messages from the device
func LocationSubject(userID string) string {
	return fmt.Sprintf("device.%s.location", userID)
}

// MotionSubject carries MotionSample messages from the device
func MotionSubject(userID string) string {
	return fmt.Sprintf("device.%s.motion", userID)
}

// HeartbeatSubject carries the engine heartbeat
func HeartbeatSubject(userID string) string {
	return fmt.Sprintf("device.%s.heartbeat", userID)
}

// RequestSubject carries sensor update requests to the device
func RequestSubject(userID, sensor string) string {
	return fmt.Sprintf("device.%s.request.%s", userID, sensor)
}

// ControlSubject receives control requests for the engine
func ControlSubject(userID string) string {
	return fmt.Sprintf("device.%s.control", userID)
}

// NotificationSubject carries notifications for the device UI
func NotificationSubject(userID string) string {
	return fmt.Sprintf("device.%s.notification", userID)
}

// AlertSubject carries created alerts of a protected user
func AlertSubject(userID string) string {
	return fmt.Sprintf("alert.created.%s", userID)
}

// EnsureStreams creates the device and alert streams when missing. Control,
// request and notification subjects stay outside any stream so that
// request/reply is answered by the engine only.
func EnsureStreams(ctx context.Context, js nats.JetStreamContext, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	streams := []*nats.StreamConfig{
		{
			Name:     DeviceStreamName,
			Subjects: []string{"device.*.location", "device.*.motion", "device.*.heartbeat"},
			Storage:  nats.MemoryStorage,
			MaxAge:   deviceStreamMaxAge,
			MaxMsgs:  streamMaxMsgs,
		},
		{
			Name:       AlertStreamName,
			Subjects:   []string{"alert.>"},
			Storage:    nats.FileStorage,
			MaxAge:     alertStreamMaxAge,
			MaxMsgs:    streamMaxMsgs,
			Duplicates: 10 * time.Minute,
		},
	}

	for _, cfg := range streams {
		_, err := js.AddStream(cfg, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
				logger.Info("Stream already exists", zap.String("stream", cfg.Name))
				continue
			}
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		logger.Info("Stream created successfully", zap.String("stream", cfg.Name))
	}
	return nil
}
