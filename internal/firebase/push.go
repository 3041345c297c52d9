package firebase

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"github.com/t77yq/safewatch/internal/model"
)

// maxMulticastTokens is the FCM limit of tokens per multicast request
const maxMulticastTokens = 500

// Messenger sends FCM multicast messages. *messaging.Client implements it.
type Messenger interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// TokenSource returns the push tokens of a protected user's monitors
type TokenSource interface {
	MonitorTokens(ctx context.Context, protectedID string) ([]string, error)
}

// AlertSink persists alerts
type AlertSink interface {
	CreateAlert(ctx context.Context, alert *model.Alert) (string, error)
}

// PushNotifier sends an FCM push for every created alert to the monitors
// linked with the protected user.
type PushNotifier struct {
	logger    *zap.Logger
	next      AlertSink
	tokens    TokenSource
	messenger Messenger
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewPushNotifier wraps next so that monitors are pushed after each alert
func NewPushNotifier(next AlertSink, tokens TokenSource, messenger Messenger, logger *zap.Logger) *PushNotifier {
	return &PushNotifier{
		logger:    logger.Named("fcm"),
		next:      next,
		tokens:    tokens,
		messenger: messenger,
		timeout:   30 * time.Second,
	}
}

// CreateAlert persists the alert and pushes it in the background. A push
// failure never fails the alert.
func (p *PushNotifier) CreateAlert(ctx context.Context, alert *model.Alert) (string, error) {
	id, err := p.next.CreateAlert(ctx, alert)
	if err != nil {
		return "", err
	}

	pushed := *alert
	pushed.ID = id
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.Push(ctx, &pushed); err != nil {
			p.logger.Error("Failed to push alert", zap.String("alert_id", id), zap.Error(err))
		}
	}()
	return id, nil
}

// Push sends alert to every linked monitor
func (p *PushNotifier) Push(ctx context.Context, alert *model.Alert) error {
	tokens, err := p.tokens.MonitorTokens(ctx, alert.ProtectedID)
	if err != nil {
		return fmt.Errorf("failed to get monitor tokens: %w", err)
	}
	if len(tokens) == 0 {
		p.logger.Warn("No monitor devices to notify", zap.String("protected_id", alert.ProtectedID))
		return nil
	}

	sent := 0
	for start := 0; start < len(tokens); start += maxMulticastTokens {
		end := min(start+maxMulticastTokens, len(tokens))
		resp, err := p.messenger.SendEachForMulticast(ctx, AlertMessage(alert, tokens[start:end]))
		if err != nil {
			return fmt.Errorf("failed to send push: %w", err)
		}
		sent += resp.SuccessCount
		for i, r := range resp.Responses {
			if r != nil && !r.Success {
				p.logger.Warn("Push rejected", zap.Int("token_index", start+i), zap.Error(r.Error))
			}
		}
	}

	p.logger.Info("Alert pushed to monitors",
		zap.String("alert_id", alert.ID),
		zap.Int("sent", sent),
		zap.Int("tokens", len(tokens)))
	return nil
}

// Wait blocks until background pushes finish
func (p *PushNotifier) Wait() {
	p.wg.Wait()
}

// AlertMessage builds the FCM message announcing alert
func AlertMessage(alert *model.Alert, tokens []string) *messaging.MulticastMessage {
	name := alert.ProtectedName
	if name == "" {
		name = alert.ProtectedID
	}

	data := map[string]string{
		"alertId":     alert.ID,
		"protectedId": alert.ProtectedID,
		"triggerKind": string(alert.TriggerKind),
		"detection":   string(alert.Detection),
		"createdAt":   alert.CreatedAt.UTC().Format(time.RFC3339),
	}
	if alert.Latitude != nil && alert.Longitude != nil {
		data["latitude"] = strconv.FormatFloat(*alert.Latitude, 'f', -1, 64)
		data["longitude"] = strconv.FormatFloat(*alert.Longitude, 'f', -1, 64)
	}

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: fmt.Sprintf("Alert from %s", name),
			Body:  alertBody(alert),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}

func alertBody(alert *model.Alert) string {
	switch alert.TriggerKind {
	case model.TriggerManualSOS:
		return "SOS button pressed"
	case model.TriggerGeofenceViolation:
		return "Left a safe zone"
	}
	switch alert.Detection {
	case model.DetectionFall:
		return "Possible fall detected"
	case model.DetectionAccident:
		return "Possible accident detected"
	case model.DetectionSpeedLimit:
		return "Speed limit exceeded"
	case model.DetectionInactivity:
		return "No movement for a long time"
	}
	return "Rule violated"
}
