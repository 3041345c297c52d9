package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/safewatch/internal/model"
	"github.com/t77yq/safewatch/internal/monitor"
)

// AlertPublisher announces every stored alert on the alert stream
type AlertPublisher struct {
	next   monitor.AlertSink
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewAlertPublisher wraps next so that stored alerts are published
func NewAlertPublisher(next monitor.AlertSink, js nats.JetStreamContext, logger *zap.Logger) *AlertPublisher {
	return &AlertPublisher{
		next:   next,
		js:     js,
		logger: logger.Named("alert-publisher"),
	}
}

// CreateAlert stores the alert and publishes it. The alert counts as sent
// once stored; a publish failure is only logged.
func (p *AlertPublisher) CreateAlert(ctx context.Context, alert *model.Alert) (string, error) {
	id, err := p.next.CreateAlert(ctx, alert)
	if err != nil {
		return "", err
	}

	if err := p.publish(ctx, id, alert); err != nil {
		p.logger.Error("Failed to publish alert",
			zap.String("alert_id", id),
			zap.Error(err))
		return id, nil
	}

	p.logger.Info("Alert published",
		zap.String("alert_id", id),
		zap.String("trigger_kind", string(alert.TriggerKind)))
	return id, nil
}

func (p *AlertPublisher) publish(ctx context.Context, id string, alert *model.Alert) error {
	published := *alert
	published.ID = id
	data, err := json.Marshal(published)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	_, err = p.js.Publish(AlertSubject(alert.ProtectedID), data, nats.MsgId(id), nats.Context(ctx))
	return err
}
