package ruleset

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/safewatch/internal/model"
)

// Source returns the rules assigned to a protected user
type Source interface {
	AcceptedActiveRules(ctx context.Context, userID string) ([]model.AssignedRule, error)
}

// Load fetches and builds the rule set for userID. A failing source yields
// an empty set so that a data outage never raises alarms. The returned
// error is informational only.
func Load(ctx context.Context, src Source, userID string, now time.Time, logger *zap.Logger) (*RuleSet, error) {
	rules, err := src.AcceptedActiveRules(ctx, userID)
	if err != nil {
		logger.Warn("Failed to load rules, continuing with no active rules",
			zap.String("user_id", userID),
			zap.Error(err))
		set := Empty()
		set.BuiltAt = now
		return set, err
	}

	set := Build(rules, now)
	logger.Info("Rule set loaded",
		zap.String("user_id", userID),
		zap.Int("assigned", len(rules)),
		zap.Int("active", set.Count()),
		zap.Int("zones", len(set.Zones)),
		zap.Bool("fall_detection", set.FallDetection),
		zap.Bool("accident_detection", set.AccidentDetection))
	return set, nil
}
