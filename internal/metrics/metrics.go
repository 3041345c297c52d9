// Package metrics exposes Prometheus metrics for the monitoring engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/t77yq/safewatch/internal/model"
)

var phases = []model.Phase{model.PhaseIdle, model.PhaseCountingDown, model.PhaseCooldown}

// Metrics records engine transitions. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// Detector triggers accepted by the state machine, by detection kind
	Triggers *prometheus.CounterVec

	// Detector triggers dropped because the engine was not idle
	Suppressed *prometheus.CounterVec

	// Alerts persisted, by trigger kind
	AlertsCreated *prometheus.CounterVec

	PersistFailures prometheus.Counter
	PersistLatency  prometheus.Histogram

	// Cancellation attempts by result: "ok", "invalid_pin", "not_counting_down"
	Cancellations *prometheus.CounterVec

	RuleLoadFailures prometheus.Counter
	ActiveRules      prometheus.Gauge

	Phase       *prometheus.GaugeVec
	SecondsLeft prometheus.Gauge
}

// New registers the engine metrics with reg. Use prometheus.NewRegistry in
// tests to keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Triggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safewatch_triggers_total",
			Help: "Detector and SOS triggers that started a countdown",
		}, []string{"detection"}),

		Suppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safewatch_triggers_suppressed_total",
			Help: "Triggers dropped because a countdown or cooldown was in progress",
		}, []string{"detection"}),

		AlertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safewatch_alerts_created_total",
			Help: "Alerts persisted after an expired countdown",
		}, []string{"trigger_kind"}),

		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "safewatch_alert_persist_failures_total",
			Help: "Alerts that could not be persisted",
		}),

		PersistLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "safewatch_alert_persist_duration_seconds",
			Help:    "Duration of alert persistence calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		Cancellations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safewatch_cancellations_total",
			Help: "Countdown cancellation attempts by result",
		}, []string{"result"}),

		RuleLoadFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "safewatch_rule_load_failures_total",
			Help: "Rule set loads that fell back to no active rules",
		}),

		ActiveRules: f.NewGauge(prometheus.GaugeOpts{
			Name: "safewatch_active_rules",
			Help: "Rules in the current rule set",
		}),

		Phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "safewatch_engine_phase",
			Help: "1 for the phase the engine is in, 0 otherwise",
		}, []string{"phase"}),

		SecondsLeft: f.NewGauge(prometheus.GaugeOpts{
			Name: "safewatch_countdown_seconds_left",
			Help: "Seconds left in the running countdown",
		}),
	}
}

// IncTrigger records an accepted trigger
func (m *Metrics) IncTrigger(kind model.DetectionKind) {
	if m != nil {
		m.Triggers.WithLabelValues(string(kind)).Inc()
	}
}

// IncSuppressed records a trigger dropped by the re-entrancy guard
func (m *Metrics) IncSuppressed(kind model.DetectionKind) {
	if m != nil {
		m.Suppressed.WithLabelValues(string(kind)).Inc()
	}
}

// ObservePersist records the outcome of an alert persistence call
func (m *Metrics) ObservePersist(kind model.TriggerKind, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.PersistLatency.Observe(d.Seconds())
	if err != nil {
		m.PersistFailures.Inc()
		return
	}
	m.AlertsCreated.WithLabelValues(string(kind)).Inc()
}

// IncCancellation records a cancellation attempt
func (m *Metrics) IncCancellation(result string) {
	if m != nil {
		m.Cancellations.WithLabelValues(result).Inc()
	}
}

// ObserveRuleLoad records a rule set load
func (m *Metrics) ObserveRuleLoad(count int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RuleLoadFailures.Inc()
	}
	m.ActiveRules.Set(float64(count))
}

// SetPhase marks the current phase and the remaining countdown
func (m *Metrics) SetPhase(phase model.Phase, secondsLeft int) {
	if m == nil {
		return
	}
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.Phase.WithLabelValues(string(p)).Set(v)
	}
	m.SecondsLeft.Set(float64(secondsLeft))
}

// Handler serves the metrics registered in g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
