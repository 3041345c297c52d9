// Package alerting implements the countdown that stands between a detected
// trigger and a persisted alert.
package alerting

import (
	"math"
	"time"

	"github.com/t77yq/safewatch/internal/model"
)

const (
	// TickInterval is how often a running countdown reports progress
	TickInterval = 1000 * time.Millisecond

	// CancelledCooldown follows a countdown cancelled with the correct PIN
	CancelledCooldown = 30 * time.Second

	// AlertCooldown follows a countdown that expired into an alert
	AlertCooldown = 60 * time.Second
)

// TickResult describes the state machine after a tick
type TickResult struct {
	Phase       model.Phase
	Detection   model.DetectionKind
	SecondsLeft int
	Progress    float64

	// Expired is set on the single tick that ends the countdown. The caller
	// must create the alert for Detection.
	Expired bool
}

// StateMachine moves between Idle, CountingDown and Cooldown. Every method
// takes the current time; the machine never reads the clock itself. It is
// not safe for concurrent use and is owned by a single goroutine.
type StateMachine struct {
	phase         model.Phase
	detection     model.DetectionKind
	startedAt     time.Time
	deadline      time.Time
	cooldownUntil time.Time
}

// NewStateMachine creates an idle state machine
func NewStateMachine() *StateMachine {
	return &StateMachine{phase: model.PhaseIdle}
}

// Phase returns the phase at now, leaving an elapsed cooldown
func (m *StateMachine) Phase(now time.Time) model.Phase {
	if m.phase == model.PhaseCooldown && !now.Before(m.cooldownUntil) {
		m.phase = model.PhaseIdle
		m.cooldownUntil = time.Time{}
		m.detection = ""
	}
	return m.phase
}

// Idle reports whether a trigger would be accepted at now
func (m *StateMachine) Idle(now time.Time) bool {
	return m.Phase(now) == model.PhaseIdle
}

// Trigger starts a countdown of the given length. It returns false and
// changes nothing unless the machine is idle.
func (m *StateMachine) Trigger(kind model.DetectionKind, countdown time.Duration, now time.Time) bool {
	if m.Phase(now) != model.PhaseIdle {
		return false
	}
	m.phase = model.PhaseCountingDown
	m.detection = kind
	m.startedAt = now
	m.deadline = now.Add(countdown)
	return true
}

// Tick advances the machine. Remaining time is derived from the absolute
// deadline, so missed ticks do not stretch the countdown.
func (m *StateMachine) Tick(now time.Time) TickResult {
	phase := m.Phase(now)
	if phase != model.PhaseCountingDown {
		return TickResult{Phase: phase, Detection: m.detection}
	}

	if !now.Before(m.deadline) {
		m.enterCooldown(now, AlertCooldown)
		return TickResult{
			Phase:     model.PhaseCooldown,
			Detection: m.detection,
			Progress:  1,
			Expired:   true,
		}
	}

	return TickResult{
		Phase:       model.PhaseCountingDown,
		Detection:   m.detection,
		SecondsLeft: m.SecondsLeft(now),
		Progress:    m.Progress(now),
	}
}

// Cancel aborts a running countdown when pin matches expected. A wrong PIN
// leaves the countdown running. Cancellation wins over a deadline that has
// passed but not yet been observed by Tick.
func (m *StateMachine) Cancel(pin, expected string, now time.Time) error {
	if m.Phase(now) != model.PhaseCountingDown {
		return ErrNotCountingDown
	}
	if pin != expected {
		return ErrInvalidPIN
	}
	m.enterCooldown(now, CancelledCooldown)
	return nil
}

// Reset returns the machine to Idle, dropping any countdown or cooldown
func (m *StateMachine) Reset() {
	*m = StateMachine{phase: model.PhaseIdle}
}

// SecondsLeft returns the whole seconds remaining in the countdown, rounded up
func (m *StateMachine) SecondsLeft(now time.Time) int {
	if m.phase != model.PhaseCountingDown {
		return 0
	}
	left := m.deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

// Progress returns the elapsed fraction of the countdown in [0, 1]
func (m *StateMachine) Progress(now time.Time) float64 {
	if m.phase != model.PhaseCountingDown {
		return 0
	}
	total := m.deadline.Sub(m.startedAt)
	if total <= 0 {
		return 1
	}
	p := float64(now.Sub(m.startedAt)) / float64(total)
	return math.Max(0, math.Min(1, p))
}

// Detection returns the detection of the current or last countdown
func (m *StateMachine) Detection() model.DetectionKind {
	return m.detection
}

// Deadline returns the countdown deadline while counting down
func (m *StateMachine) Deadline() (time.Time, bool) {
	return m.deadline, m.phase == model.PhaseCountingDown
}

// CooldownUntil returns the end of the cooldown while cooling down
func (m *StateMachine) CooldownUntil() (time.Time, bool) {
	return m.cooldownUntil, m.phase == model.PhaseCooldown
}

func (m *StateMachine) enterCooldown(now time.Time, d time.Duration) {
	m.phase = model.PhaseCooldown
	m.cooldownUntil = now.Add(d)
	m.startedAt = time.Time{}
	m.deadline = time.Time{}
}
