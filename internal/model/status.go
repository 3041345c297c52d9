package model

import "time"

// Phase is the state machine phase of the engine
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseCountingDown Phase = "counting_down"
	PhaseCooldown     Phase = "cooldown"
)

// EngineStatus is the observable snapshot of a running monitor
type EngineStatus struct {
	Running       bool          `json:"running"`
	Phase         Phase         `json:"phase"`
	Detection     DetectionKind `json:"detection,omitempty"`
	SecondsLeft   int           `json:"seconds_left"`
	Deadline      *time.Time    `json:"deadline,omitempty"`
	CooldownUntil *time.Time    `json:"cooldown_until,omitempty"`
	LastFix       *LocationFix  `json:"last_fix,omitempty"`
	SensorsActive bool          `json:"sensors_active"`
	RuleCount     int           `json:"rule_count"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Heartbeat is published periodically while monitoring runs
type Heartbeat struct {
	UserID      string       `json:"user_id"`
	Hostname    string       `json:"hostname,omitempty"`
	Status      EngineStatus `json:"status"`
	CPUUsage    float64      `json:"cpu_usage"`
	MemoryUsage float64      `json:"memory_usage"`
	Uptime      uint64       `json:"uptime"`
	Timestamp   time.Time    `json:"timestamp"`
}
