package model

import "time"

// LocationFix is a single position report from the device
type LocationFix struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	SpeedMps  float64   `json:"speed_mps"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// MotionSample is one 3-axis accelerometer reading in m/s²
type MotionSample struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationRequest describes the location updates the engine asks for
type LocationRequest struct {
	Interval     time.Duration `json:"interval"`
	MinInterval  time.Duration `json:"min_interval"`
	HighAccuracy bool          `json:"high_accuracy"`
}

// MotionRequest describes the accelerometer updates the engine asks for
type MotionRequest struct {
	SamplingPeriod time.Duration `json:"sampling_period"`
}
