package config

import "github.com/sirupsen/logrus"

// Config is the daemon's tunable surface. Durations are in milliseconds to
// keep the on-disk form plain.
type Config interface {
	PollIntervalMs() int
	BaselineDurationMs() int
	ActiveDurationMs() int
	SteeringCaptureMs() int
	ConfidenceThreshold() float64
	MinSteeringSpan() int
	HalfRangeFloor() int
	DrainLimit() int
	ReadTimeoutMs() int
	DriftCheckCron() string
	DriftToleranceRaw() int
	HistoryPath() string

	SetPollIntervalMs(int)
	SetBaselineDurationMs(int)
	SetActiveDurationMs(int)
	SetSteeringCaptureMs(int)
	SetConfidenceThreshold(float64)
	SetMinSteeringSpan(int)
	SetHalfRangeFloor(int)
	SetDrainLimit(int)
	SetReadTimeoutMs(int)
	SetDriftCheckCron(string)
	SetDriftToleranceRaw(int)
	SetHistoryPath(string)

	LogrusFields() logrus.Fields

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
