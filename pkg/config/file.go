package config

import (
	"encoding/json"
	"os"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tolgayilmaz86/pedalcal/pkg/utils/ptr"
)

var defaultFileConfig = &RawFileConfig{
	PollIntervalMs:      ptr.To(20),
	BaselineDurationMs:  ptr.To(1500),
	ActiveDurationMs:    ptr.To(1500),
	SteeringCaptureMs:   ptr.To(400),
	ConfidenceThreshold: ptr.To(100.0),
	MinSteeringSpan:     ptr.To(50),
	HalfRangeFloor:      ptr.To(100),
	DrainLimit:          ptr.To(50),
	ReadTimeoutMs:       ptr.To(15),
	// Empty cron disables the scheduled rest-drift check.
	DriftCheckCron:    ptr.To(""),
	DriftToleranceRaw: ptr.To(200),
	HistoryPath:       ptr.To("/var/lib/pedalcal/history.db"),
}

var _ Config = &File{}

// File is a JSON file backed Config.
type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

// NewFile loads (or initializes) the config at the given path.
func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	if err := f.Load(); err != nil {
		return nil, err
	}
	return f, nil
}

// NewFileFromConfig wraps an in-memory raw config, falling back to defaults
// when nil. Used by tests and by first-run initialization.
func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = defaultFileConfig
	}
	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

// RawFileConfig is the on-disk shape. Pointer fields distinguish "absent"
// from zero so new keys pick up defaults on old config files.
type RawFileConfig struct {
	PollIntervalMs      *int     `json:"pollIntervalMs,omitempty"`
	BaselineDurationMs  *int     `json:"baselineDurationMs,omitempty"`
	ActiveDurationMs    *int     `json:"activeDurationMs,omitempty"`
	SteeringCaptureMs   *int     `json:"steeringCaptureMs,omitempty"`
	ConfidenceThreshold *float64 `json:"confidenceThreshold,omitempty"`
	MinSteeringSpan     *int     `json:"minSteeringSpan,omitempty"`
	HalfRangeFloor      *int     `json:"halfRangeFloor,omitempty"`
	DrainLimit          *int     `json:"drainLimit,omitempty"`
	ReadTimeoutMs       *int     `json:"readTimeoutMs,omitempty"`
	DriftCheckCron      *string  `json:"driftCheckCron,omitempty"`
	DriftToleranceRaw   *int     `json:"driftToleranceRaw,omitempty"`
	HistoryPath         *string  `json:"historyPath,omitempty"`
}

// NewRawFileConfigFromConfig snapshots a Config into its on-disk shape.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}
	return &RawFileConfig{
		PollIntervalMs:      ptr.To(c.PollIntervalMs()),
		BaselineDurationMs:  ptr.To(c.BaselineDurationMs()),
		ActiveDurationMs:    ptr.To(c.ActiveDurationMs()),
		SteeringCaptureMs:   ptr.To(c.SteeringCaptureMs()),
		ConfidenceThreshold: ptr.To(c.ConfidenceThreshold()),
		MinSteeringSpan:     ptr.To(c.MinSteeringSpan()),
		HalfRangeFloor:      ptr.To(c.HalfRangeFloor()),
		DrainLimit:          ptr.To(c.DrainLimit()),
		ReadTimeoutMs:       ptr.To(c.ReadTimeoutMs()),
		DriftCheckCron:      ptr.To(c.DriftCheckCron()),
		DriftToleranceRaw:   ptr.To(c.DriftToleranceRaw()),
		HistoryPath:         ptr.To(c.HistoryPath()),
	}, nil
}

func intField(mu *sync.RWMutex, field, def *int) int {
	mu.RLock()
	defer mu.RUnlock()
	if field != nil {
		return *field
	}
	return *def
}

func (f *File) PollIntervalMs() int {
	return intField(f.mu, f.c.PollIntervalMs, defaultFileConfig.PollIntervalMs)
}

func (f *File) BaselineDurationMs() int {
	return intField(f.mu, f.c.BaselineDurationMs, defaultFileConfig.BaselineDurationMs)
}

func (f *File) ActiveDurationMs() int {
	return intField(f.mu, f.c.ActiveDurationMs, defaultFileConfig.ActiveDurationMs)
}

func (f *File) SteeringCaptureMs() int {
	return intField(f.mu, f.c.SteeringCaptureMs, defaultFileConfig.SteeringCaptureMs)
}

func (f *File) ConfidenceThreshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.c.ConfidenceThreshold != nil {
		return *f.c.ConfidenceThreshold
	}
	return *defaultFileConfig.ConfidenceThreshold
}

func (f *File) MinSteeringSpan() int {
	return intField(f.mu, f.c.MinSteeringSpan, defaultFileConfig.MinSteeringSpan)
}

func (f *File) HalfRangeFloor() int {
	return intField(f.mu, f.c.HalfRangeFloor, defaultFileConfig.HalfRangeFloor)
}

func (f *File) DrainLimit() int {
	return intField(f.mu, f.c.DrainLimit, defaultFileConfig.DrainLimit)
}

func (f *File) ReadTimeoutMs() int {
	return intField(f.mu, f.c.ReadTimeoutMs, defaultFileConfig.ReadTimeoutMs)
}

func (f *File) DriftCheckCron() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.c.DriftCheckCron != nil {
		return *f.c.DriftCheckCron
	}
	return *defaultFileConfig.DriftCheckCron
}

func (f *File) DriftToleranceRaw() int {
	return intField(f.mu, f.c.DriftToleranceRaw, defaultFileConfig.DriftToleranceRaw)
}

func (f *File) HistoryPath() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.c.HistoryPath != nil {
		return *f.c.HistoryPath
	}
	return *defaultFileConfig.HistoryPath
}

func (f *File) SetPollIntervalMs(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.PollIntervalMs = ptr.To(v)
}

func (f *File) SetBaselineDurationMs(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.BaselineDurationMs = ptr.To(v)
}

func (f *File) SetActiveDurationMs(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.ActiveDurationMs = ptr.To(v)
}

func (f *File) SetSteeringCaptureMs(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.SteeringCaptureMs = ptr.To(v)
}

func (f *File) SetConfidenceThreshold(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.ConfidenceThreshold = ptr.To(v)
}

func (f *File) SetMinSteeringSpan(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.MinSteeringSpan = ptr.To(v)
}

func (f *File) SetHalfRangeFloor(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.HalfRangeFloor = ptr.To(v)
}

func (f *File) SetDrainLimit(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.DrainLimit = ptr.To(v)
}

func (f *File) SetReadTimeoutMs(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.ReadTimeoutMs = ptr.To(v)
}

func (f *File) SetDriftCheckCron(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.DriftCheckCron = ptr.To(v)
}

func (f *File) SetDriftToleranceRaw(v int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.DriftToleranceRaw = ptr.To(v)
}

func (f *File) SetHistoryPath(v string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.HistoryPath = ptr.To(v)
}

func (f *File) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"pollIntervalMs":      f.PollIntervalMs(),
		"baselineDurationMs":  f.BaselineDurationMs(),
		"activeDurationMs":    f.ActiveDurationMs(),
		"steeringCaptureMs":   f.SteeringCaptureMs(),
		"confidenceThreshold": f.ConfidenceThreshold(),
		"minSteeringSpan":     f.MinSteeringSpan(),
		"halfRangeFloor":      f.HalfRangeFloor(),
		"drainLimit":          f.DrainLimit(),
		"readTimeoutMs":       f.ReadTimeoutMs(),
		"driftCheckCron":      f.DriftCheckCron(),
		"driftToleranceRaw":   f.DriftToleranceRaw(),
		"historyPath":         f.HistoryPath(),
	}
}

// Load reads the config file, creating it with defaults when absent.
func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			f.c = &RawFileConfig{}
			*f.c = *defaultFileConfig
			return f.saveLocked()
		}
		return pkgerrors.Wrapf(err, "failed to read config %s", f.filepath)
	}

	c := &RawFileConfig{}
	if err := json.Unmarshal(b, c); err != nil {
		return pkgerrors.Wrapf(err, "failed to parse config %s", f.filepath)
	}
	f.c = c
	return nil
}

// Save writes the config file.
func (f *File) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveLocked()
}

func (f *File) saveLocked() error {
	b, err := json.MarshalIndent(f.c, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal config")
	}
	if err := os.WriteFile(f.filepath, b, 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write config %s", f.filepath)
	}
	return nil
}
