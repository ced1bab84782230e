package calibrate

import (
	"time"

	"github.com/tolgayilmaz86/pedalcal/pkg/report"
)

// Axis identifies the control being calibrated.
type Axis string

const (
	AxisThrottle Axis = "throttle"
	AxisBrake    Axis = "brake"
	AxisClutch   Axis = "clutch"
	AxisSteering Axis = "steering"
)

// Phase defines the discrete steps of a calibration session.
type Phase string

const (
	PhaseIdle     Phase = "Idle"
	PhaseBaseline Phase = "Baseline"
	PhaseActive   Phase = "Active"
	PhaseComplete Phase = "Complete"

	// Steering range calibration phases. Awaiting* states wait for explicit
	// user confirmation; Capturing* states run a timed single-phase capture.
	PhaseAwaitingCenter  Phase = "AwaitingCenter"
	PhaseCapturingCenter Phase = "CapturingCenter"
	PhaseAwaitingLeft    Phase = "AwaitingLeft"
	PhaseCapturingLeft   Phase = "CapturingLeft"
	PhaseAwaitingRight   Phase = "AwaitingRight"
	PhaseCapturingRight  Phase = "CapturingRight"
	PhaseComputing       Phase = "Computing"
	PhaseDone            Phase = "Done"
	PhaseFailed          Phase = "Failed"
)

// DeviceSession is the read surface the engine consumes. The device layer
// owns opening and closing; the engine only polls. During an active
// calibration the session's read cursor belongs exclusively to the engine:
// a second concurrent reader would silently split samples between consumers
// and skew scores.
type DeviceSession interface {
	IsOpen() bool
	// ReadLatest drains up to maxReads queued reports without blocking and
	// returns the newest, or nil if nothing was queued.
	ReadLatest(reportLen, maxReads int) (report.Report, error)
	// ReadBlocking performs a single read bounded by the given timeout,
	// returning nil on timeout.
	ReadBlocking(reportLen int, timeout time.Duration) (report.Report, error)
}

// AxisCalibration is the final result for one axis, handed to the caller for
// persistence. Center and HalfRange are only populated for steering.
type AxisCalibration struct {
	Axis   Axis         `json:"axis"`
	Offset int          `json:"offset"`
	Width  report.Width `json:"width"`
	Score  float64      `json:"score"`

	Center    int `json:"center,omitempty"`
	HalfRange int `json:"halfRange,omitempty"`

	// LowConfidence marks a result whose score fell below the caller's
	// threshold. It is not a failure; callers should prompt for a redo.
	LowConfidence bool `json:"lowConfidence,omitempty"`
}

// Callbacks are presentation hooks invoked by a session as it progresses.
// They carry no return value back into the engine. Any field may be nil.
type Callbacks struct {
	OnPhaseChange func(phase Phase, axis Axis)
	OnSample      func(r report.Report, count int)
	OnStatus      func(text string)
	OnComplete    func(cal *AxisCalibration, err error)
}

func (cb Callbacks) phaseChange(phase Phase, axis Axis) {
	if cb.OnPhaseChange != nil {
		cb.OnPhaseChange(phase, axis)
	}
}

func (cb Callbacks) sample(r report.Report, count int) {
	if cb.OnSample != nil {
		cb.OnSample(r, count)
	}
}

func (cb Callbacks) status(text string) {
	if cb.OnStatus != nil {
		cb.OnStatus(text)
	}
}

func (cb Callbacks) complete(cal *AxisCalibration, err error) {
	if cb.OnComplete != nil {
		cb.OnComplete(cal, err)
	}
}

// Defaults for session options. Poll cadence and read bounds follow the
// hardware quirks they guard against: draining prevents stale-buffer
// artifacts from devices that queue between polls, the short blocking
// fallback tolerates devices that only emit on state change.
const (
	DefaultPollInterval     = 20 * time.Millisecond
	DefaultBaselineDuration = 1500 * time.Millisecond
	DefaultActiveDuration   = 1500 * time.Millisecond
	DefaultCaptureDuration  = 400 * time.Millisecond
	DefaultDrainLimit       = 50
	DefaultReadTimeout      = 15 * time.Millisecond
	DefaultReportLen        = report.MaxLen

	// DefaultConfidenceThreshold separates usable scores from results that
	// should be surfaced as warnings. The variance units make this a tuning
	// default, not a contract; callers may override it.
	DefaultConfidenceThreshold = 100.0

	// MinHalfRange floors the computed steering half-range to avoid
	// degenerate zero-range calibrations from a wheel that didn't turn.
	MinHalfRange = 100

	// DefaultMinSteeringSpan is the minimum left/right span, in raw units,
	// a steering scan candidate must cover.
	DefaultMinSteeringSpan = 50
)

// Options configure a session's timing and read strategy. Zero values fall
// back to the defaults above.
type Options struct {
	ReportLen           int
	BaselineDuration    time.Duration
	ActiveDuration      time.Duration
	CaptureDuration     time.Duration
	DrainLimit          int
	ReadTimeout         time.Duration
	ConfidenceThreshold float64

	// MinSteeringSpan and HalfRangeFloor tune the steering stage: the
	// minimum left/right span a scan candidate must cover, and the floor
	// applied to the computed half-range.
	MinSteeringSpan int
	HalfRangeFloor  int
}

func (o Options) withDefaults() Options {
	if o.ReportLen <= 0 || o.ReportLen > report.MaxLen {
		o.ReportLen = DefaultReportLen
	}
	if o.BaselineDuration <= 0 {
		o.BaselineDuration = DefaultBaselineDuration
	}
	if o.ActiveDuration <= 0 {
		o.ActiveDuration = DefaultActiveDuration
	}
	if o.CaptureDuration <= 0 {
		o.CaptureDuration = DefaultCaptureDuration
	}
	if o.DrainLimit <= 0 {
		o.DrainLimit = DefaultDrainLimit
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if o.MinSteeringSpan <= 0 {
		o.MinSteeringSpan = DefaultMinSteeringSpan
	}
	if o.HalfRangeFloor <= 0 {
		o.HalfRangeFloor = MinHalfRange
	}
	return o
}
