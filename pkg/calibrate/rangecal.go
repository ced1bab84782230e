package calibrate

import (
	"fmt"
	"math"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/tolgayilmaz86/pedalcal/pkg/report"
)

// RangeResult is the outcome of a completed steering range session: the
// encoding that was used (or detected) and the derived center and half-range.
type RangeResult struct {
	Offset    int
	Width     report.Width
	Center    int
	HalfRange int
}

// RangeCallbacks are the notification hooks for a steering range session.
type RangeCallbacks struct {
	OnPhaseChange func(phase Phase)
	OnSample      func(r report.Report, count int)
	OnStatus      func(text string)
	OnComplete    func(res RangeResult, err error)
}

func (cb RangeCallbacks) phaseChange(phase Phase) {
	if cb.OnPhaseChange != nil {
		cb.OnPhaseChange(phase)
	}
}

func (cb RangeCallbacks) sample(r report.Report, count int) {
	if cb.OnSample != nil {
		cb.OnSample(r, count)
	}
}

func (cb RangeCallbacks) status(text string) {
	if cb.OnStatus != nil {
		cb.OnStatus(text)
	}
}

func (cb RangeCallbacks) complete(res RangeResult, err error) {
	if cb.OnComplete != nil {
		cb.OnComplete(res, err)
	}
}

// RangeSession calibrates steering center and half-range. Normally it works
// at an already-known offset and width (from a preset or a prior
// discrimination); started with a negative offset it instead detects the
// encoding from its own three captures with the multi-width steering scan.
// It captures three reference positions, each a short timed capture started
// by explicit user confirmation:
//
//	AwaitingCenter -> CapturingCenter -> AwaitingLeft -> CapturingLeft ->
//	AwaitingRight -> CapturingRight -> Computing -> Done|Failed
//
// Like Session, it is tick-driven and cooperatively canceled.
type RangeSession struct {
	mu sync.Mutex

	dev    DeviceSession
	offset int
	width  report.Width
	detect bool
	opts   Options
	cb     RangeCallbacks

	phase      Phase
	running    bool
	captureEnd time.Time

	center *report.SampleSet
	left   *report.SampleSet
	right  *report.SampleSet
}

// NewRangeSession prepares an idle steering range session. A negative offset
// selects detection mode.
func NewRangeSession(dev DeviceSession, offset int, width report.Width, opts Options, cb RangeCallbacks) *RangeSession {
	return &RangeSession{
		dev:    dev,
		offset: offset,
		width:  width,
		detect: offset < 0,
		opts:   opts.withDefaults(),
		cb:     cb,
		phase:  PhaseIdle,
	}
}

// Start moves the session to AwaitingCenter. The same readiness and overlap
// rules as Session.Start apply.
func (s *RangeSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSessionAlreadyActive
	}
	if s.dev == nil || !s.dev.IsOpen() {
		return pkgerrors.Wrap(ErrDeviceNotReady, "steering range")
	}
	if !s.detect && (!s.width.Valid() || s.offset < 0) {
		return pkgerrors.Wrapf(ErrOffsetOutOfRange, "offset %d width %d", s.offset, s.width)
	}

	s.running = true
	s.center = report.NewSampleSet("center")
	s.left = report.NewSampleSet("left")
	s.right = report.NewSampleSet("right")
	s.phase = PhaseAwaitingCenter
	s.cb.phaseChange(PhaseAwaitingCenter)
	s.cb.status("Center the wheel, then confirm")
	return nil
}

// Phase returns the session's current phase.
func (s *RangeSession) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Running reports whether the session is active.
func (s *RangeSession) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Confirm acknowledges the current Awaiting* prompt and begins the timed
// capture for that position. Confirming in any other phase is an error.
func (s *RangeSession) Confirm(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return pkgerrors.Wrap(ErrCalibrationFailed, "no steering range session in progress")
	}

	var next Phase
	switch s.phase {
	case PhaseAwaitingCenter:
		next = PhaseCapturingCenter
	case PhaseAwaitingLeft:
		next = PhaseCapturingLeft
	case PhaseAwaitingRight:
		next = PhaseCapturingRight
	default:
		return pkgerrors.Wrapf(ErrCalibrationFailed, "nothing to confirm in phase %s", s.phase)
	}

	s.phase = next
	s.captureEnd = now.Add(s.opts.CaptureDuration)
	s.cb.phaseChange(next)
	s.cb.status("Hold the wheel still...")
	return nil
}

// Tick advances an in-progress capture. Ticks outside Capturing* phases are
// no-ops; the Awaiting* phases only move on user confirmation.
func (s *RangeSession) Tick(now time.Time) {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		return
	}

	var set *report.SampleSet
	switch s.phase {
	case PhaseCapturingCenter:
		set = s.center
	case PhaseCapturingLeft:
		set = s.left
	case PhaseCapturingRight:
		set = s.right
	default:
		s.mu.Unlock()
		return
	}

	s.pollInto(set)
	if now.Before(s.captureEnd) {
		s.mu.Unlock()
		return
	}

	var finish func()
	switch s.phase {
	case PhaseCapturingCenter:
		s.phase = PhaseAwaitingLeft
		s.cb.phaseChange(PhaseAwaitingLeft)
		s.cb.status("Turn the wheel fully left, then confirm")
	case PhaseCapturingLeft:
		s.phase = PhaseAwaitingRight
		s.cb.phaseChange(PhaseAwaitingRight)
		s.cb.status("Turn the wheel fully right, then confirm")
	case PhaseCapturingRight:
		s.phase = PhaseComputing
		s.cb.phaseChange(PhaseComputing)
		finish = s.finishLocked()
	}
	s.mu.Unlock()

	// As with Session, completion hooks never fire under s.mu: the hook may
	// sync with a caller that inspects Running/Phase under its own lock.
	if finish != nil {
		finish()
	}
}

// Cancel stops the session and discards all captures.
func (s *RangeSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.phase = PhaseIdle
	s.center, s.left, s.right = nil, nil, nil
	s.cb.status("Steering range calibration canceled")
}

func (s *RangeSession) pollInto(set *report.SampleSet) {
	r, err := s.dev.ReadLatest(s.opts.ReportLen, s.opts.DrainLimit)
	if err == nil && r == nil {
		r, err = s.dev.ReadBlocking(s.opts.ReportLen, s.opts.ReadTimeout)
	}
	if err != nil || len(r) == 0 {
		return
	}
	set.Append(r)
	s.cb.sample(r, s.center.Len()+s.left.Len()+s.right.Len())
}

// finishLocked stops the session and detaches the three captures, handing
// the computation back to run after the mutex is released. Called with the
// lock held; the returned closure must be called without it.
func (s *RangeSession) finishLocked() func() {
	s.running = false

	center, left, right := s.center, s.left, s.right
	s.center, s.left, s.right = nil, nil, nil

	return func() { s.finish(center, left, right) }
}

// finish computes the calibration from the three captures. In detection mode
// the encoding comes from the multi-width scan over the same captures.
// Runs without the lock; the terminal phase is set through setPhase.
func (s *RangeSession) finish(center, left, right *report.SampleSet) {
	offset, width := s.offset, s.width
	if s.detect {
		scan := DefaultRangeScan()
		scan.MinSpan = float64(s.opts.MinSteeringSpan)
		cand, err := DiscriminateRange(center, left, right, scan)
		if err != nil {
			s.fail(err)
			return
		}
		offset, width = cand.Offset, cand.Width
		s.cb.status(fmt.Sprintf("Detected steering at byte %d (%d-bit)", offset, width.Bits()))
	}

	c, half, err := ComputeRange(center, left, right, offset, width, s.opts.HalfRangeFloor)
	if err != nil {
		s.fail(err)
		return
	}

	s.setPhase(PhaseDone)
	s.cb.phaseChange(PhaseDone)
	s.cb.status(fmt.Sprintf("Steering calibrated: center %d, half-range %d", c, half))
	s.cb.complete(RangeResult{Offset: offset, Width: width, Center: c, HalfRange: half}, nil)
}

func (s *RangeSession) fail(err error) {
	s.setPhase(PhaseFailed)
	s.cb.phaseChange(PhaseFailed)
	s.cb.status(fmt.Sprintf("Steering range calibration failed: %v", err))
	s.cb.complete(RangeResult{}, err)
}

func (s *RangeSession) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// ComputeRange derives the steering center and half-range from three
// reference captures decoded at a fixed offset and width. The half-range is
// the larger of the two center-to-extreme distances, floored at the given
// minimum. The center mean must lie between the two extremes, widened by the
// same containment margin the steering scan uses.
func ComputeRange(center, left, right *report.SampleSet, offset int, w report.Width, floor int) (int, int, error) {
	for _, s := range []*report.SampleSet{center, left, right} {
		if s.Empty() {
			return 0, 0, pkgerrors.Wrapf(ErrInsufficientSamples, "%s capture produced no reports", s.Name)
		}
	}

	cVals := center.ValuesAt(offset, w)
	lVals := left.ValuesAt(offset, w)
	rVals := right.ValuesAt(offset, w)
	for _, vals := range [][]float64{cVals, lVals, rVals} {
		if len(vals) == 0 {
			return 0, 0, pkgerrors.Wrapf(ErrOffsetOutOfRange,
				"no report could be decoded at offset %d width %d", offset, w)
		}
	}

	cVal := mean(cVals)
	lVal := mean(lVals)
	rVal := mean(rVals)

	span := math.Abs(lVal - rVal)
	tol := DefaultRangeScan().CenterTolerance * span
	if cVal < math.Min(lVal, rVal)-tol || cVal > math.Max(lVal, rVal)+tol {
		return 0, 0, pkgerrors.Wrapf(ErrCalibrationFailed,
			"center value %.0f does not lie between the extremes %.0f and %.0f", cVal, lVal, rVal)
	}

	half := math.Max(math.Abs(cVal-lVal), math.Abs(rVal-cVal))
	halfRange := int(math.Round(half))
	if halfRange < floor {
		halfRange = floor
	}
	return int(math.Round(cVal)), halfRange, nil
}
