package calibrate

import (
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/tolgayilmaz86/pedalcal/pkg/report"
)

// Session is one in-progress axis calibration: a two-phase timed sampling
// protocol (baseline with the control at rest, then active with the control
// being exercised) followed by offset discrimination.
//
// The session does not own a timer. The caller drives it by invoking Tick at
// a fixed cadence (DefaultPollInterval); phase transitions fire when a tick
// observes that a phase deadline has passed. This keeps every read and every
// score on the single logical task that drives the polling loop, and makes
// the machine testable with synthetic ticks and synthetic reports.
//
// Cancellation is cooperative: Cancel marks the session inactive and the
// next tick no-ops. An in-flight blocking read is bounded by the short read
// timeout, which is what keeps cancellation latency acceptable.
type Session struct {
	mu sync.Mutex

	dev     DeviceSession
	axis    Axis
	opts    Options
	scoring Scoring
	cb      Callbacks

	phase       Phase
	running     bool
	startedAt   time.Time
	baselineEnd time.Time
	activeEnd   time.Time

	baseline  *report.SampleSet
	activeSet *report.SampleSet
}

// NewSession prepares an idle session for the given axis. Nothing is read
// from the device until Start.
func NewSession(dev DeviceSession, axis Axis, opts Options, sc Scoring, cb Callbacks) *Session {
	return &Session{
		dev:     dev,
		axis:    axis,
		opts:    opts.withDefaults(),
		scoring: sc,
		cb:      cb,
		phase:   PhaseIdle,
	}
}

// Start begins the baseline phase at the given time. It fails with
// ErrDeviceNotReady if the device session is not open, and with
// ErrSessionAlreadyActive on an overlapping start of the same session.
func (s *Session) Start(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSessionAlreadyActive
	}
	if s.dev == nil || !s.dev.IsOpen() {
		return pkgerrors.Wrapf(ErrDeviceNotReady, "axis %s", s.axis)
	}

	s.running = true
	s.startedAt = now
	s.baselineEnd = now.Add(s.opts.BaselineDuration)
	s.activeEnd = s.baselineEnd.Add(s.opts.ActiveDuration)
	s.baseline = report.NewSampleSet("baseline")
	s.activeSet = report.NewSampleSet("active")
	s.phase = PhaseBaseline

	s.cb.phaseChange(PhaseBaseline, s.axis)
	s.cb.status(fmt.Sprintf("Calibrating %s: leave the control at rest", s.axis))
	return nil
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Running reports whether the session is actively sampling.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Axis returns the axis this session calibrates.
func (s *Session) Axis() Axis { return s.axis }

// SampleCount returns the number of reports captured so far across both
// phases.
func (s *Session) SampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline.Len() + s.activeSet.Len()
}

// Tick advances the session. The caller invokes it at the poll cadence; a
// tick on an idle or canceled session is a no-op.
func (s *Session) Tick(now time.Time) {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		return
	}

	var finish func()
	switch s.phase {
	case PhaseBaseline:
		s.pollInto(s.baseline)
		if !now.Before(s.baselineEnd) {
			s.phase = PhaseActive
			s.cb.phaseChange(PhaseActive, s.axis)
			s.cb.status(fmt.Sprintf("Calibrating %s: exercise the control through its full travel", s.axis))
		}
	case PhaseActive:
		s.pollInto(s.activeSet)
		if !now.Before(s.activeEnd) {
			finish = s.finishLocked()
		}
	}
	s.mu.Unlock()

	// Completion runs with the mutex released: the hook may re-enter the
	// session (or sync with a caller that holds its own lock around
	// Running/Phase), so it must never fire under s.mu.
	if finish != nil {
		finish()
	}
}

// Cancel stops polling immediately and discards all buffered samples. No
// partial result is produced and OnComplete is not invoked.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.phase = PhaseIdle
	s.baseline = nil
	s.activeSet = nil
	s.cb.status(fmt.Sprintf("Calibration of %s canceled", s.axis))
}

// pollInto performs one poll: a non-blocking drain keeping only the newest
// queued report, falling back to a single short blocking read for devices
// that only emit on state change. Read errors are treated as empty polls;
// a device that produces nothing fails with InsufficientSamples at the end
// of the run rather than mid-capture.
func (s *Session) pollInto(set *report.SampleSet) {
	r, err := s.dev.ReadLatest(s.opts.ReportLen, s.opts.DrainLimit)
	if err == nil && r == nil {
		r, err = s.dev.ReadBlocking(s.opts.ReportLen, s.opts.ReadTimeout)
	}
	if err != nil || len(r) == 0 {
		return
	}
	set.Append(r)
	s.cb.sample(r, s.baseline.Len()+s.activeSet.Len())
}

// finishLocked stops the session and detaches the captured sets, handing
// back the completion work to run after the mutex is released. Called with
// the lock held; the returned closure must be called without it.
func (s *Session) finishLocked() func() {
	s.running = false
	s.phase = PhaseComplete

	baseline, active := s.baseline, s.activeSet
	s.baseline = nil
	s.activeSet = nil

	return func() { s.finish(baseline, active) }
}

// finish runs discrimination over the two sample sets and reports the
// result. It only touches immutable session fields, so it needs no lock.
func (s *Session) finish(baseline, active *report.SampleSet) {
	if baseline.Empty() || active.Empty() {
		err := pkgerrors.Wrapf(ErrInsufficientSamples,
			"axis %s: captured %d baseline and %d active reports", s.axis, baseline.Len(), active.Len())
		s.cb.status(fmt.Sprintf("Calibration of %s failed: no samples were captured. Is the device still connected?", s.axis))
		s.cb.complete(nil, err)
		return
	}

	cand, err := Discriminate(baseline, active, s.scoring)
	if err != nil {
		s.cb.status(fmt.Sprintf("Calibration of %s failed: %v", s.axis, err))
		s.cb.complete(nil, err)
		return
	}

	cal := &AxisCalibration{
		Axis:   s.axis,
		Offset: cand.Offset,
		Width:  cand.Width,
		Score:  cand.Score,
	}
	if cand.Score < s.opts.ConfidenceThreshold {
		cal.LowConfidence = true
		s.cb.status(fmt.Sprintf(
			"Calibrated %s at byte %d, but the score (%.1f) is low. Consider redoing the capture with a fuller range of motion.",
			s.axis, cand.Offset, cand.Score))
	} else {
		s.cb.status(fmt.Sprintf("Calibrated %s: byte %d (score %.1f)", s.axis, cand.Offset, cand.Score))
	}
	s.cb.complete(cal, nil)
}
