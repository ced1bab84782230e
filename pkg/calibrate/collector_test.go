package calibrate

import (
	"errors"
	"testing"
	"time"

	"github.com/tolgayilmaz86/pedalcal/pkg/report"
)

// fakeDevice is a scripted DeviceSession. Tests mutate next between ticks to
// simulate the control moving; a nil next simulates a quiet queue, in which
// case blocking holds the report to hand out instead.
type fakeDevice struct {
	open     bool
	next     report.Report
	blocking report.Report

	latestCalls   int
	blockingCalls int
}

func (f *fakeDevice) IsOpen() bool { return f.open }

func (f *fakeDevice) ReadLatest(reportLen, maxReads int) (report.Report, error) {
	f.latestCalls++
	return f.next, nil
}

func (f *fakeDevice) ReadBlocking(reportLen int, timeout time.Duration) (report.Report, error) {
	f.blockingCalls++
	return f.blocking, nil
}

func testOptions() Options {
	return Options{
		BaselineDuration: 200 * time.Millisecond,
		ActiveDuration:   200 * time.Millisecond,
		CaptureDuration:  100 * time.Millisecond,
	}
}

// runTicks advances the session at the poll cadence for the given duration,
// starting at now, and returns the time after the last tick.
func runTicks(s *Session, now time.Time, d time.Duration, step func(i int)) time.Time {
	ticks := int(d / DefaultPollInterval)
	for i := 0; i <= ticks; i++ {
		if step != nil {
			step(i)
		}
		s.Tick(now)
		now = now.Add(DefaultPollInterval)
	}
	return now
}

func TestSessionFullRun(t *testing.T) {
	dev := &fakeDevice{open: true, next: report.Report{10, 10, 10, 10}}

	var phases []Phase
	var sampleCount int
	var gotCal *AxisCalibration
	var gotErr error
	completed := false

	s := NewSession(dev, AxisBrake, testOptions(), VarianceScoring, Callbacks{
		OnPhaseChange: func(p Phase, _ Axis) { phases = append(phases, p) },
		OnSample:      func(_ report.Report, n int) { sampleCount = n },
		OnComplete:    func(cal *AxisCalibration, err error) { completed, gotCal, gotErr = true, cal, err },
	})

	now := time.Unix(0, 0)
	if err := s.Start(now); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := s.Phase(); got != PhaseBaseline {
		t.Fatalf("phase after start = %s, want Baseline", got)
	}

	// Baseline: device at rest.
	now = runTicks(s, now, 200*time.Millisecond, nil)
	if got := s.Phase(); got != PhaseActive {
		t.Fatalf("phase after baseline window = %s, want Active", got)
	}

	// Active: byte 2 sweeps while everything else stays at rest.
	now = runTicks(s, now, 200*time.Millisecond, func(i int) {
		dev.next = report.Report{10, 10, byte(10 + i*9), 10}
	})

	if !completed {
		t.Fatal("OnComplete was not invoked")
	}
	if gotErr != nil {
		t.Fatalf("calibration failed: %v", gotErr)
	}
	if gotCal.Axis != AxisBrake {
		t.Errorf("axis = %s, want brake", gotCal.Axis)
	}
	if gotCal.Offset != 2 {
		t.Errorf("offset = %d, want 2", gotCal.Offset)
	}
	if gotCal.Score <= 0 {
		t.Errorf("score = %v, want > 0", gotCal.Score)
	}
	if s.Running() {
		t.Error("session still running after completion")
	}
	if sampleCount == 0 {
		t.Error("OnSample was never invoked")
	}
	if len(phases) < 2 || phases[0] != PhaseBaseline || phases[1] != PhaseActive {
		t.Errorf("phase sequence = %v, want [Baseline Active]", phases)
	}
}

func TestSessionStartDeviceNotReady(t *testing.T) {
	s := NewSession(&fakeDevice{open: false}, AxisThrottle, testOptions(), VarianceScoring, Callbacks{})
	if err := s.Start(time.Now()); !errors.Is(err, ErrDeviceNotReady) {
		t.Errorf("err = %v, want ErrDeviceNotReady", err)
	}
}

func TestSessionOverlappingStart(t *testing.T) {
	s := NewSession(&fakeDevice{open: true}, AxisThrottle, testOptions(), VarianceScoring, Callbacks{})
	if err := s.Start(time.Unix(0, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(time.Unix(0, 0)); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Errorf("second start: err = %v, want ErrSessionAlreadyActive", err)
	}
}

func TestSessionCancelDiscardsEverything(t *testing.T) {
	dev := &fakeDevice{open: true, next: report.Report{1, 2, 3}}
	completed := false
	s := NewSession(dev, AxisThrottle, testOptions(), VarianceScoring, Callbacks{
		OnComplete: func(*AxisCalibration, error) { completed = true },
	})

	now := time.Unix(0, 0)
	if err := s.Start(now); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		s.Tick(now)
		now = now.Add(DefaultPollInterval)
	}
	s.Cancel()

	if s.Running() {
		t.Error("session still running after cancel")
	}
	if s.Phase() != PhaseIdle {
		t.Errorf("phase = %s, want Idle", s.Phase())
	}
	if completed {
		t.Error("cancel must not produce a result")
	}

	// Ticks after cancel are no-ops.
	calls := dev.latestCalls
	s.Tick(now)
	if dev.latestCalls != calls {
		t.Error("tick after cancel still polled the device")
	}
}

func TestSessionInsufficientSamples(t *testing.T) {
	// The device never produces a report.
	dev := &fakeDevice{open: true}
	var gotErr error
	var gotCal *AxisCalibration
	s := NewSession(dev, AxisClutch, testOptions(), VarianceScoring, Callbacks{
		OnComplete: func(cal *AxisCalibration, err error) { gotCal, gotErr = cal, err },
	})

	now := time.Unix(0, 0)
	if err := s.Start(now); err != nil {
		t.Fatal(err)
	}
	now = runTicks(s, now, 200*time.Millisecond, nil)
	runTicks(s, now, 200*time.Millisecond, nil)

	if !errors.Is(gotErr, ErrInsufficientSamples) {
		t.Errorf("err = %v, want ErrInsufficientSamples", gotErr)
	}
	if gotCal != nil {
		t.Errorf("a failed run must not produce a calibration, got %+v", gotCal)
	}
}

func TestSessionBlockingFallback(t *testing.T) {
	// Nothing queued: the poll falls back to a single short blocking read.
	dev := &fakeDevice{open: true, blocking: report.Report{4, 5, 6}}
	s := NewSession(dev, AxisThrottle, testOptions(), VarianceScoring, Callbacks{})

	now := time.Unix(0, 0)
	if err := s.Start(now); err != nil {
		t.Fatal(err)
	}
	s.Tick(now)

	if dev.blockingCalls != 1 {
		t.Errorf("blocking reads = %d, want 1", dev.blockingCalls)
	}
	if got := s.SampleCount(); got != 1 {
		t.Errorf("buffered samples = %d, want 1", got)
	}
}

func TestSessionLowConfidenceFlag(t *testing.T) {
	// A flat active phase yields score 0, below any positive threshold.
	dev := &fakeDevice{open: true, next: report.Report{10, 10, 10, 10}}
	var gotCal *AxisCalibration
	var gotErr error
	s := NewSession(dev, AxisThrottle, testOptions(), VarianceScoring, Callbacks{
		OnComplete: func(cal *AxisCalibration, err error) { gotCal, gotErr = cal, err },
	})

	now := time.Unix(0, 0)
	if err := s.Start(now); err != nil {
		t.Fatal(err)
	}
	now = runTicks(s, now, 200*time.Millisecond, nil)
	runTicks(s, now, 200*time.Millisecond, nil)

	if gotErr != nil {
		t.Fatalf("low confidence is not a failure, got %v", gotErr)
	}
	if gotCal == nil {
		t.Fatal("no calibration returned")
	}
	if !gotCal.LowConfidence {
		t.Error("LowConfidence flag not set on zero-score result")
	}
	if gotCal.Offset != 0 || gotCal.Score != 0 {
		t.Errorf("got offset %d score %v, want offset 0 score 0", gotCal.Offset, gotCal.Score)
	}
}

func TestCompletionHookReentersSession(t *testing.T) {
	dev := &fakeDevice{open: true, next: report.Report{10, 20, 30, 40}}

	done := make(chan struct{})
	var s *Session
	s = NewSession(dev, AxisThrottle, testOptions(), VarianceScoring, Callbacks{
		OnComplete: func(*AxisCalibration, error) {
			// Status handlers inspect the session while a completing tick is
			// in flight, so the hook must run without the session mutex or
			// this re-entry would block forever.
			if s.Running() {
				t.Error("session reported running inside its completion hook")
			}
			if s.Phase() != PhaseComplete {
				t.Errorf("phase inside completion hook = %s, want Complete", s.Phase())
			}
			close(done)
		},
	})

	now := time.Unix(0, 0)
	if err := s.Start(now); err != nil {
		t.Fatal(err)
	}
	go func() {
		end := now.Add(testOptions().BaselineDuration + testOptions().ActiveDuration + time.Second)
		s.Tick(end) // baseline -> active
		s.Tick(end) // active -> complete
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion hook blocked on the session mutex")
	}
}
