package calibrate

import (
	"errors"
	"testing"
	"time"

	"github.com/tolgayilmaz86/pedalcal/pkg/report"
)

func le16(v uint16) report.Report {
	return report.Report{0, 0, 0, 0, byte(v), byte(v >> 8)}
}

func set16(name string, v uint16, n int) *report.SampleSet {
	s := report.NewSampleSet(name)
	for i := 0; i < n; i++ {
		s.Append(le16(v))
	}
	return s
}

func TestComputeRange16Bit(t *testing.T) {
	center := set16("center", 32768, 10)
	left := set16("left", 1000, 10)
	right := set16("right", 64000, 10)

	c, half, err := ComputeRange(center, left, right, 4, report.Width16, MinHalfRange)
	if err != nil {
		t.Fatalf("ComputeRange failed: %v", err)
	}
	if c != 32768 {
		t.Errorf("center = %d, want 32768", c)
	}
	// max(|32768-1000|, |64000-32768|) == 31768
	if half != 31768 {
		t.Errorf("half-range = %d, want 31768", half)
	}
}

func TestComputeRangeFloor(t *testing.T) {
	// A wheel that barely moved: both distances are under the floor.
	center := set16("center", 1000, 5)
	left := set16("left", 990, 5)
	right := set16("right", 1010, 5)

	_, half, err := ComputeRange(center, left, right, 4, report.Width16, MinHalfRange)
	if err != nil {
		t.Fatalf("ComputeRange failed: %v", err)
	}
	if half != MinHalfRange {
		t.Errorf("half-range = %d, want floored to %d", half, MinHalfRange)
	}
}

func TestComputeRangeEmptySet(t *testing.T) {
	center := set16("center", 32768, 5)
	right := set16("right", 64000, 5)

	_, _, err := ComputeRange(center, report.NewSampleSet("left"), right, 4, report.Width16, MinHalfRange)
	if !errors.Is(err, ErrInsufficientSamples) {
		t.Errorf("err = %v, want ErrInsufficientSamples", err)
	}
}

func TestComputeRangeOffsetOutOfRange(t *testing.T) {
	mk := func(name string) *report.SampleSet {
		s := report.NewSampleSet(name)
		s.Append(report.Report{1, 2})
		return s
	}

	_, _, err := ComputeRange(mk("center"), mk("left"), mk("right"), 4, report.Width16, MinHalfRange)
	if !errors.Is(err, ErrOffsetOutOfRange) {
		t.Errorf("err = %v, want ErrOffsetOutOfRange", err)
	}
}

func TestComputeRangeCenterOutsideExtremes(t *testing.T) {
	center := set16("center", 5000, 5)
	left := set16("left", 1000, 5)
	right := set16("right", 2000, 5)

	_, _, err := ComputeRange(center, left, right, 4, report.Width16, MinHalfRange)
	if !errors.Is(err, ErrCalibrationFailed) {
		t.Errorf("err = %v, want ErrCalibrationFailed", err)
	}
}

func TestRangeSessionFullFlow(t *testing.T) {
	dev := &fakeDevice{open: true, next: le16(32768)}

	var phases []Phase
	var got RangeResult
	var gotErr error
	completed := false

	s := NewRangeSession(dev, 4, report.Width16, testOptions(), RangeCallbacks{
		OnPhaseChange: func(p Phase) { phases = append(phases, p) },
		OnComplete: func(res RangeResult, err error) {
			completed, got, gotErr = true, res, err
		},
	})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.Phase() != PhaseAwaitingCenter {
		t.Fatalf("phase = %s, want AwaitingCenter", s.Phase())
	}

	now := time.Unix(0, 0)
	capture := func(v uint16) {
		dev.next = le16(v)
		if err := s.Confirm(now); err != nil {
			t.Fatalf("Confirm failed in %s: %v", s.Phase(), err)
		}
		// Capture window plus the tick that observes its deadline.
		for i := 0; i <= int(testOptions().CaptureDuration/DefaultPollInterval); i++ {
			s.Tick(now)
			now = now.Add(DefaultPollInterval)
		}
	}

	capture(32768)
	if s.Phase() != PhaseAwaitingLeft {
		t.Fatalf("phase after center capture = %s, want AwaitingLeft", s.Phase())
	}
	capture(1000)
	if s.Phase() != PhaseAwaitingRight {
		t.Fatalf("phase after left capture = %s, want AwaitingRight", s.Phase())
	}
	capture(64000)

	if !completed {
		t.Fatal("OnComplete was not invoked")
	}
	if gotErr != nil {
		t.Fatalf("range calibration failed: %v", gotErr)
	}
	if got.Center != 32768 || got.HalfRange != 31768 {
		t.Errorf("got center %d half %d, want 32768 and 31768", got.Center, got.HalfRange)
	}
	if got.Offset != 4 || got.Width != report.Width16 {
		t.Errorf("got encoding (%d, %d), want (4, 16)", got.Offset, got.Width.Bits())
	}
	if s.Phase() != PhaseDone {
		t.Errorf("final phase = %s, want Done", s.Phase())
	}

	want := []Phase{
		PhaseAwaitingCenter, PhaseCapturingCenter,
		PhaseAwaitingLeft, PhaseCapturingLeft,
		PhaseAwaitingRight, PhaseCapturingRight,
		PhaseComputing, PhaseDone,
	}
	if len(phases) != len(want) {
		t.Fatalf("phase sequence = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phase[%d] = %s, want %s", i, phases[i], want[i])
		}
	}
}

func TestRangeSessionConfirmOutOfOrder(t *testing.T) {
	s := NewRangeSession(&fakeDevice{open: true}, 0, report.Width8, testOptions(), RangeCallbacks{})
	if err := s.Confirm(time.Now()); err == nil {
		t.Error("Confirm before Start must fail")
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	now := time.Unix(0, 0)
	if err := s.Confirm(now); err != nil {
		t.Fatal(err)
	}
	// Already capturing: a second confirm has nothing to acknowledge.
	if err := s.Confirm(now); err == nil {
		t.Error("Confirm during a capture must fail")
	}
}

func TestRangeSessionCancel(t *testing.T) {
	completed := false
	s := NewRangeSession(&fakeDevice{open: true, next: le16(100)}, 4, report.Width16, testOptions(), RangeCallbacks{
		OnComplete: func(RangeResult, error) { completed = true },
	})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Confirm(time.Unix(0, 0)); err != nil {
		t.Fatal(err)
	}
	s.Cancel()

	if s.Running() {
		t.Error("session still running after cancel")
	}
	if completed {
		t.Error("cancel must not produce a result")
	}
}

func TestRangeSessionStartChecks(t *testing.T) {
	if err := NewRangeSession(&fakeDevice{open: false}, 0, report.Width8, testOptions(), RangeCallbacks{}).Start(); !errors.Is(err, ErrDeviceNotReady) {
		t.Errorf("closed device: err = %v, want ErrDeviceNotReady", err)
	}
	if err := NewRangeSession(&fakeDevice{open: true}, 0, report.Width(12), testOptions(), RangeCallbacks{}).Start(); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Errorf("bad width: err = %v, want ErrOffsetOutOfRange", err)
	}
	// A negative offset is not an error: it selects detection mode.
	if err := NewRangeSession(&fakeDevice{open: true}, -1, 0, testOptions(), RangeCallbacks{}).Start(); err != nil {
		t.Errorf("detection mode: err = %v, want nil", err)
	}
}

func TestRangeSessionDetectsEncoding(t *testing.T) {
	// Low bytes chosen so no wider or shifted candidate survives the
	// containment filter: only offset 4 at 16 bits spans a consistent range.
	dev := &fakeDevice{open: true, next: le16(0x8000)}

	var got RangeResult
	var gotErr error
	s := NewRangeSession(dev, -1, 0, testOptions(), RangeCallbacks{
		OnComplete: func(res RangeResult, err error) { got, gotErr = res, err },
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	now := time.Unix(0, 0)
	capture := func(v uint16) {
		dev.next = le16(v)
		if err := s.Confirm(now); err != nil {
			t.Fatalf("Confirm failed in %s: %v", s.Phase(), err)
		}
		for i := 0; i <= int(testOptions().CaptureDuration/DefaultPollInterval); i++ {
			s.Tick(now)
			now = now.Add(DefaultPollInterval)
		}
	}
	capture(0x8000)
	capture(0x1000)
	capture(0xF000)

	if gotErr != nil {
		t.Fatalf("detection failed: %v", gotErr)
	}
	if got.Offset != 4 || got.Width != report.Width16 {
		t.Fatalf("detected encoding (%d, %d), want (4, 16)", got.Offset, got.Width.Bits())
	}
	if got.Center != 0x8000 {
		t.Errorf("center = %d, want %d", got.Center, 0x8000)
	}
	if got.HalfRange != 0x8000-0x1000 {
		t.Errorf("half-range = %d, want %d", got.HalfRange, 0x8000-0x1000)
	}
}

func TestRangeCompletionHookReentersSession(t *testing.T) {
	dev := &fakeDevice{open: true, next: le16(32768)}

	done := make(chan struct{})
	var s *RangeSession
	s = NewRangeSession(dev, 4, report.Width16, testOptions(), RangeCallbacks{
		OnComplete: func(RangeResult, error) {
			if s.Running() {
				t.Error("session reported running inside its completion hook")
			}
			if s.Phase() != PhaseDone {
				t.Errorf("phase inside completion hook = %s, want Done", s.Phase())
			}
			close(done)
		},
	})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	go func() {
		now := time.Unix(0, 0)
		capture := func(v uint16) {
			dev.next = le16(v)
			if err := s.Confirm(now); err != nil {
				t.Errorf("Confirm failed in %s: %v", s.Phase(), err)
				return
			}
			for i := 0; i <= int(testOptions().CaptureDuration/DefaultPollInterval); i++ {
				s.Tick(now)
				now = now.Add(DefaultPollInterval)
			}
		}
		capture(32768)
		capture(1000)
		capture(64000)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("completion hook blocked on the session mutex")
	}
}

func TestRangeSessionMinSpanOption(t *testing.T) {
	dev := &fakeDevice{open: true, next: le16(0x8000)}

	opts := testOptions()
	opts.MinSteeringSpan = 1 << 20 // far beyond what the captures span

	var gotErr error
	s := NewRangeSession(dev, -1, 0, opts, RangeCallbacks{
		OnComplete: func(_ RangeResult, err error) { gotErr = err },
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	now := time.Unix(0, 0)
	capture := func(v uint16) {
		dev.next = le16(v)
		if err := s.Confirm(now); err != nil {
			t.Fatalf("Confirm failed in %s: %v", s.Phase(), err)
		}
		for i := 0; i <= int(opts.CaptureDuration/DefaultPollInterval); i++ {
			s.Tick(now)
			now = now.Add(DefaultPollInterval)
		}
	}
	capture(0x8000)
	capture(0x1000)
	capture(0xF000)

	if !errors.Is(gotErr, ErrCalibrationFailed) {
		t.Errorf("err = %v, want ErrCalibrationFailed from the raised span minimum", gotErr)
	}
}

func TestRangeSessionHalfRangeFloorOption(t *testing.T) {
	dev := &fakeDevice{open: true, next: le16(0x8000)}

	opts := testOptions()
	opts.HalfRangeFloor = 40000 // above the true half-range of 28672

	var got RangeResult
	var gotErr error
	s := NewRangeSession(dev, 4, report.Width16, opts, RangeCallbacks{
		OnComplete: func(res RangeResult, err error) { got, gotErr = res, err },
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	now := time.Unix(0, 0)
	capture := func(v uint16) {
		dev.next = le16(v)
		if err := s.Confirm(now); err != nil {
			t.Fatalf("Confirm failed in %s: %v", s.Phase(), err)
		}
		for i := 0; i <= int(opts.CaptureDuration/DefaultPollInterval); i++ {
			s.Tick(now)
			now = now.Add(DefaultPollInterval)
		}
	}
	capture(0x8000)
	capture(0x1000)
	capture(0xF000)

	if gotErr != nil {
		t.Fatalf("range calibration failed: %v", gotErr)
	}
	if got.HalfRange != 40000 {
		t.Errorf("half-range = %d, want floored to 40000", got.HalfRange)
	}
}
