package daemon

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestCronParse(t *testing.T) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse("@every 10m")
	if err != nil {
		t.Fatalf("failed to parse cron expression: %v", err)
	}

	now := time.Now()
	next1 := schedule.Next(now)
	next2 := schedule.Next(next1)
	if !next2.After(next1) {
		t.Fatalf("expected next2 to be after next1, got next1=%v next2=%v", next1, next2)
	}
}

func TestSchedulerScheduleStatus(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil)

	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	next, running := s.Status()
	if running {
		t.Fatalf("scheduler should not be running")
	}
	if next.IsZero() {
		t.Fatalf("next run should be set after scheduling")
	}
}

func TestSchedulerRunsTask(t *testing.T) {
	var ran atomic.Int32
	s := NewScheduler(func() error { ran.Add(1); return nil }, nil, nil)

	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for ran.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if ran.Load() == 0 {
		t.Fatalf("task never ran")
	}
}

func TestSchedulerSkip(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil)
	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	orig, _ := s.Status()
	if orig.IsZero() {
		t.Fatalf("expected next run after scheduling")
	}

	if err := s.Skip(); err != nil {
		t.Fatalf("Skip returned error: %v", err)
	}

	next, _ := s.Status()
	if !next.After(orig) {
		t.Fatalf("expected skip to advance next run, got orig=%v next=%v", orig, next)
	}
}

func TestSchedulerPostponeValidation(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil)

	if err := s.Postpone(time.Minute); err == nil {
		t.Fatal("expected error postponing with no schedule")
	}

	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	if err := s.Postpone(-time.Minute); err == nil {
		t.Fatal("expected error for negative postpone duration")
	}
	// Longer than the gap to the run after next.
	if err := s.Postpone(time.Hour); err == nil {
		t.Fatal("expected error for postpone that passes the next run")
	}
	if err := s.Postpone(time.Minute); err != nil {
		t.Fatalf("Postpone returned error: %v", err)
	}
}

func TestSchedulerPreCheckBlocksTask(t *testing.T) {
	var ran atomic.Int32
	precheckErr := errors.New("busy")
	s := NewScheduler(
		func() error { ran.Add(1); return nil },
		func() error { return precheckErr },
		nil,
	)

	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	time.Sleep(1500 * time.Millisecond)
	if ran.Load() != 0 {
		t.Fatalf("task should not run while precheck fails, ran %d times", ran.Load())
	}
}

func TestDriftPostponeAndSkip(t *testing.T) {
	orig := driftScheduler
	t.Cleanup(func() { driftScheduler = orig })

	driftScheduler = nil
	if _, err := postponeDriftCheck(time.Hour); err == nil {
		t.Error("postpone without a scheduler must fail")
	}
	if _, err := skipDriftCheck(); err == nil {
		t.Error("skip without a scheduler must fail")
	}

	driftScheduler = NewScheduler(func() error { return nil }, nil, nil)
	if err := driftScheduler.Schedule("0 0 3 * * *"); err != nil {
		t.Fatal(err)
	}
	driftScheduler.Start()
	t.Cleanup(driftScheduler.Stop)

	first, _ := driftScheduler.Status()

	if _, err := postponeDriftCheck(30 * time.Minute); err != nil {
		t.Fatalf("postpone failed: %v", err)
	}
	// Postpones apply through the scheduler's control channel.
	want := first.Add(30 * time.Minute).Truncate(time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for {
		next, _ := driftScheduler.Status()
		if next.Equal(want) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("next run = %s, want %s after postpone", next, want)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := skipDriftCheck(); err != nil {
		t.Fatalf("skip failed: %v", err)
	}
	next, _ := driftScheduler.Status()
	if !next.After(want) {
		t.Errorf("next run %s not advanced past %s by skip", next, want)
	}
}
