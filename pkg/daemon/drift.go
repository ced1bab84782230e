package daemon

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tolgayilmaz86/pedalcal/pkg/calibrate"
	"github.com/tolgayilmaz86/pedalcal/pkg/events"
	"github.com/tolgayilmaz86/pedalcal/pkg/report"
)

var driftScheduler *Scheduler

// driftPreCheck keeps the scheduler from reading a device while a
// calibration owns its read cursor.
func driftPreCheck() error {
	engineMu.Lock()
	defer engineMu.Unlock()
	if busyLocked() {
		return fmt.Errorf("calibration in progress")
	}
	return nil
}

// runDriftCheck reads the resting steering value of every attached device
// with a recorded steering calibration and warns when it has wandered from
// the stored center by more than the configured tolerance. Mechanical drift
// of the resting position is the usual sign a recalibration is due.
func runDriftCheck() error {
	if store == nil {
		return nil
	}

	infos, err := enumerateDevices(true)
	if err != nil {
		return err
	}

	tolerance := conf.DriftToleranceRaw()
	for _, info := range infos {
		rec, ok, err := store.LatestFor(info.VendorID, info.ProductID, string(calibrate.AxisSteering))
		if err != nil {
			return err
		}
		if !ok || (rec.Center == 0 && rec.HalfRange == 0) {
			continue
		}

		observed, err := readRestingValue(info.Path, rec.Offset, report.Width(rec.Width))
		if err != nil {
			logrus.WithError(err).WithField("device", info.Path).Debug("drift check skipped device")
			continue
		}

		drift := observed - rec.Center
		if drift < 0 {
			drift = -drift
		}
		log := logrus.WithFields(logrus.Fields{
			"device":   info.Path,
			"expected": rec.Center,
			"observed": observed,
			"drift":    drift,
		})
		if drift <= tolerance {
			log.Debug("drift check passed")
			continue
		}

		log.Warn("steering center has drifted; recalibration recommended")
		hub.Publish(events.DriftWarning, events.DriftWarningEvent{
			Device:   info.Path,
			Expected: rec.Center,
			Observed: observed,
			Message: fmt.Sprintf("steering center drifted by %d raw units (tolerance %d); recalibrate the steering range",
				drift, tolerance),
			Ts: time.Now().Unix(),
		})
	}
	return nil
}

// readRestingValue opens the device, takes one short read, and decodes the
// steering value. The engine busy guard has already run, but a calibration
// may have started since; the engine lock is re-checked to keep the cursor
// exclusive.
func readRestingValue(path string, offset int, w report.Width) (int, error) {
	engineMu.Lock()
	if busyLocked() {
		engineMu.Unlock()
		return 0, fmt.Errorf("calibration in progress")
	}
	engineMu.Unlock()

	dev, err := openDevicePath(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = dev.Close() }()

	r, err := dev.ReadLatest(calibrate.DefaultReportLen, calibrate.DefaultDrainLimit)
	if err == nil && r == nil {
		r, err = dev.ReadBlocking(calibrate.DefaultReportLen, 250*time.Millisecond)
	}
	if err != nil {
		return 0, err
	}
	if len(r) == 0 {
		return 0, fmt.Errorf("device produced no report")
	}

	v, ok := report.DecodeLE(r, offset, w)
	if !ok {
		return 0, fmt.Errorf("report too short to decode offset %d width %d", offset, w)
	}
	return int(v), nil
}

// scheduleDriftCheck applies a new cron expression for periodic drift
// checks. An empty expression disables them. Returns the next run times.
func scheduleDriftCheck(cronExpr string) ([]time.Time, error) {
	if cronExpr == "" {
		if conf.DriftCheckCron() == "" {
			return nil, nil
		}
		conf.SetDriftCheckCron("")
		if err := conf.Save(); err != nil {
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
		driftScheduler.Stop()
		logrus.Info("drift check schedule disabled")
		return nil, nil
	}

	if err := driftScheduler.Schedule(cronExpr); err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	conf.SetDriftCheckCron(cronExpr)
	if err := conf.Save(); err != nil {
		return nil, fmt.Errorf("failed to save config: %w", err)
	}
	driftScheduler.Start()

	sched, err := driftScheduler.parser.Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	nextRuns := make([]time.Time, 0, 3)
	now := time.Now()
	for range 3 {
		next := sched.Next(now)
		nextRuns = append(nextRuns, next)
		now = next
	}

	logrus.WithField("next", nextRuns[0].Format(time.DateTime)).Info("drift check scheduled")
	return nextRuns, nil
}

// postponeDriftCheck pushes the next scheduled drift check back by d and
// returns the new next-run time.
func postponeDriftCheck(d time.Duration) (time.Time, error) {
	if driftScheduler == nil {
		return time.Time{}, fmt.Errorf("drift check scheduler is not running")
	}
	orig, _ := driftScheduler.Status()
	if err := driftScheduler.Postpone(d); err != nil {
		return time.Time{}, err
	}
	// The scheduler applies the postpone on its run loop; report the
	// target time rather than racing Status against it.
	next := orig.Add(d).Truncate(time.Second)
	logrus.WithField("next", next.Format(time.DateTime)).Info("drift check postponed")
	return next, nil
}

// skipDriftCheck drops the next scheduled drift check and returns the run
// after it.
func skipDriftCheck() (time.Time, error) {
	if driftScheduler == nil {
		return time.Time{}, fmt.Errorf("drift check scheduler is not running")
	}
	if err := driftScheduler.Skip(); err != nil {
		return time.Time{}, err
	}
	next, _ := driftScheduler.Status()
	logrus.WithField("next", next.Format(time.DateTime)).Info("drift check skipped")
	return next, nil
}
