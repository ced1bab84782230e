package daemon

import (
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tolgayilmaz86/pedalcal/pkg/calibrate"
	"github.com/tolgayilmaz86/pedalcal/pkg/config"
	"github.com/tolgayilmaz86/pedalcal/pkg/device"
	"github.com/tolgayilmaz86/pedalcal/pkg/events"
	"github.com/tolgayilmaz86/pedalcal/pkg/history"
	"github.com/tolgayilmaz86/pedalcal/pkg/preset"
	"github.com/tolgayilmaz86/pedalcal/pkg/report"
)

var (
	conf    config.Config
	hub     *events.Hub
	store   *history.Store
	presets *preset.Table
)

// deviceHandle is what the engine needs from an opened device: the engine
// read surface plus identity and teardown.
type deviceHandle interface {
	calibrate.DeviceSession
	Info() device.Info
	Close() error
}

// Device accessors (function vars) for test seam; default to the hidapi
// backed implementations.
var (
	openDevicePath   = func(path string) (deviceHandle, error) { return device.Open(path) }
	openDeviceIDs    = func(vid, pid uint16) (deviceHandle, error) { return device.OpenVIDPID(vid, pid) }
	enumerateDevices = func(onlyGameControls bool) ([]device.Info, error) { return device.Enumerate(onlyGameControls) }
)

// Engine state. A single device read cursor and a single sampling session
// exist at any time; everything below engineMu.
var (
	engineMu     = &sync.Mutex{}
	activeDev    deviceHandle
	axisSession  *calibrate.Session
	rangeSession *calibrate.RangeSession
	lastResults  = map[calibrate.Axis]*calibrate.AxisCalibration{}
)

// StartRequest selects a device and axis for calibration. Either Path or the
// VendorID/ProductID pair must be set.
type StartRequest struct {
	Path      string `json:"path,omitempty"`
	VendorID  uint16 `json:"vendorId,omitempty"`
	ProductID uint16 `json:"productId,omitempty"`
	Axis      string `json:"axis"`
	ReportLen int    `json:"reportLen,omitempty"`
}

// RangeRequest selects a device and encoding for steering range capture.
// A negative Offset asks the daemon to resolve offset and width itself: from
// presets, the current run's results, or history, in that order, falling
// back to detection from the wizard's own captures.
type RangeRequest struct {
	Path      string `json:"path,omitempty"`
	VendorID  uint16 `json:"vendorId,omitempty"`
	ProductID uint16 `json:"productId,omitempty"`
	Offset    int    `json:"offset"`
	Width     int    `json:"width,omitempty"`
}

// Status is the engine snapshot returned by the status endpoint.
type Status struct {
	Running bool   `json:"running"`
	Phase   string `json:"phase"`
	Axis    string `json:"axis,omitempty"`
	Samples int    `json:"samples"`
	Device  string `json:"device,omitempty"`

	Results map[string]*calibrate.AxisCalibration `json:"results,omitempty"`

	DriftCheckAt *time.Time `json:"driftCheckAt,omitempty"`
}

func sessionOptions() calibrate.Options {
	return calibrate.Options{
		BaselineDuration:    time.Duration(conf.BaselineDurationMs()) * time.Millisecond,
		ActiveDuration:      time.Duration(conf.ActiveDurationMs()) * time.Millisecond,
		CaptureDuration:     time.Duration(conf.SteeringCaptureMs()) * time.Millisecond,
		DrainLimit:          conf.DrainLimit(),
		ReadTimeout:         time.Duration(conf.ReadTimeoutMs()) * time.Millisecond,
		ConfidenceThreshold: conf.ConfidenceThreshold(),
		MinSteeringSpan:     conf.MinSteeringSpan(),
		HalfRangeFloor:      conf.HalfRangeFloor(),
	}
}

func openRequested(path string, vid, pid uint16) (deviceHandle, error) {
	if path != "" {
		return openDevicePath(path)
	}
	if vid != 0 || pid != 0 {
		return openDeviceIDs(vid, pid)
	}
	return nil, pkgerrors.Wrap(calibrate.ErrDeviceNotReady, "no device selected")
}

func busyLocked() bool {
	if axisSession != nil && axisSession.Running() {
		return true
	}
	if rangeSession != nil && rangeSession.Running() {
		return true
	}
	return false
}

// startAxisCalibration opens the requested device and kicks off a two-phase
// axis calibration driven by the daemon tick loop.
func startAxisCalibration(req StartRequest) error {
	axis := calibrate.Axis(req.Axis)
	switch axis {
	case calibrate.AxisThrottle, calibrate.AxisBrake, calibrate.AxisClutch, calibrate.AxisSteering:
	default:
		return fmt.Errorf("unknown axis %q", req.Axis)
	}

	engineMu.Lock()
	defer engineMu.Unlock()

	if busyLocked() {
		return calibrate.ErrSessionAlreadyActive
	}

	dev, err := openRequested(req.Path, req.VendorID, req.ProductID)
	if err != nil {
		return err
	}

	opts := sessionOptions()
	opts.ReportLen = req.ReportLen

	info := dev.Info()
	sess := calibrate.NewSession(dev, axis, opts, calibrate.VarianceScoring, calibrate.Callbacks{
		OnPhaseChange: func(phase calibrate.Phase, axis calibrate.Axis) {
			hub.Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{
				Phase: string(phase), Axis: string(axis), Ts: time.Now().Unix(),
			})
		},
		OnSample: func(_ report.Report, count int) {
			if count%10 == 0 {
				hub.Publish(events.CalibrationProgress, events.CalibrationProgressEvent{
					Axis: string(axis), Samples: count, Ts: time.Now().Unix(),
				})
			}
		},
		OnStatus: func(text string) {
			hub.Publish(events.CalibrationStatus, events.CalibrationStatusEvent{
				Message: text, Ts: time.Now().Unix(),
			})
		},
		OnComplete: func(cal *calibrate.AxisCalibration, err error) {
			finishAxisCalibration(info, cal, err)
		},
	})

	if err := sess.Start(time.Now()); err != nil {
		_ = dev.Close()
		return err
	}

	activeDev = dev
	axisSession = sess
	logrus.WithFields(logrus.Fields{
		"axis":   axis,
		"device": info.Path,
	}).Info("axis calibration started")
	return nil
}

// finishAxisCalibration is the completion hook: it releases the device,
// records the result, and fans it out. Runs on the tick goroutine after the
// session has already stopped, so it may take engineMu.
func finishAxisCalibration(info device.Info, cal *calibrate.AxisCalibration, err error) {
	engineMu.Lock()
	axisSession = nil
	if activeDev != nil {
		_ = activeDev.Close()
		activeDev = nil
	}
	if cal != nil {
		lastResults[cal.Axis] = cal
	}
	engineMu.Unlock()

	ev := events.CalibrationResultEvent{Ts: time.Now().Unix()}
	if err != nil {
		ev.Error = err.Error()
		logrus.WithError(err).Warn("axis calibration failed")
	} else {
		ev.Axis = string(cal.Axis)
		ev.Offset = cal.Offset
		ev.Width = cal.Width.Bits()
		ev.Score = cal.Score
		ev.LowConfidence = cal.LowConfidence
		logrus.WithFields(logrus.Fields{
			"axis":   cal.Axis,
			"offset": cal.Offset,
			"width":  cal.Width.Bits(),
			"score":  cal.Score,
		}).Info("axis calibration complete")
		recordResult(info, cal)
	}
	hub.Publish(events.CalibrationResult, ev)
}

func recordResult(info device.Info, cal *calibrate.AxisCalibration) {
	if store == nil {
		return
	}
	_, err := store.Insert(history.Record{
		DevicePath:    info.Path,
		VendorID:      info.VendorID,
		ProductID:     info.ProductID,
		Axis:          string(cal.Axis),
		Offset:        cal.Offset,
		Width:         cal.Width.Bits(),
		Score:         cal.Score,
		Center:        cal.Center,
		HalfRange:     cal.HalfRange,
		LowConfidence: cal.LowConfidence,
	})
	if err != nil {
		logrus.WithError(err).Error("failed to record calibration")
	}
}

// resolveSteeringEncoding finds the byte offset and width to use for a
// steering range capture, preferring presets, then results from this daemon
// run, then recorded history.
func resolveSteeringEncoding(info device.Info) (int, int, error) {
	if presets != nil {
		if p, ok := presets.LookupAxis(info.VendorID, info.ProductID, string(calibrate.AxisSteering)); ok {
			return p.Offset, p.Width, nil
		}
	}
	if cal, ok := lastResults[calibrate.AxisSteering]; ok {
		return cal.Offset, cal.Width.Bits(), nil
	}
	if store != nil {
		rec, ok, err := store.LatestFor(info.VendorID, info.ProductID, string(calibrate.AxisSteering))
		if err != nil {
			return 0, 0, err
		}
		if ok {
			return rec.Offset, rec.Width, nil
		}
	}
	return 0, 0, fmt.Errorf("steering encoding for %04x:%04x is unknown; calibrate the steering axis first",
		info.VendorID, info.ProductID)
}

// startRangeCalibration opens the device and begins the three-position
// steering range wizard.
func startRangeCalibration(req RangeRequest) error {
	engineMu.Lock()
	defer engineMu.Unlock()

	if busyLocked() {
		return calibrate.ErrSessionAlreadyActive
	}

	dev, err := openRequested(req.Path, req.VendorID, req.ProductID)
	if err != nil {
		return err
	}
	info := dev.Info()

	offset, width := req.Offset, req.Width
	if offset < 0 {
		if o, wBits, rerr := resolveSteeringEncoding(info); rerr == nil {
			offset, width = o, wBits
		} else {
			// No preset and no prior result: detect the encoding from the
			// wizard's own captures.
			logrus.WithError(rerr).Info("steering encoding unknown, detecting from captures")
			offset, width = -1, 0
		}
	}

	w := report.Width(width)
	sess := calibrate.NewRangeSession(dev, offset, w, sessionOptions(), calibrate.RangeCallbacks{
		OnPhaseChange: func(phase calibrate.Phase) {
			hub.Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{
				Phase: string(phase), Axis: string(calibrate.AxisSteering), Ts: time.Now().Unix(),
			})
		},
		OnStatus: func(text string) {
			hub.Publish(events.CalibrationStatus, events.CalibrationStatusEvent{
				Message: text, Ts: time.Now().Unix(),
			})
		},
		OnComplete: func(res calibrate.RangeResult, err error) {
			finishRangeCalibration(info, res, err)
		},
	})

	if err := sess.Start(); err != nil {
		_ = dev.Close()
		return err
	}

	activeDev = dev
	rangeSession = sess
	logrus.WithFields(logrus.Fields{
		"device": info.Path,
		"offset": offset,
		"width":  width,
	}).Info("steering range calibration started")
	return nil
}

func finishRangeCalibration(info device.Info, res calibrate.RangeResult, err error) {
	engineMu.Lock()
	rangeSession = nil
	if activeDev != nil {
		_ = activeDev.Close()
		activeDev = nil
	}
	var cal *calibrate.AxisCalibration
	if err == nil {
		cal = &calibrate.AxisCalibration{
			Axis:      calibrate.AxisSteering,
			Offset:    res.Offset,
			Width:     res.Width,
			Center:    res.Center,
			HalfRange: res.HalfRange,
		}
		if prev, ok := lastResults[calibrate.AxisSteering]; ok && prev.Offset == res.Offset {
			cal.Score = prev.Score
		}
		lastResults[calibrate.AxisSteering] = cal
	}
	engineMu.Unlock()

	ev := events.CalibrationResultEvent{
		Axis: string(calibrate.AxisSteering), Ts: time.Now().Unix(),
	}
	if err != nil {
		ev.Error = err.Error()
		logrus.WithError(err).Warn("steering range calibration failed")
	} else {
		ev.Offset = res.Offset
		ev.Width = res.Width.Bits()
		ev.Center = res.Center
		ev.HalfRange = res.HalfRange
		logrus.WithFields(logrus.Fields{
			"center":    res.Center,
			"halfRange": res.HalfRange,
		}).Info("steering range calibration complete")
		recordResult(info, cal)
	}
	hub.Publish(events.CalibrationResult, ev)
}

// confirmRange acknowledges the current Awaiting* prompt of the steering
// range wizard.
func confirmRange() error {
	engineMu.Lock()
	sess := rangeSession
	engineMu.Unlock()

	if sess == nil {
		return fmt.Errorf("no steering range calibration in progress")
	}
	return sess.Confirm(time.Now())
}

// cancelCalibration aborts whichever session is active and releases the
// device. Canceling when idle is not an error.
func cancelCalibration() {
	engineMu.Lock()
	as, rs := axisSession, rangeSession
	axisSession, rangeSession = nil, nil
	dev := activeDev
	activeDev = nil
	engineMu.Unlock()

	if as != nil {
		as.Cancel()
	}
	if rs != nil {
		rs.Cancel()
	}
	if dev != nil {
		_ = dev.Close()
	}
}

// engineStatus snapshots the engine for the status endpoint.
func engineStatus() Status {
	engineMu.Lock()
	defer engineMu.Unlock()

	st := Status{Phase: string(calibrate.PhaseIdle)}
	if axisSession != nil {
		st.Running = axisSession.Running()
		st.Phase = string(axisSession.Phase())
		st.Axis = string(axisSession.Axis())
		st.Samples = axisSession.SampleCount()
	} else if rangeSession != nil {
		st.Running = rangeSession.Running()
		st.Phase = string(rangeSession.Phase())
		st.Axis = string(calibrate.AxisSteering)
	}
	if activeDev != nil {
		st.Device = activeDev.Info().Path
	}
	if len(lastResults) > 0 {
		st.Results = make(map[string]*calibrate.AxisCalibration, len(lastResults))
		for axis, cal := range lastResults {
			st.Results[string(axis)] = cal
		}
	}
	if driftScheduler != nil {
		if next, running := driftScheduler.Status(); running && !next.IsZero() {
			st.DriftCheckAt = &next
		}
	}
	return st
}

// tickEngine advances the active session. Sessions are ticked outside
// engineMu so their completion hooks can take it.
func tickEngine(now time.Time) {
	engineMu.Lock()
	as, rs := axisSession, rangeSession
	engineMu.Unlock()

	if as != nil {
		as.Tick(now)
	}
	if rs != nil {
		rs.Tick(now)
	}
}
