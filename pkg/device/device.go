// Package device provides the HID transport layer: enumeration and opened
// read sessions. It is the only package that touches the hidapi bindings;
// the calibration engine consumes it through the calibrate.DeviceSession
// interface.
package device

import (
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sstallion/go-hid"

	"github.com/tolgayilmaz86/pedalcal/pkg/calibrate"
	"github.com/tolgayilmaz86/pedalcal/pkg/report"
)

// Usage page and usage IDs from the HID usage tables, used to pick out
// game controls among all attached HID interfaces.
const (
	usagePageGenericDesktop = 0x01
	usageJoystick           = 0x04
	usageGamepad            = 0x05
	usageMultiAxis          = 0x08
)

// Info describes an attached HID device.
type Info struct {
	Path         string `json:"path"`
	VendorID     uint16 `json:"vendorId"`
	ProductID    uint16 `json:"productId"`
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
	UsagePage    uint16 `json:"usagePage"`
	Usage        uint16 `json:"usage"`
}

// IsGameControl reports whether the interface looks like a wheel, pedal set
// or other game control rather than a keyboard or mouse.
func (i Info) IsGameControl() bool {
	if i.UsagePage != usagePageGenericDesktop {
		return false
	}
	return i.Usage == usageJoystick || i.Usage == usageGamepad || i.Usage == usageMultiAxis
}

// Init initializes the hidapi library. Call once before enumeration or open.
func Init() error {
	return hid.Init()
}

// Exit releases the hidapi library.
func Exit() error {
	return hid.Exit()
}

// Enumerate lists attached HID devices. With onlyGameControls set, devices
// that do not look like game controls are filtered out.
func Enumerate(onlyGameControls bool) ([]Info, error) {
	var infos []Info
	err := hid.Enumerate(0, 0, func(di *hid.DeviceInfo) error {
		info := Info{
			Path:         di.Path,
			VendorID:     di.VendorID,
			ProductID:    di.ProductID,
			Manufacturer: di.MfrStr,
			Product:      di.ProductStr,
			UsagePage:    di.UsagePage,
			Usage:        di.Usage,
		}
		if onlyGameControls && !info.IsGameControl() {
			return nil
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to enumerate HID devices")
	}
	return infos, nil
}

var _ calibrate.DeviceSession = (*Session)(nil)

// Session is an opened HID read session. Reads hold a single in-order queue
// cursor, so only one consumer may read during a calibration; the daemon
// enforces that with a busy guard around session ownership.
type Session struct {
	mu   sync.Mutex
	dev  *hid.Device
	info Info
	open bool
}

// Open opens the device at the given platform path.
func Open(path string) (*Session, error) {
	dev, err := hid.OpenPath(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open HID device %s", path)
	}
	return newSession(dev)
}

// OpenVIDPID opens the first device matching the vendor and product IDs.
func OpenVIDPID(vid, pid uint16) (*Session, error) {
	dev, err := hid.OpenFirst(vid, pid)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open HID device %04x:%04x", vid, pid)
	}
	return newSession(dev)
}

func newSession(dev *hid.Device) (*Session, error) {
	// Non-blocking mode makes plain Read an immediate drain; bounded waits
	// go through ReadWithTimeout.
	if err := dev.SetNonblock(true); err != nil {
		_ = dev.Close()
		return nil, pkgerrors.Wrap(err, "failed to set non-blocking mode")
	}

	s := &Session{dev: dev, open: true}
	if di, err := dev.GetDeviceInfo(); err == nil {
		s.info = Info{
			Path:         di.Path,
			VendorID:     di.VendorID,
			ProductID:    di.ProductID,
			Manufacturer: di.MfrStr,
			Product:      di.ProductStr,
			UsagePage:    di.UsagePage,
			Usage:        di.Usage,
		}
	}
	return s, nil
}

// Info returns the descriptor of the opened device.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// IsOpen reports whether the session is usable.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// ReadLatest drains up to maxReads queued reports and returns the newest,
// or nil if the queue was empty. Draining discards stale reports a device
// may have queued between polls.
func (s *Session) ReadLatest(reportLen, maxReads int) (report.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, calibrate.ErrDeviceNotReady
	}

	var latest report.Report
	buf := make([]byte, reportLen)
	for i := 0; i < maxReads; i++ {
		n, err := s.dev.Read(buf)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "HID read failed")
		}
		if n == 0 {
			break
		}
		latest = make(report.Report, n)
		copy(latest, buf[:n])
	}
	return latest, nil
}

// ReadBlocking performs a single read bounded by the given timeout and
// returns nil when nothing arrived in time.
func (s *Session) ReadBlocking(reportLen int, timeout time.Duration) (report.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, calibrate.ErrDeviceNotReady
	}

	buf := make([]byte, reportLen)
	n, err := s.dev.ReadWithTimeout(buf, timeout)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "HID read failed")
	}
	if n == 0 {
		return nil, nil
	}
	r := make(report.Report, n)
	copy(r, buf[:n])
	return r, nil
}

// Close closes the underlying device. Further reads fail with
// ErrDeviceNotReady.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	return s.dev.Close()
}
