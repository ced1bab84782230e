package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/tolgayilmaz86/pedalcal/pkg/config"
	"github.com/tolgayilmaz86/pedalcal/pkg/daemon"
	"github.com/tolgayilmaz86/pedalcal/pkg/device"
	"github.com/tolgayilmaz86/pedalcal/pkg/history"
	"github.com/tolgayilmaz86/pedalcal/pkg/preset"
)

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) SetConfidenceThreshold(t float64) (string, error) {
	return c.Put("/confidence-threshold", strconv.FormatFloat(t, 'f', -1, 64))
}

func (c *Client) SetDriftTolerance(raw int) (string, error) {
	return c.Put("/drift-tolerance", strconv.Itoa(raw))
}

// SetDriftCron schedules periodic drift checks; an empty expression disables
// them.
func (c *Client) SetDriftCron(cronExpr string) (string, error) {
	payload, err := json.Marshal(cronExpr)
	if err != nil {
		return "", err
	}
	return c.Put("/drift-cron", string(payload))
}

// GetDevices lists attached game controls. With all set, every HID interface
// is returned.
func (c *Client) GetDevices(all bool) ([]device.Info, error) {
	path := "/devices"
	if all {
		path += "?all=true"
	}
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list devices")
	}

	var infos []device.Info
	if err := json.Unmarshal([]byte(ret), &infos); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal device list")
	}
	return infos, nil
}

func (c *Client) StartCalibration(req daemon.StartRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return c.Post("/calibration/start", string(payload))
}

func (c *Client) CancelCalibration() (string, error) {
	return c.Post("/calibration/cancel", "")
}

func (c *Client) GetCalibrationStatus() (*daemon.Status, error) {
	ret, err := c.Get("/calibration/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration status")
	}

	var st daemon.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration status")
	}
	return &st, nil
}

func (c *Client) StartSteeringRange(req daemon.RangeRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return c.Post("/steering-range/start", string(payload))
}

func (c *Client) ConfirmSteeringRange() (string, error) {
	return c.Post("/steering-range/confirm", "")
}

func (c *Client) RunDriftCheck() (string, error) {
	return c.Post("/drift-check", "")
}

// PostponeDriftCheck pushes the next scheduled drift check back by the given
// duration and returns the new next-run time.
func (c *Client) PostponeDriftCheck(d time.Duration) (time.Time, error) {
	payload, err := json.Marshal(d.String())
	if err != nil {
		return time.Time{}, err
	}
	ret, err := c.Post("/drift-check/postpone", string(payload))
	if err != nil {
		return time.Time{}, pkgerrors.Wrapf(err, "failed to postpone drift check")
	}
	var next time.Time
	if err := json.Unmarshal([]byte(ret), &next); err != nil {
		return time.Time{}, pkgerrors.Wrapf(err, "failed to unmarshal next run time")
	}
	return next, nil
}

// SkipDriftCheck drops the next scheduled drift check and returns the run
// after it.
func (c *Client) SkipDriftCheck() (time.Time, error) {
	ret, err := c.Post("/drift-check/skip", "")
	if err != nil {
		return time.Time{}, pkgerrors.Wrapf(err, "failed to skip drift check")
	}
	var next time.Time
	if err := json.Unmarshal([]byte(ret), &next); err != nil {
		return time.Time{}, pkgerrors.Wrapf(err, "failed to unmarshal next run time")
	}
	return next, nil
}

func (c *Client) GetHistory(limit int) ([]history.Record, error) {
	path := "/history"
	if limit > 0 {
		path = fmt.Sprintf("/history?limit=%d", limit)
	}
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration history")
	}

	var recs []history.Record
	if err := json.Unmarshal([]byte(ret), &recs); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal calibration history")
	}
	return recs, nil
}

func (c *Client) GetPreset(vid, pid uint16) (*preset.DevicePreset, error) {
	ret, err := c.Get(fmt.Sprintf("/preset?vid=%04x&pid=%04x", vid, pid))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get preset")
	}

	var p preset.DevicePreset
	if err := json.Unmarshal([]byte(ret), &p); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal preset")
	}
	return &p, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	// Remove "" around JSON string. I don't want to use a JSON decoder just for this.
	if len(ret) >= 2 {
		ret = ret[1 : len(ret)-1]
	}
	return ret, nil
}
