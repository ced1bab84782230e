package daemon

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tolgayilmaz86/pedalcal/pkg/calibrate"
	"github.com/tolgayilmaz86/pedalcal/pkg/report"
)

var upgrader = websocket.Upgrader{
	// The daemon only listens on a local unix socket; origin checks do not
	// apply there.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// monitorFrame is one decoded sample pushed to a monitor client.
type monitorFrame struct {
	Value  int64 `json:"value"`
	Offset int   `json:"offset"`
	Width  int   `json:"width"`
	Ts     int64 `json:"ts"`
}

// getMonitor streams decoded axis values over a websocket so a client can
// watch a control live, e.g. to verify a calibration by eye. Query
// parameters: path (device), offset and width (encoding). The stream refuses
// to start while a calibration owns the device read cursor.
func getMonitor(c *gin.Context) {
	path := c.Query("path")
	offset, err1 := strconv.Atoi(c.DefaultQuery("offset", "0"))
	width, err2 := strconv.Atoi(c.DefaultQuery("width", "8"))
	w := report.Width(width)
	if path == "" || err1 != nil || err2 != nil || offset < 0 || !w.Valid() {
		c.IndentedJSON(http.StatusBadRequest, "monitor requires path, offset and width (8, 16 or 32) query parameters")
		return
	}

	engineMu.Lock()
	if busyLocked() {
		engineMu.Unlock()
		c.IndentedJSON(http.StatusConflict, "calibration in progress")
		return
	}
	engineMu.Unlock()

	dev, err := openDevicePath(path)
	if err != nil {
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		return
	}
	defer func() { _ = dev.Close() }()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("monitor websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	// Read side only carries the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := time.Duration(conf.PollIntervalMs()) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"device": path,
		"offset": offset,
		"width":  width,
	}).Debug("monitor stream started")

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r, err := dev.ReadLatest(calibrate.DefaultReportLen, calibrate.DefaultDrainLimit)
			if err != nil {
				logrus.WithError(err).Debug("monitor read failed, closing stream")
				return
			}
			if len(r) == 0 {
				continue
			}
			v, ok := report.DecodeLE(r, offset, w)
			if !ok {
				continue
			}
			frame := monitorFrame{Value: v, Offset: offset, Width: width, Ts: time.Now().UnixMilli()}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}
