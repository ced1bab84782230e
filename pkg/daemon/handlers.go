package daemon

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tolgayilmaz86/pedalcal/pkg/calibrate"
	"github.com/tolgayilmaz86/pedalcal/pkg/config"
	"github.com/tolgayilmaz86/pedalcal/pkg/version"
)

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func setConfidenceThreshold(c *gin.Context) {
	var t float64
	if err := c.BindJSON(&t); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if t <= 0 {
		err := fmt.Errorf("confidence threshold must be positive, got %v", t)
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	conf.SetConfidenceThreshold(t)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set confidence threshold to %v", t)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("set confidence threshold to %v", t))
}

func setDriftTolerance(c *gin.Context) {
	var tol int
	if err := c.BindJSON(&tol); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if tol < 0 {
		err := fmt.Errorf("drift tolerance must not be negative, got %d", tol)
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	conf.SetDriftToleranceRaw(tol)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set drift tolerance to %d raw units", tol)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("set drift tolerance to %d raw units", tol))
}

func setDriftCron(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	nextRuns, err := scheduleDriftCheck(expr)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, nextRuns)
}

func getDevices(c *gin.Context) {
	all := c.Query("all") == "true"
	infos, err := enumerateDevices(!all)
	if err != nil {
		logrus.Errorf("getDevices failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, infos)
}

func postCalibrationStart(c *gin.Context) {
	var req StartRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := startAxisCalibration(req); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, calibrate.ErrSessionAlreadyActive) {
			status = http.StatusConflict
		}
		c.IndentedJSON(status, err.Error())
		_ = c.AbortWithError(status, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("calibration of %s started", req.Axis))
}

func postCalibrationCancel(c *gin.Context) {
	cancelCalibration()
	c.IndentedJSON(http.StatusOK, "calibration canceled")
}

func getCalibrationStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, engineStatus())
}

func postRangeStart(c *gin.Context) {
	var req RangeRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := startRangeCalibration(req); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, calibrate.ErrSessionAlreadyActive) {
			status = http.StatusConflict
		}
		c.IndentedJSON(status, err.Error())
		_ = c.AbortWithError(status, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, "steering range calibration started")
}

func postRangeConfirm(c *gin.Context) {
	if err := confirmRange(); err != nil {
		c.IndentedJSON(http.StatusConflict, err.Error())
		_ = c.AbortWithError(http.StatusConflict, err)
		return
	}
	c.IndentedJSON(http.StatusOK, "confirmed")
}

func getHistory(c *gin.Context) {
	limit := 20
	if q := c.Query("limit"); q != "" {
		l, err := strconv.Atoi(q)
		if err != nil {
			c.IndentedJSON(http.StatusBadRequest, err.Error())
			_ = c.AbortWithError(http.StatusBadRequest, err)
			return
		}
		limit = l
	}

	recs, err := store.Recent(limit)
	if err != nil {
		logrus.Errorf("getHistory failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, recs)
}

func getPreset(c *gin.Context) {
	vid, err1 := strconv.ParseUint(c.Query("vid"), 16, 16)
	pid, err2 := strconv.ParseUint(c.Query("pid"), 16, 16)
	if err1 != nil || err2 != nil {
		err := fmt.Errorf("vid and pid query parameters must be 16-bit hex values")
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	p, ok := presets.Lookup(uint16(vid), uint16(pid))
	if !ok {
		c.IndentedJSON(http.StatusNotFound, fmt.Sprintf("no preset for %04x:%04x", vid, pid))
		return
	}
	c.IndentedJSON(http.StatusOK, p)
}

func postDriftPostpone(c *gin.Context) {
	var raw string
	if err := c.BindJSON(&raw); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	next, err := postponeDriftCheck(d)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusOK, next)
}

func postDriftSkip(c *gin.Context) {
	next, err := skipDriftCheck()
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusOK, next)
}

func postDriftCheck(c *gin.Context) {
	if err := driftPreCheck(); err != nil {
		c.IndentedJSON(http.StatusConflict, err.Error())
		_ = c.AbortWithError(http.StatusConflict, err)
		return
	}
	if err := runDriftCheck(); err != nil {
		logrus.Errorf("drift check failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, "drift check complete")
}

// getEvents streams daemon events to the client as SSE until it hangs up.
func getEvents(c *gin.Context) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
