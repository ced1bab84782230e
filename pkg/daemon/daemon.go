package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tolgayilmaz86/pedalcal/pkg/config"
	"github.com/tolgayilmaz86/pedalcal/pkg/device"
	"github.com/tolgayilmaz86/pedalcal/pkg/events"
	"github.com/tolgayilmaz86/pedalcal/pkg/history"
	"github.com/tolgayilmaz86/pedalcal/pkg/preset"
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/config", getConfig)
	router.PUT("/confidence-threshold", setConfidenceThreshold)
	router.PUT("/drift-tolerance", setDriftTolerance)
	router.PUT("/drift-cron", setDriftCron)
	router.GET("/devices", getDevices)
	router.POST("/calibration/start", postCalibrationStart)
	router.POST("/calibration/cancel", postCalibrationCancel)
	router.GET("/calibration/status", getCalibrationStatus)
	router.POST("/steering-range/start", postRangeStart)
	router.POST("/steering-range/confirm", postRangeConfirm)
	router.POST("/drift-check", postDriftCheck)
	router.POST("/drift-check/postpone", postDriftPostpone)
	router.POST("/drift-check/skip", postDriftSkip)
	router.GET("/history", getHistory)
	router.GET("/preset", getPreset)
	router.GET("/events", getEvents)
	router.GET("/monitor", getMonitor)
	router.GET("/version", getVersion)

	return router
}

func Run(configPath, presetPath, unixSocketPath string, allowNonRoot bool) error {
	router := setupRoutes()

	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			logrus.Infof("config reloaded")
		}
	}()

	hub = events.NewHub()

	presets, err = preset.Builtin()
	if err != nil {
		logrus.Fatalf("failed to load builtin presets: %v", err)
	}
	if presetPath != "" {
		if err := presets.LoadFile(presetPath); err != nil {
			logrus.Errorf("failed to load preset overrides from %s: %v", presetPath, err)
		}
	}

	store, err = history.Open(conf.HistoryPath())
	if err != nil {
		logrus.Fatalf("failed to open calibration history: %v", err)
	}

	if err := device.Init(); err != nil {
		logrus.Fatalf("failed to initialize hidapi: %v", err)
	}

	srv := &http.Server{
		Handler: router,
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// The tick loop drives active sampling sessions at the poll cadence.
	tickStop := make(chan struct{})
	go func() {
		logrus.Debugln("tick loop starts")
		ticker := time.NewTicker(time.Duration(conf.PollIntervalMs()) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				tickEngine(now)
			case <-tickStop:
				return
			}
		}
	}()

	driftScheduler = NewScheduler(runDriftCheck, driftPreCheck, func(err error) {
		logrus.WithError(err).Error("drift check scheduler")
	})
	if expr := conf.DriftCheckCron(); expr != "" {
		if err := driftScheduler.Schedule(expr); err != nil {
			logrus.Errorf("invalid drift check cron in config: %v", err)
		} else {
			driftScheduler.Start()
		}
	}

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	close(tickStop)
	driftScheduler.Stop()

	logrus.Info("canceling any active calibration")
	cancelCalibration()

	logrus.Info("closing calibration history")
	if err := store.Close(); err != nil {
		logrus.Errorf("failed to close calibration history: %v", err)
	}

	if err := device.Exit(); err != nil {
		logrus.Errorf("failed to release hidapi: %v", err)
	}

	logrus.Info("exiting")
	return nil
}
