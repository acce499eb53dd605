package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/pion/mediadevices/pkg/driver/camera" // Register V4L2/AVFoundation camera drivers

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/camera"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/capability/sim"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/hostbridge"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/preference"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/reporter"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/scanner"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/status"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/webapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	var staticCameras string
	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Camera preference database path (empty disables)")
	flag.IntVar(&cfg.FPS, "fps", cfg.FPS, "Decoder frames per second")
	flag.IntVar(&cfg.QRBoxWidth, "qrbox-width", cfg.QRBoxWidth, "Detection box width in pixels")
	flag.IntVar(&cfg.QRBoxHeight, "qrbox-height", cfg.QRBoxHeight, "Detection box height in pixels")
	flag.BoolVar(&cfg.RememberLastCamera, "remember-camera", cfg.RememberLastCamera, "Prefer the last used camera")
	flag.DurationVar(&cfg.Cooldown, "cooldown", cfg.Cooldown, "Pause after a decode before scanning resumes")
	flag.StringVar(&staticCameras, "cameras", "", "Fallback cameras as id=label pairs (comma-separated)")
	flag.BoolVar(&cfg.SimNoise, "sim-noise", cfg.SimNoise, "Emit per-frame decode misses from the simulated decoder")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable /api/debug/decode")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "Enable colored log output")
	flag.Parse()

	if staticCameras != "" {
		cfg.StaticCameras = splitList(staticCameras)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(level, os.Stderr, cfg.LogColor)
	lg := logger.Default()

	logger.Info("Main", "QR scanner service starting...")
	logger.Info("Main", "Log level: %s", lg.GetLevel())
	logger.Debug("Main", "Configuration: %+v", cfg)

	if err := run(cfg, lg); err != nil {
		logger.Error("Main", "Server error: %v", err)
		os.Exit(1)
	}
	logger.Info("Main", "Server stopped")
}

func run(cfg config.Config, lg *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var memory scanner.CameraMemory
	if cfg.DBPath != "" {
		store, err := preference.Open(ctx, cfg.DBPath, lg)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("Main", "Closing preference store: %v", err)
			}
		}()
		memory = store
	}

	static, _ := cfg.StaticDevices()
	dir := camera.NewDirectory(camera.MediaDevicesEnumerator{Static: static}, lg)

	hub := hostbridge.NewHub(m, lg)
	defer hub.Close()

	source := sim.NewSource(cfg.SimNoise, lg)
	ctrl := scanner.NewController(dir, source.Factory(), reporter.New(hub), status.NewPresenter(hub), scanner.Options{
		Config:   cfg.ScanConfig(),
		Cooldown: cfg.Cooldown,
		Memory:   memory,
		Metrics:  m,
		Logger:   lg,
	})

	opts := webapi.Options{
		Controller:     ctrl,
		Cameras:        dir,
		Hub:            hub,
		Metrics:        m,
		Logger:         lg,
		RequestTimeout: cfg.RequestTimeout,
	}
	if cfg.Debug {
		opts.Injector = source
	}
	api := webapi.New(opts)

	// Enumerate once at boot so the camera list is known before the first start.
	if devices, err := dir.Enumerate(ctx); err != nil {
		logger.Warn("Main", "Initial camera enumeration failed: %v", err)
	} else if preferred, ok := camera.SelectPreferred(devices); ok {
		logger.Info("Main", "Preferred camera: %s (%s)", preferred.ID, preferred.Label)
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Main", "HTTP server listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Main", "Shutting down...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := ctrl.Stop(shutdownCtx); err != nil && !errors.Is(err, scanner.ErrNotRunning) {
		logger.Warn("Main", "Stopping scanner: %v", err)
	}
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
