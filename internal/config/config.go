// Package config holds the scanner service runtime configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/pkg/types"
)

// Config defines the runtime configuration for the scanner service.
// Environment variables only override fields they are set for.
type Config struct {
	Addr            string        `env:"QRSCAN_ADDR"`
	LogLevel        string        `env:"QRSCAN_LOG_LEVEL"`
	LogColor        bool          `env:"QRSCAN_LOG_COLOR"`
	DBPath          string        `env:"QRSCAN_DB_PATH"`
	RequestTimeout  time.Duration `env:"QRSCAN_REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"QRSCAN_SHUTDOWN_TIMEOUT"`

	FPS                int           `env:"QRSCAN_FPS"`
	QRBoxWidth         int           `env:"QRSCAN_QRBOX_WIDTH"`
	QRBoxHeight        int           `env:"QRSCAN_QRBOX_HEIGHT"`
	RememberLastCamera bool          `env:"QRSCAN_REMEMBER_LAST_CAMERA"`
	Cooldown           time.Duration `env:"QRSCAN_COOLDOWN"`

	// StaticCameras are "id=label" pairs used when no camera driver reports
	// a device.
	StaticCameras []string `env:"QRSCAN_STATIC_CAMERAS" envSeparator:","`
	SimNoise      bool     `env:"QRSCAN_SIM_NOISE"`
	Debug         bool     `env:"QRSCAN_DEBUG_ENDPOINTS"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8090",
		LogLevel:           "info",
		LogColor:           true,
		DBPath:             "./qr-scanner.db",
		RequestTimeout:     15 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		FPS:                types.DefaultFPS,
		QRBoxWidth:         types.DefaultQRBoxWidth,
		QRBoxHeight:        types.DefaultQRBoxHeight,
		RememberLastCamera: true,
		Cooldown:           3000 * time.Millisecond,
		SimNoise:           true,
	}
}

// Load returns DefaultConfig overlaid with QRSCAN_* environment variables.
func Load() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks values that cannot be normalized away.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.FPS <= 0 {
		errs = append(errs, fmt.Errorf("fps must be positive, got %d", c.FPS))
	}
	if c.QRBoxWidth <= 0 || c.QRBoxHeight <= 0 {
		errs = append(errs, fmt.Errorf("qrbox must be positive, got %dx%d", c.QRBoxWidth, c.QRBoxHeight))
	}
	if c.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("cooldown must be positive, got %v", c.Cooldown))
	}
	if _, err := c.StaticDevices(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ScanConfig returns the capability configuration for a fresh session.
func (c Config) ScanConfig() types.ScanConfig {
	sc := types.DefaultScanConfig()
	sc.FPS = c.FPS
	sc.QRBox = types.QRBox{Width: c.QRBoxWidth, Height: c.QRBoxHeight}
	sc.RememberLastCamera = c.RememberLastCamera
	return sc.Normalize()
}

// StaticDevices parses StaticCameras. A pair without "=" uses the id as label.
func (c Config) StaticDevices() ([]types.CameraDevice, error) {
	var devices []types.CameraDevice
	for _, raw := range c.StaticCameras {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, label, found := strings.Cut(raw, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("static camera %q: empty id", raw)
		}
		if found {
			label = strings.TrimSpace(label)
		} else {
			label = id
		}
		devices = append(devices, types.CameraDevice{ID: id, Label: label})
	}
	return devices, nil
}
