// Package sim provides a simulated decoder capability for headless hosts and
// tests. Decodes and decode errors are injected by hand; while scanning it
// emits the per-frame "no code in frame" chatter a real decoder produces.
package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/scanner"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/pkg/types"
)

var (
	// ErrNotScanning is returned when injecting into a capability that is not capturing.
	ErrNotScanning = errors.New("simulated scanner is not scanning")
	// ErrAlreadyRunning mirrors decoders that refuse a second Start.
	ErrAlreadyRunning = errors.New("cannot start, scanner is already running")
	// ErrNotRunning mirrors decoders that refuse Stop when not started.
	ErrNotRunning = errors.New("cannot stop, scanner is not running")
)

// frameMiss is the message a decoder reports for a frame without a code.
const frameMiss = "NotFoundException: No MultiFormat Readers were able to detect the code."

// Source builds simulated capabilities and routes injections to the most
// recently built one.
type Source struct {
	mu       sync.Mutex
	active   *Capability
	failNext error
	noise    bool
	log      *logger.Logger
}

// NewSource creates a source. With noise set, scanning capabilities report a
// frame miss at the configured fps.
func NewSource(noise bool, log *logger.Logger) *Source {
	return &Source{noise: noise, log: log}
}

// Factory returns a scanner.CapabilityFactory backed by this source.
func (s *Source) Factory() scanner.CapabilityFactory {
	return func(mountPointID string) (scanner.Capability, error) {
		c := &Capability{source: s, mount: mountPointID}
		s.mu.Lock()
		s.active = c
		s.mu.Unlock()
		s.log.Debug("Sim", "Capability created on #%s", mountPointID)
		return c, nil
	}
}

// FailNextStart makes the next Start of any capability return err.
func (s *Source) FailNextStart(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// Active returns the most recently built capability, or nil.
func (s *Source) Active() *Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// InjectDecode delivers text as a successful decode.
func (s *Source) InjectDecode(text string) error {
	c := s.Active()
	if c == nil {
		return ErrNotScanning
	}
	return c.Decode(text)
}

// InjectError delivers msg as a decode error.
func (s *Source) InjectError(msg string) error {
	c := s.Active()
	if c == nil {
		return ErrNotScanning
	}
	return c.Fail(errors.New(msg))
}

func (s *Source) takeFailure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.failNext
	s.failNext = nil
	return err
}

// Capability is a simulated camera + decoder. Callbacks are never invoked
// with the capability lock held.
type Capability struct {
	source *Source
	mount  string

	mu        sync.Mutex
	started   bool
	scanning  bool
	deviceID  string
	cfg       types.ScanConfig
	onSuccess scanner.DecodeFunc
	onError   scanner.DecodeErrorFunc
	stopNoise chan struct{}
}

// Start begins capturing on deviceID.
func (c *Capability) Start(ctx context.Context, deviceID string, cfg types.ScanConfig, onSuccess scanner.DecodeFunc, onError scanner.DecodeErrorFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.source.takeFailure(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyRunning
	}
	c.started = true
	c.deviceID = deviceID
	c.cfg = cfg.Normalize()
	c.onSuccess = onSuccess
	c.onError = onError
	c.beginLocked()

	c.source.log.Info("Sim", "Scanning on %s at %d fps (qrbox %dx%d)", deviceID, c.cfg.FPS, c.cfg.QRBox.Width, c.cfg.QRBox.Height)
	return nil
}

// Stop halts capture.
func (c *Capability) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return ErrNotRunning
	}
	c.started = false
	c.endLocked()
	c.source.log.Debug("Sim", "Stopped %s", c.deviceID)
	return nil
}

// Resume restarts capture on the last device after a Stop.
func (c *Capability) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanning || c.onSuccess == nil {
		return
	}
	c.started = true
	c.beginLocked()
	c.source.log.Debug("Sim", "Resumed %s", c.deviceID)
}

// IsScanning reports whether capture is running.
func (c *Capability) IsScanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanning
}

// Decode reports text as decoded from the current frame.
func (c *Capability) Decode(text string) error {
	c.mu.Lock()
	cb := c.onSuccess
	ok := c.scanning
	c.mu.Unlock()
	if !ok {
		return ErrNotScanning
	}
	cb(text, scanner.DecodeResult{Text: text, Format: "QR_CODE"})
	return nil
}

// Fail reports err as a decode error for the current frame.
func (c *Capability) Fail(err error) error {
	c.mu.Lock()
	cb := c.onError
	ok := c.scanning
	c.mu.Unlock()
	if !ok {
		return ErrNotScanning
	}
	cb(err)
	return nil
}

func (c *Capability) beginLocked() {
	c.scanning = true
	if !c.source.noise {
		return
	}
	stop := make(chan struct{})
	c.stopNoise = stop
	go c.emitNoise(time.Second/time.Duration(c.cfg.FPS), stop)
}

func (c *Capability) endLocked() {
	c.scanning = false
	if c.stopNoise != nil {
		close(c.stopNoise)
		c.stopNoise = nil
	}
}

func (c *Capability) emitNoise(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			cb := c.onError
			ok := c.scanning
			c.mu.Unlock()
			if !ok || cb == nil {
				continue
			}
			cb(errors.New(frameMiss))
		}
	}
}
