package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/camera"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/reporter"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/status"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/pkg/types"
)

// DefaultCooldown is the pause after a successful decode before scanning resumes.
const DefaultCooldown = 3000 * time.Millisecond

const defaultCameraLabel = "Default Camera"

// Options configures a Controller. Zero values get defaults.
type Options struct {
	Config     types.ScanConfig
	Cooldown   time.Duration
	MountPoint string
	Memory     CameraMemory
	Scheduler  Scheduler
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

// Controller owns the scanner session: which camera is selected, the single
// live capability instance and the cooldown after each decode.
//
// The mutex is never held across enumeration, capability Start/Stop or a
// host notification. Every asynchronous completion re-checks the state and
// the session epoch before acting.
type Controller struct {
	directory *camera.Directory
	factory   CapabilityFactory
	reporter  *reporter.Reporter
	presenter *status.Presenter

	cfg        types.ScanConfig
	cooldownD  time.Duration
	mountPoint string
	memory     CameraMemory
	scheduler  Scheduler
	metrics    *metrics.Metrics
	log        *logger.Logger

	mu            sync.Mutex
	state         State
	epoch         uint64
	sessionID     string
	capability    Capability
	cooldown      Timer
	lastPayload   string
	lastDecodedAt time.Time
	startedAt     time.Time
}

// NewController wires a controller. It starts Idle.
func NewController(dir *camera.Directory, factory CapabilityFactory, rep *reporter.Reporter, presenter *status.Presenter, opts Options) *Controller {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.MountPoint == "" {
		opts.MountPoint = DefaultMountPoint
	}
	if opts.Scheduler == nil {
		opts.Scheduler = wallScheduler{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Config.FPS == 0 && opts.Config.QRBox == (types.QRBox{}) {
		opts.Config = types.DefaultScanConfig()
	}

	return &Controller{
		directory:  dir,
		factory:    factory,
		reporter:   rep,
		presenter:  presenter,
		cfg:        opts.Config.Normalize(),
		cooldownD:  opts.Cooldown,
		mountPoint: opts.MountPoint,
		memory:     opts.Memory,
		scheduler:  opts.Scheduler,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		state:      StateIdle,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the controller state for status endpoints.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		State:       c.state,
		SessionID:   c.sessionID,
		Epoch:       c.epoch,
		Config:      c.cfg,
		CooldownMS:  c.cooldownD.Milliseconds(),
		LastPayload: c.lastPayload,
	}
	if c.capability != nil {
		snap.Scanning = c.capability.IsScanning()
	}
	if !c.lastDecodedAt.IsZero() {
		t := c.lastDecodedAt
		snap.LastDecodedAt = &t
	}
	if !c.startedAt.IsZero() && c.state != StateIdle {
		t := c.startedAt
		snap.StartedAt = &t
	}
	c.mu.Unlock()

	if cur, ok := c.directory.Current(); ok {
		snap.Camera = &cur
	}
	snap.Cameras = c.directory.Devices()
	return snap
}

// Start enumerates cameras, picks one and starts the capability on it.
// It is a no-op while a session is already running or changing state.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		c.log.Info("Scanner", "Scanner already running (state=%s)", state)
		return nil
	}
	c.state = StateStarting
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	c.metrics.StartsRequested.Add(1)

	devices, enumErr := c.directory.Enumerate(ctx)
	if enumErr != nil {
		c.metrics.AccessErrors.Add(1)
		c.presenter.Present("Camera access error: "+causeOf(enumErr), types.LevelError)
	}
	if c.canceled(epoch) {
		return c.finishCanceled(ctx, nil, false, false)
	}
	if len(devices) == 0 {
		if !c.settle(epoch, StateIdle) {
			return c.finishCanceled(ctx, nil, false, false)
		}
		c.directory.ClearCurrent()
		c.metrics.NoCameraErrors.Add(1)
		c.presenter.Present("No cameras found on this device", types.LevelError)
		if enumErr != nil {
			return enumErr
		}
		return ErrNoCamera
	}

	selected := c.choose(ctx, devices)
	if !c.directory.SetCurrent(selected.ID) {
		c.log.Warn("Scanner", "Selected camera %s vanished from the directory", selected.ID)
	}

	capability, err := c.factory(c.mountPoint)
	if err != nil {
		return c.failStart(ctx, epoch, selected.ID, err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return c.finishCanceled(ctx, nil, false, false)
	}
	c.capability = capability
	c.mu.Unlock()

	err = capability.Start(ctx, selected.ID, c.cfg, c.decodeHandler(capability), c.handleDecodeError)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return c.finishCanceled(ctx, capability, err == nil, false)
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Error("Scanner", "Failed to start scanner: %v", err)
		return c.failStart(ctx, epoch, selected.ID, err)
	}
	c.state = StateActive
	c.sessionID = uuid.NewString()
	c.startedAt = time.Now()
	sessionID := c.sessionID
	c.mu.Unlock()

	c.metrics.StartsSucceeded.Add(1)
	c.metrics.SetSessionActive(true)
	c.log.Info("Scanner", "Session %s active on %s (%s)", sessionID, selected.ID, labelOf(selected))
	c.presenter.Present("Scanner active - Using: "+labelOf(selected), types.LevelSuccess)
	c.reporter.ReportSessionActive(true)
	c.remember(ctx, selected)
	return nil
}

// Stop tears the session down. Stopping an idle controller only reports
// that the scanner is not running.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateError:
		c.mu.Unlock()
		c.presenter.Present("Scanner not running", types.LevelInfo)
		return ErrNotRunning

	case StateStopping:
		c.mu.Unlock()
		c.log.Debug("Scanner", "Stop already in progress")
		return nil

	case StateStarting:
		// The in-flight start or switch notices the new epoch when it
		// resolves and tears its capability down.
		c.state = StateStopping
		c.epoch++
		c.mu.Unlock()
		c.log.Info("Scanner", "Stop requested while starting")
		return nil

	case StateCooldown:
		// Normally the decode already paused the capability. If it is
		// still capturing, fall through to a full teardown.
		if c.capability == nil || !c.capability.IsScanning() {
			c.epoch++
			c.cancelCooldownLocked()
			c.state = StateIdle
			c.capability = nil
			c.sessionID = ""
			c.mu.Unlock()
			c.stopped(true)
			return nil
		}
	}

	capability := c.capability
	if capability == nil || !capability.IsScanning() {
		c.epoch++
		c.state = StateIdle
		c.capability = nil
		c.sessionID = ""
		c.mu.Unlock()
		c.directory.ClearCurrent()
		c.metrics.SetSessionActive(false)
		c.presenter.Present("Scanner not running", types.LevelInfo)
		c.reporter.ReportSessionActive(false)
		return ErrNotRunning
	}

	c.state = StateStopping
	c.epoch++
	c.cancelCooldownLocked()
	c.mu.Unlock()

	if err := capability.Stop(ctx); err != nil {
		c.mu.Lock()
		c.state = StateActive
		c.mu.Unlock()
		c.log.Error("Scanner", "Error stopping scanner: %v", err)
		c.presenter.Present("Error stopping scanner: "+err.Error(), types.LevelError)
		return fmt.Errorf("stop scanner: %w", err)
	}

	c.mu.Lock()
	c.state = StateIdle
	c.capability = nil
	c.sessionID = ""
	c.mu.Unlock()
	c.stopped(true)
	return nil
}

// SwitchCamera moves a running session to the next enumerated camera.
func (c *Controller) SwitchCamera(ctx context.Context) error {
	c.mu.Lock()
	capability := c.capability
	if c.state != StateActive || capability == nil || !capability.IsScanning() {
		c.mu.Unlock()
		c.presenter.Present("Start scanner first to switch cameras", types.LevelWarning)
		return ErrNotRunning
	}
	c.state = StateStarting
	epoch := c.epoch
	c.mu.Unlock()

	devices := c.directory.Devices()
	if len(devices) == 0 {
		var err error
		devices, err = c.directory.Enumerate(ctx)
		if err != nil {
			c.metrics.AccessErrors.Add(1)
			c.presenter.Present("Camera access error: "+causeOf(err), types.LevelError)
		}
	}
	if c.canceled(epoch) {
		return c.finishCanceled(ctx, capability, true, true)
	}

	next, err := camera.CycleNext(devices, c.directory.CurrentID())
	if err != nil {
		if !c.settle(epoch, StateActive) {
			return c.finishCanceled(ctx, capability, true, true)
		}
		c.presenter.Present("Only one camera available", types.LevelWarning)
		return err
	}

	if err := capability.Stop(ctx); err != nil {
		if !c.settle(epoch, StateActive) {
			return c.finishCanceled(ctx, capability, true, true)
		}
		c.metrics.SwitchFailures.Add(1)
		c.presenter.Present("Error switching camera: "+err.Error(), types.LevelError)
		return fmt.Errorf("stop before switch: %w", err)
	}
	if c.canceled(epoch) {
		return c.finishCanceled(ctx, capability, false, true)
	}

	if !c.directory.SetCurrent(next.ID) {
		c.log.Warn("Scanner", "Switch target %s vanished from the directory", next.ID)
	}
	err = capability.Start(ctx, next.ID, c.cfg.ForRestart(), c.decodeHandler(capability), c.handleDecodeError)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return c.finishCanceled(ctx, capability, err == nil, true)
	}
	if err != nil {
		c.epoch++
		c.state = StateIdle
		c.capability = nil
		c.sessionID = ""
		c.mu.Unlock()
		c.directory.ClearCurrent()
		c.metrics.SwitchFailures.Add(1)
		c.metrics.SetSessionActive(false)
		c.log.Error("Scanner", "Error switching camera: %v", err)
		c.presenter.Present("Error switching camera: "+err.Error(), types.LevelError)
		c.reporter.ReportSessionActive(false)
		return &StartError{DeviceID: next.ID, Err: err}
	}
	c.state = StateActive
	c.mu.Unlock()

	c.metrics.Switches.Add(1)
	c.log.Info("Scanner", "Switched to %s (%s)", next.ID, labelOf(next))
	c.presenter.Present("Switched to: "+labelOf(next), types.LevelSuccess)
	c.remember(ctx, next)
	return nil
}

func (c *Controller) decodeHandler(capability Capability) DecodeFunc {
	return func(decodedText string, _ DecodeResult) {
		c.handleDecoded(capability, decodedText)
	}
}

// handleDecoded honors only the first decode of an active period: the state
// flips to Cooldown under the lock before anything else happens.
func (c *Controller) handleDecoded(capability Capability, text string) {
	c.mu.Lock()
	if c.state != StateActive || c.capability != capability {
		state := c.state
		c.mu.Unlock()
		c.log.Debug("Scanner", "Ignoring decode in state %s", state)
		return
	}
	c.state = StateCooldown
	epoch := c.epoch
	c.lastPayload = text
	c.lastDecodedAt = time.Now()
	c.mu.Unlock()

	c.log.Info("Scanner", "QR Code scanned successfully: %s", text)

	pauseErr := capability.Stop(context.Background())

	c.metrics.Decodes.Add(1)
	c.reporter.ReportDecoded(text)

	if pauseErr != nil {
		// Still capturing: no cooldown, keep scanning.
		c.mu.Lock()
		if c.epoch == epoch && c.state == StateCooldown {
			c.state = StateActive
		}
		c.mu.Unlock()
		c.metrics.PauseFailures.Add(1)
		c.log.Error("Scanner", "Pause after decode failed: %v", pauseErr)
		c.presenter.Present("Error pausing scanner: "+pauseErr.Error(), types.LevelError)
		return
	}

	c.presenter.Present("QR Code detected!", types.LevelSuccess)
	c.presenter.ShowResult(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.state != StateCooldown {
		return
	}
	c.cooldown = c.scheduler.AfterFunc(c.cooldownD, func() { c.resume(epoch) })
}

// resume ends a cooldown. A timer from an older session, or one whose
// capability is gone or already scanning again, does nothing.
func (c *Controller) resume(epoch uint64) {
	c.mu.Lock()
	capability := c.capability
	if c.epoch != epoch || c.state != StateCooldown || capability == nil || capability.IsScanning() {
		c.mu.Unlock()
		c.metrics.StaleResumes.Add(1)
		c.log.Debug("Scanner", "Discarding stale resume for epoch %d", epoch)
		return
	}
	c.cooldown = nil
	c.state = StateActive
	capability.Resume()
	c.mu.Unlock()

	c.metrics.Resumes.Add(1)
	c.presenter.Present("Scanner resumed - ready for next scan", types.LevelSuccess)
	c.presenter.HideResult()
}

func (c *Controller) handleDecodeError(err error) {
	if IsDecodeNoise(err) {
		c.metrics.DecodeNoise.Add(1)
		return
	}
	c.metrics.DecodeDiagnostics.Add(1)
	c.log.Info("Scanner", "Scan error: %v", err)
}

func (c *Controller) choose(ctx context.Context, devices []types.CameraDevice) types.CameraDevice {
	if c.cfg.RememberLastCamera && c.memory != nil {
		id, err := c.memory.LastCamera(ctx)
		if err != nil {
			c.log.Warn("Scanner", "Reading last camera failed: %v", err)
		}
		for _, dev := range devices {
			if id != "" && dev.ID == id {
				return dev
			}
		}
	}
	selected, _ := camera.SelectPreferred(devices)
	return selected
}

func (c *Controller) remember(ctx context.Context, device types.CameraDevice) {
	if !c.cfg.RememberLastCamera || c.memory == nil {
		return
	}
	if err := c.memory.RememberCamera(ctx, device); err != nil {
		c.log.Warn("Scanner", "Remembering camera %s failed: %v", device.ID, err)
	}
}

func (c *Controller) canceled(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch != epoch
}

// settle moves an in-flight start or switch to target. It reports false when
// a stop arrived meanwhile; the caller then finishes with finishCanceled.
func (c *Controller) settle(epoch uint64, target State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.state = target
	if target == StateIdle {
		c.capability = nil
		c.sessionID = ""
	}
	return true
}

func (c *Controller) failStart(ctx context.Context, epoch uint64, deviceID string, err error) error {
	if !c.settle(epoch, StateIdle) {
		return c.finishCanceled(ctx, nil, false, false)
	}
	c.directory.ClearCurrent()
	c.metrics.StartFailures.Add(1)
	c.presenter.Present("Failed to start camera: "+err.Error(), types.LevelError)
	return &StartError{DeviceID: deviceID, Err: err}
}

// finishCanceled completes a start or switch whose session was stopped while
// it was in flight. running tells whether the capability is still capturing;
// wasActive whether the host was ever told the session is active.
func (c *Controller) finishCanceled(ctx context.Context, capability Capability, running, wasActive bool) error {
	if capability != nil && running {
		if err := capability.Stop(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn("Scanner", "Tearing down canceled session failed: %v", err)
		}
	}

	c.mu.Lock()
	if c.state == StateStopping {
		c.state = StateIdle
		c.capability = nil
		c.sessionID = ""
	}
	c.mu.Unlock()

	c.stopped(wasActive)
	return ErrSessionCanceled
}

// stopped presents the end of a session. scanner_active=false is only pushed
// for a session the host saw go active.
func (c *Controller) stopped(wasActive bool) {
	c.directory.ClearCurrent()
	c.metrics.SetSessionActive(false)
	c.presenter.Present("Scanner stopped", types.LevelInfo)
	if !wasActive {
		return
	}
	c.metrics.Stops.Add(1)
	c.reporter.ReportSessionActive(false)
}

func (c *Controller) cancelCooldownLocked() {
	if c.cooldown != nil {
		c.cooldown.Stop()
		c.cooldown = nil
	}
}

func labelOf(dev types.CameraDevice) string {
	if dev.Label == "" {
		return defaultCameraLabel
	}
	return dev.Label
}

// causeOf strips the access sentinel so status lines show the platform message.
func causeOf(err error) string {
	var accessErr *camera.DeviceAccessError
	if errors.As(err, &accessErr) && accessErr.Err != nil {
		return accessErr.Err.Error()
	}
	return err.Error()
}
