package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/pkg/types"
)

var (
	// ErrDeviceAccess is matched by every *DeviceAccessError.
	ErrDeviceAccess = errors.New("camera access error")
	// ErrNotEnoughCameras is returned when cycling needs two devices or more.
	ErrNotEnoughCameras = errors.New("not enough cameras")
)

// DeviceAccessError reports a failed enumeration (permission denied, no hardware).
type DeviceAccessError struct {
	Err error
}

func (e *DeviceAccessError) Error() string {
	return fmt.Sprintf("%s: %v", ErrDeviceAccess, e.Err)
}

func (e *DeviceAccessError) Unwrap() []error {
	return []error{ErrDeviceAccess, e.Err}
}

// Enumerator queries the platform for available cameras.
type Enumerator interface {
	Cameras(ctx context.Context) ([]types.CameraDevice, error)
}

// EnumeratorFunc adapts a function to Enumerator.
type EnumeratorFunc func(ctx context.Context) ([]types.CameraDevice, error)

func (f EnumeratorFunc) Cameras(ctx context.Context) ([]types.CameraDevice, error) {
	return f(ctx)
}

// Directory keeps the enumerated cameras in enumeration order together with
// the currently selected camera id. An empty current id means none.
type Directory struct {
	mu         sync.RWMutex
	enumerator Enumerator
	devices    []types.CameraDevice
	currentID  string
	log        *logger.Logger
}

// NewDirectory creates a directory backed by the given enumerator.
func NewDirectory(enumerator Enumerator, log *logger.Logger) *Directory {
	return &Directory{enumerator: enumerator, log: log}
}

// Enumerate refreshes the device list. On failure the list is emptied and a
// *DeviceAccessError is returned alongside an empty slice.
func (d *Directory) Enumerate(ctx context.Context) ([]types.CameraDevice, error) {
	devices, err := d.enumerator.Cameras(ctx)
	if err != nil {
		d.log.Error("Camera", "Camera initialization error: %v", err)
		d.mu.Lock()
		d.devices = nil
		d.currentID = ""
		d.mu.Unlock()
		return []types.CameraDevice{}, &DeviceAccessError{Err: err}
	}

	list := make([]types.CameraDevice, len(devices))
	copy(list, devices)

	d.mu.Lock()
	d.devices = list
	if d.currentID != "" && indexOf(list, d.currentID) < 0 {
		d.currentID = ""
	}
	d.mu.Unlock()

	d.log.Info("Camera", "Cameras found: %d", len(list))
	return d.Devices(), nil
}

// Query asks the enumerator for the cameras without touching the stored list
// or the selection, so a running session keeps its camera.
func (d *Directory) Query(ctx context.Context) ([]types.CameraDevice, error) {
	devices, err := d.enumerator.Cameras(ctx)
	if err != nil {
		d.log.Warn("Camera", "Camera query failed: %v", err)
		return []types.CameraDevice{}, &DeviceAccessError{Err: err}
	}
	list := make([]types.CameraDevice, len(devices))
	copy(list, devices)
	return list, nil
}

// Devices returns a copy of the last enumerated list.
func (d *Directory) Devices() []types.CameraDevice {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.CameraDevice, len(d.devices))
	copy(out, d.devices)
	return out
}

// Lookup finds a device by id in the last enumerated list.
func (d *Directory) Lookup(id string) (types.CameraDevice, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i := indexOf(d.devices, id); i >= 0 {
		return d.devices[i], true
	}
	return types.CameraDevice{}, false
}

// Current returns the selected camera, if any.
func (d *Directory) Current() (types.CameraDevice, bool) {
	d.mu.RLock()
	id := d.currentID
	d.mu.RUnlock()
	if id == "" {
		return types.CameraDevice{}, false
	}
	return d.Lookup(id)
}

// CurrentID returns the selected camera id or "".
func (d *Directory) CurrentID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.currentID
}

// SetCurrent selects a camera. It reports false, leaving the selection as
// is, when id is not in the enumerated list.
func (d *Directory) SetCurrent(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if indexOf(d.devices, id) < 0 {
		return false
	}
	d.currentID = id
	return true
}

// ClearCurrent drops the selection.
func (d *Directory) ClearCurrent() {
	d.mu.Lock()
	d.currentID = ""
	d.mu.Unlock()
}

// SelectPreferred picks a rear-facing camera by label ("back" or "rear", any
// case), falling back to the first device. ok is false only for an empty list.
func SelectPreferred(devices []types.CameraDevice) (types.CameraDevice, bool) {
	if len(devices) == 0 {
		return types.CameraDevice{}, false
	}
	for _, dev := range devices {
		label := strings.ToLower(dev.Label)
		if strings.Contains(label, "back") || strings.Contains(label, "rear") {
			return dev, true
		}
	}
	return devices[0], true
}

// CycleNext returns the device following currentID, wrapping around. An
// unknown currentID counts as index 0.
func CycleNext(devices []types.CameraDevice, currentID string) (types.CameraDevice, error) {
	if len(devices) < 2 {
		return types.CameraDevice{}, ErrNotEnoughCameras
	}
	current := indexOf(devices, currentID)
	if current < 0 {
		current = 0
	}
	return devices[(current+1)%len(devices)], nil
}

func indexOf(devices []types.CameraDevice, id string) int {
	for i, dev := range devices {
		if dev.ID == id {
			return i
		}
	}
	return -1
}
