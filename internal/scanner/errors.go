package scanner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/camera"
)

var (
	ErrDeviceAccess     = camera.ErrDeviceAccess
	ErrNotEnoughCameras = camera.ErrNotEnoughCameras
	ErrNoCamera         = errors.New("no cameras found")
	ErrStartFailure     = errors.New("scanner start failure")
	ErrNotRunning       = errors.New("scanner not running")
	// ErrSessionCanceled is returned by a start or switch whose session was
	// stopped while it was in flight.
	ErrSessionCanceled = errors.New("scanner session canceled")
)

// Typed decode misses. Capabilities that can classify their per-frame
// failures should wrap these instead of relying on message text.
var (
	ErrNoCodeInFrame    = errors.New("NotFoundException: no QR code in frame")
	ErrPermissionDenied = errors.New("NotAllowedError: camera permission denied")
)

// Sentinel substrings of per-frame noise reported as plain messages.
var noiseMarkers = []string{"NotFoundException", "NotAllowedError"}

// StartError reports a capability that failed to start on a valid device.
type StartError struct {
	DeviceID string
	Err      error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start camera %q: %v", e.DeviceID, e.Err)
}

func (e *StartError) Unwrap() []error {
	return []error{ErrStartFailure, e.Err}
}

// IsDecodeNoise reports whether a decode error is the normal "no QR code in
// this frame" chatter that should not be surfaced.
func IsDecodeNoise(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrNoCodeInFrame) || errors.Is(err, ErrPermissionDenied) {
		return true
	}
	msg := err.Error()
	for _, marker := range noiseMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
