package scanner

import (
	"context"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/pkg/types"
)

// DefaultMountPoint is the element id handed to new capability instances.
const DefaultMountPoint = "qr-reader"

// DecodeResult carries what the decoder knows about a successful read.
type DecodeResult struct {
	Text   string `json:"text"`
	Format string `json:"format,omitempty"`
}

// DecodeFunc is called for every successfully decoded frame.
type DecodeFunc func(decodedText string, result DecodeResult)

// DecodeErrorFunc is called for frames that could not be decoded.
type DecodeErrorFunc func(err error)

// Capability is the external camera capture + QR decoding engine.
//
// Stop must be safe to call from inside a DecodeFunc. Resume and IsScanning
// must not block and must not invoke callbacks synchronously.
type Capability interface {
	Start(ctx context.Context, deviceID string, cfg types.ScanConfig, onSuccess DecodeFunc, onError DecodeErrorFunc) error
	Stop(ctx context.Context) error
	Resume()
	IsScanning() bool
}

// CapabilityFactory constructs a capability bound to a mount point.
type CapabilityFactory func(mountPointID string) (Capability, error)

// CameraMemory remembers the last camera a session ran on.
type CameraMemory interface {
	LastCamera(ctx context.Context) (string, error)
	RememberCamera(ctx context.Context, device types.CameraDevice) error
}

// Timer is a scheduled callback that can be canceled.
type Timer interface {
	Stop() bool
}

// Scheduler arms one-shot timers. The cooldown uses it so tests can fire
// timers by hand.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
