package camera

import (
	"context"

	"github.com/pion/mediadevices"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/pkg/types"
)

// MediaDevicesEnumerator lists video inputs registered with pion/mediadevices.
// Camera drivers must be linked by the binary (blank import of
// github.com/pion/mediadevices/pkg/driver/camera).
type MediaDevicesEnumerator struct {
	// Static is returned when no driver reports a camera. Used for
	// headless hosts where the decoder addresses cameras by fixed ids.
	Static []types.CameraDevice
}

// Cameras implements Enumerator.
func (e MediaDevicesEnumerator) Cameras(ctx context.Context) ([]types.CameraDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var devices []types.CameraDevice
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind != mediadevices.VideoInput {
			continue
		}
		label := info.Label
		if label == "" {
			label = info.DeviceID
		}
		devices = append(devices, types.CameraDevice{ID: info.DeviceID, Label: label})
	}

	if len(devices) == 0 && len(e.Static) > 0 {
		devices = append(devices, e.Static...)
	}
	return devices, nil
}
