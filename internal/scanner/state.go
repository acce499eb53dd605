package scanner

import (
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/pkg/types"
)

// State is the session controller state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateCooldown
	StateStopping
	// StateError is never held: failures are presented and the controller
	// returns to Idle. Stop treats it like Idle.
	StateError
)

var stateNames = map[State]string{
	StateIdle:     "idle",
	StateStarting: "starting",
	StateActive:   "active",
	StateCooldown: "cooldown",
	StateStopping: "stopping",
	StateError:    "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State         State                `json:"state"`
	SessionID     string               `json:"session_id,omitempty"`
	Epoch         uint64               `json:"epoch"`
	Scanning      bool                 `json:"scanning"`
	Camera        *types.CameraDevice  `json:"camera"`
	Cameras       []types.CameraDevice `json:"cameras"`
	Config        types.ScanConfig     `json:"config"`
	CooldownMS    int64                `json:"cooldown_ms"`
	LastPayload   string               `json:"last_payload,omitempty"`
	LastDecodedAt *time.Time           `json:"last_decoded_at,omitempty"`
	StartedAt     *time.Time           `json:"started_at,omitempty"`
}
