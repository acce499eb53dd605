package types

// CameraDevice is one enumerated camera. Identity is by ID.
type CameraDevice struct {
	ID    string `json:"id"`    // Opaque platform device identifier
	Label string `json:"label"` // Human-readable device name
}

// ScanType selects the input the decoder capability scans from.
type ScanType int

// ScanTypeCamera scans live camera frames. It is the only type a session uses.
const ScanTypeCamera ScanType = 0

// QRBox is the detection region in pixels.
type QRBox struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScanConfig is handed to the decoder capability on every start.
// It matches the capability's wire shape.
type ScanConfig struct {
	FPS                int        `json:"fps"`
	QRBox              QRBox      `json:"qrbox"`
	RememberLastCamera bool       `json:"rememberLastUsedCamera"`
	SupportedScanTypes []ScanType `json:"supportedScanTypes,omitempty"`
}

// Scan defaults
const (
	DefaultFPS         = 10
	DefaultQRBoxWidth  = 250
	DefaultQRBoxHeight = 250
)

// DefaultScanConfig returns the configuration used for a fresh session.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		FPS:                DefaultFPS,
		QRBox:              QRBox{Width: DefaultQRBoxWidth, Height: DefaultQRBoxHeight},
		RememberLastCamera: true,
		SupportedScanTypes: []ScanType{ScanTypeCamera},
	}
}

// Normalize fills zero or negative fields with defaults.
func (c ScanConfig) Normalize() ScanConfig {
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.QRBox.Width <= 0 {
		c.QRBox.Width = DefaultQRBoxWidth
	}
	if c.QRBox.Height <= 0 {
		c.QRBox.Height = DefaultQRBoxHeight
	}
	return c
}

// ForRestart returns the config used when the capability is restarted on
// another camera. The scan type list is not resent.
func (c ScanConfig) ForRestart() ScanConfig {
	c.SupportedScanTypes = nil
	return c
}

// Level is the severity of a status notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)
