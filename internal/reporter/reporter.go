package reporter

import "strconv"

// Host channel names.
const (
	ChannelScannedContent = "qr_scanned_content"
	ChannelScannerActive  = "scanner_active"
)

// Host receives named values pushed to the host application.
type Host interface {
	SetInputValue(name, value string)
}

// Reporter delivers decoded payloads and the session flag to the host.
type Reporter struct {
	host Host
}

// New creates a reporter for host. A nil host discards.
func New(host Host) *Reporter {
	return &Reporter{host: host}
}

// ReportDecoded forwards one decoded payload.
func (r *Reporter) ReportDecoded(payload string) {
	r.push(ChannelScannedContent, payload)
}

// ReportSessionActive forwards the session flag as "true"/"false".
func (r *Reporter) ReportSessionActive(active bool) {
	r.push(ChannelScannerActive, strconv.FormatBool(active))
}

func (r *Reporter) push(name, value string) {
	if r == nil || r.host == nil {
		return
	}
	r.host.SetInputValue(name, value)
}
