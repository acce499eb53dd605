package webapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/camera"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/scanner"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/pkg/types"
)

var frontBack = []types.CameraDevice{
	{ID: "a", Label: "Front Camera"},
	{ID: "b", Label: "Back Camera"},
}

func TestScannerSessionOverHTTP(t *testing.T) {
	client := newAPIClient(t, frontBack)

	payload := client.action(t, "/api/scanner/start", http.StatusOK)
	if !requireBool(t, payload["ok"], "ok") {
		t.Fatalf("start not ok: %v", payload)
	}
	assertState(t, payload, "active")
	cam := requireMap(t, payload["camera"], "camera")
	if requireString(t, cam["id"], "camera.id") != "b" {
		t.Fatalf("camera = %v, want back camera", cam)
	}

	resp, body := client.postJSON(t, "/api/debug/decode", map[string]any{"text": "XYZ123"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("debug decode status = %d body=%s", resp.StatusCode, body)
	}
	assertState(t, decodeJSONMap(t, body), "cooldown")

	_, body = client.get(t, "/api/host/values")
	host := decodeJSONMap(t, body)
	values := requireMap(t, host["values"], "values")
	if requireString(t, values["qr_scanned_content"], "values.qr_scanned_content") != "XYZ123" {
		t.Fatalf("values = %v", values)
	}
	if requireString(t, values["scanner_active"], "values.scanner_active") != "true" {
		t.Fatalf("values = %v", values)
	}
	result := requireMap(t, host["result"], "result")
	if !requireBool(t, result["visible"], "result.visible") || result["text"] != "XYZ123" {
		t.Fatalf("result = %v", result)
	}
	st := requireMap(t, host["status"], "status")
	if st["message"] != "QR Code detected!" || st["level"] != "success" {
		t.Fatalf("status = %v", st)
	}
	if !strings.Contains(requireString(t, st["html"], "status.html"), "fa-check-circle") {
		t.Fatalf("status html = %v", st["html"])
	}

	_, body = client.get(t, "/api/scanner/status")
	snap := decodeJSONMap(t, body)
	assertState(t, snap, "cooldown")
	if requireNumber(t, snap["cooldown_ms"], "cooldown_ms") != float64(time.Minute.Milliseconds()) {
		t.Fatalf("cooldown_ms = %v", snap["cooldown_ms"])
	}
	if snap["last_payload"] != "XYZ123" {
		t.Fatalf("last_payload = %v", snap["last_payload"])
	}
	requireSlice(t, snap["cameras"], "cameras")

	payload = client.action(t, "/api/scanner/stop", http.StatusOK)
	assertState(t, payload, "idle")
	if got := client.hub.Values()["scanner_active"]; got != "false" {
		t.Fatalf("scanner_active = %q", got)
	}

	payload = client.action(t, "/api/scanner/stop", http.StatusConflict)
	if payload["code"] != "not_running" {
		t.Fatalf("code = %v", payload["code"])
	}
	if last, _ := client.hub.LastStatus(); last.Message != "Scanner not running" {
		t.Fatalf("last status = %+v", last)
	}
}

func TestStartWithoutCameras(t *testing.T) {
	client := newAPIClient(t, nil)

	payload := client.action(t, "/api/scanner/start", http.StatusServiceUnavailable)
	if payload["ok"] != false || payload["code"] != "no_camera" {
		t.Fatalf("payload = %v", payload)
	}
	assertState(t, payload, "idle")
}

func TestStartFailureOverHTTP(t *testing.T) {
	client := newAPIClient(t, frontBack)
	client.source.FailNextStart(errString("NotReadableError: Could not start video source"))

	payload := client.action(t, "/api/scanner/start", http.StatusBadGateway)
	if payload["code"] != "start_failure" {
		t.Fatalf("payload = %v", payload)
	}
	assertState(t, payload, "idle")
}

func TestSwitchCameraOverHTTP(t *testing.T) {
	client := newAPIClient(t, frontBack)

	payload := client.action(t, "/api/scanner/switch-camera", http.StatusConflict)
	if payload["code"] != "not_running" {
		t.Fatalf("payload = %v", payload)
	}

	client.action(t, "/api/scanner/start", http.StatusOK)
	payload = client.action(t, "/api/scanner/switch-camera", http.StatusOK)
	cam := requireMap(t, payload["camera"], "camera")
	if cam["id"] != "a" {
		t.Fatalf("camera after switch = %v", cam)
	}
	if last, _ := client.hub.LastStatus(); last.Message != "Switched to: Front Camera" {
		t.Fatalf("last status = %+v", last)
	}
}

func TestSwitchWithSingleCameraOverHTTP(t *testing.T) {
	client := newAPIClient(t, []types.CameraDevice{{ID: "only", Label: "Webcam"}})
	client.action(t, "/api/scanner/start", http.StatusOK)

	payload := client.action(t, "/api/scanner/switch-camera", http.StatusConflict)
	if payload["code"] != "not_enough_cameras" {
		t.Fatalf("payload = %v", payload)
	}
	assertState(t, payload, "active")
}

func TestListCameras(t *testing.T) {
	client := newAPIClient(t, frontBack)

	resp, body := client.get(t, "/api/cameras")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	cameras := requireSlice(t, payload["cameras"], "cameras")
	if len(cameras) != 2 || requireNumber(t, payload["count"], "count") != 2 {
		t.Fatalf("cameras = %v", cameras)
	}
	if payload["preferred_id"] != "b" {
		t.Fatalf("preferred_id = %v", payload["preferred_id"])
	}
}

func TestListCamerasKeepsRunningSession(t *testing.T) {
	client := newAPIClient(t, frontBack)
	client.action(t, "/api/scanner/start", http.StatusOK)

	client.failEnumeration(errors.New("NotReadableError: device busy"))
	resp, body := client.get(t, "/api/cameras")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}
	client.failEnumeration(nil)

	resp, body = client.get(t, "/api/scanner/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	snap := decodeJSONMap(t, body)
	if snap["state"] != "active" {
		t.Fatalf("state = %v", snap["state"])
	}
	cam := requireMap(t, snap["camera"], "camera")
	if cam["id"] != "b" {
		t.Fatalf("camera after listing = %v", cam)
	}

	// The next switch still cycles from the session's camera.
	payload := client.action(t, "/api/scanner/switch-camera", http.StatusOK)
	cam = requireMap(t, payload["camera"], "camera")
	if cam["id"] != "a" {
		t.Fatalf("camera after switch = %v", cam)
	}
}

func TestDebugDecodeValidation(t *testing.T) {
	client := newAPIClient(t, frontBack)

	resp, _ := client.postJSON(t, "/api/debug/decode", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", resp.StatusCode)
	}
	resp, _ = client.postJSON(t, "/api/debug/decode", map[string]any{"text": "early"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("decode before start status = %d", resp.StatusCode)
	}

	client.action(t, "/api/scanner/start", http.StatusOK)
	resp, body := client.postJSON(t, "/api/debug/decode", map[string]any{"error": "NotFoundException: nothing"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("inject error status = %d", resp.StatusCode)
	}
	assertState(t, decodeJSONMap(t, body), "active")
	if got := client.metrics.DecodeNoise.Load(); got != 1 {
		t.Fatalf("noise = %d", got)
	}
}

func TestEventsStream(t *testing.T) {
	client := newAPIClient(t, frontBack)
	client.action(t, "/api/scanner/start", http.StatusOK)

	// Replay: scanner_active then the last status line.
	events, headers, err := readSSEEvents(client.baseURL+"/api/events", 2, 3*time.Second)
	if err != nil {
		t.Fatalf("events stream: %v", err)
	}
	if !strings.Contains(headers.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("content-type = %q", headers.Get("Content-Type"))
	}
	input := parseSSEData(t, events[0])
	if input["type"] != "input" || input["name"] != "scanner_active" || input["value"] != "true" {
		t.Fatalf("first event = %v", input)
	}
	statusEvent := parseSSEData(t, events[1])
	st := requireMap(t, statusEvent["status"], "status")
	if st["message"] != "Scanner active - Using: Back Camera" {
		t.Fatalf("status event = %v", st)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	client := newAPIClient(t, frontBack)

	_, body := client.get(t, "/healthz")
	health := decodeJSONMap(t, body)
	if health["status"] != "ok" {
		t.Fatalf("health = %v", health)
	}
	assertState(t, health, "idle")

	client.action(t, "/api/scanner/start", http.StatusOK)
	client.postJSON(t, "/api/debug/decode", map[string]any{"text": "m"})

	resp, body := client.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	text := string(body)
	for _, want := range []string{"qrscan_decodes_total 1", "qrscan_session_active 1", "qrscan_starts_succeeded_total 1"} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want int
		code string
	}{
		{err: &camera.DeviceAccessError{Err: errString("NotAllowedError")}, want: http.StatusServiceUnavailable, code: "device_access"},
		{err: scanner.ErrNoCamera, want: http.StatusServiceUnavailable, code: "no_camera"},
		{err: &scanner.StartError{DeviceID: "b", Err: errString("busy")}, want: http.StatusBadGateway, code: "start_failure"},
		{err: fmt.Errorf("switch: %w", scanner.ErrNotEnoughCameras), want: http.StatusConflict, code: "not_enough_cameras"},
		{err: scanner.ErrNotRunning, want: http.StatusConflict, code: "not_running"},
		{err: scanner.ErrSessionCanceled, want: http.StatusConflict, code: "canceled"},
		{err: errString("boom"), want: http.StatusInternalServerError, code: "internal"},
	}
	for _, tc := range cases {
		status, code := classify(tc.err)
		if status != tc.want || code != tc.code {
			t.Fatalf("classify(%v) = %d %s, want %d %s", tc.err, status, code, tc.want, tc.code)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
