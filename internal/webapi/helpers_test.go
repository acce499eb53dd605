package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/camera"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/capability/sim"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/hostbridge"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/reporter"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/scanner"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/status"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/pkg/types"
)

const clientTimeout = 2 * time.Second

type apiClient struct {
	baseURL string
	client  *http.Client
	source  *sim.Source
	hub     *hostbridge.Hub
	metrics *metrics.Metrics

	mu      sync.Mutex
	enumErr error
}

// failEnumeration makes later camera enumerations return err (nil restores).
func (c *apiClient) failEnumeration(err error) {
	c.mu.Lock()
	c.enumErr = err
	c.mu.Unlock()
}

// newAPIClient runs the full stack (sim capability, hub, controller, API) on
// an in-process server. The cooldown is long enough that tests observe it.
func newAPIClient(t *testing.T, devices []types.CameraDevice) *apiClient {
	t.Helper()
	log := logger.Discard()
	m := metrics.New()
	hub := hostbridge.NewHub(m, log)
	source := sim.NewSource(false, log)
	client := &apiClient{
		client:  &http.Client{Timeout: clientTimeout},
		source:  source,
		hub:     hub,
		metrics: m,
	}
	dir := camera.NewDirectory(camera.EnumeratorFunc(func(ctx context.Context) ([]types.CameraDevice, error) {
		client.mu.Lock()
		defer client.mu.Unlock()
		if client.enumErr != nil {
			return nil, client.enumErr
		}
		return devices, nil
	}), log)
	ctrl := scanner.NewController(dir, source.Factory(), reporter.New(hub), status.NewPresenter(hub), scanner.Options{
		Cooldown: time.Minute,
		Metrics:  m,
		Logger:   log,
	})
	api := New(Options{
		Controller: ctrl,
		Cameras:    dir,
		Hub:        hub,
		Injector:   source,
		Metrics:    m,
		Logger:     log,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	client.baseURL = srv.URL
	return client
}

func (c *apiClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *apiClient) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

// action posts to a scanner endpoint and checks the status code.
func (c *apiClient) action(t *testing.T, path string, wantStatus int) map[string]any {
	t.Helper()
	resp, body := c.postJSON(t, path, map[string]any{})
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s status = %d, want %d\nbody=%s", path, resp.StatusCode, wantStatus, body)
	}
	return decodeJSONMap(t, body)
}

// readSSEEvents opens an SSE stream and returns the first n data events.
func readSSEEvents(url string, n int, timeout time.Duration) ([]string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var events []string
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for len(events) < n {
		if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
			event := string(buf[:idx])
			buf = buf[idx+2:]
			if !strings.HasPrefix(event, ":") {
				events = append(events, event)
			}
			continue
		}
		m, readErr := resp.Body.Read(tmp)
		if m > 0 {
			buf = append(buf, tmp[:m]...)
		}
		if readErr != nil {
			if readErr == io.EOF {
				return events, resp.Header, fmt.Errorf("sse stream closed before event")
			}
			return events, resp.Header, fmt.Errorf("read sse: %w", readErr)
		}
	}
	return events, resp.Header, nil
}

func parseSSEData(t *testing.T, event string) map[string]any {
	t.Helper()
	lines := strings.Split(event, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return decodeJSONMap(t, []byte(payload))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func assertState(t *testing.T, payload map[string]any, want string) {
	t.Helper()
	if got := requireString(t, payload["state"], "state"); got != want {
		t.Fatalf("state = %q, want %q", got, want)
	}
}
