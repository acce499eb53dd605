// Package webapi exposes the scanner controller and host bridge over HTTP.
package webapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/camera"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/hostbridge"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/internal/scanner"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/qr-scanner/pkg/types"
)

const defaultRequestTimeout = 15 * time.Second

// Controller is the session surface the API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SwitchCamera(ctx context.Context) error
	State() scanner.State
	Snapshot() scanner.Snapshot
}

// CameraLister queries the platform cameras without changing the session's
// selection.
type CameraLister interface {
	Query(ctx context.Context) ([]types.CameraDevice, error)
}

// Injector feeds synthetic decoder output. Only the simulated capability has one.
type Injector interface {
	InjectDecode(text string) error
	InjectError(msg string) error
}

// Options wires an API. Injector may be nil.
type Options struct {
	Controller     Controller
	Cameras        CameraLister
	Hub            *hostbridge.Hub
	Injector       Injector
	Metrics        *metrics.Metrics
	Logger         *logger.Logger
	RequestTimeout time.Duration
}

// API serves the scanner control endpoints.
type API struct {
	ctrl     Controller
	cameras  CameraLister
	hub      *hostbridge.Hub
	injector Injector
	metrics  *metrics.Metrics
	log      *logger.Logger
	timeout  time.Duration
}

// New creates an API.
func New(opts Options) *API {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &API{
		ctrl:     opts.Controller,
		cameras:  opts.Cameras,
		hub:      opts.Hub,
		injector: opts.Injector,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		timeout:  opts.RequestTimeout,
	}
}

// Handler builds the routing tree.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLogger)

	// Streams stay open; everything else gets the request timeout.
	r.Get("/api/events", a.hub.ServeSSE)
	r.Get("/api/ws", a.hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(a.timeout))

		r.Get("/healthz", a.health)
		r.Handle("/metrics", a.metrics.Handler())

		r.Post("/api/scanner/start", a.start)
		r.Post("/api/scanner/stop", a.stop)
		r.Post("/api/scanner/switch-camera", a.switchCamera)
		r.Get("/api/scanner/status", a.status)
		r.Get("/api/cameras", a.listCameras)
		r.Get("/api/host/values", a.hostValues)
		if a.injector != nil {
			r.Post("/api/debug/decode", a.debugDecode)
		}
	})
	return r
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Debug("HTTP", "%s %s -> %d (%d bytes, %dms) [%s]",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(),
			time.Since(startedAt).Milliseconds(), middleware.GetReqID(r.Context()))
	})
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "state": a.ctrl.State()})
}

func (a *API) start(w http.ResponseWriter, r *http.Request) {
	a.runAction(w, r, "start", a.ctrl.Start)
}

func (a *API) stop(w http.ResponseWriter, r *http.Request) {
	a.runAction(w, r, "stop", a.ctrl.Stop)
}

func (a *API) switchCamera(w http.ResponseWriter, r *http.Request) {
	a.runAction(w, r, "switch", a.ctrl.SwitchCamera)
}

// runAction runs a session operation to completion even if the client goes
// away, then reports the resulting state.
func (a *API) runAction(w http.ResponseWriter, r *http.Request, name string, op func(context.Context) error) {
	err := op(context.WithoutCancel(r.Context()))
	snap := a.ctrl.Snapshot()

	payload := map[string]any{
		"ok":     err == nil,
		"state":  snap.State,
		"camera": snap.Camera,
	}
	if err == nil {
		writeJSON(w, payload)
		return
	}

	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		a.log.Warn("HTTP", "%s failed: %v", name, err)
	}
	payload["error"] = err.Error()
	payload["code"] = code
	writeJSONWithStatus(w, payload, status)
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.ctrl.Snapshot())
}

func (a *API) listCameras(w http.ResponseWriter, r *http.Request) {
	devices, err := a.cameras.Query(r.Context())
	if err != nil {
		status, code := classify(err)
		writeJSONWithStatus(w, map[string]any{"cameras": devices, "error": err.Error(), "code": code}, status)
		return
	}

	payload := map[string]any{
		"cameras":      devices,
		"count":        len(devices),
		"preferred_id": nil,
	}
	if preferred, ok := camera.SelectPreferred(devices); ok {
		payload["preferred_id"] = preferred.ID
	}
	writeJSON(w, payload)
}

func (a *API) hostValues(w http.ResponseWriter, _ *http.Request) {
	text, visible := a.hub.Result()
	payload := map[string]any{
		"values": a.hub.Values(),
		"status": nil,
		"result": map[string]any{"text": text, "visible": visible},
	}
	if last, ok := a.hub.LastStatus(); ok {
		payload["status"] = last
	}
	writeJSON(w, payload)
}

type debugDecodeRequest struct {
	Text  *string `json:"text"`
	Error *string `json:"error"`
}

func (a *API) debugDecode(w http.ResponseWriter, r *http.Request) {
	var req debugDecodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"ok": false, "error": "invalid JSON body", "code": "bad_request"}, http.StatusBadRequest)
		return
	}

	var err error
	switch {
	case req.Text != nil:
		err = a.injector.InjectDecode(*req.Text)
	case req.Error != nil:
		err = a.injector.InjectError(*req.Error)
	default:
		writeJSONWithStatus(w, map[string]any{"ok": false, "error": `one of "text" or "error" is required`, "code": "bad_request"}, http.StatusBadRequest)
		return
	}
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"ok": false, "error": err.Error(), "code": "not_scanning"}, http.StatusConflict)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "state": a.ctrl.State()})
}

// classify maps session errors to an HTTP status and a short code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, scanner.ErrDeviceAccess):
		return http.StatusServiceUnavailable, "device_access"
	case errors.Is(err, scanner.ErrNoCamera):
		return http.StatusServiceUnavailable, "no_camera"
	case errors.Is(err, scanner.ErrStartFailure):
		return http.StatusBadGateway, "start_failure"
	case errors.Is(err, scanner.ErrNotRunning):
		return http.StatusConflict, "not_running"
	case errors.Is(err, scanner.ErrNotEnoughCameras):
		return http.StatusConflict, "not_enough_cameras"
	case errors.Is(err, scanner.ErrSessionCanceled):
		return http.StatusConflict, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
