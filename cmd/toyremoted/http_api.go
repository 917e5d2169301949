package main

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// ============================================================================
// HTTP API
// ============================================================================
// Served next to the state websocket:
//
//   GET  /api/healthz   liveness
//   GET  /api/state     full snapshot (same payload as state_init)
//   GET  /api/devices   snapshot.devices
//   GET  /api/patterns  pattern library summaries
//   POST /api/events    one event envelope, only when control is allowed
//
// POST answers 202 once the event is queued; like IPC, a later rejection by
// the session shows up on the websocket as command_failed.
// ============================================================================

type apiError struct {
	Error string `json:"error"`
}

func renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, apiError{Error: msg})
}

// NewRouter mounts the state websocket at wsPath and the JSON API under /api.
func NewRouter(s *Server, wsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	s.Register(r, wsPath)

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, map[string]any{"ok": true, "clients": s.hub.ClientCount()})
		})
		r.Get("/state", s.handleState)
		r.Get("/devices", s.handleDevices)
		r.Get("/patterns", s.handlePatterns)
		r.Post("/events", s.handlePostEvent)
	})
	return r
}

// requestLogger logs API requests at debug. Upgraded websocket requests are
// logged by the hub instead.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			if ww.Status() == http.StatusSwitchingProtocols {
				return
			}
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func (s *Server) snapshotOrError(w http.ResponseWriter, r *http.Request) (StateSnapshot, bool) {
	snap, err := s.requestSnapshot(r.Context())
	if err != nil {
		renderError(w, r, http.StatusServiceUnavailable, "daemon busy: "+err.Error())
		return StateSnapshot{}, false
	}
	return snap, true
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if snap, ok := s.snapshotOrError(w, r); ok {
		render.JSON(w, r, snap)
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshotOrError(w, r)
	if !ok {
		return
	}
	devices := snap.Devices
	if devices == nil {
		devices = []DeviceStatus{}
	}
	render.JSON(w, r, devices)
}

func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshotOrError(w, r)
	if !ok {
		return
	}
	patterns := snap.Patterns
	if patterns == nil {
		patterns = []PatternSummary{}
	}
	render.JSON(w, r, patterns)
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	if !s.allowControl {
		renderError(w, r, http.StatusForbidden, errReadOnly.Error())
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInboundFrame+1))
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(body) > maxInboundFrame {
		renderError(w, r, http.StatusRequestEntityTooLarge, "event too large")
		return
	}
	ev, err := UnmarshalEvent(body)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, "parse event: "+err.Error())
		return
	}

	select {
	case s.events <- ev:
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, IPCResponse{Status: "ok"})
	default:
		renderError(w, r, http.StatusServiceUnavailable, "event queue full")
	}
}
