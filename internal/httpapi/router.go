// Package httpapi exposes the rendezvous REST surface: session lifecycle,
// host registry operations, stats and health, plus the mounts for the
// signaling WebSocket and Prometheus metrics. Every JSON response carries a
// success flag so clients can branch without inspecting status codes.
package httpapi

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/castbridge/rendezvous/internal/directory"
)

type API struct {
	log *slog.Logger
	dir *directory.Directory
}

// NewRouter builds the full HTTP surface. signalHandler serves GET /ws; pass
// nil to omit the mount (tests that only exercise the REST API do this).
func NewRouter(dir *directory.Directory, signalHandler http.Handler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &API{log: logger, dir: dir}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if signalHandler != nil {
		r.Method(http.MethodGet, "/ws", signalHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/session/create", a.handleCreateSession)
		r.Post("/session/join", a.handleJoinSession)
		r.Get("/session/{code}", a.handleGetSession)
		r.Get("/stats", a.handleStats)

		r.Post("/hosts/register", a.handleRegisterHost)
		r.Post("/hosts/heartbeat/{hostID}", a.handleHeartbeat)
		r.Delete("/hosts/{hostID}", a.handleDeleteHost)
		r.Get("/hosts", a.handleListHosts)
		r.Post("/hosts/{hostID}/connect", a.handleRequestConnect)
		r.Get("/hosts/{hostID}/status/{clientID}", a.handleConnectStatus)
		r.Post("/hosts/{hostID}/acknowledge/{clientID}", a.handleAcknowledge)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
