package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Router struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	r.mux.ServeHTTP(rec, req)

	r.logger.Debug("http request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", rec.status,
		"duration", time.Since(start),
	)
}

// RegisterAdminRoutes mounts the room admin endpoints behind auth.
func (r *Router) RegisterAdminRoutes(h *AdminHandler, auth *Authenticator) {
	r.mux.Handle("POST /admin/rooms/import", auth.Require(CapabilityImportRooms, http.HandlerFunc(h.ImportRooms)))
	r.mux.Handle("GET /admin/rooms", auth.Require(CapabilityImportRooms, http.HandlerFunc(h.ListRooms)))
	r.mux.Handle("GET /admin/rooms/{id}", auth.Require(CapabilityImportRooms, http.HandlerFunc(h.GetRoom)))
}

func (r *Router) RegisterHealth(db Pinger) {
	r.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			r.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
