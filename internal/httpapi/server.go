// Package httpapi exposes the ingestion service over HTTP and JSON.
package httpapi

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/p-n-ai/pai-papers/internal/ingest"
	"github.com/p-n-ai/pai-papers/internal/practice"
)

// ReadyCheck reports whether one dependency is reachable.
type ReadyCheck func(ctx context.Context) error

// Config holds dependencies for the HTTP server.
type Config struct {
	Service   *ingest.Service
	Practice  *practice.Generator // nil disables the variants route
	JWTSecret string

	UploadMaxBytes int64                 // default: 32 MiB
	AllowedOrigins []string              // default: any origin
	ReadyChecks    map[string]ReadyCheck // in addition to the store
	WatchInterval  time.Duration         // default: 1s
}

// Server routes API requests to the ingestion service.
type Server struct {
	svc       *ingest.Service
	practice  *practice.Generator
	secret    []byte
	maxUpload int64
	origins   []string
	checks    map[string]ReadyCheck
	interval  time.Duration
}

const (
	defaultUploadMaxBytes = 32 << 20
	defaultWatchInterval  = time.Second
)

// NewServer creates a Server. It fails without a service or signing secret.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("httpapi: service is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("httpapi: JWT secret is required")
	}
	s := &Server{
		svc:       cfg.Service,
		practice:  cfg.Practice,
		secret:    []byte(cfg.JWTSecret),
		maxUpload: cfg.UploadMaxBytes,
		origins:   cfg.AllowedOrigins,
		checks:    cfg.ReadyChecks,
		interval:  cfg.WatchInterval,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultUploadMaxBytes
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	if s.interval <= 0 {
		s.interval = defaultWatchInterval
	}
	return s, nil
}

// Handler returns the routed handler with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/batches", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/batches", s.handleListBatches).Methods(http.MethodGet)
	api.HandleFunc("/batches/{id}", s.handleGetBatch).Methods(http.MethodGet)
	api.HandleFunc("/batches/{id}", s.handleDeleteBatch).Methods(http.MethodDelete)
	api.HandleFunc("/batches/{id}/reprocess", s.handleReprocess).Methods(http.MethodPost)
	api.HandleFunc("/batches/{id}/watch", s.handleWatch).Methods(http.MethodGet)
	api.HandleFunc("/batches/{id}/export", s.handleExport).Methods(http.MethodGet)

	api.HandleFunc("/questions", s.handleListQuestions).Methods(http.MethodGet)
	api.HandleFunc("/questions/{id}", s.handleGetQuestion).Methods(http.MethodGet)
	api.HandleFunc("/questions/{id}", s.handleUpdateQuestion).Methods(http.MethodPatch)
	api.HandleFunc("/questions/{id}", s.handleDeleteQuestion).Methods(http.MethodDelete)
	api.HandleFunc("/questions/{id}/variants", s.handleVariants).Methods(http.MethodPost)

	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
	})
	return c.Handler(r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	failed := make(map[string]string)
	if err := s.svc.Ready(ctx); err != nil {
		failed["store"] = err.Error()
	}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		slog.Warn("readiness check failed", "failed", failed)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
