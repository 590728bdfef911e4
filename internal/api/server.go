// Package api serves daily records, illness status and live updates over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"readiness/internal/illness"
	"readiness/internal/service"
	"readiness/internal/store"
)

// Daily is the pipeline surface the API exposes
type Daily interface {
	Calculate(ctx context.Context, force bool) (*store.DailyRecord, error)
	Record(ctx context.Context, date string) (*store.DailyRecord, error)
	History(ctx context.Context, from, to string) ([]store.DailyRecord, error)
	Subscribe() (<-chan service.Event, func())
}

// IllnessAnalyzer runs and reports illness detection
type IllnessAnalyzer interface {
	Analyze(ctx context.Context, force bool) (*illness.Indicator, error)
	Invalidate()
	Status() illness.Status
	State() illness.State
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig listens on loopback only
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "127.0.0.1:8642",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the HTTP front of the daily pipeline
type Server struct {
	router   *mux.Router
	server   *http.Server
	daily    Daily
	illness  IllnessAnalyzer
	metrics  http.Handler
	upgrader websocket.Upgrader
	pingTick time.Duration
}

// NewServer builds the router. metrics may be nil.
func NewServer(cfg ServerConfig, daily Daily, ill IllnessAnalyzer, metrics http.Handler) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		daily:   daily,
		illness: ill,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     localOrigin,
		},
		pingTick: 30 * time.Second,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler exposes the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	s.router.HandleFunc("/v1/events", s.handleEvents).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/daily", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/daily/today", s.handleToday).Methods(http.MethodGet)
	api.HandleFunc("/daily/recompute", s.handleRecompute).Methods(http.MethodPost)
	api.HandleFunc("/daily/{date}", s.handleRecord).Methods(http.MethodGet)
	api.HandleFunc("/illness", s.handleIllness).Methods(http.MethodGet)
	api.HandleFunc("/illness/invalidate", s.handleIllnessInvalidate).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets websocket upgrades reach the underlying hijacker
func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/events" {
			// hijacked connections have no status to report
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		id, _ := r.Context().Value(requestIDKey).(string)
		level := zerolog.DebugLevel
		if wrapper.statusCode >= 500 {
			level = zerolog.WarnLevel
		}
		log.WithLevel(level).
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start serves until Shutdown
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
