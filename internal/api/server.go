// Package api is the HTTP boundary of the collector: event ingestion on the
// write side, projected views on the read side. Validation happens here so
// the core only ever sees well-formed events.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/soaska/botpulse/internal/cache"
	"github.com/soaska/botpulse/internal/diag"
	"github.com/soaska/botpulse/internal/engine"
	"github.com/soaska/botpulse/internal/metrics"
	"github.com/soaska/botpulse/internal/report"
)

// Server is the HTTP API server.
type Server struct {
	collector   *engine.Collector
	projector   *report.Projector
	diagnostics *diag.Sink
	cache       *cache.RedisCache
	apiKey      string
	corsOrigins []string
	proxies     *TrustedProxies
	log         zerolog.Logger
	router      *mux.Router
	startTime   time.Time
}

// Config carries the server dependencies and settings.
type Config struct {
	Collector      *engine.Collector
	Projector      *report.Projector
	Diagnostics    *diag.Sink
	Cache          *cache.RedisCache
	APIKey         string
	CORSOrigins    []string
	TrustedProxies *TrustedProxies
	Logger         zerolog.Logger
}

// NewServer wires the routes and middleware.
func NewServer(cfg Config) *Server {
	s := &Server{
		collector:   cfg.Collector,
		projector:   cfg.Projector,
		diagnostics: cfg.Diagnostics,
		cache:       cfg.Cache,
		apiKey:      cfg.APIKey,
		corsOrigins: cfg.CORSOrigins,
		proxies:     cfg.TrustedProxies,
		log:         cfg.Logger,
		router:      mux.NewRouter(),
		startTime:   time.Now(),
	}

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	// Event ingestion
	s.router.HandleFunc("/api/events/connect", s.handleConnect).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/events/disconnect", s.handleDisconnect).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/events/heartbeat", s.handleHeartbeat).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/events/track", s.handleTrack).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/events/system-info", s.handleSystemInfo).Methods(http.MethodPost, http.MethodOptions)

	// Read model
	s.router.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/instances", s.handleInstances).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/users", s.handleUsers).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/errors", s.handleErrors).Methods(http.MethodGet, http.MethodOptions)

	// Admin (API key)
	s.router.HandleFunc("/api/diagnostics", s.authMiddleware(s.handleDiagnostics)).Methods(http.MethodGet, http.MethodOptions)

	// Operational
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.log.Info().Msg("API routes configured")
	return s
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until the context is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

func (s *Server) respondJSON(w http.ResponseWriter, payload interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, message string, status int) {
	s.respondJSON(w, map[string]string{"error": message}, status)
}

// statusWriter captures the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.RequestDuration.WithLabelValues(endpoint, r.Method).Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues(endpoint, r.Method, httpStatusLabel(sw.status)).Inc()
	})
}

func httpStatusLabel(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// authMiddleware checks API key authorization on admin routes.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("Authorization")
		if s.apiKey == "" || (apiKey != "Bearer "+s.apiKey && apiKey != s.apiKey) {
			s.respondError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// corsMiddleware adds CORS headers for the dashboard origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		for _, allowedOrigin := range s.corsOrigins {
			if origin == allowedOrigin || allowedOrigin == "*" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
