// Package api exposes the metadata-extraction engine over HTTP: session
// registration, site analysis, the rendered scene page, and debug routes.
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/skylens-data/flightpath.report/internal/config"
	"github.com/skylens-data/flightpath.report/internal/monitoring"
	"github.com/skylens-data/flightpath.report/internal/pool"
	"github.com/skylens-data/flightpath.report/internal/remotefs"
	"github.com/skylens-data/flightpath.report/internal/site"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server wires the session registry, pool cache and analyzer behind the
// HTTP handlers.
type Server struct {
	cfg      *config.EngineConfig
	dialer   remotefs.Dialer
	registry *remotefs.Registry
	cache    *pool.Cache
	analyzer *site.Analyzer

	mu   sync.Mutex
	last *analysisSummary
}

// NewServer builds a Server. The analyzer reuses pooled connections through
// cache, keyed per registered session.
func NewServer(cfg *config.EngineConfig, dialer remotefs.Dialer, registry *remotefs.Registry, cache *pool.Cache) *Server {
	if cfg == nil {
		cfg = config.EmptyEngineConfig()
	}
	return &Server{
		cfg:      cfg,
		dialer:   dialer,
		registry: registry,
		cache:    cache,
		analyzer: site.NewAnalyzer(cfg, dialer, cache, nil),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionByID)
	mux.HandleFunc("/api/sites/analyze", s.analyzeSite)
	mux.HandleFunc("/api/sites/scene", s.showScene)
	mux.HandleFunc("/api/health", s.showHealth)
	return mux
}
