// Package server implements the HTTP server, middleware, and request handlers for the application.
package server

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/outpost/assets"
	"github.com/woozymasta/outpost/internal/config"
)

// limiterIdle is how long an idle client keeps its token bucket.
const limiterIdle = 10 * time.Minute

const defaultMaxBody = 64 << 10

// New creates a Server from configuration and its service dependencies.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.State == nil || deps.Locations == nil || deps.Store == nil {
		return nil, fmt.Errorf("server: store, state and locations are required")
	}

	tmpl, err := parseDashboard()
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:        deps.Store,
		state:        deps.State,
		locations:    deps.Locations,
		metrics:      deps.Metrics,
		workers:      deps.Workers,
		dashboard:    tmpl,
		mapImage:     cfg.Server.MapImage,
		maxBody:      cfg.Server.MaxBodySize,
		pollInterval: cfg.Server.PollInterval,
		trustProxy:   cfg.Server.TrustProxy,
		shutdown:     make(chan struct{}),
	}

	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBody
	}
	if s.pollInterval < time.Second {
		s.pollInterval = 10 * time.Second
	}
	if cfg.RateLimit.Count > 0 {
		s.limiter = newIPLimiter(cfg.RateLimit.Count, cfg.RateLimit.Window)
	}

	return s, nil
}

// StartWorkers starts the background workers and the rate limiter cleanup loop.
func (s *Server) StartWorkers() {
	for _, w := range s.workers {
		w.Start()
	}

	if s.limiter != nil {
		s.wg.Add(1)
		go s.gcLimiter()
	}
}

// StopWorkers stops every worker in reverse start order and waits for the
// server's own goroutines.
func (s *Server) StopWorkers() {
	close(s.shutdown)
	for i := len(s.workers) - 1; i >= 0; i-- {
		s.workers[i].Stop()
	}
	s.wg.Wait()
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /api/server-data", http.HandlerFunc(s.handleGetServerData))
	s.handle(mux, "POST /api/server-data", s.RateLimitMiddleware(http.HandlerFunc(s.handleUpdateServerData)))
	s.handle(mux, "POST /api/server-data/start", s.RateLimitMiddleware(http.HandlerFunc(s.handleStart)))
	s.handle(mux, "POST /api/server-data/stop", s.RateLimitMiddleware(http.HandlerFunc(s.handleStop)))
	s.handle(mux, "POST /api/server-data/backup", s.RateLimitMiddleware(http.HandlerFunc(s.handleBackup)))

	s.handle(mux, "GET /api/important-locations", http.HandlerFunc(s.handleListLocations))
	s.handle(mux, "POST /api/important-locations", s.RateLimitMiddleware(http.HandlerFunc(s.handleAddLocation)))

	s.handle(mux, "GET /api/dashboard", http.HandlerFunc(s.handleDashboardData))
	s.handle(mux, "GET /healthz", http.HandlerFunc(s.handleHealth))
	s.handle(mux, "GET /version", http.HandlerFunc(s.handleVersion))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	fileServer := http.FileServer(assets.GetFileSystem())
	mux.Handle("GET /js/", fileServer)
	mux.Handle("GET /css/", fileServer)
	mux.Handle("GET /img/", fileServer)
	s.handle(mux, "GET /img/server-map", http.HandlerFunc(s.handleMapImage))

	s.handle(mux, "GET /{$}", http.HandlerFunc(s.handleIndex))

	return s.LoggingMiddleware(mux)
}

// handle registers h under pattern, instrumented when metrics are enabled.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.Handler) {
	if s.metrics != nil {
		h = s.metrics.Middleware(pattern, h)
	}
	mux.Handle(pattern, h)
}

// gcLimiter periodically drops token buckets of idle clients.
func (s *Server) gcLimiter() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case now := <-ticker.C:
			if n := s.limiter.gc(now, limiterIdle); n > 0 {
				log.Debug().Int("dropped", n).Msg("Rate limiter cleanup")
			}
		}
	}
}

func parseDashboard() (*template.Template, error) {
	content, err := assets.ReadFile("dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("read dashboard template: %w", err)
	}

	tmpl, err := template.New("dashboard").Funcs(templateFuncs).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse dashboard template: %w", err)
	}

	return tmpl, nil
}
