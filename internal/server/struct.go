package server

import (
	"html/template"
	"sync"
	"time"

	"github.com/woozymasta/outpost/internal/metrics"
	"github.com/woozymasta/outpost/internal/service"
	"github.com/woozymasta/outpost/internal/storage"
)

// Worker is a background task owned by the server lifecycle.
type Worker interface {
	Start()
	Stop()
}

// Deps bundles the services the HTTP layer calls into.
type Deps struct {
	// Store is pinged by the health check.
	Store storage.Store

	// State serves the server state document.
	State *service.State

	// Locations serves the important location log.
	Locations *service.Locations

	// Metrics instruments routes and serves /metrics. Optional.
	Metrics *metrics.Metrics

	// Workers are started and stopped with the server (backup scheduler, A2S collector).
	Workers []Worker
}

// Server holds the dependencies, configuration, and runtime state required
// to handle HTTP requests and run background workers.
type Server struct {
	// store is used by the health check to verify the database is reachable.
	store storage.Store

	// state reads and mutates the server state document.
	state *service.State

	// locations reads and appends important locations.
	locations *service.Locations

	// metrics records per-route request metrics. Nil disables instrumentation.
	metrics *metrics.Metrics

	// dashboard is the parsed dashboard page template.
	dashboard *template.Template

	// limiter holds per-IP token buckets for write routes. Nil when rate limiting is disabled.
	limiter *ipLimiter

	// shutdown is closed to stop the limiter GC loop.
	shutdown chan struct{}

	// mapImage is an optional path to the map image served instead of the embedded one.
	mapImage string

	// workers are started by StartWorkers and stopped in reverse order by StopWorkers.
	workers []Worker

	// wg waits for goroutines owned directly by the server.
	wg sync.WaitGroup

	// maxBody is the maximum accepted request body size in bytes.
	maxBody int64

	// pollInterval is how often the dashboard page refreshes its data.
	pollInterval time.Duration

	// trustProxy enables CF-Connecting-IP and X-Forwarded-For for client IP detection.
	trustProxy bool
}
