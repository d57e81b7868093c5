// Package metrics exposes Prometheus metrics: HTTP request instrumentation
// and gauges read from the server state on every scrape.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/outpost/internal/models"
)

const namespace = "outpost"

// scrapeTimeout bounds the store queries of one scrape.
const scrapeTimeout = 5 * time.Second

// Source is the subset of storage.Store read on each scrape.
type Source interface {
	GetMetrics(ctx context.Context) (*models.ServerMetrics, error)
	CountLocations(ctx context.Context) (int64, error)
}

// Metrics owns a registry with process, HTTP and server state metrics.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
}

// New creates the registry and registers every collector. source may be nil,
// in which case only process and HTTP metrics are exported.
func New(source Source) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, route, and status code.",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds by method and route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.requestsInFlight,
	)
	if source != nil {
		m.registry.MustRegister(newStateCollector(source))
	}

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// responseWriter captures the response status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency under pattern, which must be
// the route pattern so the path label has bounded cardinality.
func (m *Metrics) Middleware(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.requestsInFlight.Inc()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			m.requestsInFlight.Dec()
			m.requestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.status)).Inc()
			m.requestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		}()

		next.ServeHTTP(rw, r)
	})
}

// stateCollector reads the state document and location count on each scrape.
type stateCollector struct {
	source Source

	cpu       *prometheus.Desc
	ram       *prometheus.Desc
	ping      *prometheus.Desc
	players   *prometheus.Desc
	online    *prometheus.Desc
	backup    *prometheus.Desc
	locations *prometheus.Desc
}

func newStateCollector(source Source) *stateCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &stateCollector{
		source:    source,
		cpu:       desc("server_cpu_percent", "CPU usage of the game server in percent."),
		ram:       desc("server_ram_percent", "RAM usage of the game server in percent."),
		ping:      desc("server_ping_ms", "Game server ping in milliseconds."),
		players:   desc("server_players", "Player count of the game server.", "kind"),
		online:    desc("server_online", "1 when no offline request is pending."),
		backup:    desc("backup_in_progress", "1 while a backup is running."),
		locations: desc("important_locations_total", "Number of recorded important locations."),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.ram
	ch <- c.ping
	ch <- c.players
	ch <- c.online
	ch <- c.backup
	ch <- c.locations
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	if n, err := c.source.CountLocations(ctx); err != nil {
		log.Warn().Err(err).Msg("Metrics: count locations failed")
		ch <- prometheus.NewInvalidMetric(c.locations, err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.locations, prometheus.GaugeValue, float64(n))
	}

	state, err := c.source.GetMetrics(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Metrics: read server state failed")
		ch <- prometheus.NewInvalidMetric(c.cpu, err)
		return
	}
	if state == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, state.CPU)
	ch <- prometheus.MustNewConstMetric(c.ram, prometheus.GaugeValue, state.RAM)
	ch <- prometheus.MustNewConstMetric(c.ping, prometheus.GaugeValue, float64(state.Ping))
	ch <- prometheus.MustNewConstMetric(c.players, prometheus.GaugeValue, float64(state.Players.Current), "current")
	ch <- prometheus.MustNewConstMetric(c.players, prometheus.GaugeValue, float64(state.Players.Max), "max")
	ch <- prometheus.MustNewConstMetric(c.online, prometheus.GaugeValue, boolToFloat(state.Online()))
	ch <- prometheus.MustNewConstMetric(c.backup, prometheus.GaugeValue, boolToFloat(state.BackupInProgress == models.FlagYes))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
