package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/outpost/internal/models"
)

// StateUpdater merges a patch into the server state.
type StateUpdater interface {
	Update(ctx context.Context, patch *models.MetricsPatch) (*models.ServerMetrics, error)
}

// CountryLookup resolves an IP to an ISO country code, "" when unknown.
type CountryLookup interface {
	GetCountryCode(ip string) string
}

// CollectorOptions configures a Collector.
type CollectorOptions struct {
	Query    QueryFunc
	Geo      CountryLookup
	Host     string
	Port     int
	Interval time.Duration
	SetIP    bool
}

// Collector periodically queries the game server and writes player counts,
// ping and optionally address and country into the server state.
type Collector struct {
	state    StateUpdater
	shutdown chan struct{}
	opts     CollectorOptions
	wg       sync.WaitGroup
}

// NewCollector creates a collector. Query and Host are required.
func NewCollector(state StateUpdater, opts CollectorOptions) (*Collector, error) {
	if opts.Query == nil {
		return nil, fmt.Errorf("collector: query function is required")
	}
	if opts.Host == "" {
		return nil, fmt.Errorf("collector: host is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}

	return &Collector{
		state:    state,
		opts:     opts,
		shutdown: make(chan struct{}),
	}, nil
}

// Start launches the polling goroutine.
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.worker()

	log.Info().
		Str("host", c.opts.Host).
		Int("port", c.opts.Port).
		Dur("interval", c.opts.Interval).
		Msg("A2S collector started")
}

// Stop ends polling and waits for an in-flight query to finish.
func (c *Collector) Stop() {
	close(c.shutdown)
	c.wg.Wait()
}

func (c *Collector) worker() {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.shutdown
		cancel()
	}()

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := c.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Str("host", c.opts.Host).Msg("A2S poll failed")
		}

		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
		}
	}
}

// Poll runs one query and applies the result. A failed query leaves the state untouched.
func (c *Collector) Poll(ctx context.Context) (*models.ServerMetrics, error) {
	ip, err := resolve(ctx, c.opts.Host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", c.opts.Host, err)
	}

	start := time.Now()
	info, err := c.opts.Query(ip, c.opts.Port)
	if err != nil {
		return nil, fmt.Errorf("query %s:%d: %w", ip, c.opts.Port, err)
	}
	rtt := time.Since(start)

	patch := &models.MetricsPatch{
		Players: &models.PlayersPatch{
			Current: models.Ptr(int(info.Players)),
			Max:     models.Ptr(int(info.MaxPlayers)),
		},
		Ping: models.Ptr(int(rtt.Milliseconds())),
	}
	if c.opts.SetIP {
		patch.IP = models.Ptr(ip)
	}
	if c.opts.Geo != nil {
		if code := c.opts.Geo.GetCountryCode(ip); code != "" {
			patch.CountryCode = models.Ptr(code)
		}
	}

	m, err := c.state.Update(ctx, patch)
	if err != nil {
		return nil, err
	}

	log.Trace().
		Str("name", info.Name).
		Str("map", info.Map).
		Int("players", int(info.Players)).
		Dur("rtt", rtt).
		Msg("A2S poll applied")

	return m, nil
}
