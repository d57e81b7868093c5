// main is the entry point of the Outpost application.
// It initializes the configuration, logger, database, background workers, and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/outpost/internal/config"
	"github.com/woozymasta/outpost/internal/fake"
	"github.com/woozymasta/outpost/internal/game"
	"github.com/woozymasta/outpost/internal/geoip"
	"github.com/woozymasta/outpost/internal/logger"
	"github.com/woozymasta/outpost/internal/maintenance"
	"github.com/woozymasta/outpost/internal/metrics"
	"github.com/woozymasta/outpost/internal/server"
	"github.com/woozymasta/outpost/internal/service"
	"github.com/woozymasta/outpost/internal/storage"
	"github.com/woozymasta/outpost/internal/vars"
)

func main() {
	cfg := config.Parse()

	closeLog := logger.Setup(cfg.Logger)
	defer closeLog()

	log.Info().
		Str("version", vars.Version).
		Str("commit", vars.CommitShort()).
		Msg("Starting outpost service...")

	ctx := context.Background()

	// Database
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	state := service.NewState(store, service.StateOptions{
		DefaultIP:         cfg.State.DefaultIP,
		DefaultMaxPlayers: cfg.State.DefaultMaxPlayers,
		BackupDelay:       cfg.State.BackupDelay,
	})
	locations := service.NewLocations(store, nil)
	scheduler := service.NewScheduler(store, state, cfg.State.BackupPoll)

	// data generation or database maintenance
	if cfg.Storage.GenerateCount > 0 {
		if err := fake.GenerateData(ctx, state, locations, cfg.Storage.GenerateCount); err != nil {
			log.Error().Err(err).Msg("Fake data generation failed")
		}
		return
	} else if maintenance.Run(ctx, cfg.Storage, state, scheduler) {
		return
	}

	workers := []server.Worker{scheduler}

	// A2S collector with optional GeoIP
	if cfg.A2S.Address != "" {
		collector, geoProvider := newCollector(ctx, cfg, state)
		if geoProvider != nil {
			defer func() {
				if err := geoProvider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
		}
		if collector != nil {
			workers = append(workers, collector)
		}
	}

	// Init server
	srv, err := server.New(cfg, server.Deps{
		Store:     store,
		State:     state,
		Locations: locations,
		Metrics:   metrics.New(store),
		Workers:   workers,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	// Backup scheduler reconciles stranded tasks on start
	srv.StartWorkers()

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           srv.Run(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	srv.StopWorkers()

	log.Info().Msg("Server exited")
}

// newCollector builds the A2S collector. A broken GeoIP setup only disables
// country detection; a bad address disables the collector.
func newCollector(ctx context.Context, cfg *config.Config, state *service.State) (*game.Collector, *geoip.Provider) {
	host, port, err := game.SplitAddress(cfg.A2S.Address)
	if err != nil {
		log.Error().Err(err).Msg("A2S collector disabled")
		return nil, nil
	}

	var geoProvider *geoip.Provider
	if cfg.GeoIP.Path != "" {
		log.Info().Msg("Checking GeoIP database...")
		if err := geoip.EnsureDB(ctx, cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		geoProvider, err = geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
			geoProvider = nil
		}
	}

	opts := game.CollectorOptions{
		Query:    game.NewQuery(cfg.A2S),
		Host:     host,
		Port:     port,
		Interval: cfg.A2S.Interval,
		SetIP:    cfg.A2S.SetIP,
	}
	if geoProvider != nil {
		opts.Geo = geoProvider
	}

	collector, err := game.NewCollector(state, opts)
	if err != nil {
		log.Error().Err(err).Msg("A2S collector disabled")
		return nil, geoProvider
	}

	return collector, geoProvider
}
