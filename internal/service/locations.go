package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/outpost/internal/models"
	"github.com/woozymasta/outpost/internal/storage"
)

// Locations manages the append-only important location log.
type Locations struct {
	store storage.Store
	now   func() time.Time
}

// NewLocations creates the location service. now defaults to time.Now.
func NewLocations(store storage.Store, now func() time.Time) *Locations {
	if now == nil {
		now = time.Now
	}

	return &Locations{
		store: store,
		now:   func() time.Time { return now().UTC() },
	}
}

// Add records a discovered location. Coordinates are free text.
func (l *Locations) Add(ctx context.Context, discovery, coordinates string, isOwnTerritory bool) (*models.ImportantLocation, error) {
	discovery = strings.TrimSpace(discovery)
	coordinates = strings.TrimSpace(coordinates)
	if discovery == "" || coordinates == "" {
		return nil, invalid("discovery and coordinates are required")
	}

	loc := models.ImportantLocation{
		ID:             uuid.NewString(),
		Discovery:      discovery,
		Coordinates:    coordinates,
		IsOwnTerritory: isOwnTerritory,
		CreatedAt:      l.now(),
	}

	if err := l.store.InsertLocation(ctx, loc); err != nil {
		return nil, fmt.Errorf("insert location: %w", err)
	}

	log.Debug().
		Str("id", loc.ID).
		Bool("own_territory", loc.IsOwnTerritory).
		Msg("Important location added")

	return &loc, nil
}

// List returns all locations, newest first.
func (l *Locations) List(ctx context.Context) ([]models.ImportantLocation, error) {
	locs, err := l.store.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	if locs == nil {
		locs = []models.ImportantLocation{}
	}

	return locs, nil
}
