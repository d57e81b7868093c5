// Package fake provides utilities for generating random dashboard data for testing and development purposes.
package fake

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/outpost/internal/models"
	"github.com/woozymasta/outpost/internal/service"
)

var (
	discoveries = []string{
		"Cave entrance", "Abandoned mine", "Village", "Desert temple", "Ocean monument",
		"Stronghold", "Woodland mansion", "Nether portal", "Shipwreck", "Ancient city",
	}
	suffixes = []string{"", " (looted)", " near river", " on the hill", " under the bridge"}
)

// GenerateData adds count random important locations and writes random metrics
// into the server state. Failed inserts are logged and skipped.
func GenerateData(ctx context.Context, state *service.State, locations *service.Locations, count int) error {
	added := 0
	for i := 0; i < count; i++ {
		discovery := discoveries[rand.Intn(len(discoveries))] + suffixes[rand.Intn(len(suffixes))]
		coordinates := fmt.Sprintf("X: %d, Y: %d, Z: %d",
			rand.Intn(20000)-10000, rand.Intn(256)-64, rand.Intn(20000)-10000)

		// 25% of finds are claimed as own territory
		own := rand.Float32() < 0.25

		if _, err := locations.Add(ctx, discovery, coordinates, own); err != nil {
			log.Warn().Err(err).Msg("Failed to generate fake location")
			continue
		}
		added++
	}

	maxPlayers := 20 + rand.Intn(81)
	patch := &models.MetricsPatch{
		IP:  models.Ptr(fmt.Sprintf("%d.%d.%d.%d", rand.Intn(220)+1, rand.Intn(255), rand.Intn(255), rand.Intn(255))),
		CPU: models.Ptr(float64(rand.Intn(1000)) / 10),
		RAM: models.Ptr(float64(rand.Intn(1000)) / 10),
		Players: &models.PlayersPatch{
			Current: models.Ptr(rand.Intn(maxPlayers + 1)),
			Max:     models.Ptr(maxPlayers),
		},
		Ping: models.Ptr(5 + rand.Intn(250)),
	}

	if _, err := state.Update(ctx, patch); err != nil {
		return fmt.Errorf("write fake metrics: %w", err)
	}

	log.Info().Int("locations", added).Msg("Fake data generated")

	return nil
}
