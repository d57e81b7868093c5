// Package maintenance provides one-shot database repair tasks run from the command line.
package maintenance

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/outpost/internal/config"
	"github.com/woozymasta/outpost/internal/models"
)

// StateRepairer is the subset of service.State used by maintenance tasks.
type StateRepairer interface {
	ResetBackup(ctx context.Context) (*models.ServerMetrics, error)
	Reset(ctx context.Context) (*models.ServerMetrics, error)
}

// TaskRunner completes due backup tasks.
type TaskRunner interface {
	RunDue(ctx context.Context) (int, error)
}

// Run executes every maintenance task enabled in cfg, in the order
// reconcile, reset backup, reset state. It returns true if at least one task
// ran, meaning the program should exit afterwards.
func Run(ctx context.Context, cfg config.Storage, state StateRepairer, tasks TaskRunner) bool {
	ran := false

	if cfg.Reconcile {
		ran = true
		log.Info().Msg("Completing due backup tasks...")

		n, err := tasks.RunDue(ctx)
		if err != nil {
			log.Error().Err(err).Int("completed", n).Msg("Reconcile failed")
		} else {
			log.Info().Int("completed", n).Msg("Reconcile finished")
		}
	}

	if cfg.ResetBackup {
		ran = true
		log.Info().Msg("Clearing backup_in_progress flag...")

		if _, err := state.ResetBackup(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to reset backup flag")
		} else {
			log.Info().Msg("Backup flag cleared")
		}
	}

	if cfg.ResetState {
		ran = true
		log.Warn().Msg("Overwriting server state with defaults...")

		if _, err := state.Reset(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to reset server state")
		} else {
			log.Info().Msg("Server state reset")
		}
	}

	return ran
}
