// Package storage handles database connections, schema migrations, and data
// operations for the server state, important locations and backup tasks.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/woozymasta/outpost/internal/config"
	"github.com/woozymasta/outpost/internal/models"
)

// StateKey is the well-known identifier of the server state document.
const StateKey = "current"

// Store is the persistence contract shared by the SQLite and MongoDB backends.
// GetMetrics returns (nil, nil) when the state document does not exist.
type Store interface {
	// EnsureMetrics inserts m as the state document unless one already
	// exists. It reports whether the document was created.
	EnsureMetrics(ctx context.Context, m models.ServerMetrics) (bool, error)
	GetMetrics(ctx context.Context) (*models.ServerMetrics, error)
	// PatchMetrics merges patch into the state document, creating it from the
	// patch alone when absent, and returns the resulting document.
	PatchMetrics(ctx context.Context, patch *models.MetricsPatch) (*models.ServerMetrics, error)
	ReplaceMetrics(ctx context.Context, m models.ServerMetrics) error
	// RaiseBackupFlag sets backup_in_progress to "yes" and lastUpdated to at
	// in one conditional write, only if the flag is not already raised. It
	// returns the updated document, or nil when the flag was already "yes"
	// or the document does not exist.
	RaiseBackupFlag(ctx context.Context, at time.Time) (*models.ServerMetrics, error)

	InsertLocation(ctx context.Context, loc models.ImportantLocation) error
	ListLocations(ctx context.Context) ([]models.ImportantLocation, error)
	CountLocations(ctx context.Context) (int64, error)

	InsertBackupTask(ctx context.Context, task models.BackupTask) error
	DueBackupTasks(ctx context.Context, now time.Time) ([]models.BackupTask, error)
	CompleteBackupTask(ctx context.Context, id string, at time.Time) error

	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.Storage) (Store, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	switch cfg.Driver {
	case config.DriverSQLite, "":
		repo, err := New(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.DriverMongo:
		store, err := NewMongo(ctx, cfg.URI, cfg.Name)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MongoStore)(nil)
)
