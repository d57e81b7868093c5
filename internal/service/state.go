package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/outpost/internal/models"
	"github.com/woozymasta/outpost/internal/storage"
)

// StateOptions configures the server state service.
type StateOptions struct {
	// Now returns the current time; time.Now when nil.
	Now func() time.Time

	// DefaultIP is written into a freshly created state document.
	DefaultIP string

	// DefaultMaxPlayers is written into a freshly created state document.
	DefaultMaxPlayers int

	// BackupDelay is the time between a backup request and its completion.
	BackupDelay time.Duration
}

// State reads and mutates the singleton server state document.
type State struct {
	store  storage.Store
	now    func() time.Time
	notify func()
	opts   StateOptions
}

// NewState creates the state service.
func NewState(store storage.Store, opts StateOptions) *State {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.DefaultMaxPlayers <= 0 {
		opts.DefaultMaxPlayers = 100
	}

	return &State{
		store:  store,
		now:    func() time.Time { return now().UTC() },
		notify: func() {},
		opts:   opts,
	}
}

// OnBackupScheduled registers fn to be called after a backup task is persisted.
func (s *State) OnBackupScheduled(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	s.notify = fn
}

// Defaults returns the document written when none exists yet.
func (s *State) Defaults() models.ServerMetrics {
	now := s.now()
	lastBackup := now.Add(-24 * time.Hour)

	return models.ServerMetrics{
		IP:               s.opts.DefaultIP,
		OffRequestSent:   models.FlagNo,
		BackupInProgress: models.FlagNo,
		LastBackupTime:   &lastBackup,
		Players:          models.Players{Current: 0, Max: s.opts.DefaultMaxPlayers},
		LastUpdated:      now,
	}
}

// Current returns the state document, or nil when it was never created.
func (s *State) Current(ctx context.Context) (*models.ServerMetrics, error) {
	m, err := s.store.GetMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("get server state: %w", err)
	}

	return m, nil
}

// Fetch returns the state document, creating it with defaults when absent.
// Concurrent first calls create exactly one document.
func (s *State) Fetch(ctx context.Context) (*models.ServerMetrics, error) {
	m, err := s.Current(ctx)
	if err != nil || m != nil {
		return m, err
	}

	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	m, err = s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("server state missing after insert")
	}

	return m, nil
}

// Start clears the offline request (off_request_sent = "no").
func (s *State) Start(ctx context.Context) (*models.ServerMetrics, error) {
	log.Info().Msg("Server start requested")
	return s.apply(ctx, &models.MetricsPatch{OffRequestSent: models.Ptr(models.FlagNo)})
}

// Stop sets the offline request (off_request_sent = "yes").
func (s *State) Stop(ctx context.Context) (*models.ServerMetrics, error) {
	log.Info().Msg("Server stop requested")
	return s.apply(ctx, &models.MetricsPatch{OffRequestSent: models.Ptr(models.FlagYes)})
}

// RequestBackup marks a backup as in progress and persists a task that
// completes it after the configured delay. The returned document shows
// backup_in_progress = "yes". A request while a backup is running returns the
// current document without scheduling another task.
//
// The flag is raised with a conditional write before the task is stored, so
// concurrent requests schedule one task and a task is never completed before
// its flag is raised.
func (s *State) RequestBackup(ctx context.Context) (*models.ServerMetrics, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	m, err := s.store.RaiseBackupFlag(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("raise backup flag: %w", err)
	}
	if m == nil {
		log.Debug().Msg("Backup already in progress, request ignored")
		return s.Current(ctx)
	}

	task := models.BackupTask{
		ID:          uuid.NewString(),
		RequestedAt: now,
		DueAt:       now.Add(s.opts.BackupDelay),
	}

	if err := s.store.InsertBackupTask(ctx, task); err != nil {
		// A raised flag without a task would never be cleared.
		if _, lowerErr := s.ResetBackup(context.WithoutCancel(ctx)); lowerErr != nil {
			log.Error().Err(lowerErr).Msg("Failed to lower backup flag after scheduling error")
		}
		return nil, fmt.Errorf("schedule backup: %w", err)
	}

	log.Info().
		Str("task", task.ID).
		Time("due", task.DueAt).
		Msg("Backup requested")

	s.notify()

	return m, nil
}

// Update merges a client supplied patch into the state document.
func (s *State) Update(ctx context.Context, patch *models.MetricsPatch) (*models.ServerMetrics, error) {
	if patch.Empty() {
		return nil, invalid("no data provided")
	}
	if err := patch.Validate(); err != nil {
		return nil, invalid(err.Error())
	}

	return s.apply(ctx, patch)
}

// CompleteBackup finishes a backup task: the flag is cleared, the backup
// time recorded and the task marked completed.
func (s *State) CompleteBackup(ctx context.Context, task models.BackupTask) error {
	now := s.now()
	if _, err := s.apply(ctx, &models.MetricsPatch{
		BackupInProgress: models.Ptr(models.FlagNo),
		LastBackupTime:   &now,
	}); err != nil {
		return err
	}

	if err := s.store.CompleteBackupTask(ctx, task.ID, now); err != nil {
		return fmt.Errorf("complete backup task %s: %w", task.ID, err)
	}

	log.Info().
		Str("task", task.ID).
		Dur("late", now.Sub(task.DueAt)).
		Msg("Backup completed")

	return nil
}

// ResetBackup clears the backup flag without recording a backup.
func (s *State) ResetBackup(ctx context.Context) (*models.ServerMetrics, error) {
	return s.apply(ctx, &models.MetricsPatch{BackupInProgress: models.Ptr(models.FlagNo)})
}

// Reset overwrites the state document with defaults.
func (s *State) Reset(ctx context.Context) (*models.ServerMetrics, error) {
	if err := s.store.ReplaceMetrics(ctx, s.Defaults()); err != nil {
		return nil, fmt.Errorf("reset server state: %w", err)
	}

	return s.Current(ctx)
}

// apply ensures the document exists, stamps lastUpdated and merges the patch.
func (s *State) apply(ctx context.Context, patch *models.MetricsPatch) (*models.ServerMetrics, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	patch.LastUpdated = &now

	m, err := s.store.PatchMetrics(ctx, patch)
	if err != nil {
		return nil, fmt.Errorf("update server state: %w", err)
	}

	return m, nil
}

func (s *State) ensure(ctx context.Context) error {
	created, err := s.store.EnsureMetrics(ctx, s.Defaults())
	if err != nil {
		return fmt.Errorf("create server state: %w", err)
	}
	if created {
		log.Info().Msg("Server state created with defaults")
	}

	return nil
}
