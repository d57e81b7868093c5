package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/outpost/internal/storage"
)

// Scheduler completes persisted backup tasks once they are due. Tasks left
// over from a previous process are completed by the first run after start.
type Scheduler struct {
	state    *State
	store    storage.Store
	now      func() time.Time
	wake     chan struct{}
	shutdown chan struct{}
	wg       sync.WaitGroup
	interval time.Duration
}

// NewScheduler creates a scheduler polling every interval and registers it
// with state so new backup requests wake it up.
func NewScheduler(store storage.Store, state *State, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}

	s := &Scheduler{
		state:    state,
		store:    store,
		now:      state.now,
		wake:     make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		interval: interval,
	}
	state.OnBackupScheduled(s.Notify)

	return s
}

// Notify wakes the worker without blocking.
func (s *Scheduler) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the background worker.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Stop signals the worker and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.shutdown)
	s.wg.Wait()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.shutdown
		cancel()
	}()

	s.runLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.runLogged(ctx)
		case <-s.wake:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	n, err := s.RunDue(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Int("completed", n).Msg("Backup task run failed")
		return
	}
	if n > 0 {
		log.Debug().Int("completed", n).Msg("Backup tasks completed")
	}
}

// RunDue completes every task due at the current time and returns how many
// were completed. It stops at the first failure; the remaining tasks are
// retried on the next run.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	tasks, err := s.store.DueBackupTasks(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("load due backup tasks: %w", err)
	}

	for i, task := range tasks {
		if err := s.state.CompleteBackup(ctx, task); err != nil {
			return i, err
		}
	}

	return len(tasks), nil
}
