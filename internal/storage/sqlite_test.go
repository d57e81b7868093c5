package storage_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/woozymasta/outpost/internal/config"
	"github.com/woozymasta/outpost/internal/models"
	"github.com/woozymasta/outpost/internal/storage"
)

// newTestRepo opens a fresh in-memory SQLite database for each test.
func newTestRepo(t *testing.T) *storage.Repository {
	t.Helper()
	r, err := storage.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func sampleMetrics() models.ServerMetrics {
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.ServerMetrics{
		IP:               "192.168.1.100",
		OffRequestSent:   models.FlagNo,
		BackupInProgress: models.FlagNo,
		LastBackupTime:   &last,
		Players:          models.Players{Current: 0, Max: 100},
		LastUpdated:      last,
	}
}

func TestNew_MigratesFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outpost.db")
	ctx := context.Background()

	r, err := storage.New(ctx, path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening must skip already applied migrations.
	r, err = storage.New(ctx, path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer func() { _ = r.Close() }()

	if err := r.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOpen_SQLiteDriver(t *testing.T) {
	s, err := storage.Open(context.Background(), config.Storage{Driver: config.DriverSQLite, Path: ":memory:", Timeout: time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if _, ok := s.(*storage.Repository); !ok {
		t.Errorf("Open(sqlite): got %T, want *storage.Repository", s)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := storage.Open(context.Background(), config.Storage{Driver: "postgres"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestGetMetrics_Missing(t *testing.T) {
	r := newTestRepo(t)
	m, err := r.GetMetrics(context.Background())
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil document, got %+v", m)
	}
}

func TestEnsureMetrics_OnlyOnce(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	created, err := r.EnsureMetrics(ctx, sampleMetrics())
	if err != nil {
		t.Fatalf("EnsureMetrics: %v", err)
	}
	if !created {
		t.Error("first EnsureMetrics should create the document")
	}

	other := sampleMetrics()
	other.IP = "10.0.0.1"
	created, err = r.EnsureMetrics(ctx, other)
	if err != nil {
		t.Fatalf("EnsureMetrics: %v", err)
	}
	if created {
		t.Error("second EnsureMetrics must not create another document")
	}

	got, err := r.GetMetrics(ctx)
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if got.IP != "192.168.1.100" {
		t.Errorf("IP: got %q, want unchanged 192.168.1.100", got.IP)
	}
}

func TestEnsureMetrics_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.db")
	r, err := storage.New(context.Background(), path)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer func() { _ = r.Close() }()

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.EnsureMetrics(context.Background(), sampleMetrics())
			if err != nil {
				t.Errorf("EnsureMetrics: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created: got %d, want exactly 1", created)
	}
}

func TestPatchMetrics_MergesFields(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.EnsureMetrics(ctx, sampleMetrics()); err != nil {
		t.Fatalf("EnsureMetrics: %v", err)
	}

	got, err := r.PatchMetrics(ctx, &models.MetricsPatch{
		CPU:     models.Ptr(55.0),
		Players: &models.PlayersPatch{Current: models.Ptr(7)},
	})
	if err != nil {
		t.Fatalf("PatchMetrics: %v", err)
	}

	if got.CPU != 55 {
		t.Errorf("CPU: got %v, want 55", got.CPU)
	}
	if got.Players.Current != 7 {
		t.Errorf("Players.Current: got %d, want 7", got.Players.Current)
	}
	if got.Players.Max != 100 {
		t.Errorf("Players.Max must be preserved: got %d, want 100", got.Players.Max)
	}
	if got.IP != "192.168.1.100" {
		t.Errorf("IP must be preserved: got %q", got.IP)
	}
	if got.LastBackupTime == nil || !got.LastBackupTime.Equal(*sampleMetrics().LastBackupTime) {
		t.Errorf("LastBackupTime must be preserved: got %v", got.LastBackupTime)
	}
}

func TestPatchMetrics_Flags(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.EnsureMetrics(ctx, sampleMetrics()); err != nil {
		t.Fatalf("EnsureMetrics: %v", err)
	}

	yes := models.FlagYes
	got, err := r.PatchMetrics(ctx, &models.MetricsPatch{OffRequestSent: &yes})
	if err != nil {
		t.Fatalf("PatchMetrics: %v", err)
	}
	if got.OffRequestSent != models.FlagYes {
		t.Errorf("OffRequestSent: got %q, want yes", got.OffRequestSent)
	}
	if got.BackupInProgress != models.FlagNo {
		t.Errorf("BackupInProgress: got %q, want no", got.BackupInProgress)
	}
}

func TestRaiseBackupFlag(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	got, err := r.RaiseBackupFlag(ctx, at)
	if err != nil || got != nil {
		t.Fatalf("missing document: got %+v err=%v, want nil", got, err)
	}

	if _, err := r.EnsureMetrics(ctx, sampleMetrics()); err != nil {
		t.Fatalf("EnsureMetrics: %v", err)
	}

	got, err = r.RaiseBackupFlag(ctx, at)
	if err != nil {
		t.Fatalf("RaiseBackupFlag: %v", err)
	}
	if got == nil || got.BackupInProgress != models.FlagYes {
		t.Fatalf("first raise: got %+v, want backup_in_progress yes", got)
	}
	if !got.LastUpdated.Equal(at) || got.IP != "192.168.1.100" {
		t.Errorf("raise must only touch the flag and lastUpdated: %+v", got)
	}

	got, err = r.RaiseBackupFlag(ctx, at.Add(time.Minute))
	if err != nil || got != nil {
		t.Fatalf("second raise: got %+v err=%v, want nil", got, err)
	}

	if _, err := r.PatchMetrics(ctx, &models.MetricsPatch{BackupInProgress: models.Ptr(models.FlagNo)}); err != nil {
		t.Fatalf("PatchMetrics: %v", err)
	}
	got, err = r.RaiseBackupFlag(ctx, at)
	if err != nil || got == nil {
		t.Fatalf("raise after lowering: got %+v err=%v", got, err)
	}
}

func TestReplaceMetrics(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if _, err := r.EnsureMetrics(ctx, sampleMetrics()); err != nil {
		t.Fatalf("EnsureMetrics: %v", err)
	}

	fresh := sampleMetrics()
	fresh.IP = "203.0.113.9"
	fresh.CPU = 1
	if err := r.ReplaceMetrics(ctx, fresh); err != nil {
		t.Fatalf("ReplaceMetrics: %v", err)
	}

	got, err := r.GetMetrics(ctx)
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if got.IP != "203.0.113.9" || got.CPU != 1 {
		t.Errorf("replace not applied: %+v", got)
	}
}

func TestLocations_InsertListOrder(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	locs := []models.ImportantLocation{
		{ID: "a", Discovery: "Cave", Coordinates: "X: 1", CreatedAt: base},
		{ID: "b", Discovery: "Village", Coordinates: "X: 2", CreatedAt: base.Add(time.Minute), IsOwnTerritory: true},
		{ID: "c", Discovery: "Tower", Coordinates: "X: 3", CreatedAt: base.Add(time.Minute)},
	}
	for _, l := range locs {
		if err := r.InsertLocation(ctx, l); err != nil {
			t.Fatalf("InsertLocation(%s): %v", l.ID, err)
		}
	}

	got, err := r.ListLocations(ctx)
	if err != nil {
		t.Fatalf("ListLocations: %v", err)
	}

	wantOrder := []string{"c", "b", "a"}
	if len(got) != len(wantOrder) {
		t.Fatalf("len: got %d, want %d", len(got), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("position %d: got %q, want %q", i, got[i].ID, id)
		}
	}
	if !got[1].IsOwnTerritory {
		t.Error("IsOwnTerritory should round-trip as true")
	}
	if !got[2].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt: got %v, want %v", got[2].CreatedAt, base)
	}

	n, err := r.CountLocations(ctx)
	if err != nil {
		t.Fatalf("CountLocations: %v", err)
	}
	if n != 3 {
		t.Errorf("CountLocations: got %d, want 3", n)
	}
}

func TestListLocations_EmptyIsNotNil(t *testing.T) {
	r := newTestRepo(t)
	got, err := r.ListLocations(context.Background())
	if err != nil {
		t.Fatalf("ListLocations: %v", err)
	}
	if got == nil {
		t.Error("expected empty slice, got nil")
	}
}

func TestInsertLocation_DuplicateID(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	loc := models.ImportantLocation{ID: "dup", Discovery: "d", Coordinates: "c", CreatedAt: time.Now()}
	if err := r.InsertLocation(ctx, loc); err != nil {
		t.Fatalf("InsertLocation: %v", err)
	}
	if err := r.InsertLocation(ctx, loc); err == nil {
		t.Error("expected error inserting a duplicate id")
	}
}

func TestBackupTasks_DueAndComplete(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tasks := []models.BackupTask{
		{ID: "late", RequestedAt: now.Add(-time.Hour), DueAt: now.Add(-time.Minute)},
		{ID: "exact", RequestedAt: now.Add(-5 * time.Second), DueAt: now},
		{ID: "future", RequestedAt: now, DueAt: now.Add(5 * time.Second)},
	}
	for _, task := range tasks {
		if err := r.InsertBackupTask(ctx, task); err != nil {
			t.Fatalf("InsertBackupTask(%s): %v", task.ID, err)
		}
	}

	due, err := r.DueBackupTasks(ctx, now)
	if err != nil {
		t.Fatalf("DueBackupTasks: %v", err)
	}
	if len(due) != 2 || due[0].ID != "late" || due[1].ID != "exact" {
		t.Fatalf("due tasks: got %+v, want [late exact]", due)
	}
	if !due[0].DueAt.Equal(now.Add(-time.Minute)) {
		t.Errorf("DueAt: got %v", due[0].DueAt)
	}

	if err := r.CompleteBackupTask(ctx, "late", now); err != nil {
		t.Fatalf("CompleteBackupTask: %v", err)
	}
	// Completing twice is harmless.
	if err := r.CompleteBackupTask(ctx, "late", now.Add(time.Second)); err != nil {
		t.Fatalf("CompleteBackupTask again: %v", err)
	}

	due, err = r.DueBackupTasks(ctx, now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("DueBackupTasks: %v", err)
	}
	if len(due) != 2 || due[0].ID != "exact" || due[1].ID != "future" {
		t.Errorf("due tasks after completion: got %+v, want [exact future]", due)
	}
}
