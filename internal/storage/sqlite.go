package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/woozymasta/outpost/assets"
	"github.com/woozymasta/outpost/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// Repository is the SQLite backed Store. The state document is kept as JSON
// text and patched with json_patch so merges happen in one statement.
type Repository struct {
	db *sql.DB
}

// New initializes a new SQLite connection, sets connection pool parameters, and runs migrations.
// The special path ":memory:" opens a private in-memory database on a single connection.
func New(ctx context.Context, dbPath string) (*Repository, error) {
	dsn := dbPath
	memory := dbPath == ":memory:"
	if !memory {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if memory {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(ctx, db, assets.Migrations()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping verifies the database connection is alive.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// EnsureMetrics inserts m unless the state document exists.
func (r *Repository) EnsureMetrics(ctx context.Context, m models.ServerMetrics) (bool, error) {
	doc, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("encode state: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO server_state (id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		StateKey, string(doc), time.Now().UnixNano(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// GetMetrics returns the state document or nil if it was never written.
func (r *Repository) GetMetrics(ctx context.Context) (*models.ServerMetrics, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT doc FROM server_state WHERE id = ?`, StateKey).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m models.ServerMetrics
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	return &m, nil
}

// PatchMetrics merges patch into the state document (RFC 7396 semantics).
func (r *Repository) PatchMetrics(ctx context.Context, patch *models.MetricsPatch) (*models.ServerMetrics, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO server_state (id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			doc        = json_patch(server_state.doc, excluded.doc),
			updated_at = excluded.updated_at`,
		StateKey, string(body), time.Now().UnixNano(),
	); err != nil {
		return nil, err
	}

	return r.GetMetrics(ctx)
}

// ReplaceMetrics overwrites the whole state document.
func (r *Repository) ReplaceMetrics(ctx context.Context, m models.ServerMetrics) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO server_state (id, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		StateKey, string(doc), time.Now().UnixNano(),
	)

	return err
}

// RaiseBackupFlag raises backup_in_progress unless it is already "yes".
func (r *Repository) RaiseBackupFlag(ctx context.Context, at time.Time) (*models.ServerMetrics, error) {
	body, err := json.Marshal(&models.MetricsPatch{
		BackupInProgress: models.Ptr(models.FlagYes),
		LastUpdated:      &at,
	})
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}

	var doc string
	err = r.db.QueryRowContext(ctx, `
		UPDATE server_state SET
			doc        = json_patch(doc, ?),
			updated_at = ?
		WHERE id = ? AND COALESCE(json_extract(doc, '$.backup_in_progress'), 'no') <> 'yes'
		RETURNING doc`,
		string(body), time.Now().UnixNano(), StateKey,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var m models.ServerMetrics
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	return &m, nil
}

// InsertLocation appends a location record.
func (r *Repository) InsertLocation(ctx context.Context, loc models.ImportantLocation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO important_locations (id, discovery, coordinates, is_own_territory, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		loc.ID, loc.Discovery, loc.Coordinates, loc.IsOwnTerritory, loc.CreatedAt.UnixNano(),
	)

	return err
}

// ListLocations returns every location, newest first. Records sharing a
// timestamp keep insertion order, newest first.
func (r *Repository) ListLocations(ctx context.Context) ([]models.ImportantLocation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, discovery, coordinates, is_own_territory, created_at
		FROM important_locations
		ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	locations := []models.ImportantLocation{}
	for rows.Next() {
		var (
			loc       models.ImportantLocation
			createdAt int64
		)
		if err := rows.Scan(&loc.ID, &loc.Discovery, &loc.Coordinates, &loc.IsOwnTerritory, &createdAt); err != nil {
			return nil, err
		}
		loc.CreatedAt = time.Unix(0, createdAt).UTC()
		locations = append(locations, loc)
	}

	return locations, rows.Err()
}

// CountLocations returns the number of stored locations.
func (r *Repository) CountLocations(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM important_locations`).Scan(&n)
	return n, err
}

// InsertBackupTask persists a pending backup task.
func (r *Repository) InsertBackupTask(ctx context.Context, task models.BackupTask) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO backup_tasks (id, requested_at, due_at) VALUES (?, ?, ?)`,
		task.ID, task.RequestedAt.UnixNano(), task.DueAt.UnixNano(),
	)

	return err
}

// DueBackupTasks returns uncompleted tasks whose due time is not after now, oldest first.
func (r *Repository) DueBackupTasks(ctx context.Context, now time.Time) ([]models.BackupTask, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, requested_at, due_at
		FROM backup_tasks
		WHERE completed_at IS NULL AND due_at <= ?
		ORDER BY due_at ASC`, now.UnixNano())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []models.BackupTask
	for rows.Next() {
		var (
			task               models.BackupTask
			requestedAt, dueAt int64
		)
		if err := rows.Scan(&task.ID, &requestedAt, &dueAt); err != nil {
			return nil, err
		}
		task.RequestedAt = time.Unix(0, requestedAt).UTC()
		task.DueAt = time.Unix(0, dueAt).UTC()
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// CompleteBackupTask marks the task done. Completing an already completed
// task is a no-op.
func (r *Repository) CompleteBackupTask(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE backup_tasks SET completed_at = ? WHERE id = ? AND completed_at IS NULL`,
		at.UnixNano(), id,
	)

	return err
}
