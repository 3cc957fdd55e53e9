package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/models"
)

// SyncRepository handles the pending-change queue, detected conflicts
// and per-device sync state.
type SyncRepository struct {
	db *database.DB
}

// NewSyncRepository creates a new sync repository
func NewSyncRepository(db *database.DB) *SyncRepository {
	return &SyncRepository{db: db}
}

// EnqueueTx adds (or refreshes) a pending change for the entity. Safe to
// call repeatedly; an already-queued entity keeps its queue position but
// becomes due immediately.
func (r *SyncRepository) EnqueueTx(tx *sql.Tx, entityType, entityID string) error {
	query := `
		INSERT INTO pending_changes (entity_type, entity_id, queued_at, attempts, next_attempt_at)
		VALUES (?, ?, ?, 0, 0)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET next_attempt_at = 0
	`

	if _, err := tx.Exec(query, entityType, entityID, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to enqueue pending change: %w", err)
	}
	return nil
}

// DuePending returns pending changes due at or before now, oldest first.
func (r *SyncRepository) DuePending(now int64) ([]models.PendingChange, error) {
	query := `
		SELECT id, entity_type, entity_id, queued_at, attempts, next_attempt_at
		FROM pending_changes
		WHERE next_attempt_at <= ?
		ORDER BY queued_at, id
	`

	rows, err := r.db.Query(query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending changes: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingChange
	for rows.Next() {
		var p models.PendingChange
		if err := rows.Scan(&p.ID, &p.EntityType, &p.EntityID, &p.QueuedAt, &p.Attempts, &p.NextAttemptAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending change: %w", err)
		}
		pending = append(pending, p)
	}

	return pending, rows.Err()
}

// HasPending reports whether the entity has an unpushed local change.
func (r *SyncRepository) HasPending(entityType, entityID string) (bool, error) {
	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM pending_changes WHERE entity_type = ? AND entity_id = ?",
		entityType, entityID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check pending change: %w", err)
	}
	return n > 0, nil
}

// DeletePendingTx removes a pending change after a successful push or a
// conflict hand-off.
func (r *SyncRepository) DeletePendingTx(tx *sql.Tx, entityType, entityID string) error {
	if _, err := tx.Exec("DELETE FROM pending_changes WHERE entity_type = ? AND entity_id = ?",
		entityType, entityID); err != nil {
		return fmt.Errorf("failed to delete pending change: %w", err)
	}
	return nil
}

// ParkPending marks a change for retry on a later sync cycle.
func (r *SyncRepository) ParkPending(id int64, nextAttemptAt int64) error {
	if _, err := r.db.Exec(
		"UPDATE pending_changes SET attempts = attempts + 1, next_attempt_at = ? WHERE id = ?",
		nextAttemptAt, id); err != nil {
		return fmt.Errorf("failed to park pending change: %w", err)
	}
	return nil
}

// PendingCount returns the number of queued changes.
func (r *SyncRepository) PendingCount() (int64, error) {
	var n int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM pending_changes").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending changes: %w", err)
	}
	return n, nil
}

// InsertConflictTx records a detected conflict. One conflict per entity:
// a newer detection replaces a stale one.
func (r *SyncRepository) InsertConflictTx(tx *sql.Tx, c *models.SyncConflict) error {
	query := `
		INSERT INTO sync_conflicts (
			entity_type, entity_id, conflict_type,
			local_snapshot, local_version, local_device_id,
			remote_snapshot, remote_version, remote_device_id, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			conflict_type=excluded.conflict_type,
			local_snapshot=excluded.local_snapshot,
			local_version=excluded.local_version,
			local_device_id=excluded.local_device_id,
			remote_snapshot=excluded.remote_snapshot,
			remote_version=excluded.remote_version,
			remote_device_id=excluded.remote_device_id
	`

	_, err := tx.Exec(query,
		c.EntityType, c.EntityID, c.ConflictType,
		string(c.LocalSnapshot), c.LocalVersion, c.LocalDeviceID,
		string(c.RemoteSnapshot), c.RemoteVersion, c.RemoteDeviceID, c.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}

	return nil
}

const conflictColumns = `id, entity_type, entity_id, conflict_type,
	local_snapshot, local_version, local_device_id,
	remote_snapshot, remote_version, remote_device_id, detected_at`

func scanConflict(row interface{ Scan(...any) error }) (*models.SyncConflict, error) {
	c := &models.SyncConflict{}
	var localSnap, remoteSnap string
	err := row.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.ConflictType,
		&localSnap, &c.LocalVersion, &c.LocalDeviceID,
		&remoteSnap, &c.RemoteVersion, &c.RemoteDeviceID, &c.DetectedAt)
	if err != nil {
		return nil, err
	}
	c.LocalSnapshot = []byte(localSnap)
	c.RemoteSnapshot = []byte(remoteSnap)
	return c, nil
}

// ListConflicts returns pending conflicts oldest first.
func (r *SyncRepository) ListConflicts() ([]models.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts ORDER BY detected_at, id`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []models.SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, *c)
	}

	return conflicts, rows.Err()
}

// GetConflict retrieves a conflict by ID.
func (r *SyncRepository) GetConflict(id int64) (*models.SyncConflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE id = ?`

	c, err := scanConflict(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}

	return c, nil
}

// DeleteConflictTx destroys a conflict after resolution.
func (r *SyncRepository) DeleteConflictTx(tx *sql.Tx, id int64) error {
	if _, err := tx.Exec("DELETE FROM sync_conflicts WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete conflict: %w", err)
	}
	return nil
}

// ConflictCount returns the number of unresolved conflicts.
func (r *SyncRepository) ConflictCount() (int64, error) {
	var n int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM sync_conflicts").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return n, nil
}

// GetDeviceState loads (or initializes) the sync state for a device.
func (r *SyncRepository) GetDeviceState(deviceID string) (*models.DeviceSyncState, error) {
	query := `
		SELECT device_id, last_push_version, last_pull_cursor,
			   pending_push_count, pending_conflict_count, updated_at
		FROM device_sync_state WHERE device_id = ?
	`

	s := &models.DeviceSyncState{}
	err := r.db.QueryRow(query, deviceID).Scan(
		&s.DeviceID, &s.LastPushVersion, &s.LastPullCursor,
		&s.PendingPushCount, &s.PendingConflictCount, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return &models.DeviceSyncState{DeviceID: deviceID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device sync state: %w", err)
	}

	return s, nil
}

// SaveDeviceState persists the sync state for a device.
func (r *SyncRepository) SaveDeviceState(s *models.DeviceSyncState) error {
	s.UpdatedAt = time.Now().Unix()

	query := `
		INSERT INTO device_sync_state (
			device_id, last_push_version, last_pull_cursor,
			pending_push_count, pending_conflict_count, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			last_push_version=excluded.last_push_version,
			last_pull_cursor=excluded.last_pull_cursor,
			pending_push_count=excluded.pending_push_count,
			pending_conflict_count=excluded.pending_conflict_count,
			updated_at=excluded.updated_at
	`

	_, err := r.db.Exec(query, s.DeviceID, s.LastPushVersion, s.LastPullCursor,
		s.PendingPushCount, s.PendingConflictCount, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save device sync state: %w", err)
	}

	return nil
}
