package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/models"
)

// TripRepository handles database operations for trips.
type TripRepository struct {
	db *database.DB
}

// NewTripRepository creates a new trip repository
func NewTripRepository(db *database.DB) *TripRepository {
	return &TripRepository{db: db}
}

func validateTrip(t *models.Trip) error {
	if t.IsOngoing && t.EndTime != nil {
		return fmt.Errorf("%w: ongoing trip must not have an end time", ErrInvalidEntity)
	}
	if !t.IsOngoing && t.EndTime == nil {
		return fmt.Errorf("%w: closed trip must have an end time", ErrInvalidEntity)
	}
	if t.EndTime != nil && t.StartTime > *t.EndTime {
		return fmt.Errorf("%w: trip start must not exceed end", ErrInvalidEntity)
	}
	return nil
}

const tripColumns = `id, start_ts, end_ts, display_name, is_ongoing, is_auto_detected,
	tags_json, summary_json, version, synced_version, device_id, updated_at`

func scanTrip(row interface{ Scan(...any) error }) (*models.Trip, error) {
	t := &models.Trip{}
	var tagsJSON, summaryJSON string
	err := row.Scan(&t.ID, &t.StartTime, &t.EndTime, &t.DisplayName,
		&t.IsOngoing, &t.IsAutoDetected, &tagsJSON, &summaryJSON,
		&t.Version, &t.SyncedVersion, &t.DeviceID, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tagsJSON != "" {
		json.Unmarshal([]byte(tagsJSON), &t.Tags)
	}
	if summaryJSON != "" {
		json.Unmarshal([]byte(summaryJSON), &t.Summary)
	}
	return t, nil
}

// UpsertTx inserts or replaces a trip inside an existing transaction.
func (r *TripRepository) UpsertTx(tx *sql.Tx, t *models.Trip) error {
	if err := validateTrip(t); err != nil {
		return err
	}

	query := `
		INSERT INTO trips (` + tripColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_ts=excluded.start_ts, end_ts=excluded.end_ts,
			display_name=excluded.display_name, is_ongoing=excluded.is_ongoing,
			is_auto_detected=excluded.is_auto_detected, tags_json=excluded.tags_json,
			summary_json=excluded.summary_json, version=excluded.version,
			synced_version=excluded.synced_version, device_id=excluded.device_id,
			updated_at=excluded.updated_at
	`

	_, err := tx.Exec(query,
		t.ID, t.StartTime, t.EndTime, t.DisplayName, t.IsOngoing, t.IsAutoDetected,
		t.TagsJSON(), t.SummaryJSON(), t.Version, t.SyncedVersion, t.DeviceID, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert trip: %w", err)
	}

	return nil
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(id string) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = ?`

	t, err := scanTrip(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}

	return t, nil
}

// List retrieves trips matching the filter with pagination.
func (r *TripRepository) List(filter models.TripFilter) ([]models.Trip, int64, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.StartTime > 0 {
		where += " AND start_ts >= ?"
		args = append(args, filter.StartTime)
	}
	if filter.EndTime > 0 {
		where += " AND start_ts <= ?"
		args = append(args, filter.EndTime)
	}
	if filter.AutoDetected != nil {
		where += " AND is_auto_detected = ?"
		args = append(args, *filter.AutoDetected)
	}
	if filter.Ongoing != nil {
		where += " AND is_ongoing = ?"
		args = append(args, *filter.Ongoing)
	}

	var total int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM trips"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count trips: %w", err)
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 100
	}

	query := `SELECT ` + tripColumns + ` FROM trips` + where +
		" ORDER BY start_ts LIMIT ? OFFSET ?"
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list trips: %w", err)
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, *t)
	}

	return trips, total, rows.Err()
}

// ListRange returns all trips starting in [startTS, endTS), ordered by
// start time. User-created trips are included.
func (r *TripRepository) ListRange(startTS, endTS int64) ([]models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips
		WHERE start_ts >= ? AND start_ts < ?
		ORDER BY start_ts`
	return r.queryTrips(query, startTS, endTS)
}

// ListAutoDetectedRange returns auto-detected trips starting in
// [startTS, endTS), ordered by start time. Used when the detector
// reconciles a re-run against previously stored boundaries; user-created
// trips are never touched by reconciliation.
func (r *TripRepository) ListAutoDetectedRange(startTS, endTS int64) ([]models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips
		WHERE is_auto_detected = 1 AND start_ts >= ? AND start_ts < ?
		ORDER BY start_ts`
	return r.queryTrips(query, startTS, endTS)
}

func (r *TripRepository) queryTrips(query string, args ...any) ([]models.Trip, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}
	defer rows.Close()

	var trips []models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trip: %w", err)
		}
		trips = append(trips, *t)
	}

	return trips, rows.Err()
}

// DeleteTx removes a trip row.
func (r *TripRepository) DeleteTx(tx *sql.Tx, id string) error {
	if _, err := tx.Exec("DELETE FROM trips WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete trip: %w", err)
	}
	return nil
}

// ApplyRemoteTx upserts a trip from a remote snapshot.
func (r *TripRepository) ApplyRemoteTx(tx *sql.Tx, env models.EntityEnvelope) error {
	if env.Deleted {
		if _, err := tx.Exec("DELETE FROM trips WHERE id = ?", env.EntityID); err != nil {
			return fmt.Errorf("failed to delete trip: %w", err)
		}
		return nil
	}

	var t models.Trip
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return fmt.Errorf("%w: malformed trip payload: %v", ErrInvalidEntity, err)
	}
	t.ID = env.EntityID
	t.Version = env.Version
	t.SyncedVersion = env.Version
	t.DeviceID = env.DeviceID
	t.UpdatedAt = env.UpdatedAt
	if err := validateTrip(&t); err != nil {
		return err
	}

	return r.UpsertTx(tx, &t)
}

// MarkSyncedTx records that the remote acknowledged the given version.
// Returns false when the local row has already moved past the acked
// version; the acknowledgement is still recorded and the newer edit
// stays pending.
func (r *TripRepository) MarkSyncedTx(tx *sql.Tx, id string, version int64) (bool, error) {
	res, err := tx.Exec("UPDATE trips SET synced_version = ? WHERE id = ? AND version = ?",
		version, id, version)
	if err != nil {
		return false, fmt.Errorf("failed to mark trip synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark trip synced: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	if _, err := tx.Exec("UPDATE trips SET synced_version = ? WHERE id = ? AND version > ?",
		version, id, version); err != nil {
		return false, fmt.Errorf("failed to mark trip synced: %w", err)
	}
	return false, nil
}
