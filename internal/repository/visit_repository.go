package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/models"
)

// VisitRepository handles database operations for place visits.
type VisitRepository struct {
	db *database.DB
}

// NewVisitRepository creates a new visit repository
func NewVisitRepository(db *database.DB) *VisitRepository {
	return &VisitRepository{db: db}
}

func validateVisit(v *models.PlaceVisit) error {
	if v.RadiusMeters <= 0 {
		return fmt.Errorf("%w: visit radius must be positive", ErrInvalidEntity)
	}
	if v.DepartureTime != nil && v.ArrivalTime >= *v.DepartureTime {
		return fmt.Errorf("%w: visit arrival must precede departure", ErrInvalidEntity)
	}
	return nil
}

const visitColumns = `id, center_lat, center_lon, radius_m, arrival_ts, departure_ts,
	category, resolved_address, city, country, user_label, user_notes,
	is_favorite, trip_id, sample_count, is_synthetic,
	version, synced_version, device_id, updated_at`

func scanVisit(row interface{ Scan(...any) error }) (*models.PlaceVisit, error) {
	v := &models.PlaceVisit{}
	err := row.Scan(&v.ID, &v.CenterLat, &v.CenterLon, &v.RadiusMeters,
		&v.ArrivalTime, &v.DepartureTime, &v.Category, &v.ResolvedAddress,
		&v.City, &v.Country, &v.UserLabel, &v.UserNotes, &v.IsFavorite,
		&v.TripID, &v.SampleCount, &v.IsSynthetic,
		&v.Version, &v.SyncedVersion, &v.DeviceID, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// InsertTx inserts a new visit inside an existing transaction.
func (r *VisitRepository) InsertTx(tx *sql.Tx, v *models.PlaceVisit) error {
	if err := validateVisit(v); err != nil {
		return err
	}

	query := `
		INSERT INTO place_visits (` + visitColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.Exec(query,
		v.ID, v.CenterLat, v.CenterLon, v.RadiusMeters, v.ArrivalTime, v.DepartureTime,
		v.Category, v.ResolvedAddress, v.City, v.Country, v.UserLabel, v.UserNotes,
		v.IsFavorite, v.TripID, v.SampleCount, v.IsSynthetic,
		v.Version, v.SyncedVersion, v.DeviceID, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert visit: %w", err)
	}

	return nil
}

// GetByID retrieves a visit by ID.
func (r *VisitRepository) GetByID(id string) (*models.PlaceVisit, error) {
	query := `SELECT ` + visitColumns + ` FROM place_visits WHERE id = ?`

	v, err := scanVisit(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}

	return v, nil
}

// List retrieves visits matching the filter with pagination.
func (r *VisitRepository) List(filter models.VisitFilter) ([]models.PlaceVisit, int64, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.StartTime > 0 {
		where += " AND arrival_ts >= ?"
		args = append(args, filter.StartTime)
	}
	if filter.EndTime > 0 {
		where += " AND arrival_ts <= ?"
		args = append(args, filter.EndTime)
	}
	if filter.Category != "" {
		where += " AND category = ?"
		args = append(args, filter.Category)
	}
	if filter.Favorite != nil {
		where += " AND is_favorite = ?"
		args = append(args, *filter.Favorite)
	}

	var total int64
	if err := r.db.QueryRow("SELECT COUNT(*) FROM place_visits"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count visits: %w", err)
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 100
	}

	query := `SELECT ` + visitColumns + ` FROM place_visits` + where +
		" ORDER BY arrival_ts LIMIT ? OFFSET ?"
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list visits: %w", err)
	}
	defer rows.Close()

	var visits []models.PlaceVisit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, *v)
	}

	return visits, total, rows.Err()
}

// ListRange returns visits whose arrival falls in [startTS, endTS),
// ordered by arrival time.
func (r *VisitRepository) ListRange(startTS, endTS int64) ([]models.PlaceVisit, error) {
	query := `SELECT ` + visitColumns + ` FROM place_visits
		WHERE arrival_ts >= ? AND arrival_ts < ?
		ORDER BY arrival_ts`

	rows, err := r.db.Query(query, startTS, endTS)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	var visits []models.PlaceVisit
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, *v)
	}

	return visits, rows.Err()
}

// LastClosed returns the most recent visit with a departure time, or nil.
func (r *VisitRepository) LastClosed() (*models.PlaceVisit, error) {
	query := `SELECT ` + visitColumns + ` FROM place_visits
		WHERE departure_ts IS NOT NULL
		ORDER BY departure_ts DESC LIMIT 1`

	v, err := scanVisit(r.db.QueryRow(query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last closed visit: %w", err)
	}

	return v, nil
}

// UpdateUserFieldsTx applies a user-intent edit (label, notes, favorite)
// inside a transaction, bumping the version vector.
func (r *VisitRepository) UpdateUserFieldsTx(tx *sql.Tx, v *models.PlaceVisit, deviceID string) error {
	if err := validateVisit(v); err != nil {
		return err
	}

	v.Version++
	v.DeviceID = deviceID
	v.UpdatedAt = time.Now().Unix()

	query := `
		UPDATE place_visits
		SET user_label = ?, user_notes = ?, is_favorite = ?,
			version = ?, device_id = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := tx.Exec(query, v.UserLabel, v.UserNotes, v.IsFavorite,
		v.Version, v.DeviceID, v.UpdatedAt, v.ID)
	if err != nil {
		return fmt.Errorf("failed to update visit: %w", err)
	}

	return nil
}

// AssignTripTx sets the trip back-reference on a visit without touching
// the version vector: trip assignment is derived state recomputed by the
// detector, not a user edit.
func (r *VisitRepository) AssignTripTx(tx *sql.Tx, visitID string, tripID *string) error {
	if _, err := tx.Exec("UPDATE place_visits SET trip_id = ? WHERE id = ?", tripID, visitID); err != nil {
		return fmt.Errorf("failed to assign trip to visit: %w", err)
	}
	return nil
}

// ApplyRemoteTx upserts a visit from a remote snapshot. The applied row
// is considered fully synced at the envelope's version.
func (r *VisitRepository) ApplyRemoteTx(tx *sql.Tx, env models.EntityEnvelope) error {
	if env.Deleted {
		if _, err := tx.Exec("DELETE FROM place_visits WHERE id = ?", env.EntityID); err != nil {
			return fmt.Errorf("failed to delete visit: %w", err)
		}
		return nil
	}

	var v models.PlaceVisit
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return fmt.Errorf("%w: malformed visit payload: %v", ErrInvalidEntity, err)
	}
	v.ID = env.EntityID
	v.Version = env.Version
	v.SyncedVersion = env.Version
	v.DeviceID = env.DeviceID
	v.UpdatedAt = env.UpdatedAt
	if err := validateVisit(&v); err != nil {
		return err
	}

	query := `
		INSERT INTO place_visits (` + visitColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			center_lat=excluded.center_lat, center_lon=excluded.center_lon,
			radius_m=excluded.radius_m, arrival_ts=excluded.arrival_ts,
			departure_ts=excluded.departure_ts, category=excluded.category,
			resolved_address=excluded.resolved_address, city=excluded.city,
			country=excluded.country, user_label=excluded.user_label,
			user_notes=excluded.user_notes, is_favorite=excluded.is_favorite,
			trip_id=excluded.trip_id, sample_count=excluded.sample_count,
			is_synthetic=excluded.is_synthetic, version=excluded.version,
			synced_version=excluded.synced_version, device_id=excluded.device_id,
			updated_at=excluded.updated_at
	`

	_, err := tx.Exec(query,
		v.ID, v.CenterLat, v.CenterLon, v.RadiusMeters, v.ArrivalTime, v.DepartureTime,
		v.Category, v.ResolvedAddress, v.City, v.Country, v.UserLabel, v.UserNotes,
		v.IsFavorite, v.TripID, v.SampleCount, v.IsSynthetic,
		v.Version, v.SyncedVersion, v.DeviceID, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert visit: %w", err)
	}

	return nil
}

// MarkSyncedTx records that the remote acknowledged the given version.
// Returns false when the local row has already moved past the acked
// version; the acknowledgement is still recorded so the next push
// carries the right expected version, and the newer edit stays pending.
func (r *VisitRepository) MarkSyncedTx(tx *sql.Tx, id string, version int64) (bool, error) {
	res, err := tx.Exec("UPDATE place_visits SET synced_version = ? WHERE id = ? AND version = ?",
		version, id, version)
	if err != nil {
		return false, fmt.Errorf("failed to mark visit synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark visit synced: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	if _, err := tx.Exec("UPDATE place_visits SET synced_version = ? WHERE id = ? AND version > ?",
		version, id, version); err != nil {
		return false, fmt.Errorf("failed to mark visit synced: %w", err)
	}
	return false, nil
}

// SetVersionTx overwrites the whole visit row with a resolved snapshot.
func (r *VisitRepository) SetVersionTx(tx *sql.Tx, v *models.PlaceVisit) error {
	if err := validateVisit(v); err != nil {
		return err
	}

	query := `
		UPDATE place_visits
		SET center_lat=?, center_lon=?, radius_m=?, arrival_ts=?, departure_ts=?,
			category=?, resolved_address=?, city=?, country=?, user_label=?,
			user_notes=?, is_favorite=?, trip_id=?, sample_count=?, is_synthetic=?,
			version=?, synced_version=?, device_id=?, updated_at=?
		WHERE id=?
	`

	_, err := tx.Exec(query,
		v.CenterLat, v.CenterLon, v.RadiusMeters, v.ArrivalTime, v.DepartureTime,
		v.Category, v.ResolvedAddress, v.City, v.Country, v.UserLabel, v.UserNotes,
		v.IsFavorite, v.TripID, v.SampleCount, v.IsSynthetic,
		v.Version, v.SyncedVersion, v.DeviceID, v.UpdatedAt, v.ID)
	if err != nil {
		return fmt.Errorf("failed to write resolved visit: %w", err)
	}

	return nil
}
