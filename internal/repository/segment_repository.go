package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/models"
)

// SegmentRepository handles database operations for route segments.
type SegmentRepository struct {
	db *database.DB
}

// NewSegmentRepository creates a new segment repository
func NewSegmentRepository(db *database.DB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

func validateSegment(s *models.RouteSegment) error {
	if s.StartTime >= s.EndTime {
		return fmt.Errorf("%w: segment start must precede end", ErrInvalidEntity)
	}
	if s.DistanceM < 0 {
		return fmt.Errorf("%w: segment distance must be non-negative", ErrInvalidEntity)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: segment confidence must be within [0,1]", ErrInvalidEntity)
	}
	return nil
}

const segmentColumns = `id, start_ts, end_ts, transport_type, distance_m, confidence,
	start_lat, start_lon, end_lat, end_lon, trip_id,
	version, synced_version, device_id, updated_at`

func scanSegment(row interface{ Scan(...any) error }) (*models.RouteSegment, error) {
	s := &models.RouteSegment{}
	err := row.Scan(&s.ID, &s.StartTime, &s.EndTime, &s.TransportType,
		&s.DistanceM, &s.Confidence, &s.StartLat, &s.StartLon, &s.EndLat, &s.EndLon,
		&s.TripID, &s.Version, &s.SyncedVersion, &s.DeviceID, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// InsertTx inserts a new segment inside an existing transaction.
func (r *SegmentRepository) InsertTx(tx *sql.Tx, s *models.RouteSegment) error {
	if err := validateSegment(s); err != nil {
		return err
	}

	query := `
		INSERT INTO route_segments (` + segmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.Exec(query,
		s.ID, s.StartTime, s.EndTime, s.TransportType, s.DistanceM, s.Confidence,
		s.StartLat, s.StartLon, s.EndLat, s.EndLon, s.TripID,
		s.Version, s.SyncedVersion, s.DeviceID, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert segment: %w", err)
	}

	return nil
}

// GetByID retrieves a segment by ID.
func (r *SegmentRepository) GetByID(id string) (*models.RouteSegment, error) {
	query := `SELECT ` + segmentColumns + ` FROM route_segments WHERE id = ?`

	s, err := scanSegment(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}

	return s, nil
}

// ListRange returns segments starting in [startTS, endTS), ordered by
// start time.
func (r *SegmentRepository) ListRange(startTS, endTS int64) ([]models.RouteSegment, error) {
	query := `SELECT ` + segmentColumns + ` FROM route_segments
		WHERE start_ts >= ? AND start_ts < ?
		ORDER BY start_ts`

	rows, err := r.db.Query(query, startTS, endTS)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	var segments []models.RouteSegment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, *s)
	}

	return segments, rows.Err()
}

// AssignTripTx sets the trip back-reference on a segment. Derived state,
// so the version vector is left alone.
func (r *SegmentRepository) AssignTripTx(tx *sql.Tx, segmentID string, tripID *string) error {
	if _, err := tx.Exec("UPDATE route_segments SET trip_id = ? WHERE id = ?", tripID, segmentID); err != nil {
		return fmt.Errorf("failed to assign trip to segment: %w", err)
	}
	return nil
}

// ApplyRemoteTx upserts a segment from a remote snapshot.
func (r *SegmentRepository) ApplyRemoteTx(tx *sql.Tx, env models.EntityEnvelope) error {
	if env.Deleted {
		if _, err := tx.Exec("DELETE FROM route_segments WHERE id = ?", env.EntityID); err != nil {
			return fmt.Errorf("failed to delete segment: %w", err)
		}
		return nil
	}

	var s models.RouteSegment
	if err := json.Unmarshal(env.Payload, &s); err != nil {
		return fmt.Errorf("%w: malformed segment payload: %v", ErrInvalidEntity, err)
	}
	s.ID = env.EntityID
	s.Version = env.Version
	s.SyncedVersion = env.Version
	s.DeviceID = env.DeviceID
	s.UpdatedAt = env.UpdatedAt
	if err := validateSegment(&s); err != nil {
		return err
	}

	query := `
		INSERT INTO route_segments (` + segmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_ts=excluded.start_ts, end_ts=excluded.end_ts,
			transport_type=excluded.transport_type, distance_m=excluded.distance_m,
			confidence=excluded.confidence, start_lat=excluded.start_lat,
			start_lon=excluded.start_lon, end_lat=excluded.end_lat,
			end_lon=excluded.end_lon, trip_id=excluded.trip_id,
			version=excluded.version, synced_version=excluded.synced_version,
			device_id=excluded.device_id, updated_at=excluded.updated_at
	`

	_, err := tx.Exec(query,
		s.ID, s.StartTime, s.EndTime, s.TransportType, s.DistanceM, s.Confidence,
		s.StartLat, s.StartLon, s.EndLat, s.EndLon, s.TripID,
		s.Version, s.SyncedVersion, s.DeviceID, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert segment: %w", err)
	}

	return nil
}

// MarkSyncedTx records that the remote acknowledged the given version.
// Returns false when the local row has already moved past the acked
// version; the acknowledgement is still recorded and the newer edit
// stays pending.
func (r *SegmentRepository) MarkSyncedTx(tx *sql.Tx, id string, version int64) (bool, error) {
	res, err := tx.Exec("UPDATE route_segments SET synced_version = ? WHERE id = ? AND version = ?",
		version, id, version)
	if err != nil {
		return false, fmt.Errorf("failed to mark segment synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark segment synced: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	if _, err := tx.Exec("UPDATE route_segments SET synced_version = ? WHERE id = ? AND version > ?",
		version, id, version); err != nil {
		return false, fmt.Errorf("failed to mark segment synced: %w", err)
	}
	return false, nil
}

// SetVersionTx overwrites the whole segment row with a resolved snapshot.
func (r *SegmentRepository) SetVersionTx(tx *sql.Tx, s *models.RouteSegment) error {
	if err := validateSegment(s); err != nil {
		return err
	}

	query := `
		UPDATE route_segments
		SET start_ts=?, end_ts=?, transport_type=?, distance_m=?, confidence=?,
			start_lat=?, start_lon=?, end_lat=?, end_lon=?, trip_id=?,
			version=?, synced_version=?, device_id=?, updated_at=?
		WHERE id=?
	`

	_, err := tx.Exec(query,
		s.StartTime, s.EndTime, s.TransportType, s.DistanceM, s.Confidence,
		s.StartLat, s.StartLon, s.EndLat, s.EndLon, s.TripID,
		s.Version, s.SyncedVersion, s.DeviceID, s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("failed to write resolved segment: %w", err)
	}

	return nil
}
