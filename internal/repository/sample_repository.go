package repository

import (
	"database/sql"
	"fmt"

	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/models"
)

// SampleRepository handles database operations for location samples.
// The table is append-only; rows are pruned after the retention window.
type SampleRepository struct {
	db *database.DB
}

// NewSampleRepository creates a new sample repository
func NewSampleRepository(db *database.DB) *SampleRepository {
	return &SampleRepository{db: db}
}

// Insert appends an accepted sample.
func (r *SampleRepository) Insert(s *models.LocationSample) error {
	query := `
		INSERT INTO location_samples (latitude, longitude, accuracy_m, recorded_at, speed_mps, bearing_deg, device_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query,
		s.Latitude, s.Longitude, s.AccuracyMeters, s.Timestamp, s.SpeedMPS, s.BearingDeg, s.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	s.ID = id
	return nil
}

// LastAccepted returns the most recently accepted sample, or nil when
// the store is empty. Used to restore the ingest filter state on start.
func (r *SampleRepository) LastAccepted() (*models.LocationSample, error) {
	query := `
		SELECT id, latitude, longitude, accuracy_m, recorded_at, speed_mps, bearing_deg, device_id
		FROM location_samples
		ORDER BY recorded_at DESC
		LIMIT 1
	`

	s := &models.LocationSample{}
	err := r.db.QueryRow(query).Scan(
		&s.ID, &s.Latitude, &s.Longitude, &s.AccuracyMeters, &s.Timestamp,
		&s.SpeedMPS, &s.BearingDeg, &s.DeviceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last sample: %w", err)
	}

	return s, nil
}

// ListRange returns samples with recorded_at in [startTS, endTS], ordered
// by time. Used by the route builder to inspect a gap between visits.
func (r *SampleRepository) ListRange(startTS, endTS int64) ([]models.LocationSample, error) {
	query := `
		SELECT id, latitude, longitude, accuracy_m, recorded_at, speed_mps, bearing_deg, device_id
		FROM location_samples
		WHERE recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at
	`

	rows, err := r.db.Query(query, startTS, endTS)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []models.LocationSample
	for rows.Next() {
		var s models.LocationSample
		if err := rows.Scan(&s.ID, &s.Latitude, &s.Longitude, &s.AccuracyMeters,
			&s.Timestamp, &s.SpeedMPS, &s.BearingDeg, &s.DeviceID); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// PruneBefore deletes samples older than the cutoff and returns the
// number removed.
func (r *SampleRepository) PruneBefore(cutoffTS int64) (int64, error) {
	result, err := r.db.Exec("DELETE FROM location_samples WHERE recorded_at < ?", cutoffTS)
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	return result.RowsAffected()
}
