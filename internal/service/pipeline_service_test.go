package service

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/geocode"
	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/repository"
)

func newPipeline(t *testing.T) (*PipelineService, *database.DB) {
	t.Helper()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "pipeline.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	cfg := config.Load()
	trips := repository.NewTripRepository(db)
	geocoder := geocode.NewCache(cfg.Geocode, repository.NewGeocodeRepository(db), nil)

	p, err := NewPipelineService(cfg, db,
		repository.NewSampleRepository(db),
		repository.NewVisitRepository(db),
		repository.NewSegmentRepository(db),
		trips,
		repository.NewSyncRepository(db),
		geocoder)
	require.NoError(t, err)
	return p, db
}

func insertTrip(t *testing.T, db *database.DB, id string, startTS int64, autoDetected bool) {
	t.Helper()

	end := startTS + 3600
	trip := &models.Trip{
		ID:             id,
		StartTime:      startTS,
		EndTime:        &end,
		DisplayName:    "Trip " + id,
		IsAutoDetected: autoDetected,
		Version:        1,
		DeviceID:       "device-a",
		UpdatedAt:      time.Now().Unix(),
	}
	trips := repository.NewTripRepository(db)
	err := db.Transaction(func(tx *sql.Tx) error {
		return trips.UpsertTx(tx, trip)
	})
	require.NoError(t, err)
}

func TestComputeSummaryCountsUserCreatedTrips(t *testing.T) {
	t.Parallel()

	p, db := newPipeline(t)

	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local)
	dayStart := time.Date(2026, 3, 14, 0, 0, 0, 0, time.Local).Unix()

	insertTrip(t, db, "t-auto", dayStart+2*3600, true)
	insertTrip(t, db, "t-manual", dayStart+6*3600, false)

	summary, err := p.ComputeSummary(models.PeriodDay, at)
	require.NoError(t, err)

	// Manually created trips count toward the period the same way
	// auto-detected ones do.
	assert.Equal(t, 2, summary.TripCount)
}
