package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/models"
)

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		MaxAccuracyMeters: 100,
		DebounceInterval:  5 * time.Second,
		DebounceDistance:  5,
		QueueSize:         16,
	}
}

func sampleAt(ts int64, lat, lon, accuracy float64) models.LocationSample {
	return models.LocationSample{
		Latitude:       lat,
		Longitude:      lon,
		AccuracyMeters: accuracy,
		Timestamp:      ts,
		DeviceID:       "test-device",
	}
}

func collectingConsumer(accepted *[]models.LocationSample) Consumer {
	return func(s models.LocationSample) error {
		*accepted = append(*accepted, s)
		return nil
	}
}

func TestIngestRejectsLowAccuracy(t *testing.T) {
	t.Parallel()

	var accepted []models.LocationSample
	in := New(testIngestConfig(), collectingConsumer(&accepted), nil)

	res := in.Ingest(sampleAt(1000, 48.85, 2.35, 150))
	assert.False(t, res.Accepted)
	assert.Equal(t, models.RejectLowAccuracy, res.Reason)
	assert.Empty(t, accepted)
}

func TestIngestRejectsOutOfOrder(t *testing.T) {
	t.Parallel()

	var accepted []models.LocationSample
	in := New(testIngestConfig(), collectingConsumer(&accepted), nil)

	require.True(t, in.Ingest(sampleAt(1000, 48.85, 2.35, 10)).Accepted)

	res := in.Ingest(sampleAt(999, 48.86, 2.36, 10))
	assert.False(t, res.Accepted)
	assert.Equal(t, models.RejectOutOfOrder, res.Reason)

	// Equal timestamp is also out of order.
	res = in.Ingest(sampleAt(1000, 48.86, 2.36, 10))
	assert.False(t, res.Accepted)
	assert.Equal(t, models.RejectOutOfOrder, res.Reason)

	assert.Len(t, accepted, 1)
}

func TestIngestDebounce(t *testing.T) {
	t.Parallel()

	var accepted []models.LocationSample
	in := New(testIngestConfig(), collectingConsumer(&accepted), nil)

	require.True(t, in.Ingest(sampleAt(1000, 48.85, 2.35, 10)).Accepted)

	// Too soon and too close: debounced.
	res := in.Ingest(sampleAt(1002, 48.85, 2.35, 10))
	assert.False(t, res.Accepted)
	assert.Equal(t, models.RejectDebounced, res.Reason)

	// Too soon but far enough: accepted. 0.001 deg of latitude is ~111m.
	res = in.Ingest(sampleAt(1004, 48.851, 2.35, 10))
	assert.True(t, res.Accepted)

	// Close but enough time elapsed: accepted.
	res = in.Ingest(sampleAt(1010, 48.851, 2.35, 10))
	assert.True(t, res.Accepted)

	assert.Len(t, accepted, 3)
}

func TestIngestSeededFromLastSample(t *testing.T) {
	t.Parallel()

	last := sampleAt(5000, 48.85, 2.35, 10)
	in := New(testIngestConfig(), func(models.LocationSample) error { return nil }, &last)

	// Monotonicity holds across restarts.
	res := in.Ingest(sampleAt(4000, 48.86, 2.36, 10))
	assert.Equal(t, models.RejectOutOfOrder, res.Reason)

	assert.True(t, in.Ingest(sampleAt(5010, 48.86, 2.36, 10)).Accepted)
}

func TestIngestStats(t *testing.T) {
	t.Parallel()

	in := New(testIngestConfig(), func(models.LocationSample) error { return nil }, nil)

	in.Ingest(sampleAt(1000, 48.85, 2.35, 10))
	in.Ingest(sampleAt(1001, 48.85, 2.35, 10)) // debounced
	in.Ingest(sampleAt(900, 48.85, 2.35, 10))  // out of order
	in.Ingest(sampleAt(1100, 48.85, 2.35, 500)) // low accuracy
	in.Ingest(sampleAt(1100, 48.86, 2.36, 10))

	stats := in.Stats()
	assert.Equal(t, int64(2), stats.Accepted)
	assert.Equal(t, int64(1), stats.Rejected[models.RejectDebounced])
	assert.Equal(t, int64(1), stats.Rejected[models.RejectOutOfOrder])
	assert.Equal(t, int64(1), stats.Rejected[models.RejectLowAccuracy])
}
