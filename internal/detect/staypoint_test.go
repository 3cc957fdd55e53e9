package detect

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/models"
)

func testStayConfig() config.StayPointConfig {
	return config.StayPointConfig{
		RadiusMeters:   50,
		MinDuration:    5 * time.Minute,
		MaxGap:         30 * time.Minute,
		TripEndedAfter: 6 * time.Hour,
	}
}

// jitterSample places a sample at a small offset from a center point.
// offsetMeters is applied along the latitude axis.
func jitterSample(ts int64, lat, lon, offsetMeters float64) models.LocationSample {
	const metersPerDegreeLat = 111195.0
	return models.LocationSample{
		Latitude:  lat + offsetMeters/metersPerDegreeLat,
		Longitude: lon,
		Timestamp: ts,
	}
}

func TestStayPointDetectsDwell(t *testing.T) {
	t.Parallel()

	d := NewStayPointDetector(testStayConfig())
	base := int64(1_700_000_000)

	// 20 samples over 10 minutes, jittered within 30 meters of a center.
	for i := 0; i < 20; i++ {
		offset := 30 * math.Sin(float64(i))
		visit := d.Process(jitterSample(base+int64(i)*30, 48.8566, 2.3522, offset))
		assert.Nil(t, visit, "no visit should close while dwelling")
	}

	// A sample well outside the radius closes the visit.
	visit := d.Process(jitterSample(base+20*30, 48.8566, 2.3522, 500))
	require.NotNil(t, visit)

	assert.Equal(t, base, visit.ArrivalTime)
	require.NotNil(t, visit.DepartureTime)
	assert.Equal(t, base+19*30, *visit.DepartureTime)
	assert.Equal(t, 20, visit.SampleCount)
	assert.LessOrEqual(t, visit.RadiusMeters, 50.0)
	assert.Greater(t, visit.RadiusMeters, 0.0)
	assert.InDelta(t, 48.8566, visit.CenterLat, 0.001)
	assert.False(t, visit.IsSynthetic)
}

func TestStayPointDeterministic(t *testing.T) {
	t.Parallel()

	base := int64(1_700_000_000)
	run := func() *models.PlaceVisit {
		d := NewStayPointDetector(testStayConfig())
		for i := 0; i < 20; i++ {
			d.Process(jitterSample(base+int64(i)*30, 48.8566, 2.3522, 20*math.Cos(float64(i))))
		}
		return d.Process(jitterSample(base+20*30, 48.8566, 2.3522, 400))
	}

	v1, v2 := run(), run()
	require.NotNil(t, v1)
	require.NotNil(t, v2)
	assert.Equal(t, v1.CenterLat, v2.CenterLat)
	assert.Equal(t, v1.CenterLon, v2.CenterLon)
	assert.Equal(t, v1.RadiusMeters, v2.RadiusMeters)
	assert.Equal(t, v1.ArrivalTime, v2.ArrivalTime)
	assert.Equal(t, *v1.DepartureTime, *v2.DepartureTime)
}

func TestStayPointShortDwellDiscarded(t *testing.T) {
	t.Parallel()

	d := NewStayPointDetector(testStayConfig())
	base := int64(1_700_000_000)

	// Two minutes at one spot, then movement: below the dwell minimum.
	for i := 0; i < 4; i++ {
		assert.Nil(t, d.Process(jitterSample(base+int64(i)*30, 48.8566, 2.3522, 5)))
	}
	assert.Nil(t, d.Process(jitterSample(base+150, 48.8566, 2.3522, 300)))
}

func TestStayPointGapTimeoutClosesAtLastSample(t *testing.T) {
	t.Parallel()

	d := NewStayPointDetector(testStayConfig())
	base := int64(1_700_000_000)

	for i := 0; i < 15; i++ {
		d.Process(jitterSample(base+int64(i)*60, 48.8566, 2.3522, 10))
	}

	// Next sample arrives 45 minutes later, past the gap timeout. The
	// visit closes at the last seen sample, not at the new one.
	visit := d.Process(jitterSample(base+14*60+45*60, 48.8566, 2.3522, 10))
	require.NotNil(t, visit)
	require.NotNil(t, visit.DepartureTime)
	assert.Equal(t, base+14*60, *visit.DepartureTime)
	assert.False(t, visit.IsSynthetic)
}

func TestStayPointFlush(t *testing.T) {
	t.Parallel()

	cfg := testStayConfig()
	base := int64(1_700_000_000)

	t.Run("no flush while samples are fresh", func(t *testing.T) {
		t.Parallel()
		d := NewStayPointDetector(cfg)
		for i := 0; i < 12; i++ {
			d.Process(jitterSample(base+int64(i)*60, 48.8566, 2.3522, 10))
		}
		assert.Nil(t, d.Flush(base+12*60))
	})

	t.Run("gap timeout flushes a real visit", func(t *testing.T) {
		t.Parallel()
		d := NewStayPointDetector(cfg)
		for i := 0; i < 12; i++ {
			d.Process(jitterSample(base+int64(i)*60, 48.8566, 2.3522, 10))
		}
		visit := d.Flush(base + 11*60 + int64((45 * time.Minute).Seconds()))
		require.NotNil(t, visit)
		assert.False(t, visit.IsSynthetic)
		assert.Equal(t, base+11*60, *visit.DepartureTime)
	})

	t.Run("long silence flushes a synthetic visit", func(t *testing.T) {
		t.Parallel()
		d := NewStayPointDetector(cfg)
		for i := 0; i < 12; i++ {
			d.Process(jitterSample(base+int64(i)*60, 48.8566, 2.3522, 10))
		}
		visit := d.Flush(base + 11*60 + int64((7 * time.Hour).Seconds()))
		require.NotNil(t, visit)
		assert.True(t, visit.IsSynthetic)
	})
}

func TestStayPointRestore(t *testing.T) {
	t.Parallel()

	d := NewStayPointDetector(testStayConfig())
	base := int64(1_700_000_000)

	last := jitterSample(base, 48.8566, 2.3522, 0)
	d.Restore(&last)

	// Samples continuing the same dwell extend the restored candidate.
	for i := 1; i < 12; i++ {
		assert.Nil(t, d.Process(jitterSample(base+int64(i)*60, 48.8566, 2.3522, 10)))
	}
	visit := d.Process(jitterSample(base+12*60, 48.8566, 2.3522, 400))
	require.NotNil(t, visit)
	assert.Equal(t, base, visit.ArrivalTime)
}
