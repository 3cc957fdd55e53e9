package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/models"
)

func testTripConfig() config.TripConfig {
	return config.TripConfig{
		MinStartConfidence:   0.5,
		MinStartDistance:     500,
		EndVisitDuration:     2 * time.Hour,
		WaypointSegmentLimit: 10 * time.Minute,
	}
}

func visit(id string, arrival, departure int64) models.PlaceVisit {
	return models.PlaceVisit{
		ID:            id,
		ArrivalTime:   arrival,
		DepartureTime: &departure,
		RadiusMeters:  30,
	}
}

func segment(id string, start, end int64, mode string, distance, confidence float64) models.RouteSegment {
	return models.RouteSegment{
		ID:            id,
		StartTime:     start,
		EndTime:       end,
		TransportType: mode,
		DistanceM:     distance,
		Confidence:    confidence,
	}
}

func TestTripDetectorNoQualifyingSegments(t *testing.T) {
	t.Parallel()

	d := NewTripDetector(testTripConfig())
	base := int64(1_700_000_000)

	visits := []models.PlaceVisit{
		visit("v1", base, base+3*3600),
		visit("v2", base+4*3600, base+8*3600),
	}
	segments := []models.RouteSegment{
		// Short hop below the distance threshold.
		segment("s1", base+3*3600, base+3*3600+600, models.TransportWalk, 300, 1.0),
	}

	assert.Empty(t, d.Detect(visits, segments))
}

func TestTripDetectorLowConfidenceNeverOpens(t *testing.T) {
	t.Parallel()

	d := NewTripDetector(testTripConfig())
	base := int64(1_700_000_000)

	segments := []models.RouteSegment{
		segment("s1", base, base+1800, models.TransportUnknown, 5000, 0),
		segment("s2", base+7200, base+9000, models.TransportCar, 12000, 0.4),
	}

	assert.Empty(t, d.Detect(nil, segments))
}

func TestTripDetectorFullTrip(t *testing.T) {
	t.Parallel()

	d := NewTripDetector(testTripConfig())
	base := int64(1_700_000_000)

	visits := []models.PlaceVisit{
		visit("cafe", base+3600, base+5400),        // 30 min stop along the way
		visit("hotel", base+7200, base+7200+3*3600), // 3 h: trip destination
	}
	segments := []models.RouteSegment{
		segment("drive1", base, base+3600, models.TransportCar, 40_000, 0.9),
		segment("drive2", base+5400, base+7200, models.TransportCar, 30_000, 0.85),
	}

	trips := d.Detect(visits, segments)
	require.Len(t, trips, 1)

	trip := trips[0]
	assert.Equal(t, base, trip.StartTime)
	require.NotNil(t, trip.EndTime)
	assert.Equal(t, base+7200, *trip.EndTime, "trip closes at the ending visit's arrival")
	assert.False(t, trip.IsOngoing)
	assert.Equal(t, []string{"cafe", "hotel"}, trip.VisitIDs)
	assert.Equal(t, []string{"drive1", "drive2"}, trip.SegmentIDs)
	assert.Equal(t, models.TransportCar, trip.PrimaryMode)
	assert.InDelta(t, 70_000, trip.DistanceM, 0.1)
}

func TestTripDetectorWaypointDoesNotClose(t *testing.T) {
	t.Parallel()

	d := NewTripDetector(testTripConfig())
	base := int64(1_700_000_000)

	// A 2.5 h layover bracketed by two sub-10-minute hops is a waypoint,
	// not a destination: the trip continues to the later long visit.
	visits := []models.PlaceVisit{
		visit("layover", base+3900, base+12900),
		visit("home", base+14400, base+14400+4*3600),
	}
	segments := []models.RouteSegment{
		segment("leg1", base, base+3600, models.TransportCar, 60_000, 0.9),
		segment("hop1", base+3600, base+3900, models.TransportWalk, 400, 1.0),
		segment("hop2", base+12900, base+13200, models.TransportWalk, 400, 1.0),
		segment("leg2", base+13200, base+14400, models.TransportCar, 20_000, 0.8),
	}

	trips := d.Detect(visits, segments)
	require.Len(t, trips, 1)
	require.NotNil(t, trips[0].EndTime)
	assert.Equal(t, base+14400, *trips[0].EndTime)
	assert.Contains(t, trips[0].VisitIDs, "layover")
}

func TestTripDetectorOngoingTrip(t *testing.T) {
	t.Parallel()

	d := NewTripDetector(testTripConfig())
	base := int64(1_700_000_000)

	// Qualifying segment with no closing visit yet: the trip stays open,
	// even across a midnight boundary.
	segments := []models.RouteSegment{
		segment("drive", base, base+3600, models.TransportCar, 50_000, 0.9),
	}
	visits := []models.PlaceVisit{
		visit("stop", base+3600, base+4500), // 15 min, too short to close
	}

	trips := d.Detect(visits, segments)
	require.Len(t, trips, 1)
	assert.True(t, trips[0].IsOngoing)
	assert.Nil(t, trips[0].EndTime)
}

func TestTripDetectorIdempotent(t *testing.T) {
	t.Parallel()

	d := NewTripDetector(testTripConfig())
	base := int64(1_700_000_000)

	visits := []models.PlaceVisit{
		visit("a", base+3600, base+5400),
		visit("b", base+9000, base+9000+3*3600),
	}
	segments := []models.RouteSegment{
		segment("s1", base, base+3600, models.TransportBike, 8000, 0.7),
		segment("s2", base+5400, base+9000, models.TransportBike, 9000, 0.75),
	}

	first := d.Detect(visits, segments)
	second := d.Detect(visits, segments)
	assert.Equal(t, first, second)
}

func TestTripDetectorMultipleTrips(t *testing.T) {
	t.Parallel()

	d := NewTripDetector(testTripConfig())
	base := int64(1_700_000_000)
	day := int64(24 * 3600)

	visits := []models.PlaceVisit{
		visit("office", base+1800, base+1800+8*3600),
		visit("home", base+day, base+day+10*3600),
	}
	segments := []models.RouteSegment{
		segment("commute1", base, base+1800, models.TransportCar, 12_000, 0.8),
		segment("commute2", base+day-1800, base+day, models.TransportCar, 12_000, 0.8),
	}

	trips := d.Detect(visits, segments)
	require.Len(t, trips, 2)
	assert.Equal(t, base, trips[0].StartTime)
	assert.Equal(t, base+day-1800, trips[1].StartTime)
	assert.False(t, trips[0].IsOngoing)
	assert.False(t, trips[1].IsOngoing)
}
