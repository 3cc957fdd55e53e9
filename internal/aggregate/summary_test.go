package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelog/travelog-core/internal/models"
)

func TestPeriodBounds(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	// Wednesday, August 26, 2026.
	at := time.Date(2026, 8, 26, 15, 30, 0, 0, loc)

	t.Run("day", func(t *testing.T) {
		t.Parallel()
		start, end := PeriodBounds(models.PeriodDay, at, loc)
		assert.Equal(t, time.Date(2026, 8, 26, 0, 0, 0, 0, loc).Unix(), start)
		assert.Equal(t, time.Date(2026, 8, 27, 0, 0, 0, 0, loc).Unix(), end)
	})

	t.Run("week starts on monday", func(t *testing.T) {
		t.Parallel()
		start, end := PeriodBounds(models.PeriodWeek, at, loc)
		assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, loc).Unix(), start)
		assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, loc).Unix(), end)
	})

	t.Run("week containing a sunday", func(t *testing.T) {
		t.Parallel()
		sunday := time.Date(2026, 8, 30, 9, 0, 0, 0, loc)
		start, _ := PeriodBounds(models.PeriodWeek, sunday, loc)
		assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, loc).Unix(), start)
	})

	t.Run("month", func(t *testing.T) {
		t.Parallel()
		start, end := PeriodBounds(models.PeriodMonth, at, loc)
		assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, loc).Unix(), start)
		assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, loc).Unix(), end)
	})
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	startTS := int64(1_700_000_000)
	endTS := startTS + 86400

	label := "Favorite Cafe"
	end1 := startTS + 7200
	visits := []models.PlaceVisit{
		{CenterLat: 48.85661, CenterLon: 2.35222, Category: models.CategoryFood, UserLabel: &label},
		{CenterLat: 48.85661, CenterLon: 2.35222, Category: models.CategoryFood},
		{CenterLat: 48.86000, CenterLon: 2.34000, Category: models.CategoryWork},
	}
	segments := []models.RouteSegment{
		{TransportType: models.TransportWalk, DistanceM: 1200},
		{TransportType: models.TransportCar, DistanceM: 15000},
		{TransportType: models.TransportCar, DistanceM: 5000},
	}
	trips := []models.Trip{
		{StartTime: startTS, EndTime: &end1},
		{StartTime: startTS + 50000, IsOngoing: true}, // open trip counts up to period end
	}

	s := Summarize(models.PeriodDay, startTS, endTS, trips, visits, segments, 5)

	assert.Equal(t, 2, s.TripCount)
	assert.Equal(t, 3, s.VisitCount)
	assert.Equal(t, 3, s.SegmentCount)
	assert.InDelta(t, 21200, s.TotalDistanceMeters, 0.1)
	assert.Equal(t, int64(7200+(86400-50000)), s.TotalDurationSeconds)

	assert.Equal(t, 2, s.CategoryHistogram[models.CategoryFood])
	assert.Equal(t, 1, s.CategoryHistogram[models.CategoryWork])
	assert.Equal(t, 2, s.ModeHistogram[models.TransportCar])
	assert.InDelta(t, 20000, s.ModeDistanceM[models.TransportCar], 0.1)

	require.NotEmpty(t, s.TopPlaces)
	assert.Equal(t, 2, s.TopPlaces[0].Count)
	assert.Equal(t, "Favorite Cafe", s.TopPlaces[0].Label)

	require.Len(t, s.TopCategories, 2)
	assert.Equal(t, models.CategoryFood, s.TopCategories[0].Category)
}

func TestSummarizeDeterministic(t *testing.T) {
	t.Parallel()

	startTS := int64(1_700_000_000)
	endTS := startTS + 86400

	// Many tied buckets exercise the deterministic tie-break.
	var visits []models.PlaceVisit
	for i := 0; i < 10; i++ {
		visits = append(visits, models.PlaceVisit{
			CenterLat: 48.0 + float64(i)*0.01,
			CenterLon: 2.0,
			Category:  models.CategoryOther,
		})
	}

	s1 := Summarize(models.PeriodDay, startTS, endTS, nil, visits, nil, 5)
	s2 := Summarize(models.PeriodDay, startTS, endTS, nil, visits, nil, 5)
	assert.Equal(t, s1, s2)
	assert.Len(t, s1.TopPlaces, TopN)
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	s := Summarize(models.PeriodWeek, 0, 604800, nil, nil, nil, 5)
	assert.Zero(t, s.TripCount)
	assert.Zero(t, s.TotalDistanceMeters)
	assert.Empty(t, s.TopPlaces)
	assert.Empty(t, s.TopCategories)
	assert.NotNil(t, s.CategoryHistogram)
}
