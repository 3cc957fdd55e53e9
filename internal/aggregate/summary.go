package aggregate

import (
	"sort"
	"time"

	"github.com/travelog/travelog-core/internal/geocode"
	"github.com/travelog/travelog-core/internal/models"
)

// TopN bounds the place and category rankings in a summary.
const TopN = 5

// PeriodBounds returns the [start, end) Unix range of the day, week or
// month containing at, in the given location. Weeks start on Monday.
func PeriodBounds(period string, at time.Time, loc *time.Location) (int64, int64) {
	at = at.In(loc)
	switch period {
	case models.PeriodWeek:
		weekday := (int(at.Weekday()) + 6) % 7 // Monday = 0
		start := time.Date(at.Year(), at.Month(), at.Day()-weekday, 0, 0, 0, 0, loc)
		return start.Unix(), start.AddDate(0, 0, 7).Unix()
	case models.PeriodMonth:
		start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, loc)
		return start.Unix(), start.AddDate(0, 1, 0).Unix()
	default:
		start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, loc)
		return start.Unix(), start.AddDate(0, 0, 1).Unix()
	}
}

// Summarize rolls a closed set of trips, visits and segments into an
// immutable period summary. Pure and deterministic: identical inputs
// yield an identical summary, so it is safe to recompute at any time.
func Summarize(period string, startTS, endTS int64, trips []models.Trip, visits []models.PlaceVisit, segments []models.RouteSegment, bucketPrecision int) models.PeriodSummary {
	s := models.PeriodSummary{
		Period:            period,
		StartTime:         startTS,
		EndTime:           endTS,
		TripCount:         len(trips),
		VisitCount:        len(visits),
		SegmentCount:      len(segments),
		CategoryHistogram: map[string]int{},
		ModeHistogram:     map[string]int{},
		ModeDistanceM:     map[string]float64{},
	}

	for i := range trips {
		t := &trips[i]
		if t.EndTime != nil {
			s.TotalDurationSeconds += *t.EndTime - t.StartTime
		} else {
			s.TotalDurationSeconds += endTS - t.StartTime
		}
	}

	placeCounts := map[string]int{}
	placeLabels := map[string]string{}
	for i := range visits {
		v := &visits[i]
		if v.Category != "" {
			s.CategoryHistogram[v.Category]++
		}

		key := geocode.BucketKey(v.CenterLat, v.CenterLon, bucketPrecision)
		placeCounts[key]++
		if label := placeLabel(v); label != "" {
			placeLabels[key] = label
		}
	}

	for i := range segments {
		seg := &segments[i]
		s.TotalDistanceMeters += seg.DistanceM
		s.ModeHistogram[seg.TransportType]++
		s.ModeDistanceM[seg.TransportType] += seg.DistanceM
	}

	s.TopPlaces = topPlaces(placeCounts, placeLabels)
	s.TopCategories = topCategories(s.CategoryHistogram)

	return s
}

func placeLabel(v *models.PlaceVisit) string {
	if v.UserLabel != nil && *v.UserLabel != "" {
		return *v.UserLabel
	}
	if v.ResolvedAddress != nil {
		return *v.ResolvedAddress
	}
	return ""
}

// topPlaces ranks place buckets by visit count. Ties break on key so the
// ranking is deterministic.
func topPlaces(counts map[string]int, labels map[string]string) []models.PlaceCount {
	ranked := make([]models.PlaceCount, 0, len(counts))
	for key, count := range counts {
		ranked = append(ranked, models.PlaceCount{BucketKey: key, Label: labels[key], Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].BucketKey < ranked[j].BucketKey
	})
	if len(ranked) > TopN {
		ranked = ranked[:TopN]
	}
	return ranked
}

func topCategories(histogram map[string]int) []models.CategoryCount {
	ranked := make([]models.CategoryCount, 0, len(histogram))
	for category, count := range histogram {
		ranked = append(ranked, models.CategoryCount{Category: category, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Category < ranked[j].Category
	})
	if len(ranked) > TopN {
		ranked = ranked[:TopN]
	}
	return ranked
}
