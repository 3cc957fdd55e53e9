package detect

import (
	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/spatial"
)

// Speed bands in km/h. Legs at or above a band's floor and below the
// next floor classify into that band.
const (
	bikeFloorKmh  = 7.0
	carFloorKmh   = 25.0
	planeFloorKmh = 120.0
)

// RouteSegmentBuilder fills the gap between two consecutive place visits
// with a route segment, inferring transport mode from the speed profile
// of the samples inside the gap.
type RouteSegmentBuilder struct{}

// NewRouteSegmentBuilder creates a route segment builder.
func NewRouteSegmentBuilder() *RouteSegmentBuilder {
	return &RouteSegmentBuilder{}
}

// Build creates the segment connecting prev to next. samples are the
// accepted fixes recorded within the gap, in time order. A gap with
// fewer than two samples yields a degraded segment: straight-line
// distance between the visit centers, unknown mode, confidence 0.
func (b *RouteSegmentBuilder) Build(prev, next *models.PlaceVisit, samples []models.LocationSample) models.RouteSegment {
	startTS := prev.ArrivalTime
	if prev.DepartureTime != nil {
		startTS = *prev.DepartureTime
	}

	seg := models.RouteSegment{
		StartTime:     startTS,
		EndTime:       next.ArrivalTime,
		TransportType: models.TransportUnknown,
		Confidence:    0,
		StartLat:      prev.CenterLat,
		StartLon:      prev.CenterLon,
		EndLat:        next.CenterLat,
		EndLon:        next.CenterLon,
	}
	if seg.EndTime <= seg.StartTime {
		// Degenerate gap; keep the invariant start < end.
		seg.EndTime = seg.StartTime + 1
	}

	if len(samples) < 2 {
		seg.DistanceM = spatial.HaversineDistance(prev.CenterLat, prev.CenterLon, next.CenterLat, next.CenterLon)
		return seg
	}

	// Classify each leg between consecutive samples, weighting bands by
	// leg duration rather than sample count: GPS sampling rate varies
	// with speed, so majority-of-samples would bias toward slow modes.
	bandDuration := map[string]float64{}
	var totalDuration float64
	var totalDistance float64

	for i := 1; i < len(samples); i++ {
		a, c := samples[i-1], samples[i]
		dt := float64(c.Timestamp - a.Timestamp)
		if dt <= 0 {
			continue
		}
		dist := spatial.HaversineDistance(a.Latitude, a.Longitude, c.Latitude, c.Longitude)
		totalDistance += dist

		speedKmh := dist / dt * 3.6
		bandDuration[classifySpeed(speedKmh)] += dt
		totalDuration += dt
	}

	if totalDuration == 0 {
		seg.DistanceM = spatial.HaversineDistance(prev.CenterLat, prev.CenterLon, next.CenterLat, next.CenterLon)
		return seg
	}

	seg.DistanceM = totalDistance
	seg.TransportType = dominantBand(bandDuration)
	seg.Confidence = bandDuration[seg.TransportType] / totalDuration

	return seg
}

func classifySpeed(kmh float64) string {
	switch {
	case kmh < bikeFloorKmh:
		return models.TransportWalk
	case kmh < carFloorKmh:
		return models.TransportBike
	case kmh < planeFloorKmh:
		return models.TransportCar
	default:
		return models.TransportPlane
	}
}

// dominantBand picks the band with the highest total duration. Ties
// break by a fixed band order so the result is deterministic.
func dominantBand(durations map[string]float64) string {
	order := []string{models.TransportWalk, models.TransportBike, models.TransportCar, models.TransportPlane}
	best := models.TransportUnknown
	bestDur := 0.0
	for _, band := range order {
		if d := durations[band]; d > bestDur {
			best = band
			bestDur = d
		}
	}
	return best
}
