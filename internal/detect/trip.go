package detect

import (
	"sort"

	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/models"
)

// DetectedTrip is a trip boundary produced by the state machine,
// identified by boundaries and members only; persistence identity is the
// caller's concern.
type DetectedTrip struct {
	StartTime  int64
	EndTime    *int64
	IsOngoing  bool
	VisitIDs   []string
	SegmentIDs []string

	VisitCount   int
	SegmentCount int
	DistanceM    float64
	PrimaryMode  string
}

// TripDetector groups an ordered window of visits and segments into
// trips:
//
//	Idle -> InTrip:  a segment with enough confidence and distance
//	InTrip -> Idle:  a long visit that is not a mere waypoint, closing
//	                 the trip at that visit's arrival time
//
// Trips are not clipped to calendar days; a trip still open at the end
// of the window is reported ongoing and continued by the next run. The
// detector is pure: re-running it over unchanged inputs yields identical
// boundaries. User-created trips never pass through here.
type TripDetector struct {
	cfg config.TripConfig
}

// NewTripDetector creates a trip detector with the given tunables.
func NewTripDetector(cfg config.TripConfig) *TripDetector {
	return &TripDetector{cfg: cfg}
}

type timelineItem struct {
	startTS int64
	visit   *models.PlaceVisit
	segment *models.RouteSegment
}

// Detect runs the state machine over the window's visits and segments.
// A window with zero qualifying segments produces zero trips.
func (d *TripDetector) Detect(visits []models.PlaceVisit, segments []models.RouteSegment) []DetectedTrip {
	items := make([]timelineItem, 0, len(visits)+len(segments))
	for i := range visits {
		items = append(items, timelineItem{startTS: visits[i].ArrivalTime, visit: &visits[i]})
	}
	for i := range segments {
		items = append(items, timelineItem{startTS: segments[i].StartTime, segment: &segments[i]})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].startTS != items[j].startTS {
			return items[i].startTS < items[j].startTS
		}
		// Segments sort before visits at the same instant: movement
		// precedes the arrival it leads to.
		return items[i].segment != nil && items[j].segment == nil
	})

	var trips []DetectedTrip
	var current *DetectedTrip
	var modeDistance map[string]float64

	for i, item := range items {
		if current == nil {
			if item.segment != nil && d.opensTrip(item.segment) {
				current = &DetectedTrip{StartTime: item.segment.StartTime}
				modeDistance = map[string]float64{}
				accumulate(current, modeDistance, item)
			}
			continue
		}

		accumulate(current, modeDistance, item)

		if item.visit != nil && d.closesTrip(items, i) {
			end := item.visit.ArrivalTime
			current.EndTime = &end
			current.PrimaryMode = dominantMode(modeDistance)
			trips = append(trips, *current)
			current = nil
		}
	}

	if current != nil {
		current.IsOngoing = true
		current.PrimaryMode = dominantMode(modeDistance)
		trips = append(trips, *current)
	}

	return trips
}

func (d *TripDetector) opensTrip(seg *models.RouteSegment) bool {
	return seg.Confidence >= d.cfg.MinStartConfidence && seg.DistanceM >= d.cfg.MinStartDistance
}

// closesTrip reports whether the visit at items[i] ends the trip: long
// enough to be a destination, and not a waypoint bracketed by two short
// segments.
func (d *TripDetector) closesTrip(items []timelineItem, i int) bool {
	visit := items[i].visit
	if visit.DepartureTime == nil {
		return false // still ongoing, duration unknown
	}

	if *visit.DepartureTime-visit.ArrivalTime < int64(d.cfg.EndVisitDuration.Seconds()) {
		return false
	}

	limit := int64(d.cfg.WaypointSegmentLimit.Seconds())
	prevShort := i > 0 && items[i-1].segment != nil && items[i-1].segment.Duration() < limit
	nextShort := i+1 < len(items) && items[i+1].segment != nil && items[i+1].segment.Duration() < limit
	return !(prevShort && nextShort)
}

func accumulate(t *DetectedTrip, modeDistance map[string]float64, item timelineItem) {
	if item.visit != nil {
		t.VisitIDs = append(t.VisitIDs, item.visit.ID)
		t.VisitCount++
		return
	}
	t.SegmentIDs = append(t.SegmentIDs, item.segment.ID)
	t.SegmentCount++
	t.DistanceM += item.segment.DistanceM
	modeDistance[item.segment.TransportType] += item.segment.DistanceM
}

// dominantMode picks the mode with the highest accumulated distance,
// with a fixed order for deterministic ties.
func dominantMode(modeDistance map[string]float64) string {
	order := []string{models.TransportWalk, models.TransportBike, models.TransportCar, models.TransportPlane, models.TransportUnknown}
	best := ""
	bestDist := -1.0
	for _, mode := range order {
		if d, ok := modeDistance[mode]; ok && d > bestDist {
			best = mode
			bestDist = d
		}
	}
	return best
}
