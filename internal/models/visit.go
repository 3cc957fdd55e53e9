package models

// PlaceVisit is a detected stay at a location. Created by the stay-point
// detector, mutated by user edits and by trip assignment.
// Invariants: ArrivalTime < DepartureTime unless the visit is ongoing
// (DepartureTime == nil); RadiusMeters > 0.
type PlaceVisit struct {
	ID              string  `json:"id" db:"id"`
	CenterLat       float64 `json:"centerLat" db:"center_lat"`
	CenterLon       float64 `json:"centerLon" db:"center_lon"`
	RadiusMeters    float64 `json:"radiusMeters" db:"radius_m"`
	ArrivalTime     int64   `json:"arrivalTime" db:"arrival_ts"` // Unix timestamp
	DepartureTime   *int64  `json:"departureTime,omitempty" db:"departure_ts"`
	Category        string  `json:"category,omitempty" db:"category"`
	ResolvedAddress *string `json:"resolvedAddress,omitempty" db:"resolved_address"`
	City            string  `json:"city,omitempty" db:"city"`
	Country         string  `json:"country,omitempty" db:"country"`
	UserLabel       *string `json:"userLabel,omitempty" db:"user_label"`
	UserNotes       *string `json:"userNotes,omitempty" db:"user_notes"`
	IsFavorite      bool    `json:"isFavorite" db:"is_favorite"`
	TripID          *string `json:"tripId,omitempty" db:"trip_id"`
	SampleCount     int     `json:"sampleCount" db:"sample_count"`

	// Synthetic visits are emitted when the sample stream goes silent
	// past the trip-ended timeout, so downstream trip boundaries stay
	// sane even without a real departure fix.
	IsSynthetic bool `json:"isSynthetic" db:"is_synthetic"`

	Version       int64  `json:"version" db:"version"`
	SyncedVersion int64  `json:"-" db:"synced_version"`
	DeviceID      string `json:"deviceId" db:"device_id"`
	UpdatedAt     int64  `json:"updatedAt" db:"updated_at"`
}

// Duration returns the visit duration in seconds, or the elapsed time
// up to now for an ongoing visit.
func (v *PlaceVisit) Duration(now int64) int64 {
	if v.DepartureTime != nil {
		return *v.DepartureTime - v.ArrivalTime
	}
	return now - v.ArrivalTime
}

// Visit categories assigned by the geocode classifier.
const (
	CategoryHome      = "home"
	CategoryWork      = "work"
	CategoryFood      = "food"
	CategoryShopping  = "shopping"
	CategoryLodging   = "lodging"
	CategoryOutdoors  = "outdoors"
	CategoryEducation = "education"
	CategoryHealth    = "health"
	CategoryTransit   = "transit"
	CategoryOther     = "other"
)

// VisitFilter holds query parameters for listing visits.
type VisitFilter struct {
	StartTime int64  `form:"startTime"`
	EndTime   int64  `form:"endTime"`
	Category  string `form:"category"`
	Favorite  *bool  `form:"favorite"`
	Page      int    `form:"page"`
	PageSize  int    `form:"pageSize"`
}
