package models

// RouteSegment is the connective path between two place visits with the
// inferred transport mode.
// Invariants: StartTime < EndTime; DistanceMeters >= 0; Confidence in [0,1].
type RouteSegment struct {
	ID            string  `json:"id" db:"id"`
	StartTime     int64   `json:"startTime" db:"start_ts"` // Unix timestamp
	EndTime       int64   `json:"endTime" db:"end_ts"`
	TransportType string  `json:"transportType" db:"transport_type"`
	DistanceM     float64 `json:"distanceMeters" db:"distance_m"`
	Confidence    float64 `json:"confidence" db:"confidence"` // 0~1
	StartLat      float64 `json:"startLat" db:"start_lat"`
	StartLon      float64 `json:"startLon" db:"start_lon"`
	EndLat        float64 `json:"endLat" db:"end_lat"`
	EndLon        float64 `json:"endLon" db:"end_lon"`
	TripID        *string `json:"tripId,omitempty" db:"trip_id"`

	Version       int64  `json:"version" db:"version"`
	SyncedVersion int64  `json:"-" db:"synced_version"`
	DeviceID      string `json:"deviceId" db:"device_id"`
	UpdatedAt     int64  `json:"updatedAt" db:"updated_at"`
}

// Duration returns the segment duration in seconds.
func (s *RouteSegment) Duration() int64 {
	return s.EndTime - s.StartTime
}

// Transport type constants
const (
	TransportWalk    = "walk"
	TransportBike    = "bike"
	TransportCar     = "car"
	TransportPlane   = "plane"
	TransportUnknown = "unknown"
)

// SegmentFilter holds query parameters for listing route segments.
type SegmentFilter struct {
	StartTime     int64  `form:"startTime"`
	EndTime       int64  `form:"endTime"`
	TransportType string `form:"transportType"`
	Page          int    `form:"page"`
	PageSize      int    `form:"pageSize"`
}
