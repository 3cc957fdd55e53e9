package models

// Summary period constants
const (
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

// PlaceCount ranks a place bucket by visit count.
type PlaceCount struct {
	BucketKey string `json:"bucketKey"`
	Label     string `json:"label,omitempty"`
	Count     int    `json:"count"`
}

// CategoryCount ranks a visit category by occurrence.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// PeriodSummary is an immutable rollup of trips, visits and segments for
// a day, week or month. Deterministic given the same inputs; safe to
// recompute at any time.
type PeriodSummary struct {
	Period    string `json:"period"`
	StartTime int64  `json:"startTime"` // Unix timestamp, inclusive
	EndTime   int64  `json:"endTime"`   // Unix timestamp, exclusive

	TripCount    int `json:"tripCount"`
	VisitCount   int `json:"visitCount"`
	SegmentCount int `json:"segmentCount"`

	TotalDistanceMeters  float64 `json:"totalDistanceMeters"`
	TotalDurationSeconds int64   `json:"totalDurationSeconds"`

	CategoryHistogram map[string]int   `json:"categoryHistogram"`
	ModeHistogram     map[string]int   `json:"modeHistogram"`
	ModeDistanceM     map[string]float64 `json:"modeDistanceMeters"`

	TopPlaces     []PlaceCount    `json:"topPlaces"`
	TopCategories []CategoryCount `json:"topCategories"`
}
