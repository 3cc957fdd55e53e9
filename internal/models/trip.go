package models

import "encoding/json"

// Trip is a bounded sequence of visits and segments representing one
// outing. Visits and segments own their records; a trip only holds their
// ids via foreign key back-references, never cascading ownership.
// Invariants: if IsOngoing, EndTime is nil; StartTime <= EndTime when closed.
type Trip struct {
	ID             string      `json:"id" db:"id"`
	StartTime      int64       `json:"startTime" db:"start_ts"` // Unix timestamp
	EndTime        *int64      `json:"endTime,omitempty" db:"end_ts"`
	DisplayName    string      `json:"displayName" db:"display_name"`
	IsOngoing      bool        `json:"isOngoing" db:"is_ongoing"`
	IsAutoDetected bool        `json:"isAutoDetected" db:"is_auto_detected"`
	Tags           []string    `json:"tags" db:"tags_json"`
	Summary        TripSummary `json:"summary" db:"summary_json"`

	Version       int64  `json:"version" db:"version"`
	SyncedVersion int64  `json:"-" db:"synced_version"`
	DeviceID      string `json:"deviceId" db:"device_id"`
	UpdatedAt     int64  `json:"updatedAt" db:"updated_at"`
}

// TripSummary is the denormalized rollup stored with a trip.
type TripSummary struct {
	VisitCount     int     `json:"visitCount"`
	SegmentCount   int     `json:"segmentCount"`
	DistanceMeters float64 `json:"distanceMeters"`
	PrimaryMode    string  `json:"primaryMode,omitempty"`
}

// TagsJSON serializes the tag list for storage.
func (t *Trip) TagsJSON() string {
	if len(t.Tags) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(t.Tags)
	return string(b)
}

// SummaryJSON serializes the trip summary for storage.
func (t *Trip) SummaryJSON() string {
	b, _ := json.Marshal(t.Summary)
	return string(b)
}

// TripFilter holds query parameters for listing trips.
type TripFilter struct {
	StartTime    int64 `form:"startTime"`
	EndTime      int64 `form:"endTime"`
	AutoDetected *bool `form:"autoDetected"`
	Ongoing      *bool `form:"ongoing"`
	Page         int   `form:"page"`
	PageSize     int   `form:"pageSize"`
}
