package models

// LocationSample is a raw location fix delivered by the platform layer.
// Immutable once accepted; retained only for replay and debugging after
// the detectors have consumed it.
type LocationSample struct {
	ID             int64    `json:"id" db:"id"`
	Latitude       float64  `json:"latitude" db:"latitude"`
	Longitude      float64  `json:"longitude" db:"longitude"`
	AccuracyMeters float64  `json:"accuracyMeters" db:"accuracy_m"`
	Timestamp      int64    `json:"timestamp" db:"recorded_at"` // Unix timestamp in seconds
	SpeedMPS       *float64 `json:"speedMps,omitempty" db:"speed_mps"`
	BearingDeg     *float64 `json:"bearingDeg,omitempty" db:"bearing_deg"`
	DeviceID       string   `json:"deviceId" db:"device_id"`
}

// RejectReason explains why the ingestor dropped a sample. Rejections are
// filtering decisions, not errors.
type RejectReason string

const (
	RejectLowAccuracy RejectReason = "low_accuracy"
	RejectOutOfOrder  RejectReason = "out_of_order"
	RejectDebounced   RejectReason = "debounced"
)

// IngestStats counts ingest outcomes since process start.
type IngestStats struct {
	Accepted int64                  `json:"accepted"`
	Rejected map[RejectReason]int64 `json:"rejected"`
}
