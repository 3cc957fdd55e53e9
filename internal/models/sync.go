package models

import "encoding/json"

// Entity type discriminators used in the change log and on the wire.
const (
	EntityPlaceVisit   = "place_visit"
	EntityRouteSegment = "route_segment"
	EntityTrip         = "trip"
)

// Conflict types
const (
	ConflictConcurrentModification = "concurrentModification"
	ConflictDeletion               = "deletionConflict"
	ConflictVersionMismatch        = "versionMismatch"
)

// EntityEnvelope is the wire representation of one syncable entity: a
// full JSON snapshot plus the version/device pair that forms the
// simplified version vector.
type EntityEnvelope struct {
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Version    int64           `json:"version"`
	DeviceID   string          `json:"deviceId"`
	UpdatedAt  int64           `json:"updatedAt"`
	Deleted    bool            `json:"deleted,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// PushChange is one entity in a push request. ExpectedVersion is the
// version the client last pulled for this entity; the remote accepts the
// push only if its stored version still matches (compare-and-swap).
type PushChange struct {
	EntityEnvelope
	ExpectedVersion int64 `json:"expectedVersion"`
}

// PushRequest is the body of POST /changes.
type PushRequest struct {
	DeviceID string       `json:"deviceId"`
	Changes  []PushChange `json:"changes"`
}

// PushAck identifies an accepted entity.
type PushAck struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Version    int64  `json:"version"`
}

// PushRejection carries the remote's stored state for a rejected entity.
type PushRejection struct {
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Remote     *EntityEnvelope `json:"remote,omitempty"`
}

// PushResponse is the body returned by POST /changes.
type PushResponse struct {
	Accepted  []PushAck       `json:"accepted"`
	Conflicts []PushRejection `json:"conflicts"`
}

// PullResponse is the body returned by GET /changes?since=cursor.
// Changes are ordered by the remote log's sequence.
type PullResponse struct {
	Changes   []EntityEnvelope `json:"changes"`
	NewCursor int64            `json:"newCursor"`
}

// SyncConflict records a detected concurrent edit. Both sides carry a
// full snapshot plus version vector; the row is destroyed on resolution.
type SyncConflict struct {
	ID             int64           `json:"id" db:"id"`
	EntityType     string          `json:"entityType" db:"entity_type"`
	EntityID       string          `json:"entityId" db:"entity_id"`
	ConflictType   string          `json:"conflictType" db:"conflict_type"`
	LocalSnapshot  json.RawMessage `json:"localSnapshot" db:"local_snapshot"`
	LocalVersion   int64           `json:"localVersion" db:"local_version"`
	LocalDeviceID  string          `json:"localDeviceId" db:"local_device_id"`
	RemoteSnapshot json.RawMessage `json:"remoteSnapshot" db:"remote_snapshot"`
	RemoteVersion  int64           `json:"remoteVersion" db:"remote_version"`
	RemoteDeviceID string          `json:"remoteDeviceId" db:"remote_device_id"`
	DetectedAt     int64           `json:"detectedAt" db:"detected_at"`
}

// DeviceSyncState is the process-wide per-device sync bookkeeping,
// mutated only by the sync coordinator.
type DeviceSyncState struct {
	DeviceID             string `json:"deviceId" db:"device_id"`
	LastPushVersion      int64  `json:"lastPushVersion" db:"last_push_version"`
	LastPullCursor       int64  `json:"lastPullCursor" db:"last_pull_cursor"`
	PendingPushCount     int64  `json:"pendingPushCount" db:"pending_push_count"`
	PendingConflictCount int64  `json:"pendingConflictCount" db:"pending_conflict_count"`
	UpdatedAt            int64  `json:"updatedAt" db:"updated_at"`
}

// PendingChange is a queued local mutation awaiting push.
type PendingChange struct {
	ID            int64  `json:"id" db:"id"`
	EntityType    string `json:"entityType" db:"entity_type"`
	EntityID      string `json:"entityId" db:"entity_id"`
	QueuedAt      int64  `json:"queuedAt" db:"queued_at"`
	Attempts      int    `json:"attempts" db:"attempts"`
	NextAttemptAt int64  `json:"nextAttemptAt" db:"next_attempt_at"`
}

// SyncReport summarizes one sync cycle.
type SyncReport struct {
	Pulled    int   `json:"pulled"`
	Pushed    int   `json:"pushed"`
	Conflicts int   `json:"conflicts"`
	Parked    int   `json:"parked"`
	NewCursor int64 `json:"newCursor"`
}
