package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/repository"
)

// memoryRemote implements the wire semantics of the sync service in
// memory: compare-and-swap pushes over an entity table and an ordered
// change log.
type memoryRemote struct {
	mu       stdsync.Mutex
	entities map[string]models.EntityEnvelope
	log      []models.EntityEnvelope

	pushErr   error
	pullErr   error
	pushCalls int
	pullCalls int

	// onPush runs at the start of every Push, standing in for activity
	// that happens during the network window.
	onPush func()
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{entities: map[string]models.EntityEnvelope{}}
}

func key(entityType, entityID string) string { return entityType + "/" + entityID }

func (m *memoryRemote) Push(ctx context.Context, req models.PushRequest) (*models.PushResponse, error) {
	if m.onPush != nil {
		m.onPush()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushCalls++
	if m.pushErr != nil {
		return nil, m.pushErr
	}

	resp := &models.PushResponse{}
	for _, change := range req.Changes {
		stored, exists := m.entities[key(change.EntityType, change.EntityID)]
		storedVersion := int64(0)
		if exists {
			storedVersion = stored.Version
		}
		if storedVersion != change.ExpectedVersion {
			remote := stored
			rej := models.PushRejection{EntityType: change.EntityType, EntityID: change.EntityID}
			if exists {
				rej.Remote = &remote
			}
			resp.Conflicts = append(resp.Conflicts, rej)
			continue
		}
		m.entities[key(change.EntityType, change.EntityID)] = change.EntityEnvelope
		m.log = append(m.log, change.EntityEnvelope)
		resp.Accepted = append(resp.Accepted, models.PushAck{
			EntityType: change.EntityType,
			EntityID:   change.EntityID,
			Version:    change.Version,
		})
	}
	return resp, nil
}

func (m *memoryRemote) Pull(ctx context.Context, deviceID string, since int64) (*models.PullResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pullCalls++
	if m.pullErr != nil {
		return nil, m.pullErr
	}

	resp := &models.PullResponse{NewCursor: since}
	for i := since; i < int64(len(m.log)); i++ {
		resp.Changes = append(resp.Changes, m.log[i])
		resp.NewCursor = i + 1
	}
	return resp, nil
}

// seed injects a change as if another device had pushed it.
func (m *memoryRemote) seed(env models.EntityEnvelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[key(env.EntityType, env.EntityID)] = env
	m.log = append(m.log, env)
}

type harness struct {
	db       *database.DB
	visits   *repository.VisitRepository
	segments *repository.SegmentRepository
	trips    *repository.TripRepository
	syncRepo *repository.SyncRepository
	remote   *memoryRemote
	coord    *Coordinator
	resolver *Resolver
}

func newHarness(t *testing.T, deviceID string) *harness {
	t.Helper()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "sync.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	h := &harness{
		db:       db,
		visits:   repository.NewVisitRepository(db),
		segments: repository.NewSegmentRepository(db),
		trips:    repository.NewTripRepository(db),
		syncRepo: repository.NewSyncRepository(db),
		remote:   newMemoryRemote(),
	}

	// Seconds-scale backoff keeps park delays visible; the sleep itself
	// is stubbed out below.
	backoff := config.BackoffConfig{Base: 2 * time.Second, Cap: 8 * time.Second, MaxAttempts: 3}
	resolveMu := &stdsync.Mutex{}
	h.coord = NewCoordinator(db, h.visits, h.segments, h.trips, h.syncRepo,
		h.remote, deviceID, backoff, resolveMu)
	h.coord.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	h.resolver = NewResolver(db, h.visits, h.segments, h.trips, h.syncRepo, deviceID, resolveMu)
	return h
}

func (h *harness) insertVisit(t *testing.T, id, deviceID string, version, syncedVersion int64) *models.PlaceVisit {
	t.Helper()

	departure := int64(1_700_010_000)
	v := &models.PlaceVisit{
		ID:            id,
		CenterLat:     48.8566,
		CenterLon:     2.3522,
		RadiusMeters:  40,
		ArrivalTime:   1_700_000_000,
		DepartureTime: &departure,
		Category:      models.CategoryFood,
		SampleCount:   12,
		Version:       version,
		SyncedVersion: syncedVersion,
		DeviceID:      deviceID,
		UpdatedAt:     time.Now().Unix(),
	}
	err := h.db.Transaction(func(tx *sql.Tx) error {
		if err := h.visits.InsertTx(tx, v); err != nil {
			return err
		}
		if version > syncedVersion {
			return h.syncRepo.EnqueueTx(tx, models.EntityPlaceVisit, id)
		}
		return nil
	})
	require.NoError(t, err)
	return v
}

// deleteVisit removes a visit locally and queues its tombstone, the way
// the resolver and trip reconciliation delete entities.
func (h *harness) deleteVisit(t *testing.T, id string) {
	t.Helper()

	err := h.db.Transaction(func(tx *sql.Tx) error {
		env := models.EntityEnvelope{EntityType: models.EntityPlaceVisit, EntityID: id, Deleted: true}
		if err := h.visits.ApplyRemoteTx(tx, env); err != nil {
			return err
		}
		return h.syncRepo.EnqueueTx(tx, models.EntityPlaceVisit, id)
	})
	require.NoError(t, err)
}

func (h *harness) editVisitLabel(t *testing.T, id, deviceID, label string) {
	t.Helper()

	v, err := h.visits.GetByID(id)
	require.NoError(t, err)
	v.UserLabel = &label
	err = h.db.Transaction(func(tx *sql.Tx) error {
		if err := h.visits.UpdateUserFieldsTx(tx, v, deviceID); err != nil {
			return err
		}
		return h.syncRepo.EnqueueTx(tx, models.EntityPlaceVisit, id)
	})
	require.NoError(t, err)
}

func remoteVisitEnvelope(t *testing.T, v models.PlaceVisit) models.EntityEnvelope {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return models.EntityEnvelope{
		EntityType: models.EntityPlaceVisit,
		EntityID:   v.ID,
		Version:    v.Version,
		DeviceID:   v.DeviceID,
		UpdatedAt:  v.UpdatedAt,
		Payload:    payload,
	}
}

func TestSyncPushesLocalChanges(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "device-a")
	h.insertVisit(t, "v1", "device-a", 1, 0)

	report, err := h.coord.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Pushed)
	assert.Zero(t, report.Conflicts)

	// Local row is marked synced and the queue is empty.
	v, err := h.visits.GetByID("v1")
	require.NoError(t, err)
	assert.Equal(t, v.Version, v.SyncedVersion)

	n, err := h.syncRepo.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, n)

	stored := h.remote.entities[key(models.EntityPlaceVisit, "v1")]
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, "device-a", stored.DeviceID)
}

func TestSyncPullAppliesRemoteChanges(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "device-a")

	departure := int64(1_700_020_000)
	remote := models.PlaceVisit{
		ID:           "v-remote",
		CenterLat:    51.5,
		CenterLon:    -0.12,
		RadiusMeters: 35,
		ArrivalTime:  1_700_000_000,
		DepartureTime: &departure,
		Version:      2,
		DeviceID:     "device-b",
		UpdatedAt:    time.Now().Unix(),
	}
	h.remote.seed(remoteVisitEnvelope(t, remote))

	report, err := h.coord.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pulled)
	assert.Equal(t, int64(1), report.NewCursor)

	v, err := h.visits.GetByID("v-remote")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Version)
	assert.Equal(t, int64(2), v.SyncedVersion, "pulled rows are fully synced")
	assert.Equal(t, "device-b", v.DeviceID)
}

func TestSyncOwnChangeEchoIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "device-a")
	h.insertVisit(t, "v1", "device-a", 1, 0)

	_, err := h.coord.Sync(context.Background())
	require.NoError(t, err)

	// The second cycle pulls our own change back from the log. It must
	// not dirty the row or create a conflict.
	report, err := h.coord.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pulled)
	assert.Zero(t, report.Conflicts)

	v, err := h.visits.GetByID("v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Version)

	n, err := h.syncRepo.ConflictCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncConcurrentEditBecomesConflict(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "device-a")
	h.insertVisit(t, "v1", "device-a", 1, 0)

	// Cycle 1 pushes version 1; both devices now agree.
	_, err := h.coord.Sync(context.Background())
	require.NoError(t, err)
	// Cycle 2 consumes our own echo so the cursor is current.
	_, err = h.coord.Sync(context.Background())
	require.NoError(t, err)

	// Both devices edit the label concurrently.
	h.editVisitLabel(t, "v1", "device-a", "Our Cafe")

	theirLabel := "Their Cafe"
	theirs, err := h.visits.GetByID("v1")
	require.NoError(t, err)
	theirVisit := *theirs
	theirVisit.UserLabel = &theirLabel
	theirVisit.Version = 2
	theirVisit.DeviceID = "device-b"
	theirVisit.UpdatedAt = time.Now().Unix() + 10
	h.remote.seed(remoteVisitEnvelope(t, theirVisit))

	report, err := h.coord.Sync(context.Background())
	require.NoError(t, err)

	// Exactly one conflict; the remote edit did not clobber ours and our
	// edit was not pushed over theirs.
	assert.Equal(t, 1, report.Conflicts)
	assert.Zero(t, report.Pushed)

	conflicts, err := h.syncRepo.ListConflicts()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, models.ConflictConcurrentModification, c.ConflictType)
	assert.Equal(t, int64(2), c.LocalVersion)
	assert.Equal(t, "device-a", c.LocalDeviceID)
	assert.Equal(t, int64(2), c.RemoteVersion)
	assert.Equal(t, "device-b", c.RemoteDeviceID)

	var localSnap models.PlaceVisit
	require.NoError(t, json.Unmarshal(c.LocalSnapshot, &localSnap))
	assert.Equal(t, "Our Cafe", *localSnap.UserLabel)

	// Keep local: the winner takes a version above both sides and goes
	// back into the push queue.
	require.NoError(t, h.resolver.Resolve(c.ID, OpKeepLocal))

	v, err := h.visits.GetByID("v1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Version)
	assert.Equal(t, "Our Cafe", *v.UserLabel)

	report, err = h.coord.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)

	stored := h.remote.entities[key(models.EntityPlaceVisit, "v1")]
	assert.Equal(t, int64(3), stored.Version)
	var storedVisit models.PlaceVisit
	require.NoError(t, json.Unmarshal(stored.Payload, &storedVisit))
	assert.Equal(t, "Our Cafe", *storedVisit.UserLabel)
}

func TestSyncPushRejectionRecordsConflict(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "device-a")
	v := h.insertVisit(t, "v1", "device-a", 2, 1)

	// The remote already moved to version 2 via another device, and our
	// cursor is already past that log entry (the edit raced the pull).
	theirLabel := "Their Version"
	theirVisit := *v
	theirVisit.UserLabel = &theirLabel
	theirVisit.Version = 2
	theirVisit.DeviceID = "device-b"
	h.remote.seed(remoteVisitEnvelope(t, theirVisit))
	require.NoError(t, h.syncRepo.SaveDeviceState(&models.DeviceSyncState{
		DeviceID:       "device-a",
		LastPullCursor: 1,
		UpdatedAt:      time.Now().Unix(),
	}))

	report, err := h.coord.Sync(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Pushed)
	assert.Equal(t, 1, report.Conflicts)

	conflicts, err := h.syncRepo.ListConflicts()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ConflictConcurrentModification, conflicts[0].ConflictType)
	assert.Equal(t, "device-b", conflicts[0].RemoteDeviceID)

	// The rejected change left the push queue; it now lives in the
	// conflict table awaiting an explicit resolution.
	n, err := h.syncRepo.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncRemoteDeletionConflict(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "device-a")
	h.insertVisit(t, "v1", "device-a", 2, 1)

	h.remote.seed(models.EntityEnvelope{
		EntityType: models.EntityPlaceVisit,
		EntityID:   "v1",
		Version:    2,
		DeviceID:   "device-b",
		UpdatedAt:  time.Now().Unix(),
		Deleted:    true,
	})

	report, err := h.coord.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)

	conflicts, err := h.syncRepo.ListConflicts()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ConflictDeletion, conflicts[0].ConflictType)

	// The local row survives until the user resolves.
	_, err = h.visits.GetByID("v1")
	assert.NoError(t, err)
}

func TestSyncTransientFailureParksPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "device-a")
	h.insertVisit(t, "v1", "device-a", 1, 0)
	h.remote.pushErr = Transient(errors.New("connection reset"))

	report, err := h.coord.Sync(context.Background())
	require.NoError(t, err, "transient push failure is not a cycle error")
	assert.Equal(t, 1, report.Parked)
	assert.Zero(t, report.Pushed)

	// Retries were attempted before parking.
	assert.Equal(t, 3, h.remote.pushCalls)

	// The pending mark survives with a future retry time.
	due, err := h.syncRepo.DuePending(time.Now().Unix())
	require.NoError(t, err)
	assert.Empty(t, due, "parked change is not due yet")

	n, err := h.syncRepo.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Once the remote recovers and the park delay passes, the push
	// succeeds; compare-and-swap makes the retry idempotent.
	h.remote.pushErr = nil
	due, err = h.syncRepo.DuePending(time.Now().Unix() + 3600)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
}

func TestSyncPermanentPullFailureAborts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "device-a")
	h.insertVisit(t, "v1", "device-a", 1, 0)
	h.remote.pullErr = errors.New("bad credentials")

	_, err := h.coord.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, h.remote.pullCalls, "permanent errors are not retried")

	// Nothing was pushed; the pending mark is intact.
	n, err := h.syncRepo.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSyncRemoteEditOverLocalDeletionConflict(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "device-a")
	h.insertVisit(t, "v1", "device-a", 1, 0)

	// Push version 1, then consume our own echo.
	_, err := h.coord.Sync(context.Background())
	require.NoError(t, err)
	_, err = h.coord.Sync(context.Background())
	require.NoError(t, err)

	// We delete the visit; device-b edits it at the same time.
	h.deleteVisit(t, "v1")

	departure := int64(1_700_010_000)
	theirLabel := "Their Cafe"
	h.remote.seed(remoteVisitEnvelope(t, models.PlaceVisit{
		ID:            "v1",
		CenterLat:     48.8566,
		CenterLon:     2.3522,
		RadiusMeters:  40,
		ArrivalTime:   1_700_000_000,
		DepartureTime: &departure,
		UserLabel:     &theirLabel,
		Version:       2,
		DeviceID:      "device-b",
		UpdatedAt:     time.Now().Unix(),
	}))

	report, err := h.coord.Sync(context.Background())
	require.NoError(t, err)

	// The remote edit must not resurrect the deleted visit; the
	// divergence becomes a deletion conflict instead.
	assert.Equal(t, 1, report.Conflicts)
	assert.Zero(t, report.Pushed)

	_, err = h.visits.GetByID("v1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	conflicts, err := h.syncRepo.ListConflicts()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	c := conflicts[0]
	assert.Equal(t, models.ConflictDeletion, c.ConflictType)
	assert.Empty(t, c.LocalSnapshot, "the deletion has no snapshot")
	assert.Equal(t, "device-a", c.LocalDeviceID)
	assert.Equal(t, int64(2), c.RemoteVersion)
	assert.Equal(t, "device-b", c.RemoteDeviceID)

	// The tombstone was not pushed over their edit.
	stored := h.remote.entities[key(models.EntityPlaceVisit, "v1")]
	assert.Equal(t, int64(2), stored.Version)
	assert.False(t, stored.Deleted)

	n, err := h.syncRepo.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, n, "the conflict owns the divergence")
}

func TestSyncBothSidesDeleted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "device-a")
	h.insertVisit(t, "v1", "device-a", 1, 0)

	_, err := h.coord.Sync(context.Background())
	require.NoError(t, err)
	_, err = h.coord.Sync(context.Background())
	require.NoError(t, err)

	// Both devices delete the visit independently.
	h.deleteVisit(t, "v1")
	h.remote.seed(models.EntityEnvelope{
		EntityType: models.EntityPlaceVisit,
		EntityID:   "v1",
		Version:    2,
		DeviceID:   "device-b",
		UpdatedAt:  time.Now().Unix(),
		Deleted:    true,
	})

	report, err := h.coord.Sync(context.Background())
	require.NoError(t, err)

	// Nothing diverged: no conflict, and the queued tombstone is dropped.
	assert.Zero(t, report.Conflicts)
	assert.Equal(t, 1, report.Pulled)

	n, err := h.syncRepo.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.visits.GetByID("v1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSyncEditDuringPushWindowStaysPending(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "device-a")
	h.insertVisit(t, "v1", "device-a", 1, 0)

	// A user edit lands while the push request is on the wire.
	h.remote.onPush = func() {
		h.remote.onPush = nil
		h.editVisitLabel(t, "v1", "device-a", "Edited Mid-Flight")
	}

	report, err := h.coord.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)

	// The ack covers version 1 only; version 2 must stay queued with the
	// acknowledgement recorded.
	v, err := h.visits.GetByID("v1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Version)
	assert.Equal(t, int64(1), v.SyncedVersion)

	n, err := h.syncRepo.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "the mid-flight edit is still pending")

	// The next cycle pushes version 2 cleanly; the echo of our own
	// version 1 is not mistaken for a conflict.
	report, err = h.coord.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)
	assert.Zero(t, report.Conflicts)

	v, err = h.visits.GetByID("v1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Version)
	assert.Equal(t, int64(2), v.SyncedVersion)

	stored := h.remote.entities[key(models.EntityPlaceVisit, "v1")]
	assert.Equal(t, int64(2), stored.Version)
	var storedVisit models.PlaceVisit
	require.NoError(t, json.Unmarshal(stored.Payload, &storedVisit))
	assert.Equal(t, "Edited Mid-Flight", *storedVisit.UserLabel)
}

func TestSyncCursorAdvancesOncePerBatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "device-a")

	for i := 0; i < 3; i++ {
		departure := int64(1_700_020_000)
		h.remote.seed(remoteVisitEnvelope(t, models.PlaceVisit{
			ID:            "v" + string(rune('a'+i)),
			CenterLat:     50,
			CenterLon:     8,
			RadiusMeters:  20,
			ArrivalTime:   1_700_000_000,
			DepartureTime: &departure,
			Version:       1,
			DeviceID:      "device-b",
		}))
	}

	report, err := h.coord.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Pulled)
	assert.Equal(t, int64(3), report.NewCursor)

	state, err := h.syncRepo.GetDeviceState("device-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.LastPullCursor)

	// A second cycle finds nothing new.
	report, err = h.coord.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Pulled)
}
