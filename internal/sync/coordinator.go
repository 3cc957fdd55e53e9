package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	stdsync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/repository"
)

// Coordinator drives the push/pull cycle against the remote sync
// service. A cycle pulls remote changes newer than the cursor, then
// pushes every locally changed entity with compare-and-swap semantics.
// Two concurrent Sync calls coalesce into one in-flight cycle; the
// second caller receives the first cycle's result.
type Coordinator struct {
	db       *database.DB
	visits   *repository.VisitRepository
	segments *repository.SegmentRepository
	trips    *repository.TripRepository
	syncRepo *repository.SyncRepository
	remote   Remote

	deviceID string
	backoff  config.BackoffConfig

	group singleflight.Group

	// resolveMu serializes sync cycles against conflict resolution, so a
	// freshly resolved conflict cannot be re-flagged by a cycle that read
	// stale state. Shared with the Resolver.
	resolveMu *stdsync.Mutex

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a sync coordinator.
func NewCoordinator(
	db *database.DB,
	visits *repository.VisitRepository,
	segments *repository.SegmentRepository,
	trips *repository.TripRepository,
	syncRepo *repository.SyncRepository,
	remote Remote,
	deviceID string,
	backoff config.BackoffConfig,
	resolveMu *stdsync.Mutex,
) *Coordinator {
	return &Coordinator{
		db:        db,
		visits:    visits,
		segments:  segments,
		trips:     trips,
		syncRepo:  syncRepo,
		remote:    remote,
		deviceID:  deviceID,
		backoff:   backoff,
		resolveMu: resolveMu,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sync runs one pull-then-push cycle. Concurrent callers join the
// in-flight cycle (single-flight) instead of starting a second one.
// Cancellation leaves partially pushed entities parked as pending;
// push is compare-and-swap on version, so retrying is idempotent.
func (c *Coordinator) Sync(ctx context.Context) (models.SyncReport, error) {
	v, err, _ := c.group.Do("sync", func() (any, error) {
		return c.cycle(ctx)
	})
	if report, ok := v.(models.SyncReport); ok {
		return report, err
	}
	return models.SyncReport{}, err
}

func (c *Coordinator) cycle(ctx context.Context) (models.SyncReport, error) {
	c.resolveMu.Lock()
	defer c.resolveMu.Unlock()

	var report models.SyncReport

	state, err := c.syncRepo.GetDeviceState(c.deviceID)
	if err != nil {
		return report, err
	}

	if err := c.pull(ctx, state, &report); err != nil {
		return report, err
	}

	if err := c.push(ctx, state, &report); err != nil {
		return report, err
	}

	if state.PendingPushCount, err = c.syncRepo.PendingCount(); err != nil {
		return report, err
	}
	if state.PendingConflictCount, err = c.syncRepo.ConflictCount(); err != nil {
		return report, err
	}
	if err := c.syncRepo.SaveDeviceState(state); err != nil {
		return report, err
	}

	log.Printf("[SyncCoordinator] Cycle done: pulled=%d pushed=%d conflicts=%d parked=%d cursor=%d",
		report.Pulled, report.Pushed, report.Conflicts, report.Parked, report.NewCursor)
	return report, nil
}

// pull applies remote changes entity-by-entity in log order. A remote
// change never overwrites an entity with unpushed local edits; that
// case becomes a conflict instead.
func (c *Coordinator) pull(ctx context.Context, state *models.DeviceSyncState, report *models.SyncReport) error {
	report.NewCursor = state.LastPullCursor

	pullResp, err := c.pullWithRetry(ctx, state.LastPullCursor)
	if err != nil {
		return err
	}

	for _, env := range pullResp.Changes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.applyRemote(env, report); err != nil {
			return err
		}
		report.Pulled++
	}

	state.LastPullCursor = pullResp.NewCursor
	report.NewCursor = pullResp.NewCursor
	return nil
}

func (c *Coordinator) pullWithRetry(ctx context.Context, since int64) (*models.PullResponse, error) {
	var resp *models.PullResponse
	err := c.withRetry(ctx, "pull", func() error {
		var err error
		resp, err = c.remote.Pull(ctx, c.deviceID, since)
		return err
	})
	return resp, err
}

func (c *Coordinator) applyRemote(env models.EntityEnvelope, report *models.SyncReport) error {
	pending, err := c.syncRepo.HasPending(env.EntityType, env.EntityID)
	if err != nil {
		return err
	}

	local, _, found, err := c.snapshot(env.EntityType, env.EntityID)
	if err != nil {
		return err
	}

	// Our own change echoed back through the log. Anything this device
	// authored at or below the local version is history, not news; a
	// newer local edit must not be flagged against its own ancestor.
	if found && local.DeviceID == env.DeviceID && env.Version <= local.Version {
		return nil
	}

	if pending {
		// Both sides deleted the entity independently; the queued
		// tombstone has nothing left to announce.
		if !found && env.Deleted {
			return c.db.Transaction(func(tx *sql.Tx) error {
				return c.syncRepo.DeletePendingTx(tx, env.EntityType, env.EntityID)
			})
		}

		conflict := &models.SyncConflict{
			EntityType:     env.EntityType,
			EntityID:       env.EntityID,
			ConflictType:   models.ConflictConcurrentModification,
			RemoteSnapshot: env.Payload,
			RemoteVersion:  env.Version,
			RemoteDeviceID: env.DeviceID,
			DetectedAt:     time.Now().Unix(),
		}
		if found {
			conflict.LocalSnapshot = local.Payload
			conflict.LocalVersion = local.Version
			conflict.LocalDeviceID = local.DeviceID
			if env.Deleted {
				conflict.ConflictType = models.ConflictDeletion
			}
		} else {
			// Deleted locally, edited remotely. The empty local snapshot
			// stands in for the queued tombstone.
			conflict.ConflictType = models.ConflictDeletion
			conflict.LocalDeviceID = c.deviceID
		}

		report.Conflicts++
		return c.db.Transaction(func(tx *sql.Tx) error {
			if err := c.syncRepo.InsertConflictTx(tx, conflict); err != nil {
				return err
			}
			// The conflict now owns this divergence; resolution re-queues
			// the winner for push.
			return c.syncRepo.DeletePendingTx(tx, env.EntityType, env.EntityID)
		})
	}

	return c.db.Transaction(func(tx *sql.Tx) error {
		switch env.EntityType {
		case models.EntityPlaceVisit:
			return c.visits.ApplyRemoteTx(tx, env)
		case models.EntityRouteSegment:
			return c.segments.ApplyRemoteTx(tx, env)
		case models.EntityTrip:
			return c.trips.ApplyRemoteTx(tx, env)
		default:
			return fmt.Errorf("%w: unknown entity type %q", repository.ErrInvalidEntity, env.EntityType)
		}
	})
}

// push sends every due pending change in one compare-and-swap batch.
func (c *Coordinator) push(ctx context.Context, state *models.DeviceSyncState, report *models.SyncReport) error {
	now := time.Now().Unix()
	due, err := c.syncRepo.DuePending(now)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	req := models.PushRequest{DeviceID: c.deviceID}
	tombstoned := map[string]bool{}
	for _, p := range due {
		env, syncedVersion, found, err := c.snapshot(p.EntityType, p.EntityID)
		if err != nil {
			return err
		}
		if !found {
			// Entity deleted locally after queueing; push a tombstone.
			env = &models.EntityEnvelope{
				EntityType: p.EntityType,
				EntityID:   p.EntityID,
				Version:    syncedVersion + 1,
				DeviceID:   c.deviceID,
				UpdatedAt:  now,
				Deleted:    true,
			}
			tombstoned[p.EntityType+"/"+p.EntityID] = true
		}
		req.Changes = append(req.Changes, models.PushChange{
			EntityEnvelope:  *env,
			ExpectedVersion: syncedVersion,
		})
	}

	var resp *models.PushResponse
	err = c.withRetry(ctx, "push", func() error {
		var err error
		resp, err = c.remote.Push(ctx, req)
		return err
	})
	if err != nil {
		if IsTransient(err) || ctx.Err() != nil {
			// Park everything for the next scheduled cycle.
			for _, p := range due {
				next := now + int64(c.parkDelay(p.Attempts).Seconds())
				if parkErr := c.syncRepo.ParkPending(p.ID, next); parkErr != nil {
					return parkErr
				}
				report.Parked++
			}
			log.Printf("[SyncCoordinator] Push parked %d entities: %v", len(due), err)
			return nil
		}
		return err
	}

	for _, ack := range resp.Accepted {
		if err := c.db.Transaction(func(tx *sql.Tx) error {
			current, err := c.markSynced(tx, ack)
			if err != nil {
				return err
			}
			// A user edit that landed during the network window keeps
			// the entity queued; only a fully acknowledged state dequeues.
			if !current && !tombstoned[ack.EntityType+"/"+ack.EntityID] {
				return nil
			}
			return c.syncRepo.DeletePendingTx(tx, ack.EntityType, ack.EntityID)
		}); err != nil {
			return err
		}
		if ack.Version > state.LastPushVersion {
			state.LastPushVersion = ack.Version
		}
		report.Pushed++
	}

	for _, rej := range resp.Conflicts {
		if err := c.recordPushConflict(rej); err != nil {
			return err
		}
		report.Conflicts++
	}

	return nil
}

// recordPushConflict converts a compare-and-swap rejection into a stored
// conflict; the rejected entity never overwrites the remote.
func (c *Coordinator) recordPushConflict(rej models.PushRejection) error {
	local, _, found, err := c.snapshot(rej.EntityType, rej.EntityID)
	if err != nil {
		return err
	}

	conflict := &models.SyncConflict{
		EntityType:   rej.EntityType,
		EntityID:     rej.EntityID,
		ConflictType: models.ConflictVersionMismatch,
		DetectedAt:   time.Now().Unix(),
	}
	if found {
		conflict.LocalSnapshot = local.Payload
		conflict.LocalVersion = local.Version
		conflict.LocalDeviceID = local.DeviceID
	}
	if rej.Remote != nil {
		conflict.RemoteSnapshot = rej.Remote.Payload
		conflict.RemoteVersion = rej.Remote.Version
		conflict.RemoteDeviceID = rej.Remote.DeviceID
		if rej.Remote.Deleted {
			conflict.ConflictType = models.ConflictDeletion
		} else {
			conflict.ConflictType = models.ConflictConcurrentModification
		}
	}

	return c.db.Transaction(func(tx *sql.Tx) error {
		if err := c.syncRepo.InsertConflictTx(tx, conflict); err != nil {
			return err
		}
		return c.syncRepo.DeletePendingTx(tx, rej.EntityType, rej.EntityID)
	})
}

func (c *Coordinator) markSynced(tx *sql.Tx, ack models.PushAck) (bool, error) {
	switch ack.EntityType {
	case models.EntityPlaceVisit:
		return c.visits.MarkSyncedTx(tx, ack.EntityID, ack.Version)
	case models.EntityRouteSegment:
		return c.segments.MarkSyncedTx(tx, ack.EntityID, ack.Version)
	case models.EntityTrip:
		return c.trips.MarkSyncedTx(tx, ack.EntityID, ack.Version)
	default:
		return false, fmt.Errorf("%w: unknown entity type %q", repository.ErrInvalidEntity, ack.EntityType)
	}
}

// snapshot loads an entity as a wire envelope plus its last remotely
// acknowledged version.
func (c *Coordinator) snapshot(entityType, entityID string) (*models.EntityEnvelope, int64, bool, error) {
	var payload any
	var version, syncedVersion, updatedAt int64
	var deviceID string

	switch entityType {
	case models.EntityPlaceVisit:
		v, err := c.visits.GetByID(entityID)
		if err == repository.ErrNotFound {
			return nil, 0, false, nil
		}
		if err != nil {
			return nil, 0, false, err
		}
		payload, version, syncedVersion, updatedAt, deviceID = v, v.Version, v.SyncedVersion, v.UpdatedAt, v.DeviceID
	case models.EntityRouteSegment:
		s, err := c.segments.GetByID(entityID)
		if err == repository.ErrNotFound {
			return nil, 0, false, nil
		}
		if err != nil {
			return nil, 0, false, err
		}
		payload, version, syncedVersion, updatedAt, deviceID = s, s.Version, s.SyncedVersion, s.UpdatedAt, s.DeviceID
	case models.EntityTrip:
		t, err := c.trips.GetByID(entityID)
		if err == repository.ErrNotFound {
			return nil, 0, false, nil
		}
		if err != nil {
			return nil, 0, false, err
		}
		payload, version, syncedVersion, updatedAt, deviceID = t, t.Version, t.SyncedVersion, t.UpdatedAt, t.DeviceID
	default:
		return nil, 0, false, fmt.Errorf("%w: unknown entity type %q", repository.ErrInvalidEntity, entityType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to marshal %s snapshot: %w", entityType, err)
	}

	return &models.EntityEnvelope{
		EntityType: entityType,
		EntityID:   entityID,
		Version:    version,
		DeviceID:   deviceID,
		UpdatedAt:  updatedAt,
		Payload:    raw,
	}, syncedVersion, true, nil
}

// withRetry retries fn on transient errors with jittered exponential
// backoff, bounded by the configured attempt count.
func (c *Coordinator) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < c.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			log.Printf("[SyncCoordinator] %s attempt %d failed, retrying in %v: %v", op, attempt, delay, err)
			if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
				return sleepErr
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
	}
	return err
}

func (c *Coordinator) backoffDelay(attempt int) time.Duration {
	delay := c.backoff.Base << (attempt - 1)
	if delay > c.backoff.Cap {
		delay = c.backoff.Cap
	}
	// Full jitter keeps competing devices from thundering in step.
	return time.Duration(rand.Int63n(int64(delay)) + 1)
}

func (c *Coordinator) parkDelay(attempts int) time.Duration {
	delay := c.backoff.Base << attempts
	if delay > c.backoff.Cap {
		delay = c.backoff.Cap
	}
	return delay
}
