package sync

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	stdsync "sync"
	"time"

	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/repository"
)

// Resolution operations
const (
	OpKeepLocal  = "keepLocal"
	OpKeepRemote = "keepRemote"
	OpMerge      = "merge"
)

// ErrOutOfOrder is returned when a resolution targets a conflict that is
// not the oldest pending one. Resolving out of order could re-derive
// dependent conflicts (a trip before its child visit).
var ErrOutOfOrder = errors.New("conflicts must be resolved oldest first")

// Resolver applies user decisions to stored sync conflicts. Every
// resolution bumps the winner's version past both sides so it is
// observed as newest, and re-queues it for push. A skipped conflict
// stays pending; nothing is ever auto-resolved silently.
type Resolver struct {
	db       *database.DB
	visits   *repository.VisitRepository
	segments *repository.SegmentRepository
	trips    *repository.TripRepository
	syncRepo *repository.SyncRepository
	deviceID string

	// resolveMu is shared with the Coordinator: a resolution completes
	// before the next sync cycle may touch the same entities.
	resolveMu *stdsync.Mutex

	mu      stdsync.Mutex
	skipped map[int64]bool // session-scoped; cleared on restart
}

// NewResolver creates a conflict resolver.
func NewResolver(
	db *database.DB,
	visits *repository.VisitRepository,
	segments *repository.SegmentRepository,
	trips *repository.TripRepository,
	syncRepo *repository.SyncRepository,
	deviceID string,
	resolveMu *stdsync.Mutex,
) *Resolver {
	return &Resolver{
		db:        db,
		visits:    visits,
		segments:  segments,
		trips:     trips,
		syncRepo:  syncRepo,
		deviceID:  deviceID,
		resolveMu: resolveMu,
		skipped:   map[int64]bool{},
	}
}

// Pending returns unresolved conflicts, oldest first.
func (r *Resolver) Pending() ([]models.SyncConflict, error) {
	return r.syncRepo.ListConflicts()
}

// Skip leaves a conflict pending for the next resolution session and
// lets this session move past it.
func (r *Resolver) Skip(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[id] = true
}

// Resolve applies one resolution operation to the conflict with the
// given id, which must be the oldest non-skipped pending conflict.
func (r *Resolver) Resolve(id int64, op string) error {
	r.resolveMu.Lock()
	defer r.resolveMu.Unlock()

	if err := r.checkOrder(id); err != nil {
		return err
	}

	conflict, err := r.syncRepo.GetConflict(id)
	if err != nil {
		return err
	}

	winner, err := r.pickWinner(conflict, op)
	if err != nil {
		return err
	}

	newVersion := conflict.LocalVersion
	if conflict.RemoteVersion > newVersion {
		newVersion = conflict.RemoteVersion
	}
	newVersion++

	err = r.db.Transaction(func(tx *sql.Tx) error {
		if winner == nil {
			// Deletion won; drop the local row and queue the tombstone.
			if err := r.deleteEntityTx(tx, conflict.EntityType, conflict.EntityID); err != nil {
				return err
			}
		} else {
			env := models.EntityEnvelope{
				EntityType: conflict.EntityType,
				EntityID:   conflict.EntityID,
				Version:    newVersion,
				DeviceID:   r.deviceID,
				UpdatedAt:  time.Now().Unix(),
				Payload:    winner,
			}
			if err := r.applyWinnerTx(tx, env, conflict.RemoteVersion); err != nil {
				return err
			}
		}
		if err := r.syncRepo.EnqueueTx(tx, conflict.EntityType, conflict.EntityID); err != nil {
			return err
		}
		return r.syncRepo.DeleteConflictTx(tx, id)
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.skipped, id)
	r.mu.Unlock()

	log.Printf("[ConflictResolver] Resolved conflict %d (%s %s) via %s, new version %d",
		id, conflict.EntityType, conflict.EntityID, op, newVersion)
	return nil
}

func (r *Resolver) checkOrder(id int64) error {
	conflicts, err := r.syncRepo.ListConflicts()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range conflicts {
		if c.ID == id {
			return nil
		}
		if r.skipped[c.ID] {
			continue
		}
		return fmt.Errorf("%w: conflict %d precedes %d", ErrOutOfOrder, c.ID, id)
	}
	return repository.ErrNotFound
}

// pickWinner returns the winning snapshot, or nil when a deletion wins.
func (r *Resolver) pickWinner(c *models.SyncConflict, op string) (json.RawMessage, error) {
	switch op {
	case OpKeepLocal:
		if len(c.LocalSnapshot) == 0 {
			return nil, nil
		}
		return c.LocalSnapshot, nil
	case OpKeepRemote:
		if len(c.RemoteSnapshot) == 0 {
			return nil, nil
		}
		return c.RemoteSnapshot, nil
	case OpMerge:
		if len(c.LocalSnapshot) == 0 {
			return c.RemoteSnapshot, nil
		}
		if len(c.RemoteSnapshot) == 0 {
			return c.LocalSnapshot, nil
		}
		localUpdated, remoteUpdated := snapshotUpdatedAt(c.LocalSnapshot), snapshotUpdatedAt(c.RemoteSnapshot)
		return mergeSnapshots(c.LocalSnapshot, c.RemoteSnapshot, localUpdated, remoteUpdated)
	default:
		return nil, fmt.Errorf("unknown resolution operation %q", op)
	}
}

func snapshotUpdatedAt(snapshot json.RawMessage) int64 {
	var fields struct {
		UpdatedAt int64 `json:"updatedAt"`
	}
	json.Unmarshal(snapshot, &fields)
	return fields.UpdatedAt
}

// applyWinnerTx writes the winning snapshot with the bumped version.
// SyncedVersion stays at the remote's version, so the winner is pending
// for push.
func (r *Resolver) applyWinnerTx(tx *sql.Tx, env models.EntityEnvelope, remoteVersion int64) error {
	switch env.EntityType {
	case models.EntityPlaceVisit:
		var v models.PlaceVisit
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return fmt.Errorf("%w: malformed visit snapshot: %v", repository.ErrInvalidEntity, err)
		}
		v.ID = env.EntityID
		v.Version = env.Version
		v.SyncedVersion = remoteVersion
		v.DeviceID = env.DeviceID
		v.UpdatedAt = env.UpdatedAt
		if err := r.visits.ApplyRemoteTx(tx, env); err != nil {
			return err
		}
		// ApplyRemoteTx marks the row fully synced; restore the pending gap.
		return r.visits.SetVersionTx(tx, &v)
	case models.EntityRouteSegment:
		var s models.RouteSegment
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return fmt.Errorf("%w: malformed segment snapshot: %v", repository.ErrInvalidEntity, err)
		}
		s.ID = env.EntityID
		s.Version = env.Version
		s.SyncedVersion = remoteVersion
		s.DeviceID = env.DeviceID
		s.UpdatedAt = env.UpdatedAt
		if err := r.segments.ApplyRemoteTx(tx, env); err != nil {
			return err
		}
		// ApplyRemoteTx marks the row fully synced; restore the pending gap.
		return r.segments.SetVersionTx(tx, &s)
	case models.EntityTrip:
		var t models.Trip
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return fmt.Errorf("%w: malformed trip snapshot: %v", repository.ErrInvalidEntity, err)
		}
		t.ID = env.EntityID
		t.Version = env.Version
		t.SyncedVersion = remoteVersion
		t.DeviceID = env.DeviceID
		t.UpdatedAt = env.UpdatedAt
		return r.trips.UpsertTx(tx, &t)
	default:
		return fmt.Errorf("%w: unknown entity type %q", repository.ErrInvalidEntity, env.EntityType)
	}
}

func (r *Resolver) deleteEntityTx(tx *sql.Tx, entityType, entityID string) error {
	env := models.EntityEnvelope{EntityType: entityType, EntityID: entityID, Deleted: true}
	switch entityType {
	case models.EntityPlaceVisit:
		return r.visits.ApplyRemoteTx(tx, env)
	case models.EntityRouteSegment:
		return r.segments.ApplyRemoteTx(tx, env)
	case models.EntityTrip:
		return r.trips.ApplyRemoteTx(tx, env)
	default:
		return fmt.Errorf("%w: unknown entity type %q", repository.ErrInvalidEntity, entityType)
	}
}
