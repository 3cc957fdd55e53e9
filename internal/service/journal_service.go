package service

import (
	"database/sql"
	"log"

	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/repository"
	"github.com/travelog/travelog-core/internal/sync"
)

// JournalService serves user-facing reads and user-intent edits. Edits
// touch only the user-owned fields and queue the entity for sync;
// derived fields stay under the pipeline's control.
type JournalService struct {
	cfg      *config.Config
	db       *database.DB
	visits   *repository.VisitRepository
	segments *repository.SegmentRepository
	trips    *repository.TripRepository
	syncRepo *repository.SyncRepository
	resolver *sync.Resolver
}

// NewJournalService creates a journal service.
func NewJournalService(
	cfg *config.Config,
	db *database.DB,
	visits *repository.VisitRepository,
	segments *repository.SegmentRepository,
	trips *repository.TripRepository,
	syncRepo *repository.SyncRepository,
	resolver *sync.Resolver,
) *JournalService {
	return &JournalService{
		cfg:      cfg,
		db:       db,
		visits:   visits,
		segments: segments,
		trips:    trips,
		syncRepo: syncRepo,
		resolver: resolver,
	}
}

// GetVisits lists place visits matching the filter.
func (s *JournalService) GetVisits(filter models.VisitFilter) ([]models.PlaceVisit, int64, error) {
	return s.visits.List(filter)
}

// GetVisit returns one visit by id.
func (s *JournalService) GetVisit(id string) (*models.PlaceVisit, error) {
	return s.visits.GetByID(id)
}

// GetSegments lists route segments in a time range.
func (s *JournalService) GetSegments(startTS, endTS int64) ([]models.RouteSegment, error) {
	return s.segments.ListRange(startTS, endTS)
}

// GetTrips lists trips matching the filter.
func (s *JournalService) GetTrips(filter models.TripFilter) ([]models.Trip, int64, error) {
	return s.trips.List(filter)
}

// GetTrip returns one trip by id.
func (s *JournalService) GetTrip(id string) (*models.Trip, error) {
	return s.trips.GetByID(id)
}

// VisitEdit carries a user-intent edit to a visit. Nil fields are left
// untouched.
type VisitEdit struct {
	Label    *string `json:"label"`
	Notes    *string `json:"notes"`
	Favorite *bool   `json:"favorite"`
}

// UpdateVisit applies a user edit and queues the visit for push in the
// same transaction, so an edit can never be observed without its
// pending-sync mark.
func (s *JournalService) UpdateVisit(id string, edit VisitEdit) (*models.PlaceVisit, error) {
	visit, err := s.visits.GetByID(id)
	if err != nil {
		return nil, err
	}

	if edit.Label != nil {
		if *edit.Label == "" {
			visit.UserLabel = nil
		} else {
			visit.UserLabel = edit.Label
		}
	}
	if edit.Notes != nil {
		if *edit.Notes == "" {
			visit.UserNotes = nil
		} else {
			visit.UserNotes = edit.Notes
		}
	}
	if edit.Favorite != nil {
		visit.IsFavorite = *edit.Favorite
	}

	err = s.db.Transaction(func(tx *sql.Tx) error {
		if err := s.visits.UpdateUserFieldsTx(tx, visit, s.cfg.DeviceID); err != nil {
			return err
		}
		return s.syncRepo.EnqueueTx(tx, models.EntityPlaceVisit, id)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Journal] Updated visit %s to version %d", id, visit.Version)
	return visit, nil
}

// GetConflicts lists unresolved sync conflicts, oldest first.
func (s *JournalService) GetConflicts() ([]models.SyncConflict, error) {
	return s.resolver.Pending()
}

// ResolveConflict applies a resolution operation to the oldest pending
// conflict.
func (s *JournalService) ResolveConflict(id int64, op string) error {
	return s.resolver.Resolve(id, op)
}

// SkipConflict defers a conflict to the next resolution session.
func (s *JournalService) SkipConflict(id int64) {
	s.resolver.Skip(id)
}
