package service

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/travelog/travelog-core/internal/aggregate"
	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/detect"
	"github.com/travelog/travelog-core/internal/geocode"
	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/repository"
)

// tripDetectionLookback bounds the reconciliation window. Trips older
// than this are settled and never rewritten by later detection runs.
const tripDetectionLookback = 14 * 24 * time.Hour

// PipelineService drives the inference pipeline: accepted samples flow
// through stay-point detection, committed visits get geocoded, bridged
// with route segments, and grouped into trips. All derived writes happen
// here; the HTTP layer never mutates derived state directly.
type PipelineService struct {
	cfg *config.Config
	db  *database.DB

	samples  *repository.SampleRepository
	visits   *repository.VisitRepository
	segments *repository.SegmentRepository
	trips    *repository.TripRepository
	syncRepo *repository.SyncRepository

	detector *detect.StayPointDetector
	builder  *detect.RouteSegmentBuilder
	tripDet  *detect.TripDetector
	geocoder *geocode.Cache

	// mu serializes visit commits and trip reconciliation. Samples
	// already arrive single-file from the ingest worker; the mutex
	// guards the flush ticker racing the worker.
	mu        sync.Mutex
	lastVisit *models.PlaceVisit
}

// NewPipelineService wires the detectors to storage and restores their
// state from the last run.
func NewPipelineService(
	cfg *config.Config,
	db *database.DB,
	samples *repository.SampleRepository,
	visits *repository.VisitRepository,
	segments *repository.SegmentRepository,
	trips *repository.TripRepository,
	syncRepo *repository.SyncRepository,
	geocoder *geocode.Cache,
) (*PipelineService, error) {
	p := &PipelineService{
		cfg:      cfg,
		db:       db,
		samples:  samples,
		visits:   visits,
		segments: segments,
		trips:    trips,
		syncRepo: syncRepo,
		detector: detect.NewStayPointDetector(cfg.StayPoint),
		builder:  detect.NewRouteSegmentBuilder(),
		tripDet:  detect.NewTripDetector(cfg.Trip),
		geocoder: geocoder,
	}

	last, err := samples.LastAccepted()
	if err != nil {
		return nil, fmt.Errorf("failed to restore ingest state: %w", err)
	}
	p.detector.Restore(last)

	lastVisit, err := visits.LastClosed()
	if err != nil && err != repository.ErrNotFound {
		return nil, fmt.Errorf("failed to restore visit state: %w", err)
	}
	p.lastVisit = lastVisit

	return p, nil
}

// LastAcceptedSample returns the newest stored sample, used to seed the
// ingest filter across restarts.
func (p *PipelineService) LastAcceptedSample() (*models.LocationSample, error) {
	return p.samples.LastAccepted()
}

// HandleSample persists one accepted sample and advances the stay-point
// detector. Called from the ingest worker goroutine.
func (p *PipelineService) HandleSample(s models.LocationSample) error {
	if err := p.samples.Insert(&s); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if visit := p.detector.Process(s); visit != nil {
		if err := p.commitVisit(visit); err != nil {
			return err
		}
	}
	return nil
}

// Flush forces the open stay candidate to close after prolonged silence.
// Called periodically; a no-op while samples keep flowing.
func (p *PipelineService) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	visit := p.detector.Flush(time.Now().Unix())
	if visit == nil {
		return nil
	}
	return p.commitVisit(visit)
}

// commitVisit enriches a detected visit, builds the route segment from
// the previous visit, persists both in one transaction, and reconciles
// trips. Caller holds p.mu.
func (p *PipelineService) commitVisit(visit *models.PlaceVisit) error {
	now := time.Now().Unix()

	visit.ID = uuid.NewString()
	visit.Version = 1
	visit.SyncedVersion = 0
	visit.DeviceID = p.cfg.DeviceID
	visit.UpdatedAt = now

	p.enrichVisit(visit)

	var segment *models.RouteSegment
	if prev := p.lastVisit; prev != nil && prev.DepartureTime != nil &&
		*prev.DepartureTime < visit.ArrivalTime {
		gapSamples, err := p.samples.ListRange(*prev.DepartureTime, visit.ArrivalTime)
		if err != nil {
			return fmt.Errorf("failed to load gap samples: %w", err)
		}
		seg := p.builder.Build(prev, visit, gapSamples)
		seg.ID = uuid.NewString()
		seg.Version = 1
		seg.SyncedVersion = 0
		seg.DeviceID = p.cfg.DeviceID
		seg.UpdatedAt = now
		segment = &seg
	}

	err := p.db.Transaction(func(tx *sql.Tx) error {
		if err := p.visits.InsertTx(tx, visit); err != nil {
			return err
		}
		if err := p.syncRepo.EnqueueTx(tx, models.EntityPlaceVisit, visit.ID); err != nil {
			return err
		}
		if segment != nil {
			if err := p.segments.InsertTx(tx, segment); err != nil {
				return err
			}
			if err := p.syncRepo.EnqueueTx(tx, models.EntityRouteSegment, segment.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.lastVisit = visit
	log.Printf("[Pipeline] Committed visit %s (%s, %d samples, radius %.0fm)",
		visit.ID, visit.Category, visit.SampleCount, visit.RadiusMeters)

	if err := p.reconcileTrips(now); err != nil {
		// Trip grouping is derived state; the next commit retries it.
		log.Printf("[Pipeline] Trip reconciliation failed: %v", err)
	}
	return nil
}

// enrichVisit attaches the geocode result. Enrichment failures degrade
// to coordinates only; they never block the commit.
func (p *PipelineService) enrichVisit(visit *models.PlaceVisit) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Geocode.RequestTimeout+time.Second)
	defer cancel()

	info := p.geocoder.Resolve(ctx, visit.CenterLat, visit.CenterLon)
	visit.Category = models.CategoryOther
	if !info.Degraded() {
		visit.ResolvedAddress = info.Address
		visit.City = info.City
		visit.Country = info.Country
		visit.Category = geocode.Categorize(info.POIType)
	}
}

// RunTripDetection re-derives trip boundaries over the recent window and
// reconciles them with stored auto-detected trips.
func (p *PipelineService) RunTripDetection() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconcileTrips(time.Now().Unix())
}

// reconcileTrips matches freshly detected trips against stored ones by
// start time, so stable boundaries keep their identity across runs and
// only genuinely changed trips produce sync traffic. Caller holds p.mu.
func (p *PipelineService) reconcileTrips(now int64) error {
	windowStart := now - int64(tripDetectionLookback/time.Second)

	visits, err := p.visits.ListRange(windowStart, now)
	if err != nil {
		return err
	}
	segments, err := p.segments.ListRange(windowStart, now)
	if err != nil {
		return err
	}
	detected := p.tripDet.Detect(visits, segments)

	existing, err := p.trips.ListAutoDetectedRange(windowStart, now)
	if err != nil {
		return err
	}
	byStart := make(map[int64]*models.Trip, len(existing))
	for i := range existing {
		byStart[existing[i].StartTime] = &existing[i]
	}

	return p.db.Transaction(func(tx *sql.Tx) error {
		matched := map[string]bool{}
		for _, d := range detected {
			trip := p.buildTrip(&d, byStart[d.StartTime], now)
			if trip == nil {
				if prev := byStart[d.StartTime]; prev != nil {
					matched[prev.ID] = true
				}
				continue
			}
			matched[trip.ID] = true

			if err := p.trips.UpsertTx(tx, trip); err != nil {
				return err
			}
			if err := p.syncRepo.EnqueueTx(tx, models.EntityTrip, trip.ID); err != nil {
				return err
			}
			for _, vid := range d.VisitIDs {
				if err := p.visits.AssignTripTx(tx, vid, &trip.ID); err != nil {
					return err
				}
			}
			for _, sid := range d.SegmentIDs {
				if err := p.segments.AssignTripTx(tx, sid, &trip.ID); err != nil {
					return err
				}
			}
		}

		// Evaporated trips: detected boundaries moved away from a stored
		// trip, so it no longer exists.
		for i := range existing {
			if matched[existing[i].ID] {
				continue
			}
			if err := p.trips.DeleteTx(tx, existing[i].ID); err != nil {
				return err
			}
			if err := p.syncRepo.EnqueueTx(tx, models.EntityTrip, existing[i].ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// buildTrip merges a detection result into the stored trip, returning
// nil when nothing changed.
func (p *PipelineService) buildTrip(d *detect.DetectedTrip, prev *models.Trip, now int64) *models.Trip {
	summary := models.TripSummary{
		VisitCount:     d.VisitCount,
		SegmentCount:   d.SegmentCount,
		DistanceMeters: d.DistanceM,
		PrimaryMode:    d.PrimaryMode,
	}

	if prev != nil {
		unchanged := prev.IsOngoing == d.IsOngoing &&
			equalEndTime(prev.EndTime, d.EndTime) &&
			prev.Summary == summary
		if unchanged {
			return nil
		}
		updated := *prev
		updated.EndTime = d.EndTime
		updated.IsOngoing = d.IsOngoing
		updated.Summary = summary
		updated.Version++
		updated.DeviceID = p.cfg.DeviceID
		updated.UpdatedAt = now
		return &updated
	}

	return &models.Trip{
		ID:             uuid.NewString(),
		StartTime:      d.StartTime,
		EndTime:        d.EndTime,
		DisplayName:    tripDisplayName(d.StartTime),
		IsOngoing:      d.IsOngoing,
		IsAutoDetected: true,
		Tags:           []string{},
		Summary:        summary,
		Version:        1,
		SyncedVersion:  0,
		DeviceID:       p.cfg.DeviceID,
		UpdatedAt:      now,
	}
}

func tripDisplayName(startTS int64) string {
	return "Trip on " + time.Unix(startTS, 0).Format("Jan 2, 2006")
}

func equalEndTime(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ComputeSummary aggregates a day, week, or month of activity.
func (p *PipelineService) ComputeSummary(period string, at time.Time) (*models.PeriodSummary, error) {
	startTS, endTS := aggregate.PeriodBounds(period, at, time.Local)

	visits, err := p.visits.ListRange(startTS, endTS)
	if err != nil {
		return nil, err
	}
	segments, err := p.segments.ListRange(startTS, endTS)
	if err != nil {
		return nil, err
	}
	trips, err := p.trips.ListRange(startTS, endTS)
	if err != nil {
		return nil, err
	}

	summary := aggregate.Summarize(period, startTS, endTS, trips, visits, segments,
		p.cfg.Geocode.BucketPrecision)
	return &summary, nil
}

// PruneSamples deletes raw samples past the retention horizon. Derived
// entities are untouched; samples only exist for replay.
func (p *PipelineService) PruneSamples() (int64, error) {
	cutoff := time.Now().Add(-p.cfg.SampleRetention).Unix()
	n, err := p.samples.PruneBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[Pipeline] Pruned %d samples older than %s", n, time.Unix(cutoff, 0).Format(time.RFC3339))
	}
	return n, nil
}
