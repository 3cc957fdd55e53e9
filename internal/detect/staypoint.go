package detect

import (
	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/spatial"
)

// StayPointDetector clusters consecutive low-movement samples into place
// visits. The centroid is a running mean, so processing a sample is O(1);
// the detector is deterministic for a given sample sequence.
//
// Not safe for concurrent use: it is driven by the single ingest
// consumer, which preserves strict temporal ordering.
type StayPointDetector struct {
	cfg  config.StayPointConfig
	cand *stayCandidate
}

type stayCandidate struct {
	centroid  spatial.Centroid
	firstTS   int64
	lastTS    int64
	maxRadius float64
}

// NewStayPointDetector creates a detector with the given tunables.
func NewStayPointDetector(cfg config.StayPointConfig) *StayPointDetector {
	return &StayPointDetector{cfg: cfg}
}

// Process feeds one accepted sample through the detector. It returns a
// closed visit when the sample ends the current cluster (moved outside
// the radius, or arrived after a gap timeout), otherwise nil. The
// returned visit carries geometry and times only; identity, category and
// version bookkeeping belong to the caller.
func (d *StayPointDetector) Process(s models.LocationSample) *models.PlaceVisit {
	if d.cand == nil {
		d.open(s)
		return nil
	}

	// Device offline past the gap timeout: the visit closes at the last
	// known sample time, and the new sample starts a fresh candidate.
	if s.Timestamp-d.cand.lastTS > int64(d.cfg.MaxGap.Seconds()) {
		closed := d.close(false)
		d.open(s)
		return closed
	}

	if d.cand.centroid.DistanceTo(s.Latitude, s.Longitude) <= d.cfg.RadiusMeters {
		d.cand.centroid.Add(s.Latitude, s.Longitude)
		if dist := d.cand.centroid.DistanceTo(s.Latitude, s.Longitude); dist > d.cand.maxRadius {
			d.cand.maxRadius = dist
		}
		d.cand.lastTS = s.Timestamp
		return nil
	}

	// Sample fell outside the radius: the dwell ends here.
	closed := d.close(false)
	d.open(s)
	return closed
}

// Flush closes the open candidate when no sample has arrived for the gap
// timeout. Past the trip-ended timeout the emitted visit is synthetic so
// downstream trip boundaries remain sane.
func (d *StayPointDetector) Flush(now int64) *models.PlaceVisit {
	if d.cand == nil {
		return nil
	}
	silence := now - d.cand.lastTS
	if silence < int64(d.cfg.MaxGap.Seconds()) {
		return nil
	}
	synthetic := silence >= int64(d.cfg.TripEndedAfter.Seconds())
	closed := d.close(synthetic)
	d.cand = nil
	return closed
}

// Restore seeds the detector from a previously accepted sample, so a
// restart does not open a spurious visit boundary.
func (d *StayPointDetector) Restore(s *models.LocationSample) {
	if s != nil {
		d.open(*s)
	}
}

func (d *StayPointDetector) open(s models.LocationSample) {
	cand := &stayCandidate{firstTS: s.Timestamp, lastTS: s.Timestamp}
	cand.centroid.Add(s.Latitude, s.Longitude)
	d.cand = cand
}

// close converts the candidate into a visit when it dwelled long enough,
// and always discards the candidate.
func (d *StayPointDetector) close(synthetic bool) *models.PlaceVisit {
	cand := d.cand
	d.cand = nil

	if cand.lastTS-cand.firstTS < int64(d.cfg.MinDuration.Seconds()) {
		return nil
	}

	radius := cand.maxRadius
	if radius < 1 {
		radius = 1 // invariant: radius > 0, even for a perfectly still cluster
	}

	departure := cand.lastTS
	return &models.PlaceVisit{
		CenterLat:     cand.centroid.Lat,
		CenterLon:     cand.centroid.Lon,
		RadiusMeters:  radius,
		ArrivalTime:   cand.firstTS,
		DepartureTime: &departure,
		SampleCount:   cand.centroid.Count,
		IsSynthetic:   synthetic,
	}
}
