package ingest

import (
	"context"
	"log"
	"sync"

	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/spatial"
)

// Result is the outcome of an ingest decision. Rejections are filtering
// decisions, logged but never surfaced as errors.
type Result struct {
	Accepted bool
	Reason   models.RejectReason
}

// Consumer receives accepted samples in strict temporal order.
type Consumer func(models.LocationSample) error

// Ingestor filters raw location samples and drives the downstream
// detectors from a single consumer goroutine: one producer writes to a
// bounded queue, one consumer preserves ordering. Reordering samples
// would corrupt stay-point clustering.
type Ingestor struct {
	cfg     config.IngestConfig
	consume Consumer

	queue chan models.LocationSample
	done  chan struct{}

	mu    sync.Mutex
	last  *models.LocationSample
	stats models.IngestStats
}

// New creates an ingestor. last seeds the filter from the most recently
// accepted sample, so restarts keep the monotonicity guarantee.
func New(cfg config.IngestConfig, consume Consumer, last *models.LocationSample) *Ingestor {
	return &Ingestor{
		cfg:     cfg,
		consume: consume,
		queue:   make(chan models.LocationSample, cfg.QueueSize),
		done:    make(chan struct{}),
		last:    last,
		stats:   models.IngestStats{Rejected: map[models.RejectReason]int64{}},
	}
}

// Ingest applies the filter to one sample and, when accepted, hands it
// to the consumer. Called only from the worker goroutine (or directly in
// tests); the filter state assumes ordered invocation.
func (in *Ingestor) Ingest(s models.LocationSample) Result {
	res := in.filter(s)
	if !res.Accepted {
		log.Printf("[SampleIngestor] Rejected sample at %d: %s", s.Timestamp, res.Reason)
		return res
	}

	if err := in.consume(s); err != nil {
		// Store-boundary failures are the consumer's to classify; the
		// sample was accepted by the filter either way.
		log.Printf("[SampleIngestor] Consumer failed for sample at %d: %v", s.Timestamp, err)
	}
	return res
}

func (in *Ingestor) filter(s models.LocationSample) Result {
	in.mu.Lock()
	defer in.mu.Unlock()

	if s.AccuracyMeters > in.cfg.MaxAccuracyMeters {
		in.stats.Rejected[models.RejectLowAccuracy]++
		return Result{Reason: models.RejectLowAccuracy}
	}

	if in.last != nil {
		if s.Timestamp <= in.last.Timestamp {
			in.stats.Rejected[models.RejectOutOfOrder]++
			return Result{Reason: models.RejectOutOfOrder}
		}

		dt := s.Timestamp - in.last.Timestamp
		dist := spatial.HaversineDistance(in.last.Latitude, in.last.Longitude, s.Latitude, s.Longitude)
		if dt < int64(in.cfg.DebounceInterval.Seconds()) && dist < in.cfg.DebounceDistance {
			in.stats.Rejected[models.RejectDebounced]++
			return Result{Reason: models.RejectDebounced}
		}
	}

	last := s
	in.last = &last
	in.stats.Accepted++
	return Result{Accepted: true}
}

// Submit queues a raw sample for ingestion. It blocks when the queue is
// full, applying backpressure to the platform layer.
func (in *Ingestor) Submit(s models.LocationSample) {
	in.queue <- s
}

// Start runs the consumer loop until the context is cancelled.
func (in *Ingestor) Start(ctx context.Context) {
	go func() {
		defer close(in.done)
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-in.queue:
				in.Ingest(s)
			}
		}
	}()
}

// Wait blocks until the consumer loop has exited.
func (in *Ingestor) Wait() {
	<-in.done
}

// Stats returns a copy of the ingest counters.
func (in *Ingestor) Stats() models.IngestStats {
	in.mu.Lock()
	defer in.mu.Unlock()

	stats := models.IngestStats{
		Accepted: in.stats.Accepted,
		Rejected: make(map[models.RejectReason]int64, len(in.stats.Rejected)),
	}
	for reason, n := range in.stats.Rejected {
		stats.Rejected[reason] = n
	}
	return stats
}
