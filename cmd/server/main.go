package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"
	"time"

	"github.com/travelog/travelog-core/internal/api"
	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/geocode"
	"github.com/travelog/travelog-core/internal/handler"
	"github.com/travelog/travelog-core/internal/ingest"
	"github.com/travelog/travelog-core/internal/middleware"
	"github.com/travelog/travelog-core/internal/repository"
	"github.com/travelog/travelog-core/internal/service"
	syncpkg "github.com/travelog/travelog-core/internal/sync"
	"github.com/travelog/travelog-core/internal/syncserver"
)

func main() {
	cfg := config.Load()

	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Repositories
	sampleRepo := repository.NewSampleRepository(db)
	visitRepo := repository.NewVisitRepository(db)
	segmentRepo := repository.NewSegmentRepository(db)
	tripRepo := repository.NewTripRepository(db)
	syncRepo := repository.NewSyncRepository(db)
	geocodeRepo := repository.NewGeocodeRepository(db)

	// Geocoding
	var provider geocode.Provider
	if cfg.Geocode.ProviderURL != "" {
		provider = geocode.NewHTTPProvider(cfg.Geocode.ProviderURL, cfg.Geocode.RequestTimeout)
	}
	geocoder := geocode.NewCache(cfg.Geocode, geocodeRepo, provider)

	// Pipeline
	pipeline, err := service.NewPipelineService(cfg, db, sampleRepo, visitRepo,
		segmentRepo, tripRepo, syncRepo, geocoder)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}

	lastSample, err := pipeline.LastAcceptedSample()
	if err != nil {
		log.Fatalf("Failed to load ingest state: %v", err)
	}
	ingestor := ingest.New(cfg.Ingest, pipeline.HandleSample, lastSample)

	// Sync
	resolveMu := &stdsync.Mutex{}
	var coordinator *syncpkg.Coordinator
	if cfg.SyncRemoteURL != "" {
		token, err := middleware.GenerateDeviceToken(cfg.JWTSecret, cfg.DeviceID, 365*24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to issue device token: %v", err)
		}
		remote := syncpkg.NewHTTPClient(cfg.SyncRemoteURL, token, 30*time.Second)
		coordinator = syncpkg.NewCoordinator(db, visitRepo, segmentRepo, tripRepo,
			syncRepo, remote, cfg.DeviceID, cfg.Backoff, resolveMu)
	}
	resolver := syncpkg.NewResolver(db, visitRepo, segmentRepo, tripRepo, syncRepo,
		cfg.DeviceID, resolveMu)

	journal := service.NewJournalService(cfg, db, visitRepo, segmentRepo, tripRepo,
		syncRepo, resolver)

	// HTTP
	handlers := api.Handlers{
		Visits:   handler.NewVisitHandler(journal),
		Trips:    handler.NewTripHandler(journal),
		Segments: handler.NewSegmentHandler(journal),
		Samples:  handler.NewSampleHandler(ingestor),
		Summary:  handler.NewSummaryHandler(pipeline),
		Sync:     handler.NewSyncHandler(coordinator, journal),
	}
	if cfg.SyncServerMode {
		handlers.SyncServer = syncserver.NewHandler(db, syncserver.NewRepository(db))
	}
	router := api.SetupRouter(cfg, handlers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ingestor.Start(ctx)
	go runTickers(ctx, cfg, pipeline, coordinator)

	srv := &http.Server{
		Addr:    cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("[Server] Listening on %s (device %s)", cfg.Port, cfg.DeviceID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("[Server] Shutting down")
	cancel()
	ingestor.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] Forced shutdown: %v", err)
	}
}

// runTickers drives the periodic jobs: candidate flushing, background
// sync, and sample retention.
func runTickers(ctx context.Context, cfg *config.Config, pipeline *service.PipelineService, coordinator *syncpkg.Coordinator) {
	flush := time.NewTicker(time.Minute)
	defer flush.Stop()

	prune := time.NewTicker(24 * time.Hour)
	defer prune.Stop()

	var syncTick <-chan time.Time
	if coordinator != nil {
		t := time.NewTicker(cfg.SyncInterval)
		defer t.Stop()
		syncTick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-flush.C:
			if err := pipeline.Flush(); err != nil {
				log.Printf("[Server] Flush failed: %v", err)
			}
		case <-syncTick:
			if _, err := coordinator.Sync(ctx); err != nil {
				log.Printf("[Server] Background sync failed: %v", err)
			}
		case <-prune.C:
			if _, err := pipeline.PruneSamples(); err != nil {
				log.Printf("[Server] Prune failed: %v", err)
			}
		}
	}
}
