package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/travelog/travelog-core/internal/config"
	"github.com/travelog/travelog-core/internal/handler"
	"github.com/travelog/travelog-core/internal/middleware"
	"github.com/travelog/travelog-core/internal/syncserver"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Visits   *handler.VisitHandler
	Trips    *handler.TripHandler
	Segments *handler.SegmentHandler
	Samples  *handler.SampleHandler
	Summary  *handler.SummaryHandler
	Sync     *handler.SyncHandler

	// SyncServer is mounted only when this node also serves as the
	// sync remote.
	SyncServer *syncserver.Handler
}

// SetupRouter builds the gin engine with all routes and middleware.
func SetupRouter(cfg *config.Config, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Travelog API is running",
		})
	})

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimit(600, time.Minute))
	{
		api.POST("/samples", h.Samples.IngestSamples)
		api.GET("/samples/stats", h.Samples.GetStats)

		api.GET("/visits", h.Visits.GetVisits)
		api.GET("/visits/:id", h.Visits.GetVisitByID)
		api.PATCH("/visits/:id", h.Visits.UpdateVisit)

		api.GET("/segments", h.Segments.GetSegments)

		api.GET("/trips", h.Trips.GetTrips)
		api.GET("/trips/:id", h.Trips.GetTripByID)

		api.GET("/summary", h.Summary.GetSummary)

		api.POST("/sync", h.Sync.TriggerSync)
		api.GET("/conflicts", h.Sync.GetConflicts)
		api.POST("/conflicts/:id/resolve", h.Sync.ResolveConflict)
		api.POST("/conflicts/:id/skip", h.Sync.SkipConflict)
	}

	if cfg.SyncServerMode && h.SyncServer != nil {
		remote := r.Group("/api/v1")
		remote.Use(middleware.DeviceAuth(cfg.JWTSecret))
		h.SyncServer.RegisterRoutes(remote)
	}

	return r
}
