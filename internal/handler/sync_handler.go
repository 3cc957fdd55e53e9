package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/travelog/travelog-core/internal/repository"
	"github.com/travelog/travelog-core/internal/service"
	syncpkg "github.com/travelog/travelog-core/internal/sync"
	"github.com/travelog/travelog-core/pkg/response"
)

// SyncHandler handles sync triggering and conflict resolution
type SyncHandler struct {
	coordinator *syncpkg.Coordinator
	journal     *service.JournalService
}

// NewSyncHandler creates a new sync handler. coordinator may be nil when
// no remote is configured.
func NewSyncHandler(coordinator *syncpkg.Coordinator, journal *service.JournalService) *SyncHandler {
	return &SyncHandler{coordinator: coordinator, journal: journal}
}

// TriggerSync handles POST /api/v1/sync. Concurrent triggers coalesce
// into one cycle.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	if h.coordinator == nil {
		response.BadRequest(c, "No sync remote configured")
		return
	}

	report, err := h.coordinator.Sync(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Sync failed: "+err.Error())
		return
	}

	response.Success(c, report)
}

// GetConflicts handles GET /api/v1/conflicts
func (h *SyncHandler) GetConflicts(c *gin.Context) {
	conflicts, err := h.journal.GetConflicts()
	if err != nil {
		response.InternalError(c, "Failed to get conflicts")
		return
	}

	response.Success(c, gin.H{
		"data":  conflicts,
		"total": len(conflicts),
	})
}

// ResolveConflict handles POST /api/v1/conflicts/:id/resolve with body
// {"operation": "keepLocal" | "keepRemote" | "merge"}
func (h *SyncHandler) ResolveConflict(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid conflict ID")
		return
	}

	var body struct {
		Operation string `json:"operation" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	err = h.journal.ResolveConflict(id, body.Operation)
	switch {
	case err == nil:
		response.Success(c, gin.H{"resolved": id})
	case errors.Is(err, syncpkg.ErrOutOfOrder):
		response.Conflict(c, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		response.NotFound(c, "Conflict not found")
	default:
		response.InternalError(c, "Failed to resolve conflict")
	}
}

// SkipConflict handles POST /api/v1/conflicts/:id/skip
func (h *SyncHandler) SkipConflict(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid conflict ID")
		return
	}

	h.journal.SkipConflict(id)
	response.Success(c, gin.H{"skipped": id})
}
