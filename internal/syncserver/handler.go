package syncserver

import (
	"database/sql"
	"log"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/travelog/travelog-core/internal/database"
	"github.com/travelog/travelog-core/internal/middleware"
	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/pkg/response"
)

const maxPullBatch = 500

// Handler serves the reference remote endpoints: cursor-based pulls and
// compare-and-swap pushes over the shared change log.
type Handler struct {
	db   *database.DB
	repo *Repository
}

// NewHandler creates a sync server handler.
func NewHandler(db *database.DB, repo *Repository) *Handler {
	return &Handler{db: db, repo: repo}
}

// RegisterRoutes mounts the remote endpoints on the given group. The
// group must already carry device authentication.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/changes", h.Push)
	rg.GET("/changes", h.Pull)
}

// Push handles POST /changes. Each change carries the version the
// client last observed; a change is accepted only while the stored
// version still matches, otherwise the stored state comes back so the
// client can record a conflict.
func (h *Handler) Push(c *gin.Context) {
	var req models.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid push request: "+err.Error())
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = middleware.DeviceID(c)
	}

	resp := models.PushResponse{
		Accepted:  []models.PushAck{},
		Conflicts: []models.PushRejection{},
	}

	err := h.db.Transaction(func(tx *sql.Tx) error {
		for _, change := range req.Changes {
			if change.EntityType == "" || change.EntityID == "" {
				continue
			}

			stored, err := h.repo.GetEntityTx(tx, change.EntityType, change.EntityID)
			if err != nil {
				return err
			}

			storedVersion := int64(0)
			if stored != nil {
				storedVersion = stored.Version
			}
			if storedVersion != change.ExpectedVersion {
				resp.Conflicts = append(resp.Conflicts, models.PushRejection{
					EntityType: change.EntityType,
					EntityID:   change.EntityID,
					Remote:     stored,
				})
				continue
			}

			env := change.EntityEnvelope
			if env.DeviceID == "" {
				env.DeviceID = req.DeviceID
			}
			if err := h.repo.ApplyTx(tx, env); err != nil {
				return err
			}
			resp.Accepted = append(resp.Accepted, models.PushAck{
				EntityType: change.EntityType,
				EntityID:   change.EntityID,
				Version:    change.Version,
			})
		}
		return nil
	})
	if err != nil {
		log.Printf("[SyncServer] Push from %s failed: %v", req.DeviceID, err)
		response.InternalError(c, "failed to apply changes")
		return
	}

	log.Printf("[SyncServer] Push from %s: %d accepted, %d conflicts",
		req.DeviceID, len(resp.Accepted), len(resp.Conflicts))
	response.Success(c, resp)
}

// Pull handles GET /changes?since=cursor. Changes come back in log
// order so a client can apply them incrementally and persist the new
// cursor once.
func (h *Handler) Pull(c *gin.Context) {
	cursor := int64(0)
	if since := c.Query("since"); since != "" {
		parsed, err := strconv.ParseInt(since, 10, 64)
		if err != nil || parsed < 0 {
			response.BadRequest(c, "invalid cursor")
			return
		}
		cursor = parsed
	}

	changes, newCursor, err := h.repo.ChangesSince(cursor, maxPullBatch)
	if err != nil {
		log.Printf("[SyncServer] Pull since %d failed: %v", cursor, err)
		response.InternalError(c, "failed to read changes")
		return
	}

	response.Success(c, models.PullResponse{
		Changes:   changes,
		NewCursor: newCursor,
	})
}
