package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/repository"
	"github.com/travelog/travelog-core/internal/service"
	"github.com/travelog/travelog-core/pkg/response"
)

// VisitHandler handles HTTP requests for place visits
type VisitHandler struct {
	service *service.JournalService
}

// NewVisitHandler creates a new visit handler
func NewVisitHandler(service *service.JournalService) *VisitHandler {
	return &VisitHandler{service: service}
}

// GetVisits handles GET /api/v1/visits
func (h *VisitHandler) GetVisits(c *gin.Context) {
	var filter models.VisitFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	visits, total, err := h.service.GetVisits(filter)
	if err != nil {
		response.InternalError(c, "Failed to get visits")
		return
	}

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 100
	}
	totalPages := int(total) / filter.PageSize
	if int(total)%filter.PageSize > 0 {
		totalPages++
	}

	response.Success(c, gin.H{
		"data":       visits,
		"total":      total,
		"page":       filter.Page,
		"pageSize":   filter.PageSize,
		"totalPages": totalPages,
	})
}

// GetVisitByID handles GET /api/v1/visits/:id
func (h *VisitHandler) GetVisitByID(c *gin.Context) {
	visit, err := h.service.GetVisit(c.Param("id"))
	if err == repository.ErrNotFound {
		response.NotFound(c, "Visit not found")
		return
	}
	if err != nil {
		response.InternalError(c, "Failed to get visit")
		return
	}

	response.Success(c, visit)
}

// UpdateVisit handles PATCH /api/v1/visits/:id
func (h *VisitHandler) UpdateVisit(c *gin.Context) {
	var edit service.VisitEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	visit, err := h.service.UpdateVisit(c.Param("id"), edit)
	if err == repository.ErrNotFound {
		response.NotFound(c, "Visit not found")
		return
	}
	if err != nil {
		response.InternalError(c, "Failed to update visit")
		return
	}

	response.Success(c, visit)
}
