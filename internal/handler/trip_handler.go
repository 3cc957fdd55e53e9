package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/repository"
	"github.com/travelog/travelog-core/internal/service"
	"github.com/travelog/travelog-core/pkg/response"
)

// TripHandler handles HTTP requests for trips
type TripHandler struct {
	service *service.JournalService
}

// NewTripHandler creates a new trip handler
func NewTripHandler(service *service.JournalService) *TripHandler {
	return &TripHandler{service: service}
}

// GetTrips handles GET /api/v1/trips
func (h *TripHandler) GetTrips(c *gin.Context) {
	var filter models.TripFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	trips, total, err := h.service.GetTrips(filter)
	if err != nil {
		response.InternalError(c, "Failed to get trips")
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
		"data":       trips,
		"total":      total,
		"page":       filter.Page,
		"pageSize":   filter.PageSize,
		"totalPages": totalPages,
	})
}

// GetTripByID handles GET /api/v1/trips/:id
func (h *TripHandler) GetTripByID(c *gin.Context) {
	trip, err := h.service.GetTrip(c.Param("id"))
	if err == repository.ErrNotFound {
		response.NotFound(c, "Trip not found")
		return
	}
	if err != nil {
		response.InternalError(c, "Failed to get trip")
		return
	}

	response.Success(c, trip)
}
