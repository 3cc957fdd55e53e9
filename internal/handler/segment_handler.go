package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/travelog/travelog-core/internal/service"
	"github.com/travelog/travelog-core/pkg/response"
)

// SegmentHandler handles HTTP requests for route segments
type SegmentHandler struct {
	service *service.JournalService
}

// NewSegmentHandler creates a new segment handler
func NewSegmentHandler(service *service.JournalService) *SegmentHandler {
	return &SegmentHandler{service: service}
}

// GetSegments handles GET /api/v1/segments?startTime=&endTime=
func (h *SegmentHandler) GetSegments(c *gin.Context) {
	startTS, err := strconv.ParseInt(c.DefaultQuery("startTime", "0"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid startTime")
		return
	}
	endTS, err := strconv.ParseInt(c.DefaultQuery("endTime", "0"), 10, 64)
	if err != nil {
		response.BadRequest(c, "Invalid endTime")
		return
	}
	if endTS <= startTS {
		response.BadRequest(c, "endTime must be after startTime")
		return
	}

	segments, err := h.service.GetSegments(startTS, endTS)
	if err != nil {
		response.InternalError(c, "Failed to get segments")
		return
	}

	response.Success(c, gin.H{
		"data":  segments,
		"total": len(segments),
	})
}
