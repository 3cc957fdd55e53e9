package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/internal/service"
	"github.com/travelog/travelog-core/pkg/response"
)

// SummaryHandler handles HTTP requests for period summaries
type SummaryHandler struct {
	pipeline *service.PipelineService
}

// NewSummaryHandler creates a new summary handler
func NewSummaryHandler(pipeline *service.PipelineService) *SummaryHandler {
	return &SummaryHandler{pipeline: pipeline}
}

// GetSummary handles GET /api/v1/summary?period=day&at=2026-08-30
func (h *SummaryHandler) GetSummary(c *gin.Context) {
	period := c.DefaultQuery("period", models.PeriodDay)
	switch period {
	case models.PeriodDay, models.PeriodWeek, models.PeriodMonth:
	default:
		response.BadRequest(c, "period must be day, week, or month")
		return
	}

	at := time.Now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.Local)
		if err != nil {
			response.BadRequest(c, "at must be formatted YYYY-MM-DD")
			return
		}
		at = parsed
	}

	summary, err := h.pipeline.ComputeSummary(period, at)
	if err != nil {
		response.InternalError(c, "Failed to compute summary")
		return
	}

	response.Success(c, summary)
}
