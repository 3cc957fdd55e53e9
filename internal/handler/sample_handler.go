package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/travelog/travelog-core/internal/ingest"
	"github.com/travelog/travelog-core/internal/models"
	"github.com/travelog/travelog-core/pkg/response"
)

// SampleHandler handles location sample uploads from the platform layer
type SampleHandler struct {
	ingestor *ingest.Ingestor
}

// NewSampleHandler creates a new sample handler
func NewSampleHandler(ingestor *ingest.Ingestor) *SampleHandler {
	return &SampleHandler{ingestor: ingestor}
}

// IngestSamples handles POST /api/v1/samples. Samples are queued for
// the ingest worker; filtering outcomes show up in the stats endpoint,
// not in this response.
func (h *SampleHandler) IngestSamples(c *gin.Context) {
	var samples []models.LocationSample
	if err := c.ShouldBindJSON(&samples); err != nil {
		response.BadRequest(c, "Invalid sample batch")
		return
	}
	if len(samples) == 0 {
		response.BadRequest(c, "Empty sample batch")
		return
	}

	for _, s := range samples {
		h.ingestor.Submit(s)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    0,
		"message": "success",
		"data":    gin.H{"queued": len(samples)},
	})
}

// GetStats handles GET /api/v1/samples/stats
func (h *SampleHandler) GetStats(c *gin.Context) {
	response.Success(c, h.ingestor.Stats())
}
