package handler

import (
	"context"
	"log"
	"net/http"

	"coinfeed/internal/service"

	"github.com/gin-gonic/gin"
)

// RunPipeline godoc
// @Summary      Trigger an ingestion run
// @Description  Starts a full universe fetch and gap-fill run in the background
// @Tags         pipeline
// @Produce      json
// @Security     ApiKeyAuth
// @Success      202  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/pipeline/run [post]
func (h *Handler) RunPipeline(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.run-pipeline")
	defer span.End()

	if h.pipeline.IsRunning() {
		c.JSON(http.StatusConflict, gin.H{"error": service.ErrAlreadyRunning.Error()})
		return
	}

	// The run outlives this request.
	go func() {
		if _, err := h.pipeline.Run(context.Background()); err != nil {
			log.Printf("pipeline run failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// PipelineStatus godoc
// @Summary      Pipeline status
// @Description  Reports whether a run is in flight and the last run's summary
// @Tags         pipeline
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/pipeline/status [get]
func (h *Handler) PipelineStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.pipeline-status")
	defer span.End()

	summary, err := h.pipeline.LastSummary(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"running":      h.pipeline.IsRunning(),
		"last_summary": summary,
	})
}
