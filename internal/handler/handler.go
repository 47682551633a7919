package handler

import (
	"context"

	"coinfeed/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// PipelineRunner starts and inspects ingestion runs.
type PipelineRunner interface {
	Run(ctx context.Context) (domain.RunSummary, error)
	IsRunning() bool
	LastSummary(ctx context.Context) (*domain.RunSummary, error)
}

// HistoryReader serves stored daily candles per ticker symbol.
type HistoryReader interface {
	GetHistory(ctx context.Context, symbol string, limit int) ([]domain.Candle, error)
}

type Handler struct {
	tracer   trace.Tracer
	pipeline PipelineRunner
	history  HistoryReader
	apiKey   string
}

func New(tracer trace.Tracer, pipeline PipelineRunner, history HistoryReader, apiKey string) *Handler {
	return &Handler{
		tracer:   tracer,
		pipeline: pipeline,
		history:  history,
		apiKey:   apiKey,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/api/pipeline/status", h.PipelineStatus)
	r.GET("/api/history/:symbol", h.GetHistory)
	r.POST("/api/pipeline/run", APIKeyAuth(h.apiKey), h.RunPipeline)
}
