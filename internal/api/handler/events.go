package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/secpipeline/internal/collector"
	"github.com/jmerrifield20/secpipeline/internal/enricher"
	"github.com/jmerrifield20/secpipeline/internal/event"
	"github.com/jmerrifield20/secpipeline/internal/pipeline"
	"github.com/jmerrifield20/secpipeline/internal/threat"
	"go.uber.org/zap"
)

// EventHandler accepts raw activity records and scores canonical events.
type EventHandler struct {
	pipeline *pipeline.Pipeline
	enricher *enricher.Enricher
	logger   *zap.Logger
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(p *pipeline.Pipeline, e *enricher.Enricher, logger *zap.Logger) *EventHandler {
	return &EventHandler{pipeline: p, enricher: e, logger: logger}
}

// Register mounts the event routes on the given router group.
func (h *EventHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/events", h.Ingest)
	rg.POST("/score", h.Score)
}

// Ingest handles POST /events. The body is one raw record; it runs through
// the full pipeline synchronously and the outcome is returned.
func (h *EventHandler) Ingest(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	out, err := h.pipeline.Process(c.Request.Context(), raw)
	if err != nil {
		var mErr *collector.MalformedRecordError
		if errors.As(err, &mErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": mErr.Error(),
				"field": mErr.Field,
			})
			return
		}
		h.logger.Error("process record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process record"})
		return
	}

	c.JSON(http.StatusOK, out)
}

// Score handles POST /score. The body is a canonical SecurityEvent; the
// assessment is returned without triggering a response.
func (h *EventHandler) Score(c *gin.Context) {
	var ev event.SecurityEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := ev.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ra, err := h.enricher.Score(c.Request.Context(), &ev)
	if err != nil {
		var oErr *threat.OracleUnavailableError
		if errors.As(err, &oErr) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":  err.Error(),
				"oracle": oErr.Oracle,
			})
			return
		}
		h.logger.Error("score event", zap.String("event_id", ev.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to score event"})
		return
	}

	c.JSON(http.StatusOK, event.EnrichedEvent{Event: ev, Assessment: ra})
}
