// Package enricher is the boundary between the pipeline and the scoring
// engine. It attaches a RiskAssessment to each event and degrades to
// forwarding the event unscored when an oracle is unavailable.
package enricher

import (
	"context"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/event"
	"github.com/jmerrifield20/secpipeline/internal/metrics"
	"github.com/jmerrifield20/secpipeline/internal/telemetry"
	"github.com/jmerrifield20/secpipeline/internal/threat"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Enricher scores events against injected oracles.
type Enricher struct {
	engine     *threat.Engine
	baseline   threat.BaselineOracle
	reputation threat.ReputationOracle
	logger     *zap.Logger
}

// New creates an Enricher.
func New(engine *threat.Engine, baseline threat.BaselineOracle, reputation threat.ReputationOracle, logger *zap.Logger) *Enricher {
	return &Enricher{
		engine:     engine,
		baseline:   baseline,
		reputation: reputation,
		logger:     logger,
	}
}

// Enrich scores ev. The returned event always carries ev; Assessment is nil
// when scoring failed.
func (e *Enricher) Enrich(ctx context.Context, ev *event.SecurityEvent) *event.EnrichedEvent {
	ctx, span := telemetry.Tracer().Start(ctx, "enricher.Enrich")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", ev.ID),
		attribute.String("event.action", ev.Action),
	)

	metrics.RecordEnrichReceived()
	start := time.Now()

	out := &event.EnrichedEvent{Event: *ev}

	assessment, err := e.engine.Score(ctx, ev, e.baseline, e.reputation)
	if err != nil {
		metrics.RecordIntelFailure(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		e.logger.Warn("enrichment failed; forwarding unscored",
			zap.String("event_id", ev.ID),
			zap.String("entity_id", ev.EntityID),
			zap.Error(err),
		)
		return out
	}

	out.Assessment = assessment
	metrics.RecordEnriched(ev.EntityID, assessment.Score, time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("risk.score", assessment.Score))

	e.logger.Debug("event enriched",
		zap.String("event_id", ev.ID),
		zap.Int("risk_score", assessment.Score),
		zap.Strings("reasons", assessment.Reasons),
	)
	return out
}

// Score runs the engine without the fallback, for callers that want the
// error (the score API).
func (e *Enricher) Score(ctx context.Context, ev *event.SecurityEvent) (*event.RiskAssessment, error) {
	return e.engine.Score(ctx, ev, e.baseline, e.reputation)
}
