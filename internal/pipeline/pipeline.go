// Package pipeline runs raw records through normalization, scoring and
// response, and fans the outcome out to the audit ledger, the notification
// sink and the findings store.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/auditlog"
	"github.com/jmerrifield20/secpipeline/internal/collector"
	"github.com/jmerrifield20/secpipeline/internal/delivery"
	"github.com/jmerrifield20/secpipeline/internal/enricher"
	"github.com/jmerrifield20/secpipeline/internal/event"
	"github.com/jmerrifield20/secpipeline/internal/metrics"
	"github.com/jmerrifield20/secpipeline/internal/notify"
	"github.com/jmerrifield20/secpipeline/internal/reporter"
	"github.com/jmerrifield20/secpipeline/internal/responder"
	"github.com/jmerrifield20/secpipeline/internal/telemetry"
	"go.uber.org/zap"
)

// DefaultWorkers is the worker pool size used when none is configured.
const DefaultWorkers = 4

// receiveBackoff is the pause after a transient Receive error.
const receiveBackoff = time.Second

// Outcome is the result of processing one record.
type Outcome struct {
	Event  *event.EnrichedEvent    `json:"event"`
	Result *responder.ActionResult `json:"result"`
}

// Pipeline wires the stages together. Each stage is stateless; the
// collaborators behind Ledger, Sink and Incidents synchronize themselves.
type Pipeline struct {
	normalizer *collector.Normalizer
	enricher   *enricher.Enricher
	dispatcher *responder.Dispatcher
	ledger     auditlog.Ledger
	sink       notify.Sink
	incidents  reporter.IncidentRecorder
	logger     *zap.Logger
	now        func() time.Time
}

// Config holds the pipeline's collaborators. Ledger, Sink and Incidents are
// optional.
type Config struct {
	Normalizer *collector.Normalizer
	Enricher   *enricher.Enricher
	Dispatcher *responder.Dispatcher
	Ledger     auditlog.Ledger
	Sink       notify.Sink
	Incidents  reporter.IncidentRecorder
}

// New creates a Pipeline.
func New(cfg Config, logger *zap.Logger) *Pipeline {
	n := cfg.Normalizer
	if n == nil {
		n = collector.NewNormalizer(collector.DefaultSource)
	}
	return &Pipeline{
		normalizer: n,
		enricher:   cfg.Enricher,
		dispatcher: cfg.Dispatcher,
		ledger:     cfg.Ledger,
		sink:       cfg.Sink,
		incidents:  cfg.Incidents,
		logger:     logger,
		now:        time.Now,
	}
}

// Process takes one raw record through the pipeline. The only error it
// returns is a *collector.MalformedRecordError; every later failure is
// captured in the Outcome.
func (p *Pipeline) Process(ctx context.Context, raw []byte) (*Outcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.Process")
	defer span.End()

	ev, err := p.normalizer.Normalize(raw)
	if err != nil {
		metrics.RecordCollected(metrics.RecordMalformed)
		span.RecordError(err)
		return nil, err
	}
	metrics.RecordCollected(metrics.RecordAccepted)
	return p.ProcessEvent(ctx, ev), nil
}

// ProcessEvent runs an already normalized event through scoring and
// response. Cancelling ctx does not interrupt a started playbook or the
// audit append that follows it.
func (p *Pipeline) ProcessEvent(ctx context.Context, ev *event.SecurityEvent) *Outcome {
	ctx = context.WithoutCancel(ctx)
	detectedAt := p.now()
	enriched := p.enricher.Enrich(ctx, ev)
	res := p.dispatcher.Dispatch(ctx, enriched)

	p.record(ctx, enriched, res, detectedAt)
	return &Outcome{Event: enriched, Result: res}
}

// record fans the result out. Failures here are logged, never returned.
func (p *Pipeline) record(ctx context.Context, enriched *event.EnrichedEvent, res *responder.ActionResult, detectedAt time.Time) {
	if p.ledger != nil && res.Status != responder.StatusNoAction {
		if _, err := p.ledger.Append(ctx, res); err != nil {
			p.logger.Error("audit append failed",
				zap.String("event_id", res.EventID), zap.Error(err))
		}
	}
	if p.sink != nil && res.Notifiable() {
		p.sink.Notify(ctx, res)
	}
	if p.incidents != nil {
		if inc, ok := reporter.IncidentFrom(enriched, res, detectedAt); ok {
			if err := p.incidents.RecordIncident(ctx, inc); err != nil {
				p.logger.Warn("record incident failed",
					zap.String("event_id", res.EventID), zap.Error(err))
			}
		}
	}
}

// Run pulls records from src with a pool of workers until ctx is cancelled
// or src is closed. Each worker takes one record fully through the
// pipeline before acking it. In-flight records finish even after
// cancellation.
func (p *Pipeline) Run(ctx context.Context, src delivery.Source, workers int) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p.logger.Info("pipeline started", zap.Int("workers", workers))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, src, id)
		}(i)
	}
	wg.Wait()
	p.logger.Info("pipeline stopped")
}

func (p *Pipeline) worker(ctx context.Context, src delivery.Source, id int) {
	for {
		msg, err := src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, delivery.ErrClosed) {
				return
			}
			p.logger.Warn("receive failed", zap.Int("worker", id), zap.Error(err))
			select {
			case <-time.After(receiveBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}
		p.handle(context.WithoutCancel(ctx), src, msg)
	}
}

func (p *Pipeline) handle(ctx context.Context, src delivery.Source, msg *delivery.Message) {
	_, err := p.Process(ctx, msg.Data)

	var malformed *collector.MalformedRecordError
	if errors.As(err, &malformed) {
		p.logger.Warn("dropping malformed record",
			zap.String("message_id", msg.ID), zap.Error(err))
		if err := src.Reject(ctx, msg, malformed.Error()); err != nil {
			p.logger.Error("reject failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
		return
	}
	if err := src.Ack(ctx, msg); err != nil {
		p.logger.Error("ack failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}
