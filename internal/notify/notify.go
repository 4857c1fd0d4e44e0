// Package notify delivers ActionResult notifications to the security team's
// ticketing or chat integration.
package notify

import (
	"context"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/responder"
	"go.uber.org/zap"
)

// Notification types.
const (
	TypeActionCompleted = "action.completed"
	TypeActionFailed    = "action.failed"
)

// Notification is the JSON body delivered to a sink.
type Notification struct {
	Type      string                  `json:"type"`
	Timestamp time.Time               `json:"timestamp"`
	Result    *responder.ActionResult `json:"result"`
}

// Sink receives completed and failed action results.
type Sink interface {
	Notify(ctx context.Context, res *responder.ActionResult)
}

// TypeFor returns the notification type for a result, or "" when the
// result is not sent.
func TypeFor(res *responder.ActionResult) string {
	switch res.Status {
	case responder.StatusCompleted:
		return TypeActionCompleted
	case responder.StatusFailed:
		return TypeActionFailed
	}
	return ""
}

// NoopSink logs notifications instead of sending them.
type NoopSink struct {
	logger *zap.Logger
}

// NewNoopSink creates a NoopSink.
func NewNoopSink(logger *zap.Logger) *NoopSink {
	return &NoopSink{logger: logger}
}

// Notify implements Sink.
func (s *NoopSink) Notify(_ context.Context, res *responder.ActionResult) {
	if TypeFor(res) == "" {
		return
	}
	s.logger.Info("notification (noop sink)",
		zap.String("event_id", res.EventID),
		zap.String("playbook", res.Playbook),
		zap.String("status", string(res.Status)),
	)
}
