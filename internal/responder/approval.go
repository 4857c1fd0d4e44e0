package responder

import (
	"time"

	"github.com/jmerrifield20/secpipeline/internal/event"
)

// DefaultApproveThreshold is the minimum risk score approved automatically.
const DefaultApproveThreshold = 75

// Timeline stages recorded on every piece of evidence.
var defaultTimeline = []string{"ingest", "enrich", "respond"}

// Evidence is the bundle handed to an Approver.
type Evidence struct {
	Event     *event.EnrichedEvent `json:"event"`
	Timeline  []string             `json:"timeline"`
	CreatedAt time.Time            `json:"created_at"`
}

// Approver decides whether a selected playbook may run without a human.
type Approver interface {
	Approve(ev Evidence) bool
}

// ThresholdGate approves evidence whose risk score meets a threshold.
// It keeps no state between calls.
type ThresholdGate struct {
	threshold int
}

// NewThresholdGate creates a ThresholdGate. A negative threshold falls back
// to DefaultApproveThreshold; zero approves every selected playbook.
func NewThresholdGate(threshold int) *ThresholdGate {
	if threshold < 0 {
		threshold = DefaultApproveThreshold
	}
	return &ThresholdGate{threshold: threshold}
}

// Threshold returns the configured threshold.
func (g *ThresholdGate) Threshold() int { return g.threshold }

// Approve implements Approver. An unscored event reads as 0.
func (g *ThresholdGate) Approve(ev Evidence) bool {
	return ev.Event.RiskScore() >= g.threshold
}
