// Package event defines the canonical value types that flow through the
// scoring and response pipeline.
package event

import (
	"errors"
	"time"
)

// Well-known attribute keys.
const (
	AttrGeo        = "geo"
	AttrResourceID = "resource_id"
	AttrRegion     = "region"
	AttrAction     = "action"
)

// Unknown is substituted for identity and location fields missing from a record.
const Unknown = "unknown"

// SecurityEvent is the canonical unit of work produced by the collector.
type SecurityEvent struct {
	// ID is assigned once at normalization time and never changes.
	ID         string            `json:"id"`
	EntityID   string            `json:"entity_id"`
	Source     string            `json:"source"`
	Action     string            `json:"action"`
	Timestamp  time.Time         `json:"ts"`
	Attributes map[string]string `json:"attributes"`
	Indicators []string          `json:"indicators"`
}

// Geo returns the geo attribute and whether it was present at all.
func (e *SecurityEvent) Geo() (string, bool) {
	if e.Attributes == nil {
		return "", false
	}
	g, ok := e.Attributes[AttrGeo]
	return g, ok
}

// Attr returns the named attribute or def when it is absent or empty.
func (e *SecurityEvent) Attr(key, def string) string {
	if v := e.Attributes[key]; v != "" {
		return v
	}
	return def
}

// Validate checks the required-field invariants.
func (e *SecurityEvent) Validate() error {
	switch {
	case e.ID == "":
		return errors.New("event id is empty")
	case e.EntityID == "":
		return errors.New("event entity_id is empty")
	case e.Action == "":
		return errors.New("event action is empty")
	}
	return nil
}

// RiskAssessment is the output of the scoring engine. It is attached to an
// event, never merged into it.
type RiskAssessment struct {
	// Score is the clamped sum of triggered rule weights (0–100).
	Score int `json:"risk_score"`

	// Reasons has one entry per triggered rule, in rule evaluation order.
	Reasons []string `json:"risk_reasons"`

	// Severity is a label derived from Score:
	//   0–14   → "none"
	//   15–34  → "low"
	//   35–64  → "medium"
	//   65–84  → "high"
	//   85–100 → "critical"
	Severity string `json:"severity"`

	AssessedAt time.Time `json:"enriched_at"`
}

// EnrichedEvent pairs an event with its assessment. Assessment is nil when
// scoring failed and the event was forwarded unscored.
type EnrichedEvent struct {
	Event      SecurityEvent   `json:"event"`
	Assessment *RiskAssessment `json:"enrichment,omitempty"`
}

// RiskScore returns the assessed score, or 0 for an unscored event.
func (e *EnrichedEvent) RiskScore() int {
	if e == nil || e.Assessment == nil {
		return 0
	}
	return e.Assessment.Score
}

// SeverityLabel maps a 0–100 score to a severity string.
func SeverityLabel(score int) string {
	switch {
	case score >= 85:
		return "critical"
	case score >= 65:
		return "high"
	case score >= 35:
		return "medium"
	case score >= 15:
		return "low"
	default:
		return "none"
	}
}
