package threat

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/event"
)

// Reason texts. Callers may match on the fixed ones.
const (
	ReasonPrivileged = "Privileged IAM action"
	ReasonAnomaly    = "Behavioral anomaly"
)

// finding is a triggered rule.
type finding struct {
	rule   string
	reason string
	weight int
}

// ruleInput is everything a rule may consult for one Score call.
type ruleInput struct {
	ev         *event.SecurityEvent
	baseline   BaselineOracle
	reputation ReputationOracle
}

// ruleFunc returns a finding when its rule triggers, nil otherwise.
type ruleFunc func(ctx context.Context, in *ruleInput) (*finding, error)

// Engine is the rule-based risk scorer. It owns the weights and the rule
// order; oracles are supplied per call and only read. An Engine is safe for
// concurrent use.
type Engine struct {
	weights    Weights
	privileged map[string]struct{}
	rules      []ruleFunc
	now        func() time.Time
}

// NewEngine returns an Engine with the given weights and privileged-action
// set. A nil privileged slice selects DefaultPrivilegedActions.
func NewEngine(w Weights, privileged []string) *Engine {
	if privileged == nil {
		privileged = DefaultPrivilegedActions
	}
	e := &Engine{
		weights:    w,
		privileged: make(map[string]struct{}, len(privileged)),
		now:        time.Now,
	}
	for _, a := range privileged {
		e.privileged[a] = struct{}{}
	}
	// Evaluation order is part of the contract: reasons appear in this order.
	e.rules = []ruleFunc{
		e.rulePrivilegedAction,
		e.ruleReputation,
		e.ruleBehavioralAnomaly,
		e.ruleGeolocation,
	}
	return e
}

// NewDefaultEngine returns an Engine with DefaultWeights and the default
// privileged-action set.
func NewDefaultEngine() *Engine {
	return NewEngine(DefaultWeights(), nil)
}

// Weights returns the engine's configured weights.
func (e *Engine) Weights() Weights { return e.weights }

// Score runs every rule in order against ev. If either oracle fails the
// error is an *OracleUnavailableError and no assessment is returned.
func (e *Engine) Score(ctx context.Context, ev *event.SecurityEvent, baseline BaselineOracle, reputation ReputationOracle) (*event.RiskAssessment, error) {
	in := &ruleInput{ev: ev, baseline: baseline, reputation: reputation}

	total := 0
	reasons := []string{}
	for _, r := range e.rules {
		f, err := r(ctx, in)
		if err != nil {
			return nil, err
		}
		if f == nil {
			continue
		}
		total += f.weight
		reasons = append(reasons, f.reason)
	}

	total = min(max(total, 0), 100)

	return &event.RiskAssessment{
		Score:      total,
		Reasons:    reasons,
		Severity:   event.SeverityLabel(total),
		AssessedAt: e.now().UTC(),
	}, nil
}

// ── Rules ─────────────────────────────────────────────────────────────────────

func (e *Engine) rulePrivilegedAction(_ context.Context, in *ruleInput) (*finding, error) {
	if _, ok := e.privileged[in.ev.Action]; !ok {
		return nil, nil
	}
	return &finding{rule: "privileged_action", reason: ReasonPrivileged, weight: e.weights.Privileged}, nil
}

// ruleReputation looks up the event's indicators with the geo attribute
// folded in. The fold-in works on a copy; the event's slice is untouched.
// The event.Unknown placeholder is not an indicator and is never looked up.
func (e *Engine) ruleReputation(ctx context.Context, in *ruleInput) (*finding, error) {
	indicators := slices.Clone(in.ev.Indicators)
	if geo, _ := in.ev.Geo(); geo != "" && geo != event.Unknown {
		indicators = append(indicators, geo)
	}

	rep, err := in.reputation.Reputation(ctx, indicators)
	if err != nil {
		return nil, &OracleUnavailableError{Oracle: "reputation", Err: err}
	}
	rep = min(max(rep, 0), 100)

	switch {
	case rep > e.weights.HighReputationAbove:
		return &finding{
			rule:   "reputation",
			reason: fmt.Sprintf("High reputation indicators (%d)", rep),
			weight: e.weights.ReputationHigh,
		}, nil
	case rep > e.weights.MediumReputationAbove:
		return &finding{
			rule:   "reputation",
			reason: fmt.Sprintf("Medium reputation indicators (%d)", rep),
			weight: e.weights.ReputationMedium,
		}, nil
	}
	return nil, nil
}

// ruleBehavioralAnomaly passes the baseline a copy of the attributes with the
// action name added under "action".
func (e *Engine) ruleBehavioralAnomaly(ctx context.Context, in *ruleInput) (*finding, error) {
	attrs := make(map[string]string, len(in.ev.Attributes)+1)
	for k, v := range in.ev.Attributes {
		attrs[k] = v
	}
	if _, ok := attrs[event.AttrAction]; !ok {
		attrs[event.AttrAction] = in.ev.Action
	}

	anomalous, err := in.baseline.IsAnomalous(ctx, in.ev.EntityID, attrs)
	if err != nil {
		return nil, &OracleUnavailableError{Oracle: "baseline", Err: err}
	}
	if !anomalous {
		return nil, nil
	}
	return &finding{rule: "behavioral_anomaly", reason: ReasonAnomaly, weight: e.weights.Anomaly}, nil
}

// ruleGeolocation treats a missing geo as unusual rather than exempt.
func (e *Engine) ruleGeolocation(ctx context.Context, in *ruleInput) (*finding, error) {
	allowed, err := in.baseline.AllowedGeo(ctx, in.ev.EntityID)
	if err != nil {
		return nil, &OracleUnavailableError{Oracle: "baseline", Err: err}
	}

	geo, _ := in.ev.Geo()
	if geo != "" && slices.Contains(allowed, geo) {
		return nil, nil
	}
	return &finding{
		rule:   "geolocation",
		reason: "Unusual geolocation: " + geo,
		weight: e.weights.Geo,
	}, nil
}
