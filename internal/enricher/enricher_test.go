package enricher

import (
	"context"
	"errors"
	"testing"

	"github.com/jmerrifield20/secpipeline/internal/event"
	"github.com/jmerrifield20/secpipeline/internal/threat"
	"go.uber.org/zap"
)

type failingIntel struct{}

func (failingIntel) Reputation(context.Context, []string) (int, error) {
	return 0, errors.New("intel timeout")
}

func sampleEvent() *event.SecurityEvent {
	return &event.SecurityEvent{
		ID:         "evt-1",
		EntityID:   "alice@example.com",
		Source:     "cloudtrail",
		Action:     "CreateAccessKey",
		Attributes: map[string]string{"geo": "RU"},
	}
}

func TestEnrich_scored(t *testing.T) {
	e := New(threat.NewDefaultEngine(), &threat.StaticBaseline{
		NormalGeos: map[string][]string{"alice@example.com": {"US", "CA"}},
	}, &threat.StaticReputation{}, zap.NewNop())

	out := e.Enrich(context.Background(), sampleEvent())
	if out.Assessment == nil {
		t.Fatal("expected an assessment")
	}
	if out.Assessment.Score != 50 {
		t.Errorf("score: got %d, want 50", out.Assessment.Score)
	}
	if out.Event.ID != "evt-1" {
		t.Errorf("event not carried through: %+v", out.Event)
	}
}

func TestEnrich_oracleFailureForwardsUnscored(t *testing.T) {
	e := New(threat.NewDefaultEngine(), threat.DefaultBaseline(), failingIntel{}, zap.NewNop())

	out := e.Enrich(context.Background(), sampleEvent())
	if out == nil {
		t.Fatal("enrichment must never drop the event")
	}
	if out.Assessment != nil {
		t.Errorf("expected unscored event, got %+v", out.Assessment)
	}
	if out.RiskScore() != 0 {
		t.Errorf("unscored risk should read as 0, got %d", out.RiskScore())
	}

	if _, err := e.Score(context.Background(), sampleEvent()); err == nil {
		t.Error("Score should surface the oracle error")
	}
}
