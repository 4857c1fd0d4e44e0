package event

import "testing"

func TestSeverityLabel(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{0, "none"},
		{14, "none"},
		{15, "low"},
		{34, "low"},
		{35, "medium"},
		{64, "medium"},
		{65, "high"},
		{84, "high"},
		{85, "critical"},
		{100, "critical"},
	}
	for _, tc := range cases {
		if got := SeverityLabel(tc.score); got != tc.want {
			t.Errorf("SeverityLabel(%d) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	ev := SecurityEvent{ID: "e1", EntityID: "alice", Action: "GetObject"}
	if err := ev.Validate(); err != nil {
		t.Fatalf("Validate() on complete event: %v", err)
	}

	ev.Action = ""
	if err := ev.Validate(); err == nil {
		t.Error("expected error for empty action")
	}

	ev = SecurityEvent{ID: "e1", Action: "GetObject"}
	if err := ev.Validate(); err == nil {
		t.Error("expected error for empty entity_id")
	}
}

func TestGeo_absentVersusEmpty(t *testing.T) {
	ev := SecurityEvent{}
	if _, ok := ev.Geo(); ok {
		t.Error("nil attributes should report geo as absent")
	}

	ev.Attributes = map[string]string{AttrGeo: ""}
	g, ok := ev.Geo()
	if !ok || g != "" {
		t.Errorf("Geo() = (%q, %v), want (\"\", true)", g, ok)
	}
}

func TestRiskScore_unscored(t *testing.T) {
	var nilEvent *EnrichedEvent
	if nilEvent.RiskScore() != 0 {
		t.Error("nil enriched event should score 0")
	}
	e := &EnrichedEvent{}
	if e.RiskScore() != 0 {
		t.Error("unscored event should score 0")
	}
	e.Assessment = &RiskAssessment{Score: 42}
	if e.RiskScore() != 42 {
		t.Errorf("RiskScore() = %d, want 42", e.RiskScore())
	}
}
