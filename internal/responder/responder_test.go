package responder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jmerrifield20/secpipeline/internal/collector"
	"github.com/jmerrifield20/secpipeline/internal/event"
	"github.com/jmerrifield20/secpipeline/internal/threat"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ── Fakes ────────────────────────────────────────────────────────────────

type recordingRemediator struct {
	mu      sync.Mutex
	calls   []string
	failOn  string
	panicOn string
}

func (r *recordingRemediator) record(step, target string) error {
	r.mu.Lock()
	r.calls = append(r.calls, step+":"+target)
	r.mu.Unlock()
	if step == r.panicOn {
		panic("remediator exploded")
	}
	if step == r.failOn {
		return errors.New("access denied")
	}
	return nil
}

func (r *recordingRemediator) RevokeSessions(_ context.Context, id string) error {
	return r.record("revoke", id)
}
func (r *recordingRemediator) DisableAccessKeys(_ context.Context, id string) error {
	return r.record("disable", id)
}
func (r *recordingRemediator) OpenTicket(_ context.Context, id, _ string) (string, error) {
	if err := r.record("ticket", id); err != nil {
		return "", err
	}
	return "INC-1", nil
}
func (r *recordingRemediator) Quarantine(_ context.Context, id string) error {
	return r.record("quarantine", id)
}
func (r *recordingRemediator) Snapshot(_ context.Context, id string) error {
	return r.record("snapshot", id)
}
func (r *recordingRemediator) NotifyTeam(_ context.Context, id, _ string) error {
	return r.record("notify", id)
}

func scored(action string, score int, attrs map[string]string) *event.EnrichedEvent {
	return &event.EnrichedEvent{
		Event: event.SecurityEvent{
			ID:         "evt-1",
			EntityID:   "alice@example.com",
			Source:     "cloudtrail",
			Action:     action,
			Attributes: attrs,
		},
		Assessment: &event.RiskAssessment{Score: score},
	}
}

// actionsSeries counts sec_responder_actions_total series carrying the
// given playbook label.
func actionsSeries(t *testing.T, playbook string) int {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, mf := range families {
		if mf.GetName() != "sec_responder_actions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "playbook" && lp.GetValue() == playbook {
					n++
				}
			}
		}
	}
	return n
}

var ctx = context.Background()

// ── Gate ─────────────────────────────────────────────────────────────────

func TestThresholdGate_boundary(t *testing.T) {
	g := NewThresholdGate(75)
	cases := []struct {
		score int
		want  bool
	}{
		{74, false},
		{75, true},
		{76, true},
		{100, true},
		{0, false},
	}
	for _, tc := range cases {
		got := g.Approve(Evidence{Event: scored("CreateAccessKey", tc.score, nil)})
		if got != tc.want {
			t.Errorf("score %d: got %v, want %v", tc.score, got, tc.want)
		}
	}
}

func TestThresholdGate_unscoredReadsAsZero(t *testing.T) {
	g := NewThresholdGate(-1)
	if g.Threshold() != DefaultApproveThreshold {
		t.Errorf("default threshold: got %d", g.Threshold())
	}
	ee := scored("CreateAccessKey", 0, nil)
	ee.Assessment = nil
	if g.Approve(Evidence{Event: ee}) {
		t.Error("unscored event must not be approved")
	}
	if g.Approve(Evidence{}) {
		t.Error("missing event must not be approved")
	}
	if !NewThresholdGate(-1).Approve(Evidence{Event: scored("x", 80, nil)}) {
		t.Error("negative threshold should fall back to the default")
	}
}

func TestThresholdGate_zeroApprovesEverything(t *testing.T) {
	g := NewThresholdGate(0)
	if g.Threshold() != 0 {
		t.Fatalf("threshold: got %d, want 0", g.Threshold())
	}
	if !g.Approve(Evidence{Event: scored("CreateAccessKey", 0, nil)}) {
		t.Error("threshold 0 should approve a zero score")
	}
	ee := scored("CreateAccessKey", 0, nil)
	ee.Assessment = nil
	if !g.Approve(Evidence{Event: ee}) {
		t.Error("threshold 0 should approve an unscored event")
	}
}

// ── Selection ────────────────────────────────────────────────────────────

func TestSelectPlaybook(t *testing.T) {
	cases := map[string]string{
		"CreateAccessKey":               PlaybookUserLockdown,
		"AttachUserPolicy":              PlaybookUserLockdown,
		"PutUserPolicy":                 PlaybookUserLockdown,
		"AuthorizeSecurityGroupIngress": PlaybookIsolateResource,
		"ModifyInstanceAttribute":       PlaybookIsolateResource,
		"DeleteTrail":                   PlaybookNone,
		"GetObject":                     PlaybookNone,
		"":                              PlaybookNone,
	}
	for action, want := range cases {
		if got := SelectPlaybook(action); got != want {
			t.Errorf("%q: got %q, want %q", action, got, want)
		}
	}
}

// ── Dispatch ─────────────────────────────────────────────────────────────

func TestDispatch_userLockdownIdempotent(t *testing.T) {
	rem := &recordingRemediator{}
	d := NewDispatcher(NewThresholdGate(75), rem, zap.NewNop())

	for i := 0; i < 2; i++ {
		res := d.Dispatch(ctx, scored("CreateAccessKey", 90, nil))
		if res.Status != StatusCompleted {
			t.Fatalf("run %d: status %q, error %q", i, res.Status, res.Error)
		}
		want := []string{ActionRevokedSessions, ActionDisabledAccessKeys, ActionCreatedTicket}
		if strings.Join(res.Actions, ",") != strings.Join(want, ",") {
			t.Errorf("run %d: actions %v", i, res.Actions)
		}
		if res.TicketID == "" {
			t.Errorf("run %d: expected ticket id", i)
		}
		if res.Error != "" {
			t.Errorf("run %d: unexpected error %q", i, res.Error)
		}
	}
	if len(rem.calls) != 6 {
		t.Errorf("expected 6 remediator calls, got %v", rem.calls)
	}
}

func TestDispatch_isolateResource(t *testing.T) {
	rem := &recordingRemediator{}
	d := NewDispatcher(NewThresholdGate(75), rem, zap.NewNop())

	res := d.Dispatch(ctx, scored("AuthorizeSecurityGroupIngress", 80, map[string]string{"resource_id": "sg-123"}))
	if res.Status != StatusCompleted {
		t.Fatalf("status %q", res.Status)
	}
	if res.ResourceID != "sg-123" {
		t.Errorf("resource: got %q", res.ResourceID)
	}
	if res.TicketID != "" {
		t.Errorf("isolate_resource should not open a ticket, got %q", res.TicketID)
	}
	want := "quarantine:sg-123,snapshot:sg-123,notify:sg-123"
	if got := strings.Join(rem.calls, ","); got != want {
		t.Errorf("calls: got %s, want %s", got, want)
	}
}

func TestDispatch_isolateResourceDefaultsUnknown(t *testing.T) {
	rem := &recordingRemediator{}
	d := NewDispatcher(NewThresholdGate(75), rem, zap.NewNop())

	res := d.Dispatch(ctx, scored("ModifyInstanceAttribute", 75, nil))
	if res.ResourceID != "unknown" {
		t.Errorf("resource: got %q, want unknown", res.ResourceID)
	}
}

func TestDispatch_deferredBelowThreshold(t *testing.T) {
	rem := &recordingRemediator{}
	d := NewDispatcher(NewThresholdGate(75), rem, zap.NewNop())

	res := d.Dispatch(ctx, scored("CreateAccessKey", 74, nil))
	if res.Status != StatusDeferred {
		t.Fatalf("status: got %q", res.Status)
	}
	if res.Playbook != PlaybookUserLockdown {
		t.Errorf("playbook: got %q", res.Playbook)
	}
	if len(rem.calls) != 0 {
		t.Errorf("deferred dispatch must not call the remediator: %v", rem.calls)
	}
	if res.TicketID != "" || len(res.Actions) != 0 {
		t.Errorf("deferred result carries completion fields: %+v", res)
	}
}

func TestDispatch_noActionEmitsNoMetric(t *testing.T) {
	d := NewDispatcher(NewThresholdGate(75), &recordingRemediator{}, zap.NewNop())

	res := d.Dispatch(ctx, scored("GetObject", 100, nil))
	if res.Status != StatusNoAction {
		t.Fatalf("status: got %q", res.Status)
	}
	if res.Playbook != "" {
		t.Errorf("no_action must not name a playbook, got %q", res.Playbook)
	}
	if n := actionsSeries(t, PlaybookNone); n != 0 {
		t.Errorf("no_action produced %d metric series", n)
	}
}

func TestDispatch_remediatorFailure(t *testing.T) {
	rem := &recordingRemediator{failOn: "disable"}
	d := NewDispatcher(NewThresholdGate(75), rem, zap.NewNop())

	res := d.Dispatch(ctx, scored("PutUserPolicy", 95, nil))
	if res.Status != StatusFailed {
		t.Fatalf("status: got %q", res.Status)
	}
	if !strings.Contains(res.Error, "disable access keys") || !strings.Contains(res.Error, "access denied") {
		t.Errorf("error: got %q", res.Error)
	}
	if res.TicketID != "" || len(res.Actions) != 0 {
		t.Errorf("failed result carries completion fields: %+v", res)
	}
	if len(rem.calls) != 2 {
		t.Errorf("dispatcher must stop at the failing step, calls %v", rem.calls)
	}
}

func TestDispatch_remediatorPanicBecomesFailure(t *testing.T) {
	d := NewDispatcher(NewThresholdGate(75), &recordingRemediator{panicOn: "snapshot"}, zap.NewNop())

	res := d.Dispatch(ctx, scored("AuthorizeSecurityGroupIngress", 90, nil))
	if res.Status != StatusFailed {
		t.Fatalf("status: got %q", res.Status)
	}
	if !strings.Contains(res.Error, "remediator exploded") {
		t.Errorf("error: got %q", res.Error)
	}
}

func TestPlaybookExecutionError_unwrap(t *testing.T) {
	cause := errors.New("throttled")
	var err error = &PlaybookExecutionError{Playbook: PlaybookUserLockdown, Step: "revoke sessions", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("should unwrap to cause")
	}
	var pe *PlaybookExecutionError
	if !errors.As(err, &pe) || pe.Step != "revoke sessions" {
		t.Errorf("errors.As: %+v", pe)
	}
}

func TestLogRemediator_ticketFormat(t *testing.T) {
	r := NewLogRemediator(zap.NewNop())
	a, _ := r.OpenTicket(ctx, "alice", "x")
	b, _ := r.OpenTicket(ctx, "alice", "x")
	if !strings.HasPrefix(a, "INC-") {
		t.Errorf("ticket: got %q", a)
	}
	if a == b {
		t.Errorf("tickets should be unique: %q", a)
	}
}

// ── End to end ───────────────────────────────────────────────────────────

func TestPipeline_createAccessKeyFromRussiaIsDeferred(t *testing.T) {
	raw := []byte(`{"detail":{
		"eventName":"CreateAccessKey",
		"eventTime":"2026-03-01T12:00:00Z",
		"sourceIPAddress":"RU",
		"userIdentity":{"userName":"alice@example.com"}
	}}`)

	ev, err := collector.Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}

	baseline := &threat.StaticBaseline{
		NormalGeos: map[string][]string{"alice@example.com": {"US", "CA"}},
	}
	ra, err := threat.NewDefaultEngine().Score(ctx, ev, baseline, &threat.StaticReputation{})
	if err != nil {
		t.Fatal(err)
	}
	if ra.Score != 50 {
		t.Errorf("score: got %d, want 50", ra.Score)
	}
	if len(ra.Reasons) != 2 {
		t.Errorf("reasons: got %v", ra.Reasons)
	}

	d := NewDispatcher(NewThresholdGate(75), &recordingRemediator{}, zap.NewNop())
	res := d.Dispatch(ctx, &event.EnrichedEvent{Event: *ev, Assessment: ra})
	if res.Status != StatusDeferred {
		t.Errorf("status: got %q, want deferred", res.Status)
	}
	if res.RiskScore != 50 || res.EventID != ev.ID {
		t.Errorf("result not linked to event: %+v", res)
	}
}
