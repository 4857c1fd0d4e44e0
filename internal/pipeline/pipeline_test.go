package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/auditlog"
	"github.com/jmerrifield20/secpipeline/internal/collector"
	"github.com/jmerrifield20/secpipeline/internal/delivery"
	"github.com/jmerrifield20/secpipeline/internal/enricher"
	"github.com/jmerrifield20/secpipeline/internal/reporter"
	"github.com/jmerrifield20/secpipeline/internal/responder"
	"github.com/jmerrifield20/secpipeline/internal/threat"
	"go.uber.org/zap"
)

var ctx = context.Background()

type recordingSink struct {
	mu      sync.Mutex
	results []*responder.ActionResult
}

func (s *recordingSink) Notify(_ context.Context, res *responder.ActionResult) {
	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

type fixture struct {
	p      *Pipeline
	ledger *auditlog.MemoryLedger
	store  *reporter.MemoryStore
	sink   *recordingSink
}

func newFixture(threshold int) *fixture {
	logger := zap.NewNop()
	baseline := &threat.StaticBaseline{
		NormalGeos:  map[string][]string{"alice@example.com": {"US", "CA"}},
		DefaultGeos: []string{"US"},
	}
	rep := &threat.StaticReputation{Scores: map[string]int{"185.220.101.1": 95}}

	f := &fixture{
		ledger: auditlog.NewMemory(),
		store:  reporter.NewMemoryStore(),
		sink:   &recordingSink{},
	}
	f.p = New(Config{
		Enricher:   enricher.New(threat.NewDefaultEngine(), baseline, rep, logger),
		Dispatcher: responder.NewDispatcher(responder.NewThresholdGate(threshold), responder.NewLogRemediator(logger), logger),
		Ledger:     f.ledger,
		Sink:       f.sink,
		Incidents:  f.store,
	}, logger)
	return f
}

func record(action, user, ip string) []byte {
	return []byte(fmt.Sprintf(`{"detail":{
		"eventName":%q,
		"eventTime":"2026-03-01T12:00:00Z",
		"sourceIPAddress":%q,
		"userIdentity":{"userName":%q}
	}}`, action, ip, user))
}

func TestProcess_deferredBelowThreshold(t *testing.T) {
	f := newFixture(75)

	out, err := f.p.Process(ctx, record("CreateAccessKey", "alice@example.com", "RU"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Event.RiskScore() != 50 {
		t.Errorf("score: got %d, want 50", out.Event.RiskScore())
	}
	if out.Result.Status != responder.StatusDeferred {
		t.Errorf("status: got %q", out.Result.Status)
	}
	if n, _ := f.ledger.Len(ctx); n != 2 {
		t.Errorf("ledger should hold genesis + 1, got %d", n)
	}
	if f.sink.count() != 0 {
		t.Error("deferred results must not be notified")
	}
	snap, _ := f.store.Snapshot(ctx, time.Time{})
	if len(snap.Incidents) != 1 || snap.Incidents[0].Severity != "medium" {
		t.Errorf("incidents: %+v", snap.Incidents)
	}
}

func TestProcess_completedIsAuditedAndNotified(t *testing.T) {
	f := newFixture(75)

	// 35 privileged + 25 reputation + 15 geo = 75
	out, err := f.p.Process(ctx, record("AttachUserPolicy", "alice@example.com", "185.220.101.1"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Status != responder.StatusCompleted {
		t.Fatalf("status: got %q (score %d)", out.Result.Status, out.Event.RiskScore())
	}
	if f.sink.count() != 1 {
		t.Errorf("notifications: got %d, want 1", f.sink.count())
	}
	e, err := f.ledger.Get(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if e.EventID != out.Event.Event.ID || e.Status != "completed" {
		t.Errorf("ledger entry: %+v", e)
	}
	if err := f.ledger.Verify(ctx); err != nil {
		t.Errorf("ledger verify: %v", err)
	}
}

func TestProcess_noActionIsNotAudited(t *testing.T) {
	f := newFixture(75)

	out, err := f.p.Process(ctx, record("GetObject", "alice@example.com", "US"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Status != responder.StatusNoAction {
		t.Errorf("status: got %q", out.Result.Status)
	}
	if n, _ := f.ledger.Len(ctx); n != 1 {
		t.Errorf("no_action should not reach the ledger, len=%d", n)
	}
}

func TestProcess_malformed(t *testing.T) {
	f := newFixture(75)

	_, err := f.p.Process(ctx, []byte(`{"detail":{"eventTime":"2026-03-01T12:00:00Z"}}`))
	var malformed *collector.MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
}

func TestRun_workersDrainSourceAndAck(t *testing.T) {
	f := newFixture(75)
	src := delivery.NewMemorySource(16)

	src.Push(record("CreateAccessKey", "alice@example.com", "RU"))
	src.Push(record("GetObject", "bob@example.com", "US"))
	src.Push([]byte(`not json`))
	src.Push(record("ModifyInstanceAttribute", "carol@example.com", "185.220.101.1"))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		f.p.Run(runCtx, src, 3)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for len(src.Acked()) < 4 {
		select {
		case <-deadline:
			t.Fatalf("timed out, acked=%v", src.Acked())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if len(src.Rejected()) != 1 {
		t.Errorf("expected one rejected record, got %v", src.Rejected())
	}
	// CreateAccessKey (deferred) + ModifyInstanceAttribute (deferred at 40)
	if n, _ := f.ledger.Len(ctx); n != 3 {
		t.Errorf("ledger length: got %d, want 3", n)
	}
}

func TestRun_stopsWhenSourceCloses(t *testing.T) {
	f := newFixture(75)
	src := delivery.NewMemorySource(1)

	done := make(chan struct{})
	go func() {
		f.p.Run(ctx, src, 2)
		close(done)
	}()
	_ = src.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the source closed")
	}
}
