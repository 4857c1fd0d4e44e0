package auditlog_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jmerrifield20/secpipeline/internal/auditlog"
	"github.com/jmerrifield20/secpipeline/internal/responder"
)

var ctx = context.Background()

func result(eventID string, status responder.Status) *responder.ActionResult {
	return &responder.ActionResult{
		Status:   status,
		Playbook: responder.PlaybookUserLockdown,
		EventID:  eventID,
		EntityID: "alice@example.com",
	}
}

func TestNewMemory_genesisEntry(t *testing.T) {
	l := auditlog.NewMemory()

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis entry, got %d", n)
	}

	entry, err := l.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Playbook != "genesis" {
		t.Errorf("expected playbook 'genesis', got %q", entry.Playbook)
	}
	if entry.Hash != auditlog.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", entry.Hash)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := auditlog.NewMemory()

	e1, err := l.Append(ctx, result("evt-1", responder.StatusCompleted))
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.Append(ctx, result("evt-2", responder.StatusDeferred))
	if err != nil {
		t.Fatal(err)
	}

	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}
	if e1.Status != "completed" || e2.EventID != "evt-2" {
		t.Errorf("entry fields not copied: %+v %+v", e1, e2)
	}

	var decoded responder.ActionResult
	if err := json.Unmarshal(e1.Result, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.EventID != "evt-1" {
		t.Errorf("stored result: got %+v", decoded)
	}
}

func TestVerify_valid(t *testing.T) {
	l := auditlog.NewMemory()
	_, _ = l.Append(ctx, result("evt-1", responder.StatusCompleted))
	_, _ = l.Append(ctx, result("evt-2", responder.StatusFailed))

	if err := l.Verify(ctx); err != nil {
		t.Errorf("Verify() failed on valid chain: %v", err)
	}
}

func TestVerify_detectsTamperedResult(t *testing.T) {
	l := auditlog.NewMemory()
	_, _ = l.Append(ctx, result("evt-1", responder.StatusCompleted))
	e, _ := l.Append(ctx, result("evt-2", responder.StatusDeferred))

	e.Result = json.RawMessage(`{"status":"completed"}`)

	if err := l.Verify(ctx); err == nil {
		t.Error("Verify() should detect a rewritten result")
	}
}

func TestVerify_detectsTamperedStatus(t *testing.T) {
	l := auditlog.NewMemory()
	e, _ := l.Append(ctx, result("evt-1", responder.StatusFailed))
	e.Status = "completed"

	if err := l.Verify(ctx); err == nil {
		t.Error("Verify() should detect a rewritten status")
	}
}

func TestRecent_newestFirstWithoutGenesis(t *testing.T) {
	l := auditlog.NewMemory()
	for _, id := range []string{"a", "b", "c"} {
		_, _ = l.Append(ctx, result(id, responder.StatusCompleted))
	}

	got, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].EventID != "c" || got[1].EventID != "b" {
		t.Errorf("Recent(2): got %+v", got)
	}

	all, _ := l.Recent(ctx, 10)
	if len(all) != 3 {
		t.Errorf("Recent(10): got %d entries, want 3", len(all))
	}

	none, _ := l.Recent(ctx, 0)
	if len(none) != 0 {
		t.Errorf("Recent(0): got %d entries", len(none))
	}
}

func TestGet_outOfRange(t *testing.T) {
	l := auditlog.NewMemory()
	if _, err := l.Get(ctx, 5); !errors.Is(err, auditlog.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRoot_returnsLastHash(t *testing.T) {
	l := auditlog.NewMemory()
	root, _ := l.Root(ctx)
	if root != auditlog.GenesisHash {
		t.Errorf("Root() on genesis-only: got %q", root)
	}

	e, _ := l.Append(ctx, result("evt-1", responder.StatusCompleted))
	root, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != e.Hash {
		t.Errorf("Root(): got %q, want %q", root, e.Hash)
	}
}
