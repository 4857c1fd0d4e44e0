package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/responder"
	"go.uber.org/zap"
)

func completedResult() *responder.ActionResult {
	return &responder.ActionResult{
		Status:   responder.StatusCompleted,
		Playbook: responder.PlaybookUserLockdown,
		TicketID: "INC-1",
		EventID:  "evt-1",
		EntityID: "alice@example.com",
	}
}

func fastSink(url string) *WebhookSink {
	return NewWebhookSink(WebhookConfig{
		URL:         url,
		Secret:      "s3cret",
		RetryDelays: []time.Duration{0, time.Millisecond, time.Millisecond},
	}, zap.NewNop())
}

func TestWebhookSink_signsBody(t *testing.T) {
	var got Notification
	var verified atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		verified.Store(Verify(body, "s3cret", r.Header.Get(SignatureHeader)))
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := fastSink(srv.URL)
	s.Notify(context.Background(), completedResult())
	s.Close()

	if !verified.Load() {
		t.Error("signature did not verify")
	}
	if got.Type != TypeActionCompleted {
		t.Errorf("type: got %q", got.Type)
	}
	if got.Result == nil || got.Result.TicketID != "INC-1" {
		t.Errorf("result: got %+v", got.Result)
	}
}

func TestWebhookSink_retriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := fastSink(srv.URL).Deliver(context.Background(), Notification{Type: TypeActionFailed})
	if err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhookSink_givesUpAfterAllAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := fastSink(srv.URL).Deliver(context.Background(), Notification{Type: TypeActionFailed})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhookSink_skipsDeferredAndNoAction(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	s := fastSink(srv.URL)
	s.Notify(context.Background(), &responder.ActionResult{Status: responder.StatusDeferred})
	s.Notify(context.Background(), &responder.ActionResult{Status: responder.StatusNoAction})
	s.Close()

	if calls.Load() != 0 {
		t.Errorf("deferred/no_action results should not be sent, got %d calls", calls.Load())
	}
}

func TestVerify_rejectsTamperedBody(t *testing.T) {
	sig := Sign([]byte(`{"a":1}`), "k")
	if Verify([]byte(`{"a":2}`), "k", sig) {
		t.Error("tampered body verified")
	}
	if Verify([]byte(`{"a":1}`), "other", sig) {
		t.Error("wrong secret verified")
	}
}
