package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmerrifield20/secpipeline/pkg/client"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/score", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "Bearer token required"})
			return
		}
		var ev client.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, `{"error":"bad json"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"event": map[string]any{"id": "evt-1", "entity_id": ev.EntityID, "action": ev.Action},
			"enrichment": map[string]any{
				"risk_score":   50,
				"risk_reasons": []string{"Privileged IAM action", "Unusual geolocation: RU"},
				"severity":     "medium",
			},
		})
	})

	mux.HandleFunc("/api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "eventName") {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"error": "malformed record: detail.eventName: missing"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"event":  map[string]any{"event": map[string]any{"id": "evt-2"}},
			"result": map[string]any{"status": "deferred", "playbook": "user_lockdown", "event_id": "evt-2"},
		})
	})

	mux.HandleFunc("/api/v1/reports/iam", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"posture_score":32}`))
	})

	mux.HandleFunc("/api/v1/audit", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"entries":3,"root":"abc"}`))
	})

	mux.HandleFunc("/api/v1/audit/verify", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"valid":false,"error":"entry 2: hash mismatch"}`))
	})

	mux.HandleFunc("/api/v1/audit/entries", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":` + r.URL.Query().Get("limit") + `}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

var ctx = context.Background()

// ── Tests ────────────────────────────────────────────────────────────────

func TestNew_invalidBase(t *testing.T) {
	if _, err := client.New("not a url"); err == nil {
		t.Error("expected error for invalid base URL")
	}
}

func TestScore(t *testing.T) {
	srv := stubServer(t)
	c, _ := client.New(srv.URL, client.WithBearerToken("tok"))

	res, err := c.Score(ctx, client.Event{EntityID: "alice", Action: "CreateAccessKey"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Assessment == nil || res.Assessment.Score != 50 {
		t.Fatalf("assessment: %+v", res.Assessment)
	}
	if len(res.Assessment.Reasons) != 2 {
		t.Errorf("reasons: %v", res.Assessment.Reasons)
	}
}

func TestScore_unauthorized(t *testing.T) {
	srv := stubServer(t)
	c, _ := client.New(srv.URL)

	_, err := c.Score(ctx, client.Event{EntityID: "alice", Action: "x"})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Bearer token required" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestIngest(t *testing.T) {
	srv := stubServer(t)
	c, _ := client.New(srv.URL)

	res, err := c.Ingest(ctx, []byte(`{"detail":{"eventName":"CreateAccessKey"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Result.Status != "deferred" || res.Result.Playbook != "user_lockdown" {
		t.Errorf("result: %+v", res.Result)
	}
}

func TestIngest_malformed(t *testing.T) {
	srv := stubServer(t)
	c, _ := client.New(srv.URL)

	_, err := c.Ingest(ctx, []byte(`{}`))
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 APIError, got %v", err)
	}
}

func TestReport(t *testing.T) {
	srv := stubServer(t)
	c, _ := client.New(srv.URL)

	raw, err := c.Report(ctx, client.ReportIAM)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"posture_score":32}` {
		t.Errorf("body: %s", raw)
	}

	if _, err := c.Report(ctx, "quarterly"); err == nil {
		t.Error("expected error for unknown report kind")
	}
}

func TestAudit(t *testing.T) {
	srv := stubServer(t)
	c, _ := client.New(srv.URL)

	ov, err := c.AuditOverview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Entries != 3 || ov.Root != "abc" {
		t.Errorf("overview: %+v", ov)
	}

	if err := c.AuditVerify(ctx); err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Errorf("expected invalid ledger error, got %v", err)
	}

	raw, err := c.AuditEntries(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"count":7}` {
		t.Errorf("entries: %s", raw)
	}
}
