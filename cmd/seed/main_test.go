package main

import (
	"slices"
	"testing"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/reporter"
	"github.com/jmerrifield20/secpipeline/internal/threat"
)

func TestBaselineRows(t *testing.T) {
	b := &threat.StaticBaseline{
		NormalGeos:    map[string][]string{"bob": {"US"}, "alice": {"US", "CA"}},
		NormalActions: map[string][]string{"alice": {"GetObject"}, "svc": {"PutObject"}},
		DefaultGeos:   []string{"US"},
	}

	rows := baselineRows(b)
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.EntityID
	}
	if !slices.Equal(ids, []string{"alice", "bob", "svc"}) {
		t.Fatalf("entities: got %v", ids)
	}
	if !slices.Equal(rows[2].Geos, []string{"US"}) {
		t.Errorf("svc should inherit default geos, got %v", rows[2].Geos)
	}
	if rows[1].Actions == nil {
		t.Error("actions must be non-nil for the text[] column")
	}
}

func TestBuildIncidents_summaryWindow(t *testing.T) {
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	incs := buildIncidents(now)

	sum := reporter.Incidents(incs, reporter.DefaultWindow, now)
	if sum.Total != len(demoIncidents) {
		t.Errorf("all demo incidents should fall in the default window, got %d", sum.Total)
	}
	for _, inc := range incs {
		if inc.Vector == "" {
			t.Errorf("incident for %s has no vector", inc.EntityID)
		}
	}
}
