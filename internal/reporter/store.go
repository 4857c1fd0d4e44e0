package reporter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store supplies the snapshot a report cycle reads. Only incidents detected
// at or after since are loaded; a zero since loads all of them.
type Store interface {
	Snapshot(ctx context.Context, since time.Time) (*Snapshot, error)
}

// IncidentRecorder accepts incidents from the pipeline.
type IncidentRecorder interface {
	RecordIncident(ctx context.Context, inc Incident) error
}

// maxMemoryIncidents bounds MemoryStore; the oldest are dropped first.
const maxMemoryIncidents = 10_000

// MemoryStore is an in-process Store. It is seeded with the default checks
// and findings and accumulates incidents from the pipeline.
type MemoryStore struct {
	mu        sync.RWMutex
	checks    []Check
	findings  Findings
	incidents []Incident
}

// NewMemoryStore creates a MemoryStore with the default seed data.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checks:   DefaultChecks(),
		findings: DefaultFindings(),
	}
}

// SetChecks replaces the compliance checks.
func (s *MemoryStore) SetChecks(checks []Check) {
	s.mu.Lock()
	s.checks = slices.Clone(checks)
	s.mu.Unlock()
}

// SetFindings replaces the IAM findings.
func (s *MemoryStore) SetFindings(f Findings) {
	s.mu.Lock()
	s.findings = f
	s.mu.Unlock()
}

// RecordIncident implements IncidentRecorder.
func (s *MemoryStore) RecordIncident(_ context.Context, inc Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.incidents) >= maxMemoryIncidents {
		s.incidents = slices.Delete(s.incidents, 0, len(s.incidents)-maxMemoryIncidents+1)
	}
	s.incidents = append(s.incidents, inc)
	return nil
}

// Snapshot implements Store.
func (s *MemoryStore) Snapshot(_ context.Context, since time.Time) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	incidents := make([]Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		if !inc.DetectedAt.Before(since) {
			incidents = append(incidents, inc)
		}
	}
	return &Snapshot{
		Checks:    slices.Clone(s.checks),
		Findings:  s.findings,
		Incidents: incidents,
	}, nil
}

// PostgresStore reads checks, findings and incidents from the database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// RecordIncident implements IncidentRecorder.
func (s *PostgresStore) RecordIncident(ctx context.Context, inc Incident) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO incidents (id, event_id, entity_id, severity, vector, occurred_at, detected_at, responded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		inc.ID, inc.EventID, inc.EntityID, inc.Severity, inc.Vector,
		inc.OccurredAt, inc.DetectedAt, inc.RespondedAt,
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// Snapshot implements Store.
func (s *PostgresStore) Snapshot(ctx context.Context, since time.Time) (*Snapshot, error) {
	snap := &Snapshot{}

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, status, score FROM compliance_checks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query compliance checks: %w", err)
	}
	snap.Checks, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Check, error) {
		var c Check
		err := row.Scan(&c.ID, &c.Name, &c.Status, &c.Score)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan compliance checks: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT users_without_mfa, unused_credentials, stale_access_keys,
		        overprivileged_users, root_account_usage
		 FROM iam_findings ORDER BY collected_at DESC LIMIT 1`,
	).Scan(
		&snap.Findings.UsersWithoutMFA, &snap.Findings.UnusedCredentials,
		&snap.Findings.StaleAccessKeys, &snap.Findings.OverprivilegedUsers,
		&snap.Findings.RootAccountUsage,
	)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("query iam findings: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, event_id, entity_id, severity, vector, occurred_at, detected_at, responded_at
		 FROM incidents WHERE detected_at >= $1`, since)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	snap.Incidents, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Incident, error) {
		var inc Incident
		err := row.Scan(&inc.ID, &inc.EventID, &inc.EntityID, &inc.Severity, &inc.Vector,
			&inc.OccurredAt, &inc.DetectedAt, &inc.RespondedAt)
		return inc, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan incidents: %w", err)
	}
	return snap, nil
}
