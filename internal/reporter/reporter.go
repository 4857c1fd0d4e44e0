package reporter

import (
	"context"
	"fmt"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/metrics"
	"go.uber.org/zap"
)

// DefaultWindow is the trailing window of the incident summary.
const DefaultWindow = 7 * 24 * time.Hour

// Bundle is one generated set of reports.
type Bundle struct {
	Compliance *ComplianceReport `json:"compliance"`
	IAMPosture *IAMPostureReport `json:"iam_posture"`
	Incidents  *IncidentSummary  `json:"incident_summary"`
}

// Reporter reads a Store and produces reports, publishing their headline
// numbers as metrics.
type Reporter struct {
	store    Store
	standard Standard
	window   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Reporter. A zero window uses DefaultWindow.
func New(store Store, standard Standard, window time.Duration, logger *zap.Logger) *Reporter {
	if window <= 0 {
		window = DefaultWindow
	}
	if standard.Name == "" {
		standard = DefaultStandard
	}
	return &Reporter{
		store:    store,
		standard: standard,
		window:   window,
		logger:   logger,
		now:      time.Now,
	}
}

// Window returns the incident summary window.
func (r *Reporter) Window() time.Duration { return r.window }

// load reads a snapshot covering the incident window ending at now.
func (r *Reporter) load(ctx context.Context) (*Snapshot, time.Time, error) {
	now := r.now()
	snap, err := r.store.Snapshot(ctx, now.Add(-r.window))
	if err != nil {
		return nil, now, fmt.Errorf("load findings snapshot: %w", err)
	}
	return snap, now, nil
}

// Generate builds all three reports from one snapshot.
func (r *Reporter) Generate(ctx context.Context) (*Bundle, error) {
	snap, now, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		Compliance: r.compliance(snap, now),
		IAMPosture: r.iamPosture(snap, now),
		Incidents:  r.incidents(snap, now),
	}

	r.logger.Info("reports generated",
		zap.Float64("compliance_score", b.Compliance.OverallScore),
		zap.Int("posture_score", b.IAMPosture.PostureScore),
		zap.Int("incidents", b.Incidents.Total),
	)
	return b, nil
}

// ComplianceReport generates only the compliance report.
func (r *Reporter) ComplianceReport(ctx context.Context) (*ComplianceReport, error) {
	snap, now, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return r.compliance(snap, now), nil
}

// IAMPostureReport generates only the IAM posture report.
func (r *Reporter) IAMPostureReport(ctx context.Context) (*IAMPostureReport, error) {
	snap, now, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return r.iamPosture(snap, now), nil
}

// IncidentSummary generates only the incident summary.
func (r *Reporter) IncidentSummary(ctx context.Context) (*IncidentSummary, error) {
	snap, now, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	return r.incidents(snap, now), nil
}

func (r *Reporter) compliance(snap *Snapshot, now time.Time) *ComplianceReport {
	rep := Compliance(r.standard, snap.Checks, now)
	metrics.SetComplianceScore(rep.Standard, rep.OverallScore)
	metrics.RecordReport(TypeCompliance)
	return rep
}

func (r *Reporter) iamPosture(snap *Snapshot, now time.Time) *IAMPostureReport {
	rep := IAMPosture(snap.Findings, now)
	metrics.SetPolicyViolations("high", float64(rep.Findings.OverprivilegedUsers))
	metrics.SetPolicyViolations("medium", float64(rep.Findings.UsersWithoutMFA))
	metrics.SetPolicyViolations("low", float64(rep.Findings.StaleAccessKeys))
	metrics.RecordReport(TypeIAMPosture)
	return rep
}

func (r *Reporter) incidents(snap *Snapshot, now time.Time) *IncidentSummary {
	rep := Incidents(snap.Incidents, r.window, now)
	metrics.RecordReport(TypeIncidents)
	return rep
}

// ── Scheduler ────────────────────────────────────────────────────────────

// Scheduler defaults.
const (
	DefaultInterval      = time.Hour
	DefaultCheckInterval = time.Minute
)

// Scheduler runs a Reporter on a wall-clock interval. The only state it
// keeps is when it last emitted.
type Scheduler struct {
	reporter      *Reporter
	interval      time.Duration
	checkInterval time.Duration
	logger        *zap.Logger
	now           func() time.Time

	last time.Time
}

// NewScheduler creates a Scheduler. The first run happens one interval
// after start.
func NewScheduler(r *Reporter, interval, checkInterval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	return &Scheduler{
		reporter:      r,
		interval:      interval,
		checkInterval: checkInterval,
		logger:        logger,
		now:           time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.last = s.now()
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.logger.Info("report scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("check_interval", s.checkInterval),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("report scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick generates reports if an interval has elapsed since the last run and
// reports whether it did. A failed run is retried on the next tick.
func (s *Scheduler) Tick(ctx context.Context) bool {
	now := s.now()
	if s.last.IsZero() {
		s.last = now
	}
	if now.Sub(s.last) < s.interval {
		return false
	}
	if _, err := s.reporter.Generate(ctx); err != nil {
		s.logger.Error("scheduled report generation failed", zap.Error(err))
		return false
	}
	s.last = now
	return true
}
