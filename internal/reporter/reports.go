// Package reporter summarizes accumulated findings into compliance, IAM
// posture and incident reports on a fixed schedule.
package reporter

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"
)

// Report types, used as the metric label and API path.
const (
	TypeCompliance = "compliance"
	TypeIAMPosture = "iam_posture"
	TypeIncidents  = "incident_summary"
)

// Posture penalty weights per finding.
const (
	penaltyNoMFA          = 5
	penaltyUnused         = 3
	penaltyStaleKey       = 2
	penaltyOverprivileged = 10
)

// ComplianceSummary counts checks by status.
type ComplianceSummary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Warnings int `json:"warnings"`
}

// ComplianceReport scores a set of checks against a standard.
type ComplianceReport struct {
	Standard     string            `json:"standard"`
	Version      string            `json:"version"`
	GeneratedAt  time.Time         `json:"timestamp"`
	OverallScore float64           `json:"overall_score"`
	Checks       []Check           `json:"checks"`
	Summary      ComplianceSummary `json:"summary"`
}

// Compliance builds a ComplianceReport. The overall score is the mean of
// the check scores rounded to two decimals; no checks scores 0.
func Compliance(std Standard, checks []Check, now time.Time) *ComplianceReport {
	r := &ComplianceReport{
		Standard:    std.Name,
		Version:     std.Version,
		GeneratedAt: now.UTC(),
		Checks:      slices.Clone(checks),
		Summary:     ComplianceSummary{Total: len(checks)},
	}
	if r.Checks == nil {
		r.Checks = []Check{}
	}

	total := 0
	for _, c := range checks {
		total += c.Score
		switch c.Status {
		case CheckPass:
			r.Summary.Passed++
		case CheckFail:
			r.Summary.Failed++
		case CheckWarn:
			r.Summary.Warnings++
		}
	}
	if len(checks) > 0 {
		r.OverallScore = math.Round(float64(total)/float64(len(checks))*100) / 100
	}
	return r
}

// IAMPostureReport scores IAM hygiene.
type IAMPostureReport struct {
	GeneratedAt     time.Time `json:"timestamp"`
	PostureScore    int       `json:"posture_score"`
	Findings        Findings  `json:"findings"`
	Recommendations []string  `json:"recommendations"`
}

// IAMPosture builds an IAMPostureReport:
// max(0, 100 - (noMFA*5 + unused*3 + stale*2 + overprivileged*10)).
func IAMPosture(f Findings, now time.Time) *IAMPostureReport {
	penalties := f.UsersWithoutMFA*penaltyNoMFA +
		f.UnusedCredentials*penaltyUnused +
		f.StaleAccessKeys*penaltyStaleKey +
		f.OverprivilegedUsers*penaltyOverprivileged

	return &IAMPostureReport{
		GeneratedAt:     now.UTC(),
		PostureScore:    max(0, 100-penalties),
		Findings:        f,
		Recommendations: recommendations(f),
	}
}

func recommendations(f Findings) []string {
	recs := []string{}
	if f.UsersWithoutMFA > 0 {
		recs = append(recs, fmt.Sprintf("Enable MFA for %d users without it", f.UsersWithoutMFA))
	}
	if f.UnusedCredentials > 0 {
		recs = append(recs, fmt.Sprintf("Remove %d unused IAM credentials", f.UnusedCredentials))
	}
	if f.StaleAccessKeys > 0 {
		recs = append(recs, fmt.Sprintf("Rotate %d access keys older than 90 days", f.StaleAccessKeys))
	}
	if f.OverprivilegedUsers > 0 {
		recs = append(recs, fmt.Sprintf("Review and reduce permissions for %d overprivileged users", f.OverprivilegedUsers))
	}
	if f.RootAccountUsage > 0 {
		recs = append(recs, fmt.Sprintf("Investigate %d uses of the root account", f.RootAccountUsage))
	}
	return recs
}

// Severities counted in an incident summary, highest first.
var incidentSeverities = []string{"critical", "high", "medium", "low"}

// VectorCount is one entry of the top attack vectors list.
type VectorCount struct {
	Vector string `json:"vector"`
	Count  int    `json:"count"`
}

// IncidentSummary summarizes incidents detected in a trailing window.
type IncidentSummary struct {
	PeriodDays        int            `json:"period_days"`
	GeneratedAt       time.Time      `json:"timestamp"`
	BySeverity        map[string]int `json:"incidents_by_severity"`
	Total             int            `json:"total_incidents"`
	MeanTimeToDetect  Duration       `json:"mean_time_to_detect"`
	MeanTimeToRespond Duration       `json:"mean_time_to_respond"`
	TopAttackVectors  []VectorCount  `json:"top_attack_vectors"`
}

// Duration marshals as a human-readable string.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).Round(time.Second).String()), nil
}

// topVectors is the length of IncidentSummary.TopAttackVectors.
const topVectors = 3

// Incidents builds an IncidentSummary over incidents detected in
// [now-window, now]. MTTR averages only responded incidents.
func Incidents(incidents []Incident, window time.Duration, now time.Time) *IncidentSummary {
	s := &IncidentSummary{
		PeriodDays:  int(window / (24 * time.Hour)),
		GeneratedAt: now.UTC(),
		BySeverity:  make(map[string]int, len(incidentSeverities)),
	}
	for _, sev := range incidentSeverities {
		s.BySeverity[sev] = 0
	}

	from := now.Add(-window)
	vectors := map[string]int{}
	var detect, respond time.Duration
	responded := 0

	for _, inc := range incidents {
		if inc.DetectedAt.Before(from) || inc.DetectedAt.After(now) {
			continue
		}
		s.Total++
		if _, ok := s.BySeverity[inc.Severity]; ok {
			s.BySeverity[inc.Severity]++
		}
		vectors[inc.Vector]++
		detect += inc.DetectedAt.Sub(inc.OccurredAt)
		if inc.RespondedAt != nil {
			respond += inc.RespondedAt.Sub(inc.DetectedAt)
			responded++
		}
	}

	if s.Total > 0 {
		s.MeanTimeToDetect = Duration(detect / time.Duration(s.Total))
	}
	if responded > 0 {
		s.MeanTimeToRespond = Duration(respond / time.Duration(responded))
	}

	s.TopAttackVectors = make([]VectorCount, 0, len(vectors))
	for v, n := range vectors {
		s.TopAttackVectors = append(s.TopAttackVectors, VectorCount{Vector: v, Count: n})
	}
	slices.SortFunc(s.TopAttackVectors, func(a, b VectorCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Vector, b.Vector)
	})
	if len(s.TopAttackVectors) > topVectors {
		s.TopAttackVectors = s.TopAttackVectors[:topVectors]
	}
	return s
}
