package reporter

import "time"

// Check statuses.
const (
	CheckPass = "PASS"
	CheckFail = "FAIL"
	CheckWarn = "WARN"
)

// Check is one named compliance control.
type Check struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Score  int    `json:"score"` // 0–100
}

// Findings are the IAM finding counts a posture report is built from.
type Findings struct {
	UsersWithoutMFA     int `json:"users_without_mfa"`
	UnusedCredentials   int `json:"unused_credentials"`
	StaleAccessKeys     int `json:"stale_access_keys"`
	OverprivilegedUsers int `json:"overprivileged_users"`
	RootAccountUsage    int `json:"root_account_usage"`
}

// Incident is a scored event that selected a playbook.
type Incident struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	EntityID    string     `json:"entity_id"`
	Severity    string     `json:"severity"`
	Vector      string     `json:"vector"`
	OccurredAt  time.Time  `json:"occurred_at"`
	DetectedAt  time.Time  `json:"detected_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// Snapshot is everything one report cycle reads.
type Snapshot struct {
	Checks    []Check
	Findings  Findings
	Incidents []Incident
}

// Standard names the benchmark a compliance report scores against.
type Standard struct {
	Name    string
	Version string
}

// DefaultStandard is CIS AWS Foundations 1.4.0.
var DefaultStandard = Standard{Name: "CIS", Version: "1.4.0"}

// DefaultChecks is the seed check set used when no findings store is
// configured.
func DefaultChecks() []Check {
	return []Check{
		{ID: "1.1", Name: "Root account usage", Status: CheckPass, Score: 100},
		{ID: "1.2", Name: "MFA for root", Status: CheckPass, Score: 100},
		{ID: "1.3", Name: "Credentials unused 90 days", Status: CheckFail, Score: 60},
		{ID: "1.4", Name: "Access keys rotated", Status: CheckWarn, Score: 80},
		{ID: "2.1", Name: "CloudTrail enabled", Status: CheckPass, Score: 100},
		{ID: "2.2", Name: "Log file validation", Status: CheckPass, Score: 100},
	}
}

// DefaultFindings is the seed IAM finding set.
func DefaultFindings() Findings {
	return Findings{
		UsersWithoutMFA:     5,
		UnusedCredentials:   3,
		StaleAccessKeys:     7,
		OverprivilegedUsers: 2,
	}
}
