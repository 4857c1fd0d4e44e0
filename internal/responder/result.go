package responder

import (
	"fmt"
	"time"
)

// Status is the terminal state of a dispatch decision.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusDeferred  Status = "deferred"
	StatusFailed    Status = "failed"
	StatusNoAction  Status = "no_action"
)

// Playbook names.
const (
	PlaybookUserLockdown    = "user_lockdown"
	PlaybookIsolateResource = "isolate_resource"
	PlaybookNone            = "no_action"
)

// Action list entries.
const (
	ActionRevokedSessions    = "revoked_sessions"
	ActionDisabledAccessKeys = "disabled_access_keys"
	ActionCreatedTicket      = "created_ticket"
	ActionQuarantined        = "quarantined"
	ActionSnapshotCreated    = "snapshot_created"
	ActionTeamNotified       = "team_notified"
)

const reasonBelowThreshold = "Below auto-approval threshold"

// ActionResult records one dispatch decision. It is created once and never
// modified; the audit ledger, notification sink and metrics all receive
// the same value.
type ActionResult struct {
	Status   Status `json:"status"`
	Playbook string `json:"playbook,omitempty"`

	// TicketID and Actions are set only when Status is completed.
	TicketID string   `json:"ticket_id,omitempty"`
	Actions  []string `json:"actions,omitempty"`

	// Error is set only when Status is failed.
	Error string `json:"error,omitempty"`

	EventID     string    `json:"event_id"`
	EntityID    string    `json:"entity_id"`
	ResourceID  string    `json:"resource_id,omitempty"`
	RiskScore   int       `json:"risk_score"`
	Reason      string    `json:"reason,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Notifiable reports whether the result should be sent to the
// notification sink.
func (r *ActionResult) Notifiable() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// PlaybookExecutionError wraps a remediation failure.
type PlaybookExecutionError struct {
	Playbook string
	Step     string
	Err      error
}

func (e *PlaybookExecutionError) Error() string {
	return fmt.Sprintf("playbook %s: %s: %v", e.Playbook, e.Step, e.Err)
}

func (e *PlaybookExecutionError) Unwrap() error { return e.Err }
