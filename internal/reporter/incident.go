package reporter

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/secpipeline/internal/event"
	"github.com/jmerrifield20/secpipeline/internal/responder"
)

// Attack vector labels.
const (
	VectorPrivilegeEscalation = "Privilege escalation"
	VectorCredentialAccess    = "Credential access"
	VectorDefenseEvasion      = "Defense evasion"
	VectorDataDestruction     = "Data destruction"
	VectorNetworkExposure     = "Network exposure"
	VectorSuspiciousActivity  = "Suspicious activity"
)

var vectors = map[string]string{
	"AttachUserPolicy":              VectorPrivilegeEscalation,
	"PutUserPolicy":                 VectorPrivilegeEscalation,
	"CreateAccessKey":               VectorCredentialAccess,
	"DeleteAccessKey":               VectorCredentialAccess,
	"DeleteTrail":                   VectorDefenseEvasion,
	"StopLogging":                   VectorDefenseEvasion,
	"DeleteBucket":                  VectorDataDestruction,
	"AuthorizeSecurityGroupIngress": VectorNetworkExposure,
	"ModifyInstanceAttribute":       VectorNetworkExposure,
}

// VectorFor classifies an action.
func VectorFor(action string) string {
	if v, ok := vectors[action]; ok {
		return v
	}
	return VectorSuspiciousActivity
}

// IncidentFrom derives an incident from a scored event and its dispatch
// result. Unscored events and events scoring below "low" are not incidents.
func IncidentFrom(ee *event.EnrichedEvent, res *responder.ActionResult, detectedAt time.Time) (Incident, bool) {
	if ee.Assessment == nil {
		return Incident{}, false
	}
	sev := ee.Assessment.Severity
	if sev == "" {
		sev = event.SeverityLabel(ee.Assessment.Score)
	}
	if sev == "none" {
		return Incident{}, false
	}

	inc := Incident{
		ID:         uuid.NewString(),
		EventID:    ee.Event.ID,
		EntityID:   ee.Event.EntityID,
		Severity:   sev,
		Vector:     VectorFor(ee.Event.Action),
		OccurredAt: ee.Event.Timestamp,
		DetectedAt: detectedAt,
	}
	if res != nil && res.Status == responder.StatusCompleted {
		at := res.CompletedAt
		inc.RespondedAt = &at
	}
	return inc, true
}
