// Package responder selects and runs remediation playbooks for enriched
// events behind an approval gate.
package responder

import (
	"context"
	"fmt"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/event"
	"github.com/jmerrifield20/secpipeline/internal/metrics"
	"github.com/jmerrifield20/secpipeline/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// playbooks maps an action to the playbook that handles it.
var playbooks = map[string]string{
	"CreateAccessKey":               PlaybookUserLockdown,
	"AttachUserPolicy":              PlaybookUserLockdown,
	"PutUserPolicy":                 PlaybookUserLockdown,
	"AuthorizeSecurityGroupIngress": PlaybookIsolateResource,
	"ModifyInstanceAttribute":       PlaybookIsolateResource,
}

// SelectPlaybook returns the playbook for an action, or PlaybookNone.
func SelectPlaybook(action string) string {
	if p, ok := playbooks[action]; ok {
		return p
	}
	return PlaybookNone
}

// Dispatcher runs the playbook selected for each event. It holds no
// per-event state and is safe for concurrent use.
type Dispatcher struct {
	approver   Approver
	remediator Remediator
	logger     *zap.Logger
	now        func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(approver Approver, remediator Remediator, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		approver:   approver,
		remediator: remediator,
		logger:     logger,
		now:        time.Now,
	}
}

// Dispatch selects a playbook for ee, consults the approver and, when
// approved, executes it. It never returns nil and never retries.
func (d *Dispatcher) Dispatch(ctx context.Context, ee *event.EnrichedEvent) *ActionResult {
	ev := &ee.Event
	playbook := SelectPlaybook(ev.Action)

	if playbook == PlaybookNone {
		d.logger.Debug("no playbook for action",
			zap.String("event_id", ev.ID),
			zap.String("action", ev.Action),
		)
		return &ActionResult{
			Status:      StatusNoAction,
			EventID:     ev.ID,
			EntityID:    ev.EntityID,
			RiskScore:   ee.RiskScore(),
			Reason:      "No playbook for action " + ev.Action,
			CompletedAt: d.now(),
		}
	}

	ctx, span := telemetry.Tracer().Start(ctx, "responder.Dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("playbook", playbook),
		attribute.String("event.id", ev.ID),
	)

	start := time.Now()
	evidence := Evidence{
		Event:     ee,
		Timeline:  append([]string(nil), defaultTimeline...),
		CreatedAt: d.now(),
	}

	var res *ActionResult
	if !d.approver.Approve(evidence) {
		res = &ActionResult{
			Status:   StatusDeferred,
			Playbook: playbook,
			Reason:   reasonBelowThreshold,
		}
	} else {
		res = d.execute(ctx, playbook, ev)
	}

	res.EventID = ev.ID
	res.EntityID = ev.EntityID
	res.RiskScore = ee.RiskScore()
	res.CompletedAt = d.now()

	metrics.RecordAction(playbook, string(res.Status), time.Since(start).Seconds())
	span.SetAttributes(attribute.String("status", string(res.Status)))

	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("entity_id", ev.EntityID),
		zap.String("playbook", playbook),
		zap.String("status", string(res.Status)),
		zap.Int("risk_score", res.RiskScore),
	}
	if res.Status == StatusFailed {
		d.logger.Error("playbook failed", append(fields, zap.String("error", res.Error))...)
	} else {
		d.logger.Info("playbook dispatched", fields...)
	}
	return res
}

// execute runs a playbook body. A remediator panic is converted into a
// failed result so one bad event cannot stop the worker.
func (d *Dispatcher) execute(ctx context.Context, playbook string, ev *event.SecurityEvent) (res *ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			err := &PlaybookExecutionError{Playbook: playbook, Step: "panic", Err: fmt.Errorf("%v", r)}
			res = &ActionResult{Status: StatusFailed, Playbook: playbook, Error: err.Error()}
		}
	}()

	var err error
	switch playbook {
	case PlaybookUserLockdown:
		res, err = d.userLockdown(ctx, ev)
	case PlaybookIsolateResource:
		res, err = d.isolateResource(ctx, ev)
	default:
		err = &PlaybookExecutionError{Playbook: playbook, Step: "select", Err: fmt.Errorf("unknown playbook")}
	}
	if err != nil {
		return &ActionResult{
			Status:     StatusFailed,
			Playbook:   playbook,
			ResourceID: resourceOf(playbook, ev),
			Error:      err.Error(),
		}
	}
	return res
}

func (d *Dispatcher) userLockdown(ctx context.Context, ev *event.SecurityEvent) (*ActionResult, error) {
	if err := d.remediator.RevokeSessions(ctx, ev.EntityID); err != nil {
		return nil, &PlaybookExecutionError{Playbook: PlaybookUserLockdown, Step: "revoke sessions", Err: err}
	}
	if err := d.remediator.DisableAccessKeys(ctx, ev.EntityID); err != nil {
		return nil, &PlaybookExecutionError{Playbook: PlaybookUserLockdown, Step: "disable access keys", Err: err}
	}
	ticket, err := d.remediator.OpenTicket(ctx, ev.EntityID, fmt.Sprintf("%s by %s", ev.Action, ev.EntityID))
	if err != nil {
		return nil, &PlaybookExecutionError{Playbook: PlaybookUserLockdown, Step: "open ticket", Err: err}
	}
	return &ActionResult{
		Status:   StatusCompleted,
		Playbook: PlaybookUserLockdown,
		TicketID: ticket,
		Actions:  []string{ActionRevokedSessions, ActionDisabledAccessKeys, ActionCreatedTicket},
	}, nil
}

func (d *Dispatcher) isolateResource(ctx context.Context, ev *event.SecurityEvent) (*ActionResult, error) {
	resource := ev.Attr(event.AttrResourceID, event.Unknown)

	if err := d.remediator.Quarantine(ctx, resource); err != nil {
		return nil, &PlaybookExecutionError{Playbook: PlaybookIsolateResource, Step: "quarantine", Err: err}
	}
	if err := d.remediator.Snapshot(ctx, resource); err != nil {
		return nil, &PlaybookExecutionError{Playbook: PlaybookIsolateResource, Step: "snapshot", Err: err}
	}
	msg := fmt.Sprintf("Resource %s isolated after %s by %s", resource, ev.Action, ev.EntityID)
	if err := d.remediator.NotifyTeam(ctx, resource, msg); err != nil {
		return nil, &PlaybookExecutionError{Playbook: PlaybookIsolateResource, Step: "notify team", Err: err}
	}
	return &ActionResult{
		Status:     StatusCompleted,
		Playbook:   PlaybookIsolateResource,
		ResourceID: resource,
		Actions:    []string{ActionQuarantined, ActionSnapshotCreated, ActionTeamNotified},
	}, nil
}

func resourceOf(playbook string, ev *event.SecurityEvent) string {
	if playbook != PlaybookIsolateResource {
		return ""
	}
	return ev.Attr(event.AttrResourceID, event.Unknown)
}
