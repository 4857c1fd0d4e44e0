package responder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Remediator is the boundary to the cloud provider. Every method must be
// idempotent: disabling a disabled key or quarantining a quarantined
// resource succeeds without error.
type Remediator interface {
	RevokeSessions(ctx context.Context, entityID string) error
	DisableAccessKeys(ctx context.Context, entityID string) error
	OpenTicket(ctx context.Context, entityID, summary string) (string, error)

	Quarantine(ctx context.Context, resourceID string) error
	Snapshot(ctx context.Context, resourceID string) error
	NotifyTeam(ctx context.Context, resourceID, message string) error
}

// LogRemediator logs every action and performs none. It is the default
// when no cloud credentials are configured.
type LogRemediator struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewLogRemediator creates a LogRemediator.
func NewLogRemediator(logger *zap.Logger) *LogRemediator {
	return &LogRemediator{logger: logger, now: time.Now}
}

func (r *LogRemediator) RevokeSessions(_ context.Context, entityID string) error {
	r.logger.Info("revoking sessions", zap.String("entity_id", entityID))
	return nil
}

func (r *LogRemediator) DisableAccessKeys(_ context.Context, entityID string) error {
	r.logger.Info("disabling access keys", zap.String("entity_id", entityID))
	return nil
}

// OpenTicket returns INC-<unix>-<suffix>. The suffix keeps two tickets
// opened in the same second distinct.
func (r *LogRemediator) OpenTicket(_ context.Context, entityID, summary string) (string, error) {
	id := fmt.Sprintf("INC-%d-%s", r.now().Unix(), uuid.NewString()[:8])
	r.logger.Info("incident ticket opened",
		zap.String("ticket_id", id),
		zap.String("entity_id", entityID),
		zap.String("summary", summary),
	)
	return id, nil
}

func (r *LogRemediator) Quarantine(_ context.Context, resourceID string) error {
	r.logger.Info("quarantining resource", zap.String("resource_id", resourceID))
	return nil
}

func (r *LogRemediator) Snapshot(_ context.Context, resourceID string) error {
	r.logger.Info("snapshotting resource", zap.String("resource_id", resourceID))
	return nil
}

func (r *LogRemediator) NotifyTeam(_ context.Context, resourceID, message string) error {
	r.logger.Info("security team notified",
		zap.String("resource_id", resourceID),
		zap.String("message", message),
	)
	return nil
}
