// Package audit records operational history: one append-only event per
// import run, AI operation, role change, or admin action. Writes are never
// on the critical path; a failed write is logged and swallowed.
package audit

import (
	"context"
	"time"

	"ppmcore/internal/logging"
	"ppmcore/internal/store"
	"ppmcore/internal/types"
)

// Event types recorded by the service.
const (
	EventImport      = "import"
	EventAIOperation = "ai_operation"
	EventRoleChange  = "role_change"
	EventAdminAction = "admin_action"
	EventAlertAction = "alert_action"
)

// Service wraps the append-only audit tables.
type Service struct {
	store *store.PPMStore
}

// New builds an audit Service.
func New(st *store.PPMStore) *Service {
	return &Service{store: st}
}

// Record appends one event. Failures are logged, never returned; the
// triggering operation has already committed its business effect.
func (s *Service) Record(ctx context.Context, eventType, actorID, entityKind, entityID string, detail map[string]interface{}) {
	e := &store.AuditEvent{
		EventType:  eventType,
		ActorID:    actorID,
		EntityKind: entityKind,
		EntityID:   entityID,
		Detail:     detail,
	}
	if err := s.store.AppendAuditEvent(context.WithoutCancel(ctx), e); err != nil {
		logging.AuditError("audit write failed: type=%s entity=%s/%s: %v", eventType, entityKind, entityID, err)
		return
	}
	logging.Audit("%s by %s on %s/%s", eventType, actorID, entityKind, entityID)
}

// Events reads the raw event stream, newest first, with optional type and
// entity filters.
func (s *Service) Events(ctx context.Context, eventType, entityID string, limit int) ([]*store.AuditEvent, error) {
	return s.store.ListAuditEvents(ctx, eventType, entityID, limit)
}

// Statistics aggregates import activity over the last `days` days.
func (s *Service) Statistics(ctx context.Context, days int) (*store.ImportStatistics, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	return s.store.GetImportStatistics(ctx, since)
}

// ImportHistory lists past import runs, optionally filtered by user.
func (s *Service) ImportHistory(ctx context.Context, userID string, limit int) ([]*types.ImportAuditEntry, error) {
	return s.store.ListImportAudits(ctx, userID, limit)
}
