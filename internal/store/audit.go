package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ppmcore/internal/types"
)

// =============================================================================
// IMPORT AUDIT LOG
// =============================================================================

// AppendImportAudit writes one append-only row for an import run.
func (s *PPMStore) AppendImportAudit(ctx context.Context, e *types.ImportAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs, _ := json.Marshal(e.Errors)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_audit_logs (import_id, user_id, import_type, total, success_count,
			duplicate_count, error_count, status, errors, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ImportID, e.UserID, string(e.ImportType), e.Total, e.SuccessCount,
		e.DuplicateCount, e.ErrorCount, string(e.Status), string(errs),
		e.StartedAt, e.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to append import audit: %w", err)
	}
	return nil
}

// GetImportAudit fetches one import run by id.
func (s *PPMStore) GetImportAudit(ctx context.Context, importID string) (*types.ImportAuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT import_id, user_id, import_type, total, success_count, duplicate_count,
		       error_count, status, COALESCE(errors, '[]'), started_at, finished_at
		FROM import_audit_logs WHERE import_id = ?`, importID)
	return scanImportAudit(row)
}

// ListImportAudits returns recent import runs, newest first, optionally
// filtered by user.
func (s *PPMStore) ListImportAudits(ctx context.Context, userID string, limit int) ([]*types.ImportAuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT import_id, user_id, import_type, total, success_count, duplicate_count,
		       error_count, status, COALESCE(errors, '[]'), started_at, finished_at
		FROM import_audit_logs`
	var args []interface{}
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list import audits: %w", err)
	}
	defer rows.Close()

	var out []*types.ImportAuditEntry
	for rows.Next() {
		e, err := scanImportAudit(rows)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanImportAudit(row rowScanner) (*types.ImportAuditEntry, error) {
	var e types.ImportAuditEntry
	var importType, status, errs string
	err := row.Scan(&e.ImportID, &e.UserID, &importType, &e.Total, &e.SuccessCount,
		&e.DuplicateCount, &e.ErrorCount, &status, &errs, &e.StartedAt, &e.FinishedAt)
	if err != nil {
		return nil, err
	}
	e.ImportType = types.ImportType(importType)
	e.Status = types.ImportStatus(status)
	_ = json.Unmarshal([]byte(errs), &e.Errors)
	return &e, nil
}

// ImportStatistics aggregates import runs since a cutoff: counts per status
// and totals of processed, succeeded, duplicate and failed rows.
type ImportStatistics struct {
	Runs          int            `json:"runs"`
	ByStatus      map[string]int `json:"by_status"`
	TotalRows     int            `json:"total_rows"`
	SuccessRows   int            `json:"success_rows"`
	DuplicateRows int            `json:"duplicate_rows"`
	ErrorRows     int            `json:"error_rows"`
}

// GetImportStatistics aggregates the audit log since the cutoff.
func (s *PPMStore) GetImportStatistics(ctx context.Context, since time.Time) (*ImportStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &ImportStatistics{ByStatus: make(map[string]int)}
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(total), 0), COALESCE(SUM(success_count), 0),
		       COALESCE(SUM(duplicate_count), 0), COALESCE(SUM(error_count), 0)
		FROM import_audit_logs WHERE started_at >= ? GROUP BY status`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate import statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var runs, total, success, dup, errCount int
		if err := rows.Scan(&status, &runs, &total, &success, &dup, &errCount); err != nil {
			continue
		}
		stats.ByStatus[status] = runs
		stats.Runs += runs
		stats.TotalRows += total
		stats.SuccessRows += success
		stats.DuplicateRows += dup
		stats.ErrorRows += errCount
	}
	return stats, rows.Err()
}

// =============================================================================
// GENERAL AUDIT EVENTS
// =============================================================================

// AuditEvent is one append-only business event (alert transitions, role
// changes, AI feedback and similar).
type AuditEvent struct {
	ID         int64                  `json:"id"`
	EventType  string                 `json:"event_type"`
	ActorID    string                 `json:"actor_id"`
	EntityKind string                 `json:"entity_kind"`
	EntityID   string                 `json:"entity_id"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// AppendAuditEvent writes one event row.
func (s *PPMStore) AppendAuditEvent(ctx context.Context, e *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	detail, _ := json.Marshal(e.Detail)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, actor_id, entity_kind, entity_id, detail)
		VALUES (?, ?, ?, ?, ?)`,
		e.EventType, e.ActorID, e.EntityKind, e.EntityID, string(detail))
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns events newest first, optionally filtered by type
// and entity.
func (s *PPMStore) ListAuditEvents(ctx context.Context, eventType, entityID string, limit int) ([]*AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, event_type, COALESCE(actor_id, ''), COALESCE(entity_kind, ''),
		       COALESCE(entity_id, ''), COALESCE(detail, '{}'), created_at
		FROM audit_events WHERE 1=1`
	var args []interface{}
	if eventType != "" {
		query += " AND event_type = ?"
		args = append(args, eventType)
	}
	if entityID != "" {
		query += " AND entity_id = ?"
		args = append(args, entityID)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var out []*AuditEvent
	for rows.Next() {
		var e AuditEvent
		var detail string
		if err := rows.Scan(&e.ID, &e.EventType, &e.ActorID, &e.EntityKind,
			&e.EntityID, &detail, &e.CreatedAt); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(detail), &e.Detail)
		out = append(out, &e)
	}
	return out, rows.Err()
}
