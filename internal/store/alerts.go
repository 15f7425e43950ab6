package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ppmcore/internal/types"
)

// CreateThresholdRule inserts a rule. The (organization, name) pair is
// unique, which makes default-rule initialization idempotent.
func (s *PPMStore) CreateThresholdRule(ctx context.Context, r *types.ThresholdRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	channels, _ := json.Marshal(r.Channels)
	recipients, _ := json.Marshal(r.Recipients)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threshold_rules (id, organization_id, name, scope, project_id, threshold_pct, severity, channels, recipients, cooldown_seconds, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrganizationID, r.Name, r.Scope, r.ProjectID, r.ThresholdPct,
		string(r.Severity), string(channels), string(recipients),
		int(r.Cooldown.Seconds()), boolToInt(r.Enabled))
	if err != nil {
		if isUniqueViolation(err) {
			return nil // already initialized for this organization
		}
		return fmt.Errorf("failed to create threshold rule: %w", err)
	}
	return nil
}

// ActiveThresholdRules returns enabled rules for an organization.
func (s *PPMStore) ActiveThresholdRules(ctx context.Context, orgID string) ([]*types.ThresholdRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, scope, COALESCE(project_id, ''), threshold_pct, severity,
		       COALESCE(channels, '[]'), COALESCE(recipients, '[]'), cooldown_seconds, enabled, created_at
		FROM threshold_rules WHERE organization_id = ? AND enabled = 1`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query threshold rules: %w", err)
	}
	defer rows.Close()

	var out []*types.ThresholdRule
	for rows.Next() {
		var r types.ThresholdRule
		var severity, channels, recipients string
		var cooldownSecs, enabled int
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.Scope,
			&r.ProjectID, &r.ThresholdPct, &severity, &channels, &recipients,
			&cooldownSecs, &enabled, &r.CreatedAt); err != nil {
			continue
		}
		r.Severity = types.AlertSeverity(severity)
		_ = json.Unmarshal([]byte(channels), &r.Channels)
		_ = json.Unmarshal([]byte(recipients), &r.Recipients)
		r.Cooldown = time.Duration(cooldownSecs) * time.Second
		r.Enabled = enabled != 0
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CountThresholdRules returns how many rules exist for an organization.
func (s *PPMStore) CountThresholdRules(ctx context.Context, orgID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM threshold_rules WHERE organization_id = ?", orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count threshold rules: %w", err)
	}
	return n, nil
}

// HasActiveAlertWithin reports whether a non-resolved alert exists for the
// (rule, project, wbs) scope created within the cooldown window.
func (s *PPMStore) HasActiveAlertWithin(ctx context.Context, ruleID, projectID, wbs string, cooldown time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-cooldown)
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM variance_alerts
		WHERE rule_id = ? AND project_id = ? AND wbs_element = ?
		  AND status != 'resolved' AND created_at >= ?`,
		ruleID, projectID, wbs, cutoff).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check alert cooldown: %w", err)
	}
	return n > 0, nil
}

// InsertAlert persists a new variance alert.
func (s *PPMStore) InsertAlert(ctx context.Context, a *types.VarianceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = types.AlertNew
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variance_alerts (id, rule_id, project_id, wbs_element, variance_pct, variance_amount, severity, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RuleID, a.ProjectID, a.WBSElement, a.VariancePct,
		a.VarianceAmount, string(a.Severity), string(a.Status))
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// GetAlert fetches one alert by id.
func (s *PPMStore) GetAlert(ctx context.Context, alertID string) (*types.VarianceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a types.VarianceAlert
	var severity, status string
	var ackBy, resBy sql.NullString
	var ackAt, resAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rule_id, project_id, wbs_element, variance_pct, variance_amount,
		       severity, status, acknowledged_by, resolved_by, created_at, acknowledged_at, resolved_at
		FROM variance_alerts WHERE id = ?`, alertID).Scan(
		&a.ID, &a.RuleID, &a.ProjectID, &a.WBSElement, &a.VariancePct,
		&a.VarianceAmount, &severity, &status, &ackBy, &resBy, &a.CreatedAt, &ackAt, &resAt)
	if err != nil {
		return nil, err
	}
	a.Severity = types.AlertSeverity(severity)
	a.Status = types.AlertStatus(status)
	a.AcknowledgedBy = ackBy.String
	a.ResolvedBy = resBy.String
	if ackAt.Valid {
		a.AcknowledgedAt = &ackAt.Time
	}
	if resAt.Valid {
		a.ResolvedAt = &resAt.Time
	}
	return &a, nil
}

// TransitionAlert performs an optimistic status change: the UPDATE is guarded
// by the expected current status, so concurrent transitions on one alert are
// linearizable. Returns false when the guard did not match.
func (s *PPMStore) TransitionAlert(ctx context.Context, alertID string, from, to types.AlertStatus, actorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var res sql.Result
	var err error
	switch to {
	case types.AlertAcknowledged:
		res, err = s.db.ExecContext(ctx, `
			UPDATE variance_alerts SET status = ?, acknowledged_by = ?, acknowledged_at = ?
			WHERE id = ? AND status = ?`,
			string(to), actorID, now, alertID, string(from))
	case types.AlertResolved:
		res, err = s.db.ExecContext(ctx, `
			UPDATE variance_alerts SET status = ?, resolved_by = ?, resolved_at = ?
			WHERE id = ? AND status = ?`,
			string(to), actorID, now, alertID, string(from))
	default:
		return false, fmt.Errorf("unsupported alert transition to %s", to)
	}
	if err != nil {
		return false, fmt.Errorf("failed to transition alert: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListAlerts returns alerts for a project, newest first.
func (s *PPMStore) ListAlerts(ctx context.Context, projectID string) ([]*types.VarianceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, project_id, wbs_element, variance_pct, variance_amount,
		       severity, status, created_at
		FROM variance_alerts WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []*types.VarianceAlert
	for rows.Next() {
		var a types.VarianceAlert
		var severity, status string
		if err := rows.Scan(&a.ID, &a.RuleID, &a.ProjectID, &a.WBSElement,
			&a.VariancePct, &a.VarianceAmount, &severity, &status, &a.CreatedAt); err != nil {
			continue
		}
		a.Severity = types.AlertSeverity(severity)
		a.Status = types.AlertStatus(status)
		out = append(out, &a)
	}
	return out, rows.Err()
}
