package variance

import (
	"context"
	"fmt"
	"math"
	"time"

	"ppmcore/internal/apperr"
	"ppmcore/internal/logging"
	"ppmcore/internal/types"
)

// defaultRules is the canonical rule set created per organization.
var defaultRules = []struct {
	name         string
	thresholdPct float64
	severity     types.AlertSeverity
}{
	{"variance-info", 5, types.SeverityInfo},
	{"variance-medium", 10, types.SeverityMedium},
	{"variance-high", 20, types.SeverityHigh},
	{"variance-critical", 50, types.SeverityCritical},
}

// InitializeDefaultRules creates the canonical four rules for an organization
// if it has none. Idempotent by rule name per organization.
func (e *Engine) InitializeDefaultRules(ctx context.Context, orgID string) error {
	n, err := e.store.CountThresholdRules(ctx, orgID)
	if err != nil {
		return apperr.Dependency("store", err)
	}
	if n > 0 {
		return nil
	}

	for _, r := range defaultRules {
		rule := &types.ThresholdRule{
			OrganizationID: orgID,
			Name:           r.name,
			Scope:          "organization",
			ThresholdPct:   r.thresholdPct,
			Severity:       r.severity,
			Channels:       []string{"in_app"},
			Cooldown:       time.Hour,
			Enabled:        true,
		}
		if err := e.store.CreateThresholdRule(ctx, rule); err != nil {
			return apperr.Dependency("store", err)
		}
	}
	logging.Variance("Initialized %d default threshold rules for organization %s", len(defaultRules), orgID)
	return nil
}

// CheckThresholds evaluates every active rule against current variance facts
// and persists one alert per matching rule whose cooldown has lapsed.
func (e *Engine) CheckThresholds(ctx context.Context, orgID string, projectIDs []string) ([]*types.VarianceAlert, error) {
	timer := logging.StartTimer(logging.CategoryVariance, "CheckThresholds")
	defer timer.StopWithInfo()

	rules, err := e.store.ActiveThresholdRules(ctx, orgID)
	if err != nil {
		return nil, apperr.Dependency("store", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	result, err := e.CalculateAll(ctx, orgID, projectIDs)
	if err != nil {
		return nil, err
	}

	var created []*types.VarianceAlert
	for _, fact := range result.Projects {
		for _, rule := range rules {
			if rule.Scope == "project" && rule.ProjectID != fact.ProjectID {
				continue
			}
			if math.Abs(fact.VariancePct) < rule.ThresholdPct {
				continue
			}

			active, err := e.store.HasActiveAlertWithin(ctx, rule.ID, fact.ProjectID, fact.WBSElement, rule.Cooldown)
			if err != nil {
				logging.Get(logging.CategoryVariance).Error("cooldown check failed for rule %s: %v", rule.ID, err)
				continue
			}
			if active {
				continue
			}

			alert := &types.VarianceAlert{
				RuleID:         rule.ID,
				ProjectID:      fact.ProjectID,
				WBSElement:     fact.WBSElement,
				VariancePct:    fact.VariancePct,
				VarianceAmount: fact.Variance,
				Severity:       rule.Severity,
				Status:         types.AlertNew,
			}
			if err := e.store.InsertAlert(ctx, alert); err != nil {
				logging.Get(logging.CategoryVariance).Error("alert insert failed for rule %s: %v", rule.ID, err)
				continue
			}
			logging.Variance("Alert %s: project %s variance %.2f%% crossed %s threshold %.1f%%",
				alert.ID, fact.ProjectID, fact.VariancePct, rule.Severity, rule.ThresholdPct)
			created = append(created, alert)
		}
	}
	return created, nil
}

// AcknowledgeAlert moves an alert new -> acknowledged.
func (e *Engine) AcknowledgeAlert(ctx context.Context, alertID, actorID string) error {
	return e.transition(ctx, alertID, types.AlertAcknowledged, actorID)
}

// ResolveAlert moves an alert acknowledged -> resolved.
func (e *Engine) ResolveAlert(ctx context.Context, alertID, actorID string) error {
	return e.transition(ctx, alertID, types.AlertResolved, actorID)
}

func (e *Engine) transition(ctx context.Context, alertID string, to types.AlertStatus, actorID string) error {
	alert, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return apperr.NotFound("alert", alertID).WithCause(err)
	}
	if !types.CanTransitionAlert(alert.Status, to) {
		return apperr.Conflict(fmt.Sprintf("alert cannot move from %s to %s", alert.Status, to))
	}

	ok, err := e.store.TransitionAlert(ctx, alertID, alert.Status, to, actorID)
	if err != nil {
		return apperr.Dependency("store", err)
	}
	if !ok {
		// Lost the optimistic race; the alert moved under us.
		return apperr.Conflict(fmt.Sprintf("alert status changed concurrently, expected %s", alert.Status))
	}
	logging.Variance("Alert %s -> %s by %s", alertID, to, actorID)
	return nil
}

// ListAlerts returns alerts for one project, newest first.
func (e *Engine) ListAlerts(ctx context.Context, projectID string) ([]*types.VarianceAlert, error) {
	alerts, err := e.store.ListAlerts(ctx, projectID)
	if err != nil {
		return nil, apperr.Dependency("store", err)
	}
	return alerts, nil
}
