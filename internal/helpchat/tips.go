package helpchat

import (
	"context"
)

// Tip is one proactive, dismissible hint with quick actions.
type Tip struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	QuickActions []string `json:"quick_actions,omitempty"`
	Dismissible  bool     `json:"dismissible"`
}

// Behavior is the observed usage signal the tips engine keys on.
type Behavior struct {
	SessionCount    int  `json:"session_count"`
	QueriesThisWeek int  `json:"queries_this_week"`
	HasImported     bool `json:"has_imported"`
	HasOpenAlerts   bool `json:"has_open_alerts"`
}

// tipRule decides whether a tip applies to a given page, role and behavior.
// Empty routes or roles match everything.
type tipRule struct {
	tip     Tip
	routes  []string
	roles   []string
	applies func(Behavior) bool
}

var tipRules = []tipRule{
	{
		tip: Tip{
			ID:           "first-import",
			Title:        "Import your financial data",
			Body:         "Upload commitments and actuals to see budget variance across your portfolio.",
			QuickActions: []string{"Go to imports", "Download CSV template"},
			Dismissible:  true,
		},
		routes:  []string{"/dashboard", "/imports"},
		roles:   []string{"admin", "portfolio_manager", "project_manager"},
		applies: func(b Behavior) bool { return !b.HasImported },
	},
	{
		tip: Tip{
			ID:           "review-alerts",
			Title:        "You have open variance alerts",
			Body:         "Acknowledge or resolve open alerts so threshold rules can fire again.",
			QuickActions: []string{"Open alerts"},
			Dismissible:  true,
		},
		routes:  []string{"/dashboard", "/alerts"},
		applies: func(b Behavior) bool { return b.HasOpenAlerts },
	},
	{
		tip: Tip{
			ID:           "try-ai-query",
			Title:        "Ask the assistant about your portfolio",
			Body:         "You can ask natural-language questions like \"which projects are over budget?\".",
			QuickActions: []string{"Open assistant"},
			Dismissible:  true,
		},
		routes:  []string{"/dashboard"},
		applies: func(b Behavior) bool { return b.QueriesThisWeek == 0 },
	},
	{
		tip: Tip{
			ID:           "set-baseline",
			Title:        "Set a schedule baseline",
			Body:         "Baselines let the schedule report SPI and variance against the original plan.",
			QuickActions: []string{"Open schedules"},
			Dismissible:  true,
		},
		routes: []string{"/schedules"},
		roles:  []string{"admin", "project_manager"},
	},
	{
		tip: Tip{
			ID:          "welcome",
			Title:       "Welcome to the portfolio workspace",
			Body:        "Start with the dashboard to see project health, budget and schedule at a glance.",
			Dismissible: true,
		},
		applies: func(b Behavior) bool { return b.SessionCount <= 1 },
	},
}

// TipsFor returns the proactive tips applicable to a page and role, minus
// the ones the user has already dismissed. Each returned tip is tracked as
// shown.
func (s *Service) TipsFor(ctx context.Context, userID, pageRoute, userRole string, behavior Behavior) ([]Tip, error) {
	dismissed, err := s.store.DismissedTips(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []Tip
	for _, rule := range tipRules {
		if dismissed[rule.tip.ID] {
			continue
		}
		if !matchesAny(rule.routes, pageRoute) || !matchesAny(rule.roles, userRole) {
			continue
		}
		if rule.applies != nil && !rule.applies(behavior) {
			continue
		}
		out = append(out, rule.tip)
		s.track(ctx, "tip_shown", userID, map[string]interface{}{
			"tip_id": rule.tip.ID, "route": pageRoute,
		})
	}
	return out, nil
}

// DismissTip hides a tip for this user permanently.
func (s *Service) DismissTip(ctx context.Context, userID, tipID string) error {
	if err := s.store.DismissTip(ctx, userID, tipID); err != nil {
		return err
	}
	s.track(ctx, "tip_dismissed", userID, map[string]interface{}{"tip_id": tipID})
	return nil
}

func matchesAny(candidates []string, value string) bool {
	if len(candidates) == 0 {
		return true
	}
	for _, c := range candidates {
		if c == value {
			return true
		}
	}
	return false
}
