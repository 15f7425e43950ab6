package helpchat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tipIDs(tips []Tip) []string {
	out := make([]string, len(tips))
	for i, tip := range tips {
		out[i] = tip.ID
	}
	return out
}

func TestTipsFilteredByRouteAndRole(t *testing.T) {
	svc, _ := newHelpFixture(t, &fakeChat{}, nil)
	ctx := context.Background()

	tips, err := svc.TipsFor(ctx, "user-1", "/dashboard", "admin", Behavior{})
	require.NoError(t, err)
	ids := tipIDs(tips)
	assert.Contains(t, ids, "first-import")
	assert.Contains(t, ids, "try-ai-query")
	assert.Contains(t, ids, "welcome")
	assert.NotContains(t, ids, "set-baseline", "baseline tip only shows on the schedules page")

	tips, err = svc.TipsFor(ctx, "user-1", "/dashboard", "team_member", Behavior{})
	require.NoError(t, err)
	assert.NotContains(t, tipIDs(tips), "first-import", "import tip needs a managing role")
}

func TestTipsHonorBehavior(t *testing.T) {
	svc, _ := newHelpFixture(t, &fakeChat{}, nil)
	ctx := context.Background()

	active := Behavior{SessionCount: 20, QueriesThisWeek: 5, HasImported: true}
	tips, err := svc.TipsFor(ctx, "user-1", "/dashboard", "admin", active)
	require.NoError(t, err)
	ids := tipIDs(tips)
	assert.NotContains(t, ids, "first-import")
	assert.NotContains(t, ids, "try-ai-query")
	assert.NotContains(t, ids, "welcome")

	withAlerts := active
	withAlerts.HasOpenAlerts = true
	tips, err = svc.TipsFor(ctx, "user-1", "/dashboard", "admin", withAlerts)
	require.NoError(t, err)
	assert.Contains(t, tipIDs(tips), "review-alerts")
}

func TestDismissedTipsStayHidden(t *testing.T) {
	svc, st := newHelpFixture(t, &fakeChat{}, nil)
	ctx := context.Background()

	tips, err := svc.TipsFor(ctx, "user-1", "/dashboard", "admin", Behavior{})
	require.NoError(t, err)
	require.Contains(t, tipIDs(tips), "first-import")

	require.NoError(t, svc.DismissTip(ctx, "user-1", "first-import"))
	// dismissing twice is fine
	require.NoError(t, svc.DismissTip(ctx, "user-1", "first-import"))

	tips, err = svc.TipsFor(ctx, "user-1", "/dashboard", "admin", Behavior{})
	require.NoError(t, err)
	assert.NotContains(t, tipIDs(tips), "first-import")

	// dismissal is per user
	tips, err = svc.TipsFor(ctx, "user-2", "/dashboard", "admin", Behavior{})
	require.NoError(t, err)
	assert.Contains(t, tipIDs(tips), "first-import")

	events, err := st.ListAuditEvents(ctx, "tip_dismissed", "", 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestTipsTrackShownEvents(t *testing.T) {
	svc, st := newHelpFixture(t, &fakeChat{}, nil)
	ctx := context.Background()

	tips, err := svc.TipsFor(ctx, "user-1", "/schedules", "project_manager", Behavior{SessionCount: 5, HasImported: true, QueriesThisWeek: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"set-baseline"}, tipIDs(tips))

	events, err := st.ListAuditEvents(ctx, "tip_shown", "", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
