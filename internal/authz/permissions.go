// Package authz resolves users to permission sets and gates every business
// operation. Resolution results are cached per user with a TTL; role
// mutations invalidate precisely.
package authz

// Permission is an element of the closed permission enumeration.
type Permission string

// The closed permission set, grouped by surface.
const (
	PortfolioRead   Permission = "portfolio_read"
	PortfolioCreate Permission = "portfolio_create"
	PortfolioUpdate Permission = "portfolio_update"
	PortfolioDelete Permission = "portfolio_delete"

	ProjectRead   Permission = "project_read"
	ProjectCreate Permission = "project_create"
	ProjectUpdate Permission = "project_update"
	ProjectDelete Permission = "project_delete"

	ResourceRead   Permission = "resource_read"
	ResourceCreate Permission = "resource_create"
	ResourceUpdate Permission = "resource_update"
	ResourceDelete Permission = "resource_delete"

	FinancialRead   Permission = "financial_read"
	FinancialImport Permission = "financial_import"
	FinancialUpdate Permission = "financial_update"

	RiskRead   Permission = "risk_read"
	RiskManage Permission = "risk_manage"

	IssueRead   Permission = "issue_read"
	IssueManage Permission = "issue_manage"

	ScheduleRead   Permission = "schedule_read"
	ScheduleManage Permission = "schedule_manage"

	AlertRead   Permission = "alert_read"
	AlertManage Permission = "alert_manage"

	AIQuery    Permission = "ai_query"
	AIFeedback Permission = "ai_feedback"
	AIManage   Permission = "ai_manage"

	AdminRoles Permission = "admin_roles"
	AdminAudit Permission = "admin_audit"
)

// allPermissions enumerates every permission; the admin role carries them all.
var allPermissions = []Permission{
	PortfolioRead, PortfolioCreate, PortfolioUpdate, PortfolioDelete,
	ProjectRead, ProjectCreate, ProjectUpdate, ProjectDelete,
	ResourceRead, ResourceCreate, ResourceUpdate, ResourceDelete,
	FinancialRead, FinancialImport, FinancialUpdate,
	RiskRead, RiskManage,
	IssueRead, IssueManage,
	ScheduleRead, ScheduleManage,
	AlertRead, AlertManage,
	AIQuery, AIFeedback, AIManage,
	AdminRoles, AdminAudit,
}

// defaultRolePermissions is the constant permission table for built-in roles.
// Custom roles read their permission list from the store instead.
var defaultRolePermissions = map[string][]Permission{
	"admin": allPermissions,

	"portfolio_manager": {
		PortfolioRead, PortfolioCreate, PortfolioUpdate,
		ProjectRead, ProjectCreate, ProjectUpdate,
		ResourceRead,
		FinancialRead, FinancialImport,
		RiskRead, RiskManage,
		IssueRead, IssueManage,
		ScheduleRead, ScheduleManage,
		AlertRead, AlertManage,
		AIQuery, AIFeedback,
	},

	"project_manager": {
		PortfolioRead,
		ProjectRead, ProjectUpdate,
		ResourceRead,
		FinancialRead, FinancialImport,
		RiskRead, RiskManage,
		IssueRead, IssueManage,
		ScheduleRead, ScheduleManage,
		AlertRead, AlertManage,
		AIQuery, AIFeedback,
	},

	"resource_manager": {
		PortfolioRead, ProjectRead,
		ResourceRead, ResourceCreate, ResourceUpdate, ResourceDelete,
		ScheduleRead,
		AIQuery, AIFeedback,
	},

	"team_member": {
		PortfolioRead, ProjectRead, ResourceRead,
		RiskRead, IssueRead, IssueManage,
		ScheduleRead,
		AIQuery, AIFeedback,
	},

	"viewer": {
		PortfolioRead, ProjectRead, ResourceRead,
		FinancialRead, RiskRead, IssueRead, ScheduleRead, AlertRead,
	},
}

// DefaultRoleNames lists the built-in roles.
func DefaultRoleNames() []string {
	return []string{"admin", "portfolio_manager", "project_manager", "resource_manager", "team_member", "viewer"}
}

// DefaultPermissionsFor returns the constant permission set of a built-in
// role, or nil for unknown roles.
func DefaultPermissionsFor(role string) []Permission {
	perms, ok := defaultRolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// IsValid reports whether a string names a known permission.
func IsValid(p string) bool {
	for _, known := range allPermissions {
		if Permission(p) == known {
			return true
		}
	}
	return false
}
