package store

import "fmt"

// Migrate creates the required tables. Every statement is idempotent
// (CREATE ... IF NOT EXISTS), so Migrate is safe to run on every startup.
func (s *PPMStore) Migrate() error {
	portfolioTables := `
	CREATE TABLE IF NOT EXISTS portfolios (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL DEFAULT 'default',
		name TEXT NOT NULL,
		owner_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		portfolio_id TEXT NOT NULL,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'planning',
		priority INTEGER DEFAULT 0,
		budget REAL DEFAULT 0,
		actual_cost REAL DEFAULT 0,
		health TEXT NOT NULL DEFAULT 'green',
		start_date DATETIME,
		end_date DATETIME,
		team_members TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_projects_portfolio ON projects(portfolio_id);
	CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);

	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		role TEXT,
		capacity INTEGER DEFAULT 40,
		availability INTEGER DEFAULT 100,
		skills TEXT,
		location TEXT,
		hourly_rate REAL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS resource_allocations (
		resource_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		allocation_pct REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(resource_id, project_id)
	);
	`

	financialTables := `
	CREATE TABLE IF NOT EXISTS commitments (
		id TEXT PRIMARY KEY,
		po_number TEXT NOT NULL,
		po_line_nr INTEGER NOT NULL,
		po_date DATETIME,
		vendor TEXT,
		vendor_description TEXT,
		project_id TEXT,
		project_nr TEXT,
		wbs_element TEXT,
		po_net_amount REAL NOT NULL,
		total_amount REAL DEFAULT 0,
		currency TEXT DEFAULT 'USD',
		po_status TEXT,
		tax_amount REAL DEFAULT 0,
		cost_center TEXT,
		description TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(po_number, po_line_nr)
	);
	CREATE INDEX IF NOT EXISTS idx_commitments_project ON commitments(project_id);
	CREATE INDEX IF NOT EXISTS idx_commitments_wbs ON commitments(wbs_element);

	CREATE TABLE IF NOT EXISTS actuals (
		id TEXT PRIMARY KEY,
		fi_doc_no TEXT NOT NULL UNIQUE,
		posting_date DATETIME,
		document_date DATETIME,
		vendor TEXT,
		project_id TEXT,
		project_nr TEXT,
		wbs_element TEXT,
		amount REAL NOT NULL,
		currency TEXT DEFAULT 'USD',
		document_type TEXT,
		cost_center TEXT,
		description TEXT,
		personnel_nr TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_actuals_project ON actuals(project_id);
	CREATE INDEX IF NOT EXISTS idx_actuals_wbs ON actuals(wbs_element);

	CREATE TABLE IF NOT EXISTS financial_tracking (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		category TEXT NOT NULL,
		amount REAL NOT NULL,
		currency TEXT DEFAULT 'USD',
		entry_date DATETIME DEFAULT CURRENT_TIMESTAMP,
		description TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_fin_tracking_project ON financial_tracking(project_id);
	CREATE INDEX IF NOT EXISTS idx_fin_tracking_category ON financial_tracking(category);
	`

	alertTables := `
	CREATE TABLE IF NOT EXISTS threshold_rules (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		name TEXT NOT NULL,
		scope TEXT NOT NULL DEFAULT 'organization',
		project_id TEXT,
		threshold_pct REAL NOT NULL,
		severity TEXT NOT NULL,
		channels TEXT,
		recipients TEXT,
		cooldown_seconds INTEGER DEFAULT 3600,
		enabled INTEGER DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(organization_id, name)
	);

	CREATE TABLE IF NOT EXISTS variance_alerts (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		wbs_element TEXT DEFAULT '',
		variance_pct REAL NOT NULL,
		variance_amount REAL NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'new',
		acknowledged_by TEXT,
		resolved_by TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		acknowledged_at DATETIME,
		resolved_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_rule ON variance_alerts(rule_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_project ON variance_alerts(project_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON variance_alerts(status);
	`

	authTables := `
	CREATE TABLE IF NOT EXISTS roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		permissions TEXT NOT NULL,
		active INTEGER DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS user_roles (
		user_id TEXT NOT NULL,
		role_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(user_id, role_id)
	);
	CREATE INDEX IF NOT EXISTS idx_user_roles_user ON user_roles(user_id);
	`

	aiTables := `
	CREATE TABLE IF NOT EXISTS embeddings (
		content_type TEXT NOT NULL,
		content_id TEXT NOT NULL,
		content_text TEXT NOT NULL,
		embedding TEXT,
		metadata TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(content_type, content_id)
	);
	CREATE INDEX IF NOT EXISTS idx_embeddings_type ON embeddings(content_type);

	CREATE TABLE IF NOT EXISTS ai_operation_logs (
		operation_id TEXT PRIMARY KEY,
		model_id TEXT,
		operation_type TEXT NOT NULL,
		user_id TEXT,
		input TEXT,
		output TEXT,
		confidence REAL DEFAULT 0,
		response_time_ms INTEGER DEFAULT 0,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		success INTEGER NOT NULL,
		error_message TEXT,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_ai_ops_type ON ai_operation_logs(operation_type);
	CREATE INDEX IF NOT EXISTS idx_ai_ops_model ON ai_operation_logs(model_id);
	CREATE INDEX IF NOT EXISTS idx_ai_ops_created ON ai_operation_logs(created_at);

	CREATE TABLE IF NOT EXISTS ai_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		rating INTEGER NOT NULL,
		feedback_type TEXT,
		text TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_ai_feedback_op ON ai_feedback(operation_id);

	CREATE TABLE IF NOT EXISTS ab_tests (
		id TEXT PRIMARY KEY,
		model_a TEXT NOT NULL,
		model_b TEXT NOT NULL,
		operation_type TEXT NOT NULL,
		traffic_split REAL NOT NULL,
		duration_seconds INTEGER DEFAULT 0,
		metrics TEXT,
		started_at DATETIME,
		ended_at DATETIME,
		status TEXT NOT NULL DEFAULT 'draft',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		query TEXT NOT NULL,
		response TEXT,
		sources TEXT,
		confidence REAL DEFAULT 0,
		operation_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_conv ON conversations(conversation_id);

	CREATE TABLE IF NOT EXISTS dismissed_tips (
		user_id TEXT NOT NULL,
		tip_id TEXT NOT NULL,
		dismissed_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(user_id, tip_id)
	);
	`

	scheduleTables := `
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		start_date DATETIME,
		end_date DATETIME,
		baseline_start_date DATETIME,
		baseline_end_date DATETIME,
		status TEXT DEFAULT 'active',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_project ON schedules(project_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL,
		parent_id TEXT,
		wbs_code TEXT NOT NULL,
		name TEXT NOT NULL,
		planned_start_date DATETIME,
		planned_end_date DATETIME,
		actual_start_date DATETIME,
		actual_end_date DATETIME,
		baseline_start_date DATETIME,
		baseline_end_date DATETIME,
		duration_days INTEGER DEFAULT 0,
		progress_pct INTEGER DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'not_started',
		planned_effort REAL DEFAULT 0,
		actual_effort REAL DEFAULT 0,
		remaining_effort REAL DEFAULT 0,
		critical INTEGER DEFAULT 0,
		total_float REAL DEFAULT 0,
		free_float REAL DEFAULT 0,
		deliverables TEXT,
		acceptance_criteria TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(schedule_id, wbs_code)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_schedule ON tasks(schedule_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);

	CREATE TABLE IF NOT EXISTS wbs_elements (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		parent_id TEXT,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		level_number INTEGER NOT NULL DEFAULT 1,
		sort_order INTEGER NOT NULL DEFAULT 0,
		work_package_manager TEXT,
		deliverable_description TEXT,
		acceptance_criteria TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(project_id, code)
	);
	CREATE INDEX IF NOT EXISTS idx_wbs_project ON wbs_elements(project_id);
	CREATE INDEX IF NOT EXISTS idx_wbs_parent ON wbs_elements(parent_id);
	`

	auditTables := `
	CREATE TABLE IF NOT EXISTS import_audit_logs (
		import_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		import_type TEXT NOT NULL,
		total INTEGER NOT NULL,
		success_count INTEGER NOT NULL,
		duplicate_count INTEGER NOT NULL,
		error_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		errors TEXT,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_import_audit_user ON import_audit_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_import_audit_started ON import_audit_logs(started_at);

	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		actor_id TEXT,
		entity_kind TEXT,
		entity_id TEXT,
		detail TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at);
	`

	for _, batch := range []string{
		portfolioTables,
		financialTables,
		alertTables,
		authTables,
		aiTables,
		scheduleTables,
		auditTables,
	} {
		if _, err := s.db.Exec(batch); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}
