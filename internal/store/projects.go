package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ppmcore/internal/logging"
	"ppmcore/internal/types"
)

// CreatePortfolio inserts a portfolio row.
func (s *PPMStore) CreatePortfolio(ctx context.Context, p *types.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.OrganizationID == "" {
		p.OrganizationID = "default"
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO portfolios (id, organization_id, name, owner_id) VALUES (?, ?, ?, ?)",
		p.ID, p.OrganizationID, p.Name, p.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("failed to create portfolio: %w", err)
	}
	return nil
}

// CreateProject inserts a project row. Creation is best-effort with respect
// to the unique name constraint: on conflict the existing row is refetched
// and returned, so concurrent auto-creation converges on one project.
func (s *PPMStore) CreateProject(ctx context.Context, p *types.Project) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	members, _ := json.Marshal(p.TeamMembers)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, portfolio_id, name, description, status, priority, budget, actual_cost, health, start_date, end_date, team_members)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PortfolioID, p.Name, p.Description, string(p.Status), p.Priority,
		p.Budget, p.ActualCost, string(p.Health), p.StartDate, p.EndDate, string(members),
	)
	if err != nil {
		if isUniqueViolation(err) {
			logging.StoreDebug("Project name %q already exists, refetching", p.Name)
			return s.getProjectByNameLocked(ctx, p.Name)
		}
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// GetProjectByName fetches a project by its (unique) name.
func (s *PPMStore) GetProjectByName(ctx context.Context, name string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProjectByNameLocked(ctx, name)
}

func (s *PPMStore) getProjectByNameLocked(ctx context.Context, name string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, projectSelect+" WHERE name = ?", name)
	return scanProject(row)
}

// GetProject fetches a project by id. Returns sql.ErrNoRows when absent.
func (s *PPMStore) GetProject(ctx context.Context, id string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, projectSelect+" WHERE id = ?", id)
	return scanProject(row)
}

const projectSelect = `
	SELECT id, portfolio_id, name, COALESCE(description, ''), status, priority,
	       budget, actual_cost, health, start_date, end_date,
	       COALESCE(team_members, '[]'), created_at, updated_at
	FROM projects`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*types.Project, error) {
	var p types.Project
	var status, health, members string
	var start, end sql.NullTime
	err := row.Scan(&p.ID, &p.PortfolioID, &p.Name, &p.Description, &status,
		&p.Priority, &p.Budget, &p.ActualCost, &health, &start, &end,
		&members, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = types.ProjectStatus(status)
	p.Health = types.HealthStatus(health)
	if start.Valid {
		p.StartDate = &start.Time
	}
	if end.Valid {
		p.EndDate = &end.Time
	}
	_ = json.Unmarshal([]byte(members), &p.TeamMembers)
	return &p, nil
}

// ListProjects returns projects, optionally filtered by ids.
func (s *PPMStore) ListProjects(ctx context.Context, ids ...string) ([]*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := projectSelect
	var args []interface{}
	if len(ids) > 0 {
		query += " WHERE id IN (" + placeholders(len(ids)) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListProjectNames fetches (id, name) for all projects in one query.
// Used by the project linker to preload its cache before an import loop.
func (s *PPMStore) ListProjectNames(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT name, id FROM projects")
	if err != nil {
		return nil, fmt.Errorf("failed to preload project names: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			continue
		}
		out[name] = id
	}
	return out, rows.Err()
}

// ProjectOrganizations maps every project id to its owning organization.
// Projects whose portfolio has no stored row (auto-created during import)
// belong to the default organization.
func (s *PPMStore) ProjectOrganizations(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, COALESCE(pf.organization_id, 'default')
		FROM projects p LEFT JOIN portfolios pf ON pf.id = p.portfolio_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to map project organizations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, org string
		if err := rows.Scan(&id, &org); err != nil {
			continue
		}
		out[id] = org
	}
	return out, rows.Err()
}

// UpdateProjectActualCost recomputes actual_cost from stored financial facts.
func (s *PPMStore) UpdateProjectActualCost(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET actual_cost = (SELECT COALESCE(SUM(amount), 0) FROM actuals WHERE project_id = ?),
		    updated_at = ?
		WHERE id = ?`,
		projectID, time.Now().UTC(), projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to update actual cost: %w", err)
	}
	return nil
}

// DeleteProject removes a project row. Embedding cleanup is the caller's
// responsibility (weak reference; must not block business operations).
func (s *PPMStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountEntities returns counts of projects, portfolios and resources.
// Feeds the deterministic context block of the RAG prompt.
func (s *PPMStore) CountEntities(ctx context.Context) (projects, portfolios, resources int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects").Scan(&projects); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count projects: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM portfolios").Scan(&portfolios); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count portfolios: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM resources").Scan(&resources); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count resources: %w", err)
	}
	return projects, portfolios, resources, nil
}

// placeholders returns "?, ?, ..., ?" of length n.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
