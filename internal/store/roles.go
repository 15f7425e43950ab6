package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RoleRow is the stored shape of a role; permissions are a JSON string list.
type RoleRow struct {
	ID          string
	Name        string
	Description string
	Permissions []string
	Active      bool
}

// CreateRole inserts a role definition.
func (s *PPMStore) CreateRole(ctx context.Context, r *RoleRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	perms, _ := json.Marshal(r.Permissions)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO roles (id, name, description, permissions, active) VALUES (?, ?, ?, ?, ?)",
		r.ID, r.Name, r.Description, string(perms), boolToInt(r.Active))
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// UpdateRole rewrites a role definition.
func (s *PPMStore) UpdateRole(ctx context.Context, r *RoleRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	perms, _ := json.Marshal(r.Permissions)
	res, err := s.db.ExecContext(ctx,
		"UPDATE roles SET name = ?, description = ?, permissions = ?, active = ? WHERE id = ?",
		r.Name, r.Description, string(perms), boolToInt(r.Active), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteRole removes a role and its assignments.
func (s *PPMStore) DeleteRole(ctx context.Context, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM user_roles WHERE role_id = ?", roleID); err != nil {
		return fmt.Errorf("failed to delete role assignments: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM roles WHERE id = ?", roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// GetRole fetches one role by id.
func (s *PPMStore) GetRole(ctx context.Context, roleID string) (*RoleRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r RoleRow
	var perms string
	var active int
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, COALESCE(description, ''), permissions, active FROM roles WHERE id = ?",
		roleID).Scan(&r.ID, &r.Name, &r.Description, &perms, &active)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(perms), &r.Permissions)
	r.Active = active != 0
	return &r, nil
}

// AssignRole links a user to a role; repeated assignment is a no-op.
func (s *PPMStore) AssignRole(ctx context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_roles (user_id, role_id) VALUES (?, ?)", userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RemoveRole unlinks a user from a role.
func (s *PPMStore) RemoveRole(ctx context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM user_roles WHERE user_id = ? AND role_id = ?", userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// UserRolePermissions returns the permission lists of every active role
// assigned to the user, read with a single join.
func (s *PPMStore) UserRolePermissions(ctx context.Context, userID string) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.permissions
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = ? AND r.active = 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var perms string
		if err := rows.Scan(&perms); err != nil {
			continue
		}
		var list []string
		if err := json.Unmarshal([]byte(perms), &list); err != nil {
			continue
		}
		out = append(out, list)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
