package authz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ppmcore/internal/apperr"
	"ppmcore/internal/cache"
	"ppmcore/internal/logging"
	"ppmcore/internal/store"
)

// Service resolves user permissions with a TTL cache in front of the store.
// Role mutations invalidate: assignment changes drop the affected user's
// entry, role-definition changes drop every permission entry.
type Service struct {
	store *store.PPMStore
	cache *cache.Cache
	ttl   time.Duration
}

// New builds a Service. ttl <= 0 falls back to five minutes.
func New(st *store.PPMStore, c *cache.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{store: st, cache: c, ttl: ttl}
}

func permKey(userID string) string { return "perm:" + userID }

// GetUserPermissions returns the union of permissions across the user's
// active roles. Users with no assignments get the viewer set.
func (s *Service) GetUserPermissions(ctx context.Context, userID string) ([]Permission, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id", "user id is required")
	}

	if cached, ok := s.cache.Get(permKey(userID)); ok {
		if perms, ok := cached.([]Permission); ok {
			return perms, nil
		}
	}

	lists, err := s.store.UserRolePermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions for %s: %w", userID, err)
	}

	seen := make(map[Permission]bool)
	var perms []Permission
	for _, list := range lists {
		for _, p := range list {
			if !IsValid(p) {
				logging.AuthzDebug("skipping unknown permission %q for user %s", p, userID)
				continue
			}
			if !seen[Permission(p)] {
				seen[Permission(p)] = true
				perms = append(perms, Permission(p))
			}
		}
	}
	if len(lists) == 0 {
		perms = DefaultPermissionsFor("viewer")
		logging.AuthzDebug("user %s has no role assignments, using viewer fallback", userID)
	}

	s.cache.Set(permKey(userID), perms, s.ttl)
	return perms, nil
}

// HasPermission reports whether the user holds one permission.
func (s *Service) HasPermission(ctx context.Context, userID string, p Permission) (bool, error) {
	perms, err := s.GetUserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, have := range perms {
		if have == p {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyPermission reports whether the user holds at least one of the
// given permissions.
func (s *Service) HasAnyPermission(ctx context.Context, userID string, ps ...Permission) (bool, error) {
	perms, err := s.GetUserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	have := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		have[p] = true
	}
	for _, p := range ps {
		if have[p] {
			return true, nil
		}
	}
	return false, nil
}

// Require returns a Forbidden error when the user lacks the permission.
func (s *Service) Require(ctx context.Context, userID string, p Permission) error {
	ok, err := s.HasPermission(ctx, userID, p)
	if err != nil {
		return err
	}
	if !ok {
		logging.Authz("denied user=%s permission=%s", userID, p)
		return apperr.Forbidden(string(p))
	}
	return nil
}

// CreateRole validates the permission list and inserts the role. New roles
// cannot grant anything yet, but the global cache clear keeps behavior
// uniform with updates.
func (s *Service) CreateRole(ctx context.Context, r *store.RoleRow) error {
	if r.Name == "" {
		return apperr.Validation("name", "role name is required")
	}
	for _, p := range r.Permissions {
		if !IsValid(p) {
			return apperr.Validation("permissions", fmt.Sprintf("unknown permission: %s", p))
		}
	}
	if err := s.store.CreateRole(ctx, r); err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	s.cache.ClearPattern("perm:*")
	logging.Authz("role created: %s (%d permissions)", r.Name, len(r.Permissions))
	return nil
}

// UpdateRole rewrites a role definition and drops every cached permission
// set, since any user may hold the role.
func (s *Service) UpdateRole(ctx context.Context, r *store.RoleRow) error {
	for _, p := range r.Permissions {
		if !IsValid(p) {
			return apperr.Validation("permissions", fmt.Sprintf("unknown permission: %s", p))
		}
	}
	if err := s.store.UpdateRole(ctx, r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("role", r.ID)
		}
		return fmt.Errorf("failed to update role: %w", err)
	}
	s.cache.ClearPattern("perm:*")
	logging.Authz("role updated: %s", r.ID)
	return nil
}

// DeleteRole removes a role with its assignments and clears all cached
// permission sets.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	if err := s.store.DeleteRole(ctx, roleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("role", roleID)
		}
		return fmt.Errorf("failed to delete role: %w", err)
	}
	s.cache.ClearPattern("perm:*")
	logging.Authz("role deleted: %s", roleID)
	return nil
}

// AssignRole links a user to a role. The user's cached permissions are
// dropped so the grant is visible on the next check.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string) error {
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("role", roleID)
		}
		return fmt.Errorf("failed to load role: %w", err)
	}
	if err := s.store.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.cache.Delete(permKey(userID))
	logging.Authz("role %s assigned to user %s", roleID, userID)
	return nil
}

// RemoveRole unlinks a user from a role. The cached entry is dropped
// immediately so the revocation takes effect on the next check, not when
// the TTL runs out.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID string) error {
	if err := s.store.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.cache.Delete(permKey(userID))
	logging.Authz("role %s removed from user %s", roleID, userID)
	return nil
}

// EnsureDefaultRoles creates the built-in roles that are missing. Existing
// rows are left untouched so operator edits survive restarts.
func (s *Service) EnsureDefaultRoles(ctx context.Context) error {
	for _, name := range DefaultRoleNames() {
		perms := DefaultPermissionsFor(name)
		strs := make([]string, len(perms))
		for i, p := range perms {
			strs[i] = string(p)
		}
		err := s.store.CreateRole(ctx, &store.RoleRow{
			ID:          "role-" + name,
			Name:        name,
			Description: fmt.Sprintf("Built-in %s role", name),
			Permissions: strs,
			Active:      true,
		})
		if err != nil {
			// unique name or id means the role already exists
			if store.IsUniqueViolation(err) {
				continue
			}
			return fmt.Errorf("failed to seed role %s: %w", name, err)
		}
	}
	return nil
}
