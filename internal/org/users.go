package org

import (
	"context"
	"net/mail"

	"github.com/google/uuid"

	"droneops-control/internal/auth"
	"droneops-control/internal/cache"
	"droneops-control/internal/fleet"
	"droneops-control/internal/metrics"
)

// CreateUserInput provisions an account directly into an organization.
type CreateUserInput struct {
	Email     string     `json:"email"`
	Password  string     `json:"password"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Role      fleet.Role `json:"role"`
}

// CreateUser creates an account and its membership in one go. The admin
// registration path; self-service signup lives in the auth service.
func (s *Service) CreateUser(ctx context.Context, p *auth.Principal, organizationID string, in CreateUserInput) (*fleet.User, error) {
	if err := s.gate.RequireRole(p, organizationID, manageRoles...); err != nil {
		return nil, err
	}
	var v fleet.Violations
	if _, err := mail.ParseAddress(in.Email); err != nil {
		v.Check(false, "email", "must be a valid email address")
	}
	v.Check(len(in.Password) >= 8, "password", "must be at least 8 characters")
	v.Check(fleet.ValidRole(in.Role), "role", "unknown role")
	if err := v.Err(); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fleet.Internalf("hash password: %v", err)
	}
	now := s.now().UTC()
	u := &fleet.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         fleet.RoleViewer,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	if err := s.store.CreateMembership(ctx, &fleet.Membership{
		UserID: u.ID, OrganizationID: organizationID, Role: in.Role, CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	cache.InvalidateUser(ctx, s.cache, u.ID, organizationID)
	s.log.Info("user provisioned", "user_id", u.ID, "organization_id", organizationID, "role", in.Role)
	return u, nil
}

// Users lists the organization's members.
func (s *Service) Users(ctx context.Context, p *auth.Principal, organizationID string) ([]*fleet.User, error) {
	if err := s.gate.RequireOrganization(p, organizationID); err != nil {
		return nil, err
	}
	key := cache.UsersKey(organizationID)
	var cached []*fleet.User
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	out, err := s.store.ListUsersByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, key, out, cache.ListTTL)
	return out, nil
}

// UpdateUserInput patches profile fields. Nil fields are unchanged.
type UpdateUserInput struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// UpdateUser edits a member's profile within the caller's organization.
func (s *Service) UpdateUser(ctx context.Context, p *auth.Principal, organizationID, userID string, in UpdateUserInput) (*fleet.User, error) {
	u, err := s.authorizeMember(ctx, p, organizationID, userID, manageRoles)
	if err != nil {
		return nil, err
	}
	if in.FirstName != nil {
		u.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		u.LastName = *in.LastName
	}
	u.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	cache.InvalidateUser(ctx, s.cache, u.ID, organizationID)
	return u, nil
}

// ToggleUserStatus flips a member's active flag. Deactivated accounts cannot
// log in and their live tokens stop authenticating.
func (s *Service) ToggleUserStatus(ctx context.Context, p *auth.Principal, organizationID, userID string) (*fleet.User, error) {
	u, err := s.authorizeMember(ctx, p, organizationID, userID, manageRoles)
	if err != nil {
		return nil, err
	}
	if u.ID == p.UserID {
		return nil, fleet.Conflictf("cannot deactivate your own account")
	}
	u.IsActive = !u.IsActive
	u.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	cache.InvalidateUser(ctx, s.cache, u.ID, organizationID)
	s.log.Info("user status toggled", "user_id", u.ID, "is_active", u.IsActive)
	return u, nil
}

// DeleteUser permanently deactivates an account. Super admin only.
func (s *Service) DeleteUser(ctx context.Context, p *auth.Principal, userID string) error {
	if err := s.gate.RequireSuperAdmin(p); err != nil {
		return err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	u.IsActive = false
	u.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	memberships, err := s.store.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, m := range memberships {
		cache.InvalidateUser(ctx, s.cache, userID, m.OrganizationID)
	}
	cache.InvalidateUser(ctx, s.cache, userID, "")
	s.log.Info("user deleted", "user_id", userID)
	return nil
}

// AddMember links an existing user to the organization.
func (s *Service) AddMember(ctx context.Context, p *auth.Principal, organizationID, userID string, role fleet.Role) (*fleet.Membership, error) {
	if err := s.gate.RequireRole(p, organizationID, manageRoles...); err != nil {
		return nil, err
	}
	var v fleet.Violations
	v.Check(fleet.ValidRole(role), "role", "unknown role")
	if err := v.Err(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	m := &fleet.Membership{
		UserID:         userID,
		OrganizationID: organizationID,
		Role:           role,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateMembership(ctx, m); err != nil {
		return nil, err
	}
	cache.InvalidateUser(ctx, s.cache, userID, organizationID)
	return m, nil
}

// UpdateMemberRole changes a member's tenant-scoped role.
func (s *Service) UpdateMemberRole(ctx context.Context, p *auth.Principal, organizationID, userID string, role fleet.Role) error {
	if err := s.gate.RequireRole(p, organizationID, manageRoles...); err != nil {
		return err
	}
	var v fleet.Violations
	v.Check(fleet.ValidRole(role), "role", "unknown role")
	if err := v.Err(); err != nil {
		return err
	}
	current, err := s.store.GetMembership(ctx, userID, organizationID)
	if err != nil {
		return err
	}
	if current.Role == fleet.RoleSuperAdmin && role != fleet.RoleSuperAdmin {
		if err := s.requireAnotherSuperAdmin(ctx, organizationID, userID); err != nil {
			return err
		}
	}
	if err := s.store.UpdateMembershipRole(ctx, userID, organizationID, role); err != nil {
		return err
	}
	cache.InvalidateUser(ctx, s.cache, userID, organizationID)
	return nil
}

// RemoveMember unlinks a user from the organization. The last super admin of
// an organization cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, p *auth.Principal, organizationID, userID string) error {
	if err := s.gate.RequireRole(p, organizationID, manageRoles...); err != nil {
		return err
	}
	m, err := s.store.GetMembership(ctx, userID, organizationID)
	if err != nil {
		return err
	}
	if m.Role == fleet.RoleSuperAdmin {
		if err := s.requireAnotherSuperAdmin(ctx, organizationID, userID); err != nil {
			return err
		}
	}
	if err := s.store.DeleteMembership(ctx, userID, organizationID); err != nil {
		return err
	}
	cache.InvalidateUser(ctx, s.cache, userID, organizationID)
	return nil
}

func (s *Service) requireAnotherSuperAdmin(ctx context.Context, organizationID, excludeUserID string) error {
	members, err := s.store.ListMembershipsByOrganization(ctx, organizationID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.Role == fleet.RoleSuperAdmin && m.UserID != excludeUserID {
			return nil
		}
	}
	return fleet.Conflictf("cannot remove the only super admin from the organization")
}

// authorizeMember resolves a user who must be a member of organizationID and
// checks the caller's role there.
func (s *Service) authorizeMember(ctx context.Context, p *auth.Principal, organizationID, userID string, roles []fleet.Role) (*fleet.User, error) {
	if err := s.gate.RequireRole(p, organizationID, roles...); err != nil {
		return nil, err
	}
	if _, err := s.store.GetMembership(ctx, userID, organizationID); err != nil {
		if fleet.KindOf(err) == fleet.KindNotFound {
			return nil, fleet.NotFound("user")
		}
		return nil, err
	}
	return s.store.GetUser(ctx, userID)
}
