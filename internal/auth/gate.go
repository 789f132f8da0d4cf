// Package auth holds the authentication and authorization gate every exposed
// operation passes through before touching fleet state.
package auth

import (
	"context"
	"log/slog"

	"droneops-control/internal/fleet"
	"droneops-control/internal/store"
)

// Principal is the authenticated caller. Role is the global role from the
// user record; Memberships carry the tenant-scoped roles.
type Principal struct {
	UserID      string
	Email       string
	Role        fleet.Role
	Memberships []*fleet.Membership
}

// IsSuperAdmin reports whether the principal bypasses tenant scoping.
func (p *Principal) IsSuperAdmin() bool { return p.Role == fleet.RoleSuperAdmin }

// RoleIn returns the principal's effective role within an organization: the
// global role for super admins, otherwise the membership role. The second
// return is false when the principal has no standing in the organization.
func (p *Principal) RoleIn(organizationID string) (fleet.Role, bool) {
	if p.IsSuperAdmin() {
		return fleet.RoleSuperAdmin, true
	}
	for _, m := range p.Memberships {
		if m.OrganizationID == organizationID {
			return m.Role, true
		}
	}
	return "", false
}

// Gate authenticates bearer tokens and answers authorization questions.
type Gate struct {
	store  store.Store
	tokens *TokenIssuer
	log    *slog.Logger
}

func NewGate(s store.Store, tokens *TokenIssuer, log *slog.Logger) *Gate {
	return &Gate{store: s, tokens: tokens, log: log}
}

// Authenticate resolves a bearer token to a live principal. Deactivated
// accounts fail even when the token itself is still valid.
func (g *Gate) Authenticate(ctx context.Context, token string) (*Principal, error) {
	claims, err := g.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	u, err := g.store.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, fleet.Unauthenticated()
	}
	if !u.IsActive {
		g.log.Warn("rejected token for deactivated account", "user_id", u.ID)
		return nil, fleet.Unauthenticated()
	}
	memberships, err := g.store.ListMembershipsByUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: u.ID, Email: u.Email, Role: u.Role, Memberships: memberships}, nil
}

// RequireOrganization checks that the principal may act within the
// organization at all. Listing calls use this before any role check.
func (g *Gate) RequireOrganization(p *Principal, organizationID string) error {
	if _, ok := p.RoleIn(organizationID); !ok {
		return fleet.Forbidden("not a member of this organization")
	}
	return nil
}

// RequireRole checks that the principal's effective role within the
// organization is one of allowed. A principal with no standing in the
// organization is forbidden regardless of allowed.
func (g *Gate) RequireRole(p *Principal, organizationID string, allowed ...fleet.Role) error {
	role, ok := p.RoleIn(organizationID)
	if !ok {
		return fleet.Forbidden("not a member of this organization")
	}
	for _, want := range allowed {
		if role == want {
			return nil
		}
	}
	g.log.Debug("role check failed", "user_id", p.UserID, "organization_id", organizationID, "role", role)
	return fleet.Forbidden("insufficient role")
}

// RequireSuperAdmin gates the handful of global operations.
func (g *Gate) RequireSuperAdmin(p *Principal) error {
	if !p.IsSuperAdmin() {
		return fleet.Forbidden("super admin only")
	}
	return nil
}
