package auth

import (
	"context"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"droneops-control/internal/fleet"
	"droneops-control/internal/store"
)

// Session is the result of a successful register or login.
type Session struct {
	Token string      `json:"token"`
	User  *fleet.User `json:"user"`
}

// Service implements the account operations: register, login, password
// change, and the caller's own profile.
type Service struct {
	store  store.Store
	tokens *TokenIssuer
	log    *slog.Logger
	now    func() time.Time
}

func NewService(s store.Store, tokens *TokenIssuer, log *slog.Logger) *Service {
	return &Service{store: s, tokens: tokens, log: log, now: time.Now}
}

// Register creates a new account with the default VIEWER role and returns a
// live session for it.
func (s *Service) Register(ctx context.Context, email, password, firstName, lastName string) (*Session, error) {
	var v fleet.Violations
	if _, err := mail.ParseAddress(email); err != nil {
		v.Check(false, "email", "must be a valid email address")
	}
	v.Check(len(password) >= 8, "password", "must be at least 8 characters")
	if err := v.Err(); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fleet.Internalf("hash password: %v", err)
	}
	now := s.now().UTC()
	u := &fleet.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         fleet.RoleViewer,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	token, err := s.tokens.Issue(u)
	if err != nil {
		return nil, fleet.Internalf("issue token: %v", err)
	}
	s.log.Info("user registered", "user_id", u.ID, "email", u.Email)
	return &Session{Token: token, User: u}, nil
}

// Login verifies credentials and issues a token. Bad email and bad password
// are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fleet.Unauthenticated()
	}
	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil || !ok {
		return nil, fleet.Unauthenticated()
	}
	if !u.IsActive {
		return nil, fleet.Unauthenticated()
	}
	now := s.now().UTC()
	u.LastLogin = &now
	u.UpdatedAt = now
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, err
	}
	token, err := s.tokens.Issue(u)
	if err != nil {
		return nil, fleet.Internalf("issue token: %v", err)
	}
	s.log.Info("user logged in", "user_id", u.ID)
	return &Session{Token: token, User: u}, nil
}

// ChangePassword swaps the caller's password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, p *Principal, current, next string) error {
	var v fleet.Violations
	v.Check(len(next) >= 8, "new_password", "must be at least 8 characters")
	if err := v.Err(); err != nil {
		return err
	}
	u, err := s.store.GetUser(ctx, p.UserID)
	if err != nil {
		return err
	}
	ok, err := VerifyPassword(current, u.PasswordHash)
	if err != nil || !ok {
		return fleet.Forbidden("current password is incorrect")
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fleet.Internalf("hash password: %v", err)
	}
	u.PasswordHash = hash
	u.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.log.Info("password changed", "user_id", u.ID)
	return nil
}

// Me returns the caller's own user record.
func (s *Service) Me(ctx context.Context, p *Principal) (*fleet.User, error) {
	return s.store.GetUser(ctx, p.UserID)
}

// MyOrganizations lists the organizations the caller belongs to. Super admins
// see every organization.
func (s *Service) MyOrganizations(ctx context.Context, p *Principal) ([]*fleet.Organization, error) {
	if p.IsSuperAdmin() {
		return s.store.ListOrganizations(ctx)
	}
	var out []*fleet.Organization
	for _, m := range p.Memberships {
		org, err := s.store.GetOrganization(ctx, m.OrganizationID)
		if err != nil {
			if fleet.KindOf(err) == fleet.KindNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, org)
	}
	return out, nil
}
