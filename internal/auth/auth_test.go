package auth

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"droneops-control/internal/fleet"
	"droneops-control/internal/store"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash = %q, want PHC argon2id format", hash)
	}

	ok, err := VerifyPassword("correct horse battery", hash)
	if err != nil || !ok {
		t.Fatalf("verify correct password: ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword("wrong", hash)
	if err != nil || ok {
		t.Fatalf("verify wrong password: ok=%v err=%v", ok, err)
	}
	if _, err := VerifyPassword("x", "$plaintext$oops"); err == nil {
		t.Fatal("malformed hash accepted")
	}
}

func TestTokenIssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	u := &fleet.User{ID: uuid.NewString(), Email: "a@b.test", Role: fleet.RoleOperator}

	token, err := issuer.Issue(u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != u.ID || claims.Role != fleet.RoleOperator {
		t.Errorf("claims = %+v", claims)
	}

	// wrong secret
	other := NewTokenIssuer("other-secret", time.Hour)
	if _, err := other.Verify(token); fleet.KindOf(err) != fleet.KindUnauthenticated {
		t.Errorf("foreign secret: err = %v, want unauthenticated", err)
	}

	// expired
	expired := NewTokenIssuer("test-secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	oldToken, err := expired.Issue(u)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	if _, err := issuer.Verify(oldToken); fleet.KindOf(err) != fleet.KindUnauthenticated {
		t.Errorf("expired token: err = %v, want unauthenticated", err)
	}
}

func TestRegisterThenLogin(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	issuer := NewTokenIssuer("test-secret", time.Hour)
	svc := NewService(s, issuer, discard())

	sess, err := svc.Register(ctx, "pilot@acme.test", "s3cret-enough", "Ada", "Pilot")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if sess.User.Role != fleet.RoleViewer {
		t.Errorf("role = %s, want VIEWER", sess.User.Role)
	}
	if sess.Token == "" {
		t.Error("no token issued")
	}

	if _, err := svc.Register(ctx, "pilot@acme.test", "s3cret-enough", "", ""); fleet.KindOf(err) != fleet.KindConflict {
		t.Errorf("duplicate register: err = %v, want conflict", err)
	}
	if _, err := svc.Register(ctx, "not-an-email", "s3cret-enough", "", ""); fleet.KindOf(err) != fleet.KindValidation {
		t.Errorf("bad email: err = %v, want validation", err)
	}
	if _, err := svc.Register(ctx, "ok@acme.test", "short", "", ""); fleet.KindOf(err) != fleet.KindValidation {
		t.Errorf("short password: err = %v, want validation", err)
	}

	login, err := svc.Login(ctx, "pilot@acme.test", "s3cret-enough")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.User.LastLogin == nil {
		t.Error("last_login not stamped")
	}

	if _, err := svc.Login(ctx, "pilot@acme.test", "wrong"); fleet.KindOf(err) != fleet.KindUnauthenticated {
		t.Errorf("bad password: err = %v, want unauthenticated", err)
	}
	if _, err := svc.Login(ctx, "nobody@acme.test", "whatever"); fleet.KindOf(err) != fleet.KindUnauthenticated {
		t.Errorf("unknown email: err = %v, want unauthenticated", err)
	}
}

func TestLoginRejectsDeactivatedAccount(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	svc := NewService(s, NewTokenIssuer("test-secret", time.Hour), discard())

	sess, err := svc.Register(ctx, "gone@acme.test", "s3cret-enough", "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	sess.User.IsActive = false
	if err := s.UpdateUser(ctx, sess.User); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Login(ctx, "gone@acme.test", "s3cret-enough"); fleet.KindOf(err) != fleet.KindUnauthenticated {
		t.Errorf("deactivated login: err = %v, want unauthenticated", err)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	issuer := NewTokenIssuer("test-secret", time.Hour)
	svc := NewService(s, issuer, discard())

	sess, err := svc.Register(ctx, "pilot@acme.test", "old-password-1", "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	p := &Principal{UserID: sess.User.ID, Email: sess.User.Email, Role: sess.User.Role}

	if err := svc.ChangePassword(ctx, p, "wrong", "new-password-1"); fleet.KindOf(err) != fleet.KindForbidden {
		t.Errorf("wrong current password: err = %v, want forbidden", err)
	}
	if err := svc.ChangePassword(ctx, p, "old-password-1", "new-password-1"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := svc.Login(ctx, "pilot@acme.test", "old-password-1"); fleet.KindOf(err) != fleet.KindUnauthenticated {
		t.Error("old password still accepted")
	}
	if _, err := svc.Login(ctx, "pilot@acme.test", "new-password-1"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}

func TestGateAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	issuer := NewTokenIssuer("test-secret", time.Hour)
	svc := NewService(s, issuer, discard())
	gate := NewGate(s, issuer, discard())

	sess, err := svc.Register(ctx, "pilot@acme.test", "s3cret-enough", "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	now := time.Now().UTC()
	org := &fleet.Organization{ID: uuid.NewString(), Name: "acme", IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("create org: %v", err)
	}
	if err := s.CreateMembership(ctx, &fleet.Membership{
		UserID: sess.User.ID, OrganizationID: org.ID, Role: fleet.RoleOperator, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create membership: %v", err)
	}

	p, err := gate.Authenticate(ctx, sess.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.UserID != sess.User.ID || len(p.Memberships) != 1 {
		t.Errorf("principal = %+v", p)
	}

	if _, err := gate.Authenticate(ctx, "garbage"); fleet.KindOf(err) != fleet.KindUnauthenticated {
		t.Errorf("garbage token: err = %v, want unauthenticated", err)
	}

	// token outlives account deactivation
	sess.User.IsActive = false
	if err := s.UpdateUser(ctx, sess.User); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := gate.Authenticate(ctx, sess.Token); fleet.KindOf(err) != fleet.KindUnauthenticated {
		t.Errorf("deactivated account: err = %v, want unauthenticated", err)
	}
}

func TestRoleChecks(t *testing.T) {
	gate := NewGate(store.NewMemoryStore(), NewTokenIssuer("x", time.Hour), discard())
	orgID := uuid.NewString()

	operator := &Principal{
		UserID: uuid.NewString(), Role: fleet.RoleViewer,
		Memberships: []*fleet.Membership{{UserID: "u", OrganizationID: orgID, Role: fleet.RoleOperator}},
	}
	admin := &Principal{UserID: uuid.NewString(), Role: fleet.RoleSuperAdmin}
	outsider := &Principal{UserID: uuid.NewString(), Role: fleet.RoleViewer}

	if err := gate.RequireRole(operator, orgID, fleet.RoleModerator, fleet.RoleOperator); err != nil {
		t.Errorf("operator in matrix: %v", err)
	}
	if err := gate.RequireRole(operator, orgID, fleet.RoleModerator); fleet.KindOf(err) != fleet.KindForbidden {
		t.Errorf("operator outside matrix: err = %v, want forbidden", err)
	}
	// super admin passes every tenant-scoped check without a membership
	if err := gate.RequireRole(admin, orgID, fleet.RoleModerator); err != nil {
		t.Errorf("super admin: %v", err)
	}
	if err := gate.RequireRole(outsider, orgID, fleet.RoleOperator); fleet.KindOf(err) != fleet.KindForbidden {
		t.Errorf("outsider: err = %v, want forbidden", err)
	}
	if err := gate.RequireOrganization(outsider, orgID); fleet.KindOf(err) != fleet.KindForbidden {
		t.Errorf("outsider org check: err = %v, want forbidden", err)
	}
	if err := gate.RequireSuperAdmin(operator); fleet.KindOf(err) != fleet.KindForbidden {
		t.Errorf("non-admin super check: err = %v, want forbidden", err)
	}
}
