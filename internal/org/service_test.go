package org

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"droneops-control/internal/auth"
	"droneops-control/internal/cache"
	"droneops-control/internal/fleet"
	"droneops-control/internal/store"
)

type env struct {
	store store.Store
	cache cache.Cache
	svc   *Service
	admin *auth.Principal
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := store.NewMemoryStore()
	c := cache.NewMemory()
	log := slog.New(slog.DiscardHandler)
	gate := auth.NewGate(s, auth.NewTokenIssuer("test", time.Hour), log)
	admin := &auth.Principal{UserID: uuid.NewString(), Email: "root@ops.test", Role: fleet.RoleSuperAdmin}
	now := time.Now().UTC()
	if err := s.CreateUser(context.Background(), &fleet.User{
		ID: admin.UserID, Email: admin.Email, PasswordHash: "x",
		Role: fleet.RoleSuperAdmin, IsActive: true, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	return &env{store: s, cache: c, svc: NewService(s, c, gate, log), admin: admin}
}

func (e *env) createOrg(t *testing.T) *fleet.Organization {
	t.Helper()
	org, err := e.svc.Create(context.Background(), e.admin, "acme", "test tenant")
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	return org
}

func (e *env) member(t *testing.T, orgID string, role fleet.Role) *auth.Principal {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	u := &fleet.User{ID: uuid.NewString(), Email: uuid.NewString() + "@acme.test",
		PasswordHash: "x", Role: fleet.RoleViewer, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := e.store.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	m := &fleet.Membership{UserID: u.ID, OrganizationID: orgID, Role: role, CreatedAt: now}
	if err := e.store.CreateMembership(ctx, m); err != nil {
		t.Fatal(err)
	}
	return &auth.Principal{UserID: u.ID, Email: u.Email, Role: u.Role, Memberships: []*fleet.Membership{m}}
}

func TestOrgCreateRequiresSuperAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	org := e.createOrg(t)
	mod := e.member(t, org.ID, fleet.RoleModerator)

	if _, err := e.svc.Create(ctx, mod, "rogue", ""); fleet.KindOf(err) != fleet.KindForbidden {
		t.Errorf("moderator create: err = %v, want forbidden", err)
	}
	if _, err := e.svc.List(ctx, mod); fleet.KindOf(err) != fleet.KindForbidden {
		t.Errorf("moderator list-all: err = %v, want forbidden", err)
	}
	all, err := e.svc.List(ctx, e.admin)
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("orgs = %d, want 1", len(all))
	}
}

func TestOrgDeleteGuard(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	org := e.createOrg(t)
	op := e.member(t, org.ID, fleet.RoleOperator)

	now := time.Now().UTC()
	site := &fleet.Site{ID: uuid.NewString(), OrganizationID: org.ID, Name: "field",
		Latitude: 48, Longitude: 16, IsActive: true, CreatedAt: now, UpdatedAt: now}
	drone := &fleet.Drone{ID: uuid.NewString(), OrganizationID: org.ID, Name: "falcon",
		Status: fleet.DroneAvailable, BatteryLevel: 90, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := e.store.CreateSite(ctx, site); err != nil {
		t.Fatal(err)
	}
	if err := e.store.CreateDrone(ctx, drone); err != nil {
		t.Fatal(err)
	}
	m := &fleet.Mission{ID: uuid.NewString(), OrganizationID: org.ID, DroneID: drone.ID, SiteID: site.ID,
		Name: "survey", Status: fleet.MissionPlanned, Priority: 1, OverlapPercentage: 70,
		CreatedByID: op.UserID, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := e.store.CreateMission(ctx, m, nil); err != nil {
		t.Fatal(err)
	}

	if err := e.svc.Delete(ctx, e.admin, org.ID); fleet.KindOf(err) != fleet.KindConflict {
		t.Errorf("delete with active mission: err = %v, want conflict", err)
	}
	if err := e.store.AbortMission(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	if err := e.svc.Delete(ctx, e.admin, org.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.svc.Get(ctx, e.admin, org.ID); fleet.KindOf(err) != fleet.KindNotFound {
		t.Errorf("deleted org get: err = %v, want not_found", err)
	}
}

func TestUserProvisioningAndToggle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	org := e.createOrg(t)
	mod := e.member(t, org.ID, fleet.RoleModerator)

	u, err := e.svc.CreateUser(ctx, mod, org.ID, CreateUserInput{
		Email: "pilot@acme.test", Password: "s3cret-enough", FirstName: "Ada", Role: fleet.RoleOperator,
	})
	if err != nil {
		t.Fatalf("provision user: %v", err)
	}
	if u.Role != fleet.RoleViewer {
		t.Errorf("global role = %s, want VIEWER (tenant role lives on the membership)", u.Role)
	}
	membership, err := e.store.GetMembership(ctx, u.ID, org.ID)
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if membership.Role != fleet.RoleOperator {
		t.Errorf("membership role = %s, want OPERATOR", membership.Role)
	}

	users, err := e.svc.Users(ctx, mod, org.ID)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(users) != 2 { // moderator + pilot
		t.Errorf("users = %d, want 2", len(users))
	}

	toggled, err := e.svc.ToggleUserStatus(ctx, mod, org.ID, u.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if toggled.IsActive {
		t.Error("user still active after toggle")
	}
	if _, err := e.svc.ToggleUserStatus(ctx, mod, org.ID, mod.UserID); fleet.KindOf(err) != fleet.KindConflict {
		t.Errorf("self toggle: err = %v, want conflict", err)
	}
}

func TestLastSuperAdminGuard(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	org := e.createOrg(t)
	owner := e.member(t, org.ID, fleet.RoleSuperAdmin)
	mod := e.member(t, org.ID, fleet.RoleModerator)

	if err := e.svc.RemoveMember(ctx, mod, org.ID, owner.UserID); fleet.KindOf(err) != fleet.KindConflict {
		t.Errorf("remove only super admin: err = %v, want conflict", err)
	}
	if err := e.svc.UpdateMemberRole(ctx, mod, org.ID, owner.UserID, fleet.RoleViewer); fleet.KindOf(err) != fleet.KindConflict {
		t.Errorf("demote only super admin: err = %v, want conflict", err)
	}

	second := e.member(t, org.ID, fleet.RoleSuperAdmin)
	if err := e.svc.RemoveMember(ctx, mod, org.ID, owner.UserID); err != nil {
		t.Fatalf("remove with another super admin present: %v", err)
	}
	_ = second
}

func TestSiteLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	org := e.createOrg(t)
	op := e.member(t, org.ID, fleet.RoleOperator)
	mod := e.member(t, org.ID, fleet.RoleModerator)

	name, lat, lon, alt := "north field", 48.2, 16.3, 150.0
	site, err := e.svc.CreateSite(ctx, op, org.ID, SiteInput{Name: &name, Latitude: &lat, Longitude: &lon, Altitude: &alt})
	if err != nil {
		t.Fatalf("create site: %v", err)
	}

	badLat := 95.0
	if _, err := e.svc.UpdateSite(ctx, op, site.ID, SiteInput{Latitude: &badLat}); fleet.KindOf(err) != fleet.KindValidation {
		t.Errorf("bad latitude: err = %v, want validation", err)
	}

	// operator cannot delete
	if err := e.svc.DeleteSite(ctx, op, site.ID); fleet.KindOf(err) != fleet.KindForbidden {
		t.Errorf("operator delete: err = %v, want forbidden", err)
	}
	if err := e.svc.DeleteSite(ctx, mod, site.ID); err != nil {
		t.Fatalf("delete site: %v", err)
	}
	if _, err := e.svc.GetSite(ctx, mod, site.ID); fleet.KindOf(err) != fleet.KindNotFound {
		t.Errorf("deleted site: err = %v, want not_found", err)
	}
}

func TestStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	org := e.createOrg(t)
	op := e.member(t, org.ID, fleet.RoleOperator)

	now := time.Now().UTC().Truncate(time.Second)
	site := &fleet.Site{ID: uuid.NewString(), OrganizationID: org.ID, Name: "field",
		Latitude: 48, Longitude: 16, IsActive: true, CreatedAt: now, UpdatedAt: now}
	drone := &fleet.Drone{ID: uuid.NewString(), OrganizationID: org.ID, Name: "falcon",
		Status: fleet.DroneAvailable, BatteryLevel: 90, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := e.store.CreateSite(ctx, site); err != nil {
		t.Fatal(err)
	}
	if err := e.store.CreateDrone(ctx, drone); err != nil {
		t.Fatal(err)
	}
	started := now.Add(-40 * time.Minute)
	done := now.Add(-10 * time.Minute)
	m := &fleet.Mission{ID: uuid.NewString(), OrganizationID: org.ID, DroneID: drone.ID, SiteID: site.ID,
		Name: "survey", Status: fleet.MissionCompleted, Priority: 1, OverlapPercentage: 70,
		StartedAt: &started, CompletedAt: &done,
		CreatedByID: op.UserID, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := e.store.CreateMission(ctx, m, nil); err != nil {
		t.Fatal(err)
	}

	stats, err := e.svc.GetStats(ctx, op, org.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalDrones != 1 || stats.AvailableDrones != 1 || stats.TotalSites != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TotalMissions != 1 || stats.CompletedMissions != 1 {
		t.Errorf("mission counts = %+v", stats)
	}
	if stats.AvgMissionDurationMins < 29.9 || stats.AvgMissionDurationMins > 30.1 {
		t.Errorf("avg duration = %v, want ~30", stats.AvgMissionDurationMins)
	}
	if stats.Members != 1 {
		t.Errorf("members = %d, want 1", stats.Members)
	}
}
