package drone

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
	store     store.Store
	cache     cache.Cache
	svc       *Service
	org       *fleet.Organization
	operator  *auth.Principal
	moderator *auth.Principal
	outsider  *auth.Principal
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := cache.NewMemory()
	log := slog.New(slog.DiscardHandler)
	gate := auth.NewGate(s, auth.NewTokenIssuer("test", time.Hour), log)
	now := time.Now().UTC().Truncate(time.Second)

	e := &env{
		store: s,
		cache: c,
		svc:   NewService(s, c, gate, log),
		org:   &fleet.Organization{ID: uuid.NewString(), Name: "acme", IsActive: true, CreatedAt: now, UpdatedAt: now},
	}
	if err := s.CreateOrganization(ctx, e.org); err != nil {
		t.Fatal(err)
	}
	e.operator = e.member(t, fleet.RoleOperator)
	e.moderator = e.member(t, fleet.RoleModerator)
	e.outsider = &auth.Principal{UserID: uuid.NewString(), Role: fleet.RoleViewer}
	return e
}

func (e *env) member(t *testing.T, role fleet.Role) *auth.Principal {
	t.Helper()
	now := time.Now().UTC()
	u := &fleet.User{ID: uuid.NewString(), Email: uuid.NewString() + "@acme.test",
		PasswordHash: "x", Role: fleet.RoleViewer, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	m := &fleet.Membership{UserID: u.ID, OrganizationID: e.org.ID, Role: role, CreatedAt: now}
	if err := e.store.CreateMembership(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	return &auth.Principal{UserID: u.ID, Role: u.Role, Memberships: []*fleet.Membership{m}}
}

func (e *env) register(t *testing.T, battery float64) *fleet.Drone {
	t.Helper()
	d, err := e.svc.Create(context.Background(), e.operator, CreateInput{
		OrganizationID: e.org.ID, Name: "falcon-" + uuid.NewString()[:8], Model: "X4", BatteryLevel: battery,
	})
	if err != nil {
		t.Fatalf("create drone: %v", err)
	}
	return d
}

func TestCreateAndGet(t *testing.T) {
	e := newEnv(t)
	d := e.register(t, 90)

	if d.Status != fleet.DroneAvailable {
		t.Errorf("status = %s, want AVAILABLE", d.Status)
	}
	got, err := e.svc.Get(context.Background(), e.operator, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != d.ID {
		t.Errorf("got %s", got.ID)
	}
	if _, err := e.svc.Get(context.Background(), e.outsider, d.ID); fleet.KindOf(err) != fleet.KindNotFound {
		t.Errorf("outsider get: err = %v, want not_found", err)
	}
}

func TestCreateValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.svc.Create(ctx, e.operator, CreateInput{
		OrganizationID: e.org.ID, Name: "", BatteryLevel: 120,
	}); fleet.KindOf(err) != fleet.KindValidation {
		t.Errorf("err = %v, want validation", err)
	}
	if _, err := e.svc.Create(ctx, e.outsider, CreateInput{
		OrganizationID: e.org.ID, Name: "x", BatteryLevel: 50,
	}); fleet.KindOf(err) != fleet.KindForbidden {
		t.Errorf("outsider create: err = %v, want forbidden", err)
	}
}

func TestAvailableListing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	full := e.register(t, 99)
	mid := e.register(t, 55)
	e.register(t, 10) // below dispatch floor

	low := e.register(t, 80)
	if _, err := e.svc.UpdateStatus(ctx, e.operator, low.ID, fleet.DroneMaintenance); err != nil {
		t.Fatalf("set maintenance: %v", err)
	}

	got, err := e.svc.Available(ctx, e.operator, e.org.ID)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(got) != 2 || got[0].ID != full.ID || got[1].ID != mid.ID {
		names := make([]string, len(got))
		for i, d := range got {
			names[i] = d.Name
		}
		t.Errorf("available = %v, want [full mid] battery-descending", names)
	}
}

func TestStatusGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.register(t, 90)

	if _, err := e.svc.UpdateStatus(ctx, e.operator, d.ID, fleet.DroneInMission); fleet.KindOf(err) != fleet.KindConflict {
		t.Errorf("manual IN_MISSION: err = %v, want conflict", err)
	}
	if _, err := e.svc.UpdateStatus(ctx, e.operator, d.ID, "FLYING"); fleet.KindOf(err) != fleet.KindValidation {
		t.Errorf("unknown status: err = %v, want validation", err)
	}

	// claim the drone through a mission, then try to move it by hand
	now := time.Now().UTC()
	site := &fleet.Site{ID: uuid.NewString(), OrganizationID: e.org.ID, Name: "field",
		Latitude: 48, Longitude: 16, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := e.store.CreateSite(ctx, site); err != nil {
		t.Fatal(err)
	}
	m := &fleet.Mission{ID: uuid.NewString(), OrganizationID: e.org.ID, DroneID: d.ID, SiteID: site.ID,
		Name: "survey", Status: fleet.MissionPlanned, Priority: 1, OverlapPercentage: 70,
		CreatedByID: e.operator.UserID, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := e.store.CreateMission(ctx, m, nil); err != nil {
		t.Fatal(err)
	}
	if err := e.store.StartMission(ctx, m.ID, now); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.UpdateStatus(ctx, e.operator, d.ID, fleet.DroneCharging); fleet.KindOf(err) != fleet.KindConflict {
		t.Errorf("move claimed drone: err = %v, want conflict", err)
	}
}

func TestTelemetryUpdates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.register(t, 90)

	got, err := e.svc.UpdateLocation(ctx, e.operator, d.ID, 48.2, 16.4, 120)
	if err != nil {
		t.Fatalf("update location: %v", err)
	}
	if got.Position == nil || got.Position.Lat != 48.2 {
		t.Errorf("position = %+v", got.Position)
	}
	if _, err := e.svc.UpdateLocation(ctx, e.operator, d.ID, 91, 0, 0); fleet.KindOf(err) != fleet.KindValidation {
		t.Errorf("bad latitude: err = %v, want validation", err)
	}

	got, err = e.svc.UpdateBattery(ctx, e.operator, d.ID, 42)
	if err != nil {
		t.Fatalf("update battery: %v", err)
	}
	if got.BatteryLevel != 42 {
		t.Errorf("battery = %v", got.BatteryLevel)
	}
	if _, err := e.svc.UpdateBattery(ctx, e.operator, d.ID, -1); fleet.KindOf(err) != fleet.KindValidation {
		t.Errorf("bad battery: err = %v, want validation", err)
	}
}

func TestDeleteGuard(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.register(t, 90)

	// operator lacks the manage role
	if err := e.svc.Delete(ctx, e.operator, d.ID); fleet.KindOf(err) != fleet.KindForbidden {
		t.Errorf("operator delete: err = %v, want forbidden", err)
	}

	now := time.Now().UTC()
	site := &fleet.Site{ID: uuid.NewString(), OrganizationID: e.org.ID, Name: "field",
		Latitude: 48, Longitude: 16, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := e.store.CreateSite(ctx, site); err != nil {
		t.Fatal(err)
	}
	m := &fleet.Mission{ID: uuid.NewString(), OrganizationID: e.org.ID, DroneID: d.ID, SiteID: site.ID,
		Name: "survey", Status: fleet.MissionPlanned, Priority: 1, OverlapPercentage: 70,
		CreatedByID: e.operator.UserID, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := e.store.CreateMission(ctx, m, nil); err != nil {
		t.Fatal(err)
	}

	if err := e.svc.Delete(ctx, e.moderator, d.ID); fleet.KindOf(err) != fleet.KindConflict {
		t.Errorf("delete referenced drone: err = %v, want conflict", err)
	}
	if err := e.store.AbortMission(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	if err := e.svc.Delete(ctx, e.moderator, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.svc.Get(ctx, e.moderator, d.ID); fleet.KindOf(err) != fleet.KindNotFound {
		t.Errorf("deleted drone get: err = %v, want not_found", err)
	}
}

func TestListCacheInvalidatedOnMutation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.register(t, 90)

	before, err := e.svc.List(ctx, e.operator, e.org.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(before) != 1 {
		t.Fatalf("before = %d", len(before))
	}
	e.register(t, 80)
	after, err := e.svc.List(ctx, e.operator, e.org.ID)
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("after = %d, want 2 (stale cache served)", len(after))
	}
}
