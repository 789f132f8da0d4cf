package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"droneops-control/internal/auth"
	"droneops-control/internal/cache"
	"droneops-control/internal/fleet"
	"droneops-control/internal/store"
)

type captureWriter struct {
	mu   sync.Mutex
	rows []fleet.FlightLogEntry
	done chan struct{}
}

func newCaptureWriter(n int) *captureWriter {
	return &captureWriter{done: make(chan struct{}, n)}
}

func (w *captureWriter) Write(row fleet.FlightLogEntry) error {
	w.mu.Lock()
	w.rows = append(w.rows, row)
	w.mu.Unlock()
	w.done <- struct{}{}
	return nil
}

type env struct {
	store    store.Store
	ingest   *Ingest
	writer   *captureWriter
	mission  *fleet.Mission
	drone    *fleet.Drone
	operator *auth.Principal
	outsider *auth.Principal
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := cache.NewMemory()
	log := slog.New(slog.DiscardHandler)
	gate := auth.NewGate(s, auth.NewTokenIssuer("test", time.Hour), log)
	now := time.Now().UTC().Truncate(time.Second)

	org := &fleet.Organization{ID: uuid.NewString(), Name: "acme", IsActive: true, CreatedAt: now, UpdatedAt: now}
	user := &fleet.User{ID: uuid.NewString(), Email: "ops@acme.test", PasswordHash: "x",
		Role: fleet.RoleViewer, IsActive: true, CreatedAt: now, UpdatedAt: now}
	site := &fleet.Site{ID: uuid.NewString(), OrganizationID: org.ID, Name: "field",
		Latitude: 48, Longitude: 16, IsActive: true, CreatedAt: now, UpdatedAt: now}
	drone := &fleet.Drone{ID: uuid.NewString(), OrganizationID: org.ID, Name: "falcon",
		Status: fleet.DroneAvailable, BatteryLevel: 90, IsActive: true, CreatedAt: now, UpdatedAt: now}
	for _, step := range []func() error{
		func() error { return s.CreateOrganization(ctx, org) },
		func() error { return s.CreateUser(ctx, user) },
		func() error { return s.CreateSite(ctx, site) },
		func() error { return s.CreateDrone(ctx, drone) },
		func() error {
			return s.CreateMembership(ctx, &fleet.Membership{
				UserID: user.ID, OrganizationID: org.ID, Role: fleet.RoleOperator, CreatedAt: now,
			})
		},
	} {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}
	m := &fleet.Mission{ID: uuid.NewString(), OrganizationID: org.ID, DroneID: drone.ID, SiteID: site.ID,
		Name: "survey", Status: fleet.MissionPlanned, Priority: 1, OverlapPercentage: 70,
		CreatedByID: user.ID, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateMission(ctx, m, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.StartMission(ctx, m.ID, now); err != nil {
		t.Fatal(err)
	}

	w := newCaptureWriter(8)
	return &env{
		store:   s,
		ingest:  NewIngest(s, c, gate, w, log),
		writer:  w,
		mission: m,
		drone:   drone,
		operator: &auth.Principal{UserID: user.ID, Role: fleet.RoleViewer,
			Memberships: []*fleet.Membership{{UserID: user.ID, OrganizationID: org.ID, Role: fleet.RoleOperator}}},
		outsider: &auth.Principal{UserID: uuid.NewString(), Role: fleet.RoleViewer},
	}
}

func TestAppendPersistsAndFansOut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	heading := 270.0
	entry, err := e.ingest.Append(ctx, e.operator, Row{
		MissionID: e.mission.ID, DroneID: e.drone.ID,
		Latitude: 48.2, Longitude: 16.4, Altitude: 120, Speed: 14, BatteryLevel: 77,
		Heading: &heading,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.Timestamp.IsZero() {
		t.Error("timestamp not assigned")
	}

	// atomic side effect on the drone's live state
	d, err := e.store.GetDrone(ctx, e.drone.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Position == nil || d.Position.Lat != 48.2 || d.BatteryLevel != 77 {
		t.Errorf("drone live state = pos %+v battery %v", d.Position, d.BatteryLevel)
	}

	// detached sink delivery
	select {
	case <-e.writer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received the row")
	}
	e.writer.mu.Lock()
	defer e.writer.mu.Unlock()
	if len(e.writer.rows) != 1 || e.writer.rows[0].ID != entry.ID {
		t.Errorf("sink rows = %+v", e.writer.rows)
	}
}

func TestAppendValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// wrong drone for the mission
	if _, err := e.ingest.Append(ctx, e.operator, Row{
		MissionID: e.mission.ID, DroneID: uuid.NewString(),
		Latitude: 48, Longitude: 16, BatteryLevel: 50,
	}); fleet.KindOf(err) != fleet.KindValidation {
		t.Errorf("wrong drone: err = %v, want validation", err)
	}

	// out-of-range fields are collected
	bad := -5.0
	if _, err := e.ingest.Append(ctx, e.operator, Row{
		MissionID: e.mission.ID, DroneID: e.drone.ID,
		Latitude: 95, Longitude: 16, Altitude: -1, Speed: -2, BatteryLevel: 120,
		GPSAccuracy: &bad,
	}); fleet.KindOf(err) != fleet.KindValidation {
		t.Errorf("bad row: err = %v, want validation", err)
	}

	// finished missions take no more rows
	if err := e.store.CompleteMission(ctx, e.mission.ID, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ingest.Append(ctx, e.operator, Row{
		MissionID: e.mission.ID, DroneID: e.drone.ID,
		Latitude: 48, Longitude: 16, BatteryLevel: 50,
	}); fleet.KindOf(err) != fleet.KindValidation {
		t.Errorf("finished mission: err = %v, want validation", err)
	}
}

func TestAppendScope(t *testing.T) {
	e := newEnv(t)
	if _, err := e.ingest.Append(context.Background(), e.outsider, Row{
		MissionID: e.mission.ID, DroneID: e.drone.ID,
		Latitude: 48, Longitude: 16, BatteryLevel: 50,
	}); fleet.KindOf(err) != fleet.KindNotFound {
		t.Errorf("outsider append: err = %v, want not_found", err)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		if _, err := e.ingest.Append(ctx, e.operator, Row{
			MissionID: e.mission.ID, DroneID: e.drone.ID,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Latitude:  48, Longitude: 16, BatteryLevel: 50,
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	logs, err := e.ingest.Recent(ctx, e.operator, e.mission.ID, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	if !logs[0].Timestamp.After(logs[1].Timestamp) {
		t.Errorf("not newest-first: %v then %v", logs[0].Timestamp, logs[1].Timestamp)
	}
}

func TestMultiWriterFansOut(t *testing.T) {
	a := newCaptureWriter(1)
	b := newCaptureWriter(1)
	mw := NewMultiWriter(a, b)

	if err := mw.Write(fleet.FlightLogEntry{ID: "r1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, w := range []*captureWriter{a, b} {
		w.mu.Lock()
		if len(w.rows) != 1 {
			t.Errorf("writer rows = %d, want 1", len(w.rows))
		}
		w.mu.Unlock()
	}
}
