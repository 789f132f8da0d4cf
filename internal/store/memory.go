package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"droneops-control/internal/fleet"
)

// MemoryStore keeps all state behind one mutex, which makes every operation
// trivially serializable. Used by tests and as a no-database fallback.
type MemoryStore struct {
	mu          sync.Mutex
	orgs        map[string]*fleet.Organization
	users       map[string]*fleet.User
	memberships map[string]*fleet.Membership // key userID + "/" + orgID
	sites       map[string]*fleet.Site
	drones      map[string]*fleet.Drone
	missions    map[string]*fleet.Mission
	waypoints   map[string]*fleet.Waypoint
	flightLogs  []*fleet.FlightLogEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:        make(map[string]*fleet.Organization),
		users:       make(map[string]*fleet.User),
		memberships: make(map[string]*fleet.Membership),
		sites:       make(map[string]*fleet.Site),
		drones:      make(map[string]*fleet.Drone),
		missions:    make(map[string]*fleet.Mission),
		waypoints:   make(map[string]*fleet.Waypoint),
	}
}

func membershipKey(userID, orgID string) string { return userID + "/" + orgID }

func copyDrone(d *fleet.Drone) *fleet.Drone {
	c := *d
	if d.Position != nil {
		p := *d.Position
		c.Position = &p
	}
	return &c
}

func copyMission(m *fleet.Mission) *fleet.Mission {
	c := *m
	c.ScheduledAt = copyTime(m.ScheduledAt)
	c.StartedAt = copyTime(m.StartedAt)
	c.CompletedAt = copyTime(m.CompletedAt)
	return &c
}

func copyWaypoint(w *fleet.Waypoint) *fleet.Waypoint {
	c := *w
	if w.Parameters != nil {
		c.Parameters = make(map[string]string, len(w.Parameters))
		for k, v := range w.Parameters {
			c.Parameters[k] = v
		}
	}
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

func copyFlightLog(e *fleet.FlightLogEntry) *fleet.FlightLogEntry {
	c := *e
	c.GPSAccuracy = copyFloat(e.GPSAccuracy)
	c.Heading = copyFloat(e.Heading)
	return &c
}

// Organizations

func (s *MemoryStore) CreateOrganization(_ context.Context, org *fleet.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *org
	s.orgs[org.ID] = &c
	return nil
}

func (s *MemoryStore) GetOrganization(_ context.Context, id string) (*fleet.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok || !org.IsActive {
		return nil, fleet.NotFound("organization")
	}
	c := *org
	return &c, nil
}

func (s *MemoryStore) ListOrganizations(_ context.Context) ([]*fleet.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fleet.Organization
	for _, org := range s.orgs {
		if org.IsActive {
			c := *org
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateOrganization(_ context.Context, org *fleet.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; !ok {
		return fleet.NotFound("organization")
	}
	c := *org
	s.orgs[org.ID] = &c
	return nil
}

func (s *MemoryStore) CountActiveMissions(_ context.Context, orgID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.missions {
		if m.OrganizationID == orgID && m.IsActive && !m.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

// Users

func (s *MemoryStore) CreateUser(_ context.Context, u *fleet.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fleet.Conflictf("email already registered")
		}
	}
	c := *u
	s.users[u.ID] = &c
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*fleet.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fleet.NotFound("user")
	}
	c := *u
	c.LastLogin = copyTime(u.LastLogin)
	return &c, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*fleet.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			c.LastLogin = copyTime(u.LastLogin)
			return &c, nil
		}
	}
	return nil, fleet.NotFound("user")
}

func (s *MemoryStore) ListUsersByOrganization(_ context.Context, orgID string) ([]*fleet.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fleet.User
	for _, m := range s.memberships {
		if m.OrganizationID != orgID {
			continue
		}
		if u, ok := s.users[m.UserID]; ok && u.IsActive {
			c := *u
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, u *fleet.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return fleet.NotFound("user")
	}
	c := *u
	s.users[u.ID] = &c
	return nil
}

// Memberships

func (s *MemoryStore) CreateMembership(_ context.Context, m *fleet.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey(m.UserID, m.OrganizationID)
	if _, ok := s.memberships[key]; ok {
		return fleet.Conflictf("user is already a member of this organization")
	}
	c := *m
	s.memberships[key] = &c
	return nil
}

func (s *MemoryStore) GetMembership(_ context.Context, userID, orgID string) (*fleet.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipKey(userID, orgID)]
	if !ok {
		return nil, fleet.NotFound("membership")
	}
	c := *m
	return &c, nil
}

func (s *MemoryStore) UpdateMembershipRole(_ context.Context, userID, orgID string, role fleet.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipKey(userID, orgID)]
	if !ok {
		return fleet.NotFound("membership")
	}
	m.Role = role
	return nil
}

func (s *MemoryStore) DeleteMembership(_ context.Context, userID, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey(userID, orgID)
	if _, ok := s.memberships[key]; !ok {
		return fleet.NotFound("membership")
	}
	delete(s.memberships, key)
	return nil
}

func (s *MemoryStore) ListMembershipsByUser(_ context.Context, userID string) ([]*fleet.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fleet.Membership
	for _, m := range s.memberships {
		if m.UserID == userID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrganizationID < out[j].OrganizationID })
	return out, nil
}

func (s *MemoryStore) ListMembershipsByOrganization(_ context.Context, orgID string) ([]*fleet.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fleet.Membership
	for _, m := range s.memberships {
		if m.OrganizationID == orgID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Sites

func (s *MemoryStore) CreateSite(_ context.Context, site *fleet.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *site
	s.sites[site.ID] = &c
	return nil
}

func (s *MemoryStore) GetSite(_ context.Context, id string) (*fleet.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok || !site.IsActive {
		return nil, fleet.NotFound("site")
	}
	c := *site
	return &c, nil
}

func (s *MemoryStore) ListSitesByOrganization(_ context.Context, orgID string) ([]*fleet.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fleet.Site
	for _, site := range s.sites {
		if site.OrganizationID == orgID && site.IsActive {
			c := *site
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateSite(_ context.Context, site *fleet.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[site.ID]; !ok {
		return fleet.NotFound("site")
	}
	c := *site
	s.sites[site.ID] = &c
	return nil
}

// Drones

func (s *MemoryStore) CreateDrone(_ context.Context, d *fleet.Drone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drones[d.ID] = copyDrone(d)
	return nil
}

func (s *MemoryStore) GetDrone(_ context.Context, id string) (*fleet.Drone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drones[id]
	if !ok || !d.IsActive {
		return nil, fleet.NotFound("drone")
	}
	return copyDrone(d), nil
}

func (s *MemoryStore) ListDronesByOrganization(_ context.Context, orgID string) ([]*fleet.Drone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fleet.Drone
	for _, d := range s.drones {
		if d.OrganizationID == orgID && d.IsActive {
			out = append(out, copyDrone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListAvailableDrones(_ context.Context, orgID string, minBattery float64) ([]*fleet.Drone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fleet.Drone
	for _, d := range s.drones {
		if d.OrganizationID == orgID && d.IsActive && d.Status == fleet.DroneAvailable && d.BatteryLevel >= minBattery {
			out = append(out, copyDrone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatteryLevel > out[j].BatteryLevel })
	return out, nil
}

func (s *MemoryStore) UpdateDrone(_ context.Context, d *fleet.Drone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drones[d.ID]; !ok {
		return fleet.NotFound("drone")
	}
	s.drones[d.ID] = copyDrone(d)
	return nil
}

func (s *MemoryStore) CountMissionsForDrone(_ context.Context, droneID string, statuses ...fleet.MissionStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.missions {
		if m.DroneID != droneID || !m.IsActive {
			continue
		}
		for _, st := range statuses {
			if m.Status == st {
				n++
				break
			}
		}
	}
	return n, nil
}

// Missions

func (s *MemoryStore) CreateMission(_ context.Context, m *fleet.Mission, waypoints []*fleet.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions[m.ID] = copyMission(m)
	for _, w := range waypoints {
		s.waypoints[w.ID] = copyWaypoint(w)
	}
	return nil
}

func (s *MemoryStore) GetMission(_ context.Context, id string) (*fleet.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok || !m.IsActive {
		return nil, fleet.NotFound("mission")
	}
	return copyMission(m), nil
}

func (s *MemoryStore) ListMissionsByOrganization(_ context.Context, orgID string, f MissionFilter) ([]*fleet.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fleet.Mission
	for _, m := range s.missions {
		if m.OrganizationID != orgID || !m.IsActive {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		out = append(out, copyMission(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListMissionsForUser(_ context.Context, userID string) ([]*fleet.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fleet.Mission
	for _, m := range s.missions {
		if !m.IsActive {
			continue
		}
		if m.CreatedByID == userID || m.AssignedToID == userID {
			out = append(out, copyMission(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateMission(_ context.Context, m *fleet.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[m.ID]; !ok {
		return fleet.NotFound("mission")
	}
	s.missions[m.ID] = copyMission(m)
	return nil
}

// Transition primitives. The mutex serializes them, so the read-check-write
// below is equivalent to the SQL store's conditional updates.

func (s *MemoryStore) StartMission(_ context.Context, missionID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[missionID]
	if !ok || !m.IsActive {
		return fleet.NotFound("mission")
	}
	if m.Status != fleet.MissionPlanned {
		return fleet.InvalidTransitionf("mission is %s, only planned missions can be started", m.Status)
	}
	d, ok := s.drones[m.DroneID]
	if !ok || !d.IsActive {
		return fleet.NotFound("drone")
	}
	if d.Status != fleet.DroneAvailable {
		return fleet.Conflictf("drone %s is not available", d.ID)
	}
	started := startedAt
	m.Status = fleet.MissionInProgress
	m.StartedAt = &started
	m.UpdatedAt = startedAt
	d.Status = fleet.DroneInMission
	d.UpdatedAt = startedAt
	return nil
}

func (s *MemoryStore) PauseMission(_ context.Context, missionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[missionID]
	if !ok || !m.IsActive {
		return fleet.NotFound("mission")
	}
	if m.Status != fleet.MissionInProgress {
		return fleet.InvalidTransitionf("mission is %s, only missions in progress can be paused", m.Status)
	}
	m.Status = fleet.MissionPaused
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ResumeMission(_ context.Context, missionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[missionID]
	if !ok || !m.IsActive {
		return fleet.NotFound("mission")
	}
	if m.Status != fleet.MissionPaused {
		return fleet.InvalidTransitionf("mission is %s, only paused missions can be resumed", m.Status)
	}
	m.Status = fleet.MissionInProgress
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AbortMission(_ context.Context, missionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[missionID]
	if !ok || !m.IsActive {
		return fleet.NotFound("mission")
	}
	switch m.Status {
	case fleet.MissionPlanned, fleet.MissionInProgress, fleet.MissionPaused:
	default:
		return fleet.InvalidTransitionf("mission is %s, only planned or active missions can be aborted", m.Status)
	}
	release := m.Status.HoldsDrone()
	m.Status = fleet.MissionAborted
	m.UpdatedAt = time.Now().UTC()
	if release {
		if d, ok := s.drones[m.DroneID]; ok && d.Status == fleet.DroneInMission {
			d.Status = fleet.DroneAvailable
			d.UpdatedAt = m.UpdatedAt
		}
	}
	return nil
}

func (s *MemoryStore) CompleteMission(_ context.Context, missionID string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[missionID]
	if !ok || !m.IsActive {
		return fleet.NotFound("mission")
	}
	if m.Status != fleet.MissionInProgress {
		return fleet.InvalidTransitionf("mission is %s, only missions in progress can be completed", m.Status)
	}
	done := completedAt
	m.Status = fleet.MissionCompleted
	m.CompletedAt = &done
	m.UpdatedAt = completedAt
	if d, ok := s.drones[m.DroneID]; ok && d.Status == fleet.DroneInMission {
		d.Status = fleet.DroneAvailable
		d.UpdatedAt = completedAt
	}
	return nil
}

// Waypoints

func (s *MemoryStore) CreateWaypoint(_ context.Context, w *fleet.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.waypoints {
		if existing.MissionID == w.MissionID && existing.Sequence == w.Sequence {
			return fleet.Conflictf("waypoint with sequence %d already exists", w.Sequence)
		}
	}
	s.waypoints[w.ID] = copyWaypoint(w)
	return nil
}

func (s *MemoryStore) GetWaypoint(_ context.Context, id string) (*fleet.Waypoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.waypoints[id]
	if !ok {
		return nil, fleet.NotFound("waypoint")
	}
	return copyWaypoint(w), nil
}

func (s *MemoryStore) ListWaypoints(_ context.Context, missionID string) ([]*fleet.Waypoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fleet.Waypoint
	for _, w := range s.waypoints {
		if w.MissionID == missionID {
			out = append(out, copyWaypoint(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemoryStore) UpdateWaypoint(_ context.Context, w *fleet.Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.waypoints[w.ID]; !ok {
		return fleet.NotFound("waypoint")
	}
	for _, existing := range s.waypoints {
		if existing.ID != w.ID && existing.MissionID == w.MissionID && existing.Sequence == w.Sequence {
			return fleet.Conflictf("waypoint with sequence %d already exists", w.Sequence)
		}
	}
	s.waypoints[w.ID] = copyWaypoint(w)
	return nil
}

func (s *MemoryStore) DeleteWaypoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.waypoints[id]; !ok {
		return fleet.NotFound("waypoint")
	}
	delete(s.waypoints, id)
	return nil
}

func (s *MemoryStore) ReorderWaypoints(_ context.Context, missionID string, orderedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := make(map[string]*fleet.Waypoint)
	for _, w := range s.waypoints {
		if w.MissionID == missionID {
			current[w.ID] = w
		}
	}
	if len(orderedIDs) != len(current) {
		return fleet.Conflictf("reorder list does not match the mission's waypoint set")
	}
	seen := make(map[string]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, ok := current[id]; !ok || seen[id] {
			return fleet.Conflictf("reorder list does not match the mission's waypoint set")
		}
		seen[id] = true
	}
	// All writes under the lock: no reader observes a duplicate sequence.
	for i, id := range orderedIDs {
		current[id].Sequence = i + 1
	}
	return nil
}

// Flight logs

func (s *MemoryStore) AppendFlightLog(_ context.Context, e *fleet.FlightLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drones[e.DroneID]
	if !ok || !d.IsActive {
		return fleet.NotFound("drone")
	}
	s.flightLogs = append(s.flightLogs, copyFlightLog(e))
	d.Position = &fleet.Position{Lat: e.Latitude, Lon: e.Longitude, Alt: e.Altitude}
	d.BatteryLevel = e.BatteryLevel
	d.UpdatedAt = e.Timestamp
	return nil
}

func (s *MemoryStore) ListRecentFlightLogs(_ context.Context, missionID string, limit int) ([]*fleet.FlightLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fleet.FlightLogEntry
	for _, e := range s.flightLogs {
		if e.MissionID == missionID {
			out = append(out, copyFlightLog(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
