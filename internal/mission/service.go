// Package mission implements the mission lifecycle: planning, the
// drone-claiming transitions, waypoint management, and the cached read paths.
package mission

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"droneops-control/internal/auth"
	"droneops-control/internal/cache"
	"droneops-control/internal/fleet"
	"droneops-control/internal/metrics"
	"droneops-control/internal/store"
)

// editRoles may create, update and drive mission transitions; manageRoles may
// additionally delete and assign.
var (
	editRoles   = []fleet.Role{fleet.RoleSuperAdmin, fleet.RoleModerator, fleet.RoleOperator}
	manageRoles = []fleet.Role{fleet.RoleSuperAdmin, fleet.RoleModerator}
)

type Service struct {
	store store.Store
	cache cache.Cache
	gate  *auth.Gate
	log   *slog.Logger
	now   func() time.Time
}

func NewService(s store.Store, c cache.Cache, gate *auth.Gate, log *slog.Logger) *Service {
	return &Service{store: s, cache: c, gate: gate, log: log, now: time.Now}
}

// CreateInput carries the fields for a new mission. Zero Priority and
// OverlapPercentage fall back to the defaults (1 and 70).
type CreateInput struct {
	OrganizationID    string          `json:"organization_id"`
	DroneID           string          `json:"drone_id"`
	SiteID            string          `json:"site_id"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Priority          int             `json:"priority"`
	PlannedAltitude   float64         `json:"planned_altitude"`
	PlannedSpeed      float64         `json:"planned_speed"`
	OverlapPercentage float64         `json:"overlap_percentage"`
	ScheduledAt       *time.Time      `json:"scheduled_at"`
	EstimatedDuration int             `json:"estimated_duration"`
	Waypoints         []WaypointInput `json:"waypoints"`
}

// WaypointInput is one flight-plan leg. Sequence is assigned from list order
// on create.
type WaypointInput struct {
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`
	Altitude   float64           `json:"altitude"`
	Action     string            `json:"action"`
	Parameters map[string]string `json:"parameters"`
}

// UpdateInput patches a planned mission. Nil fields are left unchanged.
type UpdateInput struct {
	Name              *string    `json:"name"`
	Description       *string    `json:"description"`
	Priority          *int       `json:"priority"`
	PlannedAltitude   *float64   `json:"planned_altitude"`
	PlannedSpeed      *float64   `json:"planned_speed"`
	OverlapPercentage *float64   `json:"overlap_percentage"`
	ScheduledAt       *time.Time `json:"scheduled_at"`
	EstimatedDuration *int       `json:"estimated_duration"`
}

func validateMissionFields(v *fleet.Violations, name string, priority int, altitude, speed, overlap float64) {
	v.Check(name != "", "name", "must not be empty")
	v.Check(priority >= 1 && priority <= 10, "priority", "must be between 1 and 10")
	v.Check(fleet.ValidAltitude(altitude), "planned_altitude", "must not be negative")
	v.Check(fleet.ValidSpeed(speed), "planned_speed", "must not be negative")
	v.Check(overlap >= 0 && overlap <= 100, "overlap_percentage", "must be between 0 and 100")
}

// Create plans a new mission. The drone and site must belong to the same
// organization; the drone availability check here is advisory, the binding
// claim happens at Start.
func (s *Service) Create(ctx context.Context, p *auth.Principal, in CreateInput) (*fleet.Mission, error) {
	if err := s.gate.RequireRole(p, in.OrganizationID, editRoles...); err != nil {
		return nil, err
	}
	if in.Priority == 0 {
		in.Priority = 1
	}
	if in.OverlapPercentage == 0 {
		in.OverlapPercentage = 70
	}
	var v fleet.Violations
	validateMissionFields(&v, in.Name, in.Priority, in.PlannedAltitude, in.PlannedSpeed, in.OverlapPercentage)
	v.Check(in.EstimatedDuration >= 0, "estimated_duration", "must not be negative")
	for _, w := range in.Waypoints {
		v.CheckPosition(w.Latitude, w.Longitude, w.Altitude)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	drone, err := s.store.GetDrone(ctx, in.DroneID)
	if err != nil {
		return nil, err
	}
	if drone.OrganizationID != in.OrganizationID {
		return nil, fleet.NotFound("drone")
	}
	if drone.Status != fleet.DroneAvailable {
		return nil, fleet.Conflictf("drone %s is not available", drone.ID)
	}
	site, err := s.store.GetSite(ctx, in.SiteID)
	if err != nil {
		return nil, err
	}
	if site.OrganizationID != in.OrganizationID {
		return nil, fleet.NotFound("site")
	}

	now := s.now().UTC()
	m := &fleet.Mission{
		ID:                uuid.NewString(),
		OrganizationID:    in.OrganizationID,
		DroneID:           in.DroneID,
		SiteID:            in.SiteID,
		Name:              in.Name,
		Description:       in.Description,
		Status:            fleet.MissionPlanned,
		Priority:          in.Priority,
		PlannedAltitude:   in.PlannedAltitude,
		PlannedSpeed:      in.PlannedSpeed,
		OverlapPercentage: in.OverlapPercentage,
		ScheduledAt:       in.ScheduledAt,
		EstimatedDuration: in.EstimatedDuration,
		CreatedByID:       p.UserID,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	waypoints := make([]*fleet.Waypoint, len(in.Waypoints))
	for i, w := range in.Waypoints {
		waypoints[i] = &fleet.Waypoint{
			ID:         uuid.NewString(),
			MissionID:  m.ID,
			Sequence:   i + 1,
			Latitude:   w.Latitude,
			Longitude:  w.Longitude,
			Altitude:   w.Altitude,
			Action:     w.Action,
			Parameters: w.Parameters,
		}
	}
	if err := s.store.CreateMission(ctx, m, waypoints); err != nil {
		return nil, err
	}
	cache.InvalidateMissions(ctx, s.cache, m.OrganizationID)
	s.log.Info("mission created", "mission_id", m.ID, "organization_id", m.OrganizationID, "drone_id", m.DroneID)
	return m, nil
}

// Get returns one mission. Callers outside the mission's organization get
// not-found, never forbidden, so mission ids do not leak across tenants.
func (s *Service) Get(ctx context.Context, p *auth.Principal, id string) (*fleet.Mission, error) {
	m, err := s.loadMission(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := p.RoleIn(m.OrganizationID); !ok {
		return nil, fleet.NotFound("mission")
	}
	return m, nil
}

func (s *Service) loadMission(ctx context.Context, id string) (*fleet.Mission, error) {
	key := cache.MissionKey(id)
	var cached fleet.Mission
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return &cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	m, err := s.store.GetMission(ctx, id)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, key, m, cache.EntityTTL)
	return m, nil
}

// List returns the organization's missions, optionally filtered by status.
func (s *Service) List(ctx context.Context, p *auth.Principal, organizationID string, status fleet.MissionStatus) ([]*fleet.Mission, error) {
	if err := s.gate.RequireOrganization(p, organizationID); err != nil {
		return nil, err
	}
	if status != "" {
		var v fleet.Violations
		v.Check(!statusUnknown(status), "status", "unknown mission status")
		if err := v.Err(); err != nil {
			return nil, err
		}
	}
	key := cache.MissionsKey(organizationID, string(status))
	var cached []*fleet.Mission
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	out, err := s.store.ListMissionsByOrganization(ctx, organizationID, store.MissionFilter{Status: status})
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, key, out, cache.ListTTL)
	return out, nil
}

func statusUnknown(status fleet.MissionStatus) bool {
	switch status {
	case fleet.MissionPlanned, fleet.MissionInProgress, fleet.MissionPaused,
		fleet.MissionCompleted, fleet.MissionAborted, fleet.MissionFailed:
		return false
	}
	return true
}

// Active returns the organization's missions currently in progress.
func (s *Service) Active(ctx context.Context, p *auth.Principal, organizationID string) ([]*fleet.Mission, error) {
	if err := s.gate.RequireOrganization(p, organizationID); err != nil {
		return nil, err
	}
	key := cache.ActiveMissionsKey(organizationID)
	var cached []*fleet.Mission
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	out, err := s.store.ListMissionsByOrganization(ctx, organizationID, store.MissionFilter{Status: fleet.MissionInProgress})
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, key, out, cache.ActiveTTL)
	return out, nil
}

// Mine returns missions the caller created or is assigned to.
func (s *Service) Mine(ctx context.Context, p *auth.Principal) ([]*fleet.Mission, error) {
	key := cache.MyMissionsKey(p.UserID)
	var cached []*fleet.Mission
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	out, err := s.store.ListMissionsForUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, key, out, cache.ListTTL)
	return out, nil
}

// Update patches a mission. Only planned missions may change; anything
// in flight or finished is frozen.
func (s *Service) Update(ctx context.Context, p *auth.Principal, id string, in UpdateInput) (*fleet.Mission, error) {
	m, err := s.authorize(ctx, p, id, editRoles)
	if err != nil {
		return nil, err
	}
	if m.Status != fleet.MissionPlanned {
		return nil, fleet.InvalidTransitionf("mission is %s, only planned missions can be updated", m.Status)
	}
	if in.Name != nil {
		m.Name = *in.Name
	}
	if in.Description != nil {
		m.Description = *in.Description
	}
	if in.Priority != nil {
		m.Priority = *in.Priority
	}
	if in.PlannedAltitude != nil {
		m.PlannedAltitude = *in.PlannedAltitude
	}
	if in.PlannedSpeed != nil {
		m.PlannedSpeed = *in.PlannedSpeed
	}
	if in.OverlapPercentage != nil {
		m.OverlapPercentage = *in.OverlapPercentage
	}
	if in.ScheduledAt != nil {
		m.ScheduledAt = in.ScheduledAt
	}
	if in.EstimatedDuration != nil {
		m.EstimatedDuration = *in.EstimatedDuration
	}
	var v fleet.Violations
	validateMissionFields(&v, m.Name, m.Priority, m.PlannedAltitude, m.PlannedSpeed, m.OverlapPercentage)
	v.Check(m.EstimatedDuration >= 0, "estimated_duration", "must not be negative")
	if err := v.Err(); err != nil {
		return nil, err
	}
	m.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateMission(ctx, m); err != nil {
		return nil, err
	}
	cache.InvalidateMission(ctx, s.cache, m.ID, m.OrganizationID)
	return m, nil
}

// Delete soft-deletes a mission. Missions holding a drone cannot be deleted;
// abort them first.
func (s *Service) Delete(ctx context.Context, p *auth.Principal, id string) error {
	m, err := s.authorize(ctx, p, id, manageRoles)
	if err != nil {
		return err
	}
	if m.Status.HoldsDrone() {
		return fleet.Conflictf("mission is %s and still holds its drone", m.Status)
	}
	m.IsActive = false
	m.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateMission(ctx, m); err != nil {
		return err
	}
	cache.InvalidateMission(ctx, s.cache, m.ID, m.OrganizationID)
	s.log.Info("mission deleted", "mission_id", m.ID)
	return nil
}

// Assign sets the mission's assignee, who must be a member of the mission's
// organization.
func (s *Service) Assign(ctx context.Context, p *auth.Principal, id, userID string) (*fleet.Mission, error) {
	m, err := s.authorize(ctx, p, id, manageRoles)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetMembership(ctx, userID, m.OrganizationID); err != nil {
		if fleet.KindOf(err) == fleet.KindNotFound {
			return nil, fleet.Invalid([]fleet.Violation{{Field: "user_id", Message: "assignee is not a member of the mission's organization"}})
		}
		return nil, err
	}
	m.AssignedToID = userID
	m.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateMission(ctx, m); err != nil {
		return nil, err
	}
	cache.InvalidateMission(ctx, s.cache, m.ID, m.OrganizationID)
	cache.InvalidateUser(ctx, s.cache, "", m.OrganizationID)
	return m, nil
}

// Transitions. The store primitive is the commit point: it re-verifies the
// status preconditions atomically, so two racing starts on the same drone
// resolve to one winner and one conflict.

func (s *Service) Start(ctx context.Context, p *auth.Principal, id string) (*fleet.Mission, error) {
	return s.transition(ctx, p, id, "start", func(ctx context.Context, missionID string) error {
		return s.store.StartMission(ctx, missionID, s.now().UTC())
	})
}

func (s *Service) Pause(ctx context.Context, p *auth.Principal, id string) (*fleet.Mission, error) {
	return s.transition(ctx, p, id, "pause", s.store.PauseMission)
}

func (s *Service) Resume(ctx context.Context, p *auth.Principal, id string) (*fleet.Mission, error) {
	return s.transition(ctx, p, id, "resume", s.store.ResumeMission)
}

func (s *Service) Abort(ctx context.Context, p *auth.Principal, id string) (*fleet.Mission, error) {
	return s.transition(ctx, p, id, "abort", s.store.AbortMission)
}

func (s *Service) Complete(ctx context.Context, p *auth.Principal, id string) (*fleet.Mission, error) {
	return s.transition(ctx, p, id, "complete", func(ctx context.Context, missionID string) error {
		return s.store.CompleteMission(ctx, missionID, s.now().UTC())
	})
}

func (s *Service) transition(ctx context.Context, p *auth.Principal, id, name string, apply func(context.Context, string) error) (*fleet.Mission, error) {
	m, err := s.authorize(ctx, p, id, editRoles)
	if err != nil {
		return nil, err
	}
	err = apply(ctx, id)
	metrics.ObserveTransition(name, err)
	if err != nil {
		return nil, err
	}
	// drone status may have changed with the mission; wipe both views before
	// anyone can observe the new state through a stale cache
	cache.InvalidateMission(ctx, s.cache, id, m.OrganizationID)
	cache.InvalidateDrone(ctx, s.cache, m.DroneID, m.OrganizationID)
	updated, err := s.store.GetMission(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("mission transition", "mission_id", id, "transition", name, "status", updated.Status)
	return updated, nil
}

// authorize loads the mission and applies the tenant and role gates. Scope
// failures surface as not-found.
func (s *Service) authorize(ctx context.Context, p *auth.Principal, id string, roles []fleet.Role) (*fleet.Mission, error) {
	m, err := s.store.GetMission(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := p.RoleIn(m.OrganizationID); !ok {
		return nil, fleet.NotFound("mission")
	}
	if err := s.gate.RequireRole(p, m.OrganizationID, roles...); err != nil {
		return nil, err
	}
	return m, nil
}
