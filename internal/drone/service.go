// Package drone manages the fleet's single-holder resources. Claiming and
// releasing on mission transitions happens in the store primitives; this
// service covers registration, status upkeep, and the cached read paths.
package drone

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

// MinAvailableBattery is the floor for the available-drones listing: anything
// below is not worth dispatching.
const MinAvailableBattery = 20

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

// CreateInput registers a drone. BatteryLevel defaults to 100 when zero is
// not meant: pass the actual reading.
type CreateInput struct {
	OrganizationID string  `json:"organization_id"`
	Name           string  `json:"name"`
	Model          string  `json:"model"`
	BatteryLevel   float64 `json:"battery_level"`
}

// UpdateInput patches name and model. Nil fields are unchanged.
type UpdateInput struct {
	Name  *string `json:"name"`
	Model *string `json:"model"`
}

func (s *Service) Create(ctx context.Context, p *auth.Principal, in CreateInput) (*fleet.Drone, error) {
	if err := s.gate.RequireRole(p, in.OrganizationID, editRoles...); err != nil {
		return nil, err
	}
	var v fleet.Violations
	v.Check(in.Name != "", "name", "must not be empty")
	v.Check(fleet.ValidBatteryLevel(in.BatteryLevel), "battery_level", "must be between 0 and 100")
	if err := v.Err(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetOrganization(ctx, in.OrganizationID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	d := &fleet.Drone{
		ID:             uuid.NewString(),
		OrganizationID: in.OrganizationID,
		Name:           in.Name,
		Model:          in.Model,
		Status:         fleet.DroneAvailable,
		BatteryLevel:   in.BatteryLevel,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateDrone(ctx, d); err != nil {
		return nil, err
	}
	cache.InvalidateDrones(ctx, s.cache, d.OrganizationID)
	s.log.Info("drone registered", "drone_id", d.ID, "organization_id", d.OrganizationID)
	return d, nil
}

// Get returns one drone; cross-tenant callers see not-found.
func (s *Service) Get(ctx context.Context, p *auth.Principal, id string) (*fleet.Drone, error) {
	d, err := s.loadDrone(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := p.RoleIn(d.OrganizationID); !ok {
		return nil, fleet.NotFound("drone")
	}
	return d, nil
}

func (s *Service) loadDrone(ctx context.Context, id string) (*fleet.Drone, error) {
	key := cache.DroneKey(id)
	var cached fleet.Drone
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return &cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	d, err := s.store.GetDrone(ctx, id)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, key, d, cache.EntityTTL)
	return d, nil
}

// List returns the organization's fleet.
func (s *Service) List(ctx context.Context, p *auth.Principal, organizationID string) ([]*fleet.Drone, error) {
	if err := s.gate.RequireOrganization(p, organizationID); err != nil {
		return nil, err
	}
	key := cache.DronesKey(organizationID)
	var cached []*fleet.Drone
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	out, err := s.store.ListDronesByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, key, out, cache.ListTTL)
	return out, nil
}

// Available returns dispatchable drones, battery-descending.
func (s *Service) Available(ctx context.Context, p *auth.Principal, organizationID string) ([]*fleet.Drone, error) {
	if err := s.gate.RequireOrganization(p, organizationID); err != nil {
		return nil, err
	}
	key := cache.AvailableDronesKey(organizationID)
	var cached []*fleet.Drone
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	out, err := s.store.ListAvailableDrones(ctx, organizationID, MinAvailableBattery)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, key, out, cache.ActiveTTL)
	return out, nil
}

func (s *Service) Update(ctx context.Context, p *auth.Principal, id string, in UpdateInput) (*fleet.Drone, error) {
	d, err := s.authorize(ctx, p, id, editRoles)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		d.Name = *in.Name
	}
	if in.Model != nil {
		d.Model = *in.Model
	}
	var v fleet.Violations
	v.Check(d.Name != "", "name", "must not be empty")
	if err := v.Err(); err != nil {
		return nil, err
	}
	d.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDrone(ctx, d); err != nil {
		return nil, err
	}
	cache.InvalidateDrone(ctx, s.cache, d.ID, d.OrganizationID)
	return d, nil
}

// UpdateStatus sets the operational state. IN_MISSION is reserved for the
// mission transitions and cannot be set by hand; a drone currently claimed by
// a mission cannot be moved out of IN_MISSION either.
func (s *Service) UpdateStatus(ctx context.Context, p *auth.Principal, id string, status fleet.DroneStatus) (*fleet.Drone, error) {
	d, err := s.authorize(ctx, p, id, editRoles)
	if err != nil {
		return nil, err
	}
	var v fleet.Violations
	v.Check(fleet.ValidDroneStatus(status), "status", "unknown drone status")
	if err := v.Err(); err != nil {
		return nil, err
	}
	if status == fleet.DroneInMission {
		return nil, fleet.Conflictf("IN_MISSION is set by starting a mission")
	}
	if d.Status == fleet.DroneInMission {
		return nil, fleet.Conflictf("drone is claimed by an active mission")
	}
	d.Status = status
	d.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDrone(ctx, d); err != nil {
		return nil, err
	}
	cache.InvalidateDrone(ctx, s.cache, d.ID, d.OrganizationID)
	s.log.Info("drone status changed", "drone_id", d.ID, "status", status)
	return d, nil
}

// UpdateLocation records a manual position fix.
func (s *Service) UpdateLocation(ctx context.Context, p *auth.Principal, id string, lat, lon, alt float64) (*fleet.Drone, error) {
	d, err := s.authorize(ctx, p, id, editRoles)
	if err != nil {
		return nil, err
	}
	var v fleet.Violations
	v.CheckPosition(lat, lon, alt)
	if err := v.Err(); err != nil {
		return nil, err
	}
	d.Position = &fleet.Position{Lat: lat, Lon: lon, Alt: alt}
	d.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDrone(ctx, d); err != nil {
		return nil, err
	}
	cache.InvalidateDrone(ctx, s.cache, d.ID, d.OrganizationID)
	return d, nil
}

// UpdateBattery records a battery reading.
func (s *Service) UpdateBattery(ctx context.Context, p *auth.Principal, id string, level float64) (*fleet.Drone, error) {
	d, err := s.authorize(ctx, p, id, editRoles)
	if err != nil {
		return nil, err
	}
	var v fleet.Violations
	v.Check(fleet.ValidBatteryLevel(level), "battery_level", "must be between 0 and 100")
	if err := v.Err(); err != nil {
		return nil, err
	}
	d.BatteryLevel = level
	d.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDrone(ctx, d); err != nil {
		return nil, err
	}
	cache.InvalidateDrone(ctx, s.cache, d.ID, d.OrganizationID)
	return d, nil
}

// Delete soft-deletes a drone. Drones referenced by planned or active
// missions cannot be removed.
func (s *Service) Delete(ctx context.Context, p *auth.Principal, id string) error {
	d, err := s.authorize(ctx, p, id, manageRoles)
	if err != nil {
		return err
	}
	n, err := s.store.CountMissionsForDrone(ctx, d.ID,
		fleet.MissionPlanned, fleet.MissionInProgress, fleet.MissionPaused)
	if err != nil {
		return err
	}
	if n > 0 {
		return fleet.Conflictf("drone is referenced by %d planned or active missions", n)
	}
	d.IsActive = false
	d.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDrone(ctx, d); err != nil {
		return err
	}
	cache.InvalidateDrone(ctx, s.cache, d.ID, d.OrganizationID)
	s.log.Info("drone deleted", "drone_id", d.ID)
	return nil
}

func (s *Service) authorize(ctx context.Context, p *auth.Principal, id string, roles []fleet.Role) (*fleet.Drone, error) {
	d, err := s.store.GetDrone(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := p.RoleIn(d.OrganizationID); !ok {
		return nil, fleet.NotFound("drone")
	}
	if err := s.gate.RequireRole(p, d.OrganizationID, roles...); err != nil {
		return nil, err
	}
	return d, nil
}
