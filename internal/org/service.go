// Package org manages tenants and everything scoped to them: membership,
// user administration, sites, and the per-organization stats rollup.
package org

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

// Stats is the per-organization rollup served to dashboards.
type Stats struct {
	TotalDrones            int     `json:"total_drones"`
	AvailableDrones        int     `json:"available_drones"`
	TotalMissions          int     `json:"total_missions"`
	CompletedMissions      int     `json:"completed_missions"`
	TotalSites             int     `json:"total_sites"`
	Members                int     `json:"members"`
	AvgMissionDurationMins float64 `json:"avg_mission_duration_mins"`
}

// Create provisions a new tenant. Super admin only.
func (s *Service) Create(ctx context.Context, p *auth.Principal, name, description string) (*fleet.Organization, error) {
	if err := s.gate.RequireSuperAdmin(p); err != nil {
		return nil, err
	}
	var v fleet.Violations
	v.Check(name != "", "name", "must not be empty")
	if err := v.Err(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	org := &fleet.Organization{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}
	s.log.Info("organization created", "organization_id", org.ID, "name", org.Name)
	return org, nil
}

// Get returns one organization to its members; outsiders see not-found.
func (s *Service) Get(ctx context.Context, p *auth.Principal, id string) (*fleet.Organization, error) {
	if _, ok := p.RoleIn(id); !ok {
		return nil, fleet.NotFound("organization")
	}
	key := cache.OrganizationKey(id)
	var cached fleet.Organization
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return &cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, key, org, cache.EntityTTL)
	return org, nil
}

// List returns every tenant. Super admin only.
func (s *Service) List(ctx context.Context, p *auth.Principal) ([]*fleet.Organization, error) {
	if err := s.gate.RequireSuperAdmin(p); err != nil {
		return nil, err
	}
	return s.store.ListOrganizations(ctx)
}

// Update renames or redescribes a tenant.
func (s *Service) Update(ctx context.Context, p *auth.Principal, id string, name, description *string) (*fleet.Organization, error) {
	if _, ok := p.RoleIn(id); !ok {
		return nil, fleet.NotFound("organization")
	}
	if err := s.gate.RequireRole(p, id, manageRoles...); err != nil {
		return nil, err
	}
	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		org.Name = *name
	}
	if description != nil {
		org.Description = *description
	}
	var v fleet.Violations
	v.Check(org.Name != "", "name", "must not be empty")
	if err := v.Err(); err != nil {
		return nil, err
	}
	org.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return nil, err
	}
	cache.InvalidateOrganization(ctx, s.cache, org.ID)
	return org, nil
}

// Delete soft-deletes a tenant. Refused while any of its missions is still
// planned or active. Super admin only.
func (s *Service) Delete(ctx context.Context, p *auth.Principal, id string) error {
	if err := s.gate.RequireSuperAdmin(p); err != nil {
		return err
	}
	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		return err
	}
	n, err := s.store.CountActiveMissions(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fleet.Conflictf("organization has %d planned or active missions", n)
	}
	org.IsActive = false
	org.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return err
	}
	cache.InvalidateOrganization(ctx, s.cache, org.ID)
	s.log.Info("organization deleted", "organization_id", org.ID)
	return nil
}

// GetStats builds the dashboard rollup for one organization.
func (s *Service) GetStats(ctx context.Context, p *auth.Principal, organizationID string) (*Stats, error) {
	if err := s.gate.RequireOrganization(p, organizationID); err != nil {
		return nil, err
	}
	key := cache.OrganizationStatsKey(organizationID)
	var cached Stats
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return &cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	drones, err := s.store.ListDronesByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	missions, err := s.store.ListMissionsByOrganization(ctx, organizationID, store.MissionFilter{})
	if err != nil {
		return nil, err
	}
	sites, err := s.store.ListSitesByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembershipsByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalDrones:   len(drones),
		TotalMissions: len(missions),
		TotalSites:    len(sites),
		Members:       len(members),
	}
	for _, d := range drones {
		if d.Status == fleet.DroneAvailable {
			stats.AvailableDrones++
		}
	}
	var durations int
	for _, m := range missions {
		if m.Status != fleet.MissionCompleted {
			continue
		}
		stats.CompletedMissions++
		if m.StartedAt != nil && m.CompletedAt != nil {
			stats.AvgMissionDurationMins += m.CompletedAt.Sub(*m.StartedAt).Minutes()
			durations++
		}
	}
	if durations > 0 {
		stats.AvgMissionDurationMins /= float64(durations)
	}
	cache.SetJSON(ctx, s.cache, key, stats, cache.ListTTL)
	return stats, nil
}
