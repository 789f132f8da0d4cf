package org

import (
	"context"

	"github.com/google/uuid"

	"droneops-control/internal/auth"
	"droneops-control/internal/cache"
	"droneops-control/internal/fleet"
	"droneops-control/internal/metrics"
	"droneops-control/internal/store"
)

// SiteInput carries the fields for creating or patching a site. On update,
// nil pointers leave the field unchanged.
type SiteInput struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Altitude    *float64 `json:"altitude"`
}

// CreateSite registers an operation location.
func (s *Service) CreateSite(ctx context.Context, p *auth.Principal, organizationID string, in SiteInput) (*fleet.Site, error) {
	if err := s.gate.RequireRole(p, organizationID, editRoles...); err != nil {
		return nil, err
	}
	site := &fleet.Site{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		IsActive:       true,
	}
	applySiteInput(site, in)
	if err := validateSite(site); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	site.CreatedAt = now
	site.UpdatedAt = now
	if err := s.store.CreateSite(ctx, site); err != nil {
		return nil, err
	}
	cache.InvalidateSite(ctx, s.cache, "", organizationID)
	s.log.Info("site created", "site_id", site.ID, "organization_id", organizationID)
	return site, nil
}

// GetSite returns one site; cross-tenant callers see not-found.
func (s *Service) GetSite(ctx context.Context, p *auth.Principal, id string) (*fleet.Site, error) {
	site, err := s.loadSite(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := p.RoleIn(site.OrganizationID); !ok {
		return nil, fleet.NotFound("site")
	}
	return site, nil
}

func (s *Service) loadSite(ctx context.Context, id string) (*fleet.Site, error) {
	key := cache.SiteKey(id)
	var cached fleet.Site
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return &cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	site, err := s.store.GetSite(ctx, id)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, key, site, cache.EntityTTL)
	return site, nil
}

// Sites lists the organization's locations.
func (s *Service) Sites(ctx context.Context, p *auth.Principal, organizationID string) ([]*fleet.Site, error) {
	if err := s.gate.RequireOrganization(p, organizationID); err != nil {
		return nil, err
	}
	key := cache.SitesKey(organizationID)
	var cached []*fleet.Site
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	out, err := s.store.ListSitesByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, key, out, cache.ListTTL)
	return out, nil
}

// UpdateSite patches a site.
func (s *Service) UpdateSite(ctx context.Context, p *auth.Principal, id string, in SiteInput) (*fleet.Site, error) {
	site, err := s.authorizeSite(ctx, p, id, editRoles)
	if err != nil {
		return nil, err
	}
	applySiteInput(site, in)
	if err := validateSite(site); err != nil {
		return nil, err
	}
	site.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSite(ctx, site); err != nil {
		return nil, err
	}
	cache.InvalidateSite(ctx, s.cache, site.ID, site.OrganizationID)
	return site, nil
}

// DeleteSite soft-deletes a site. Sites referenced by planned or active
// missions cannot be removed.
func (s *Service) DeleteSite(ctx context.Context, p *auth.Principal, id string) error {
	site, err := s.authorizeSite(ctx, p, id, manageRoles)
	if err != nil {
		return err
	}
	missions, err := s.store.ListMissionsByOrganization(ctx, site.OrganizationID, store.MissionFilter{})
	if err != nil {
		return err
	}
	for _, m := range missions {
		if m.SiteID == site.ID && !m.Status.Terminal() {
			return fleet.Conflictf("site is referenced by planned or active missions")
		}
	}
	site.IsActive = false
	site.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSite(ctx, site); err != nil {
		return err
	}
	cache.InvalidateSite(ctx, s.cache, site.ID, site.OrganizationID)
	s.log.Info("site deleted", "site_id", site.ID)
	return nil
}

func (s *Service) authorizeSite(ctx context.Context, p *auth.Principal, id string, roles []fleet.Role) (*fleet.Site, error) {
	site, err := s.store.GetSite(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := p.RoleIn(site.OrganizationID); !ok {
		return nil, fleet.NotFound("site")
	}
	if err := s.gate.RequireRole(p, site.OrganizationID, roles...); err != nil {
		return nil, err
	}
	return site, nil
}

func applySiteInput(site *fleet.Site, in SiteInput) {
	if in.Name != nil {
		site.Name = *in.Name
	}
	if in.Description != nil {
		site.Description = *in.Description
	}
	if in.Latitude != nil {
		site.Latitude = *in.Latitude
	}
	if in.Longitude != nil {
		site.Longitude = *in.Longitude
	}
	if in.Altitude != nil {
		site.Altitude = *in.Altitude
	}
}

func validateSite(site *fleet.Site) error {
	var v fleet.Violations
	v.Check(site.Name != "", "name", "must not be empty")
	v.CheckPosition(site.Latitude, site.Longitude, site.Altitude)
	return v.Err()
}
