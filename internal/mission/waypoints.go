package mission

import (
	"context"

	"github.com/google/uuid"

	"droneops-control/internal/auth"
	"droneops-control/internal/cache"
	"droneops-control/internal/fleet"
	"droneops-control/internal/metrics"
)

// Waypoints returns the mission's flight plan in sequence order.
func (s *Service) Waypoints(ctx context.Context, p *auth.Principal, missionID string) ([]*fleet.Waypoint, error) {
	if _, err := s.Get(ctx, p, missionID); err != nil {
		return nil, err
	}
	key := cache.MissionWaypointsKey(missionID)
	var cached []*fleet.Waypoint
	if cache.GetJSON(ctx, s.cache, key, &cached) {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()
	out, err := s.store.ListWaypoints(ctx, missionID)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, key, out, cache.ListTTL)
	return out, nil
}

// AddWaypoint appends a leg to a planned mission's flight plan.
func (s *Service) AddWaypoint(ctx context.Context, p *auth.Principal, missionID string, in WaypointInput) (*fleet.Waypoint, error) {
	m, err := s.planOnly(ctx, p, missionID)
	if err != nil {
		return nil, err
	}
	var v fleet.Violations
	v.CheckPosition(in.Latitude, in.Longitude, in.Altitude)
	if err := v.Err(); err != nil {
		return nil, err
	}
	existing, err := s.store.ListWaypoints(ctx, missionID)
	if err != nil {
		return nil, err
	}
	next := 1
	for _, w := range existing {
		if w.Sequence >= next {
			next = w.Sequence + 1
		}
	}
	w := &fleet.Waypoint{
		ID:         uuid.NewString(),
		MissionID:  missionID,
		Sequence:   next,
		Latitude:   in.Latitude,
		Longitude:  in.Longitude,
		Altitude:   in.Altitude,
		Action:     in.Action,
		Parameters: in.Parameters,
	}
	if err := s.store.CreateWaypoint(ctx, w); err != nil {
		return nil, err
	}
	cache.InvalidateMission(ctx, s.cache, m.ID, m.OrganizationID)
	return w, nil
}

// UpdateWaypoint replaces a leg's coordinates and action. Sequence is not
// editable here; use Reorder.
func (s *Service) UpdateWaypoint(ctx context.Context, p *auth.Principal, waypointID string, in WaypointInput) (*fleet.Waypoint, error) {
	w, err := s.store.GetWaypoint(ctx, waypointID)
	if err != nil {
		return nil, err
	}
	m, err := s.planOnly(ctx, p, w.MissionID)
	if err != nil {
		if fleet.KindOf(err) == fleet.KindNotFound {
			return nil, fleet.NotFound("waypoint")
		}
		return nil, err
	}
	var v fleet.Violations
	v.CheckPosition(in.Latitude, in.Longitude, in.Altitude)
	if err := v.Err(); err != nil {
		return nil, err
	}
	w.Latitude = in.Latitude
	w.Longitude = in.Longitude
	w.Altitude = in.Altitude
	w.Action = in.Action
	w.Parameters = in.Parameters
	if err := s.store.UpdateWaypoint(ctx, w); err != nil {
		return nil, err
	}
	cache.InvalidateMission(ctx, s.cache, m.ID, m.OrganizationID)
	return w, nil
}

// DeleteWaypoint removes a leg from a planned mission.
func (s *Service) DeleteWaypoint(ctx context.Context, p *auth.Principal, waypointID string) error {
	w, err := s.store.GetWaypoint(ctx, waypointID)
	if err != nil {
		return err
	}
	m, err := s.planOnly(ctx, p, w.MissionID)
	if err != nil {
		if fleet.KindOf(err) == fleet.KindNotFound {
			return fleet.NotFound("waypoint")
		}
		return err
	}
	if err := s.store.DeleteWaypoint(ctx, waypointID); err != nil {
		return err
	}
	cache.InvalidateMission(ctx, s.cache, m.ID, m.OrganizationID)
	return nil
}

// Reorder renumbers the mission's waypoints to match orderedIDs, which must
// be exactly the current waypoint set. The store applies the renumbering
// atomically so sequences stay unique at every observable instant.
func (s *Service) Reorder(ctx context.Context, p *auth.Principal, missionID string, orderedIDs []string) ([]*fleet.Waypoint, error) {
	m, err := s.planOnly(ctx, p, missionID)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReorderWaypoints(ctx, missionID, orderedIDs); err != nil {
		return nil, err
	}
	cache.InvalidateMission(ctx, s.cache, m.ID, m.OrganizationID)
	return s.store.ListWaypoints(ctx, missionID)
}

// planOnly authorizes a flight-plan edit: edit roles plus the mission still
// being PLANNED. Plans freeze once the mission starts.
func (s *Service) planOnly(ctx context.Context, p *auth.Principal, missionID string) (*fleet.Mission, error) {
	m, err := s.authorize(ctx, p, missionID, editRoles)
	if err != nil {
		return nil, err
	}
	if m.Status != fleet.MissionPlanned {
		return nil, fleet.InvalidTransitionf("mission is %s, flight plan is frozen", m.Status)
	}
	return m, nil
}
