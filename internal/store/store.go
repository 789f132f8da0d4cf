// Package store owns the authoritative relational state of the fleet.
//
// Two implementations exist: SQLite for production and an in-memory store for
// tests and print-only runs. Both uphold the same contract: every transition
// primitive that touches a mission and its drone commits atomically, and
// claim-style updates re-verify their precondition at commit time, surfacing
// a conflict instead of losing an update.
package store

import (
	"context"
	"time"

	"droneops-control/internal/fleet"
)

// MissionFilter narrows mission listings. Zero values mean "no filter".
type MissionFilter struct {
	Status fleet.MissionStatus
}

// Store is the persistence boundary for all fleet entities. Soft-deleted rows
// (is_active = false) are invisible to every read unless noted.
type Store interface {
	// Organizations
	CreateOrganization(ctx context.Context, org *fleet.Organization) error
	GetOrganization(ctx context.Context, id string) (*fleet.Organization, error)
	ListOrganizations(ctx context.Context) ([]*fleet.Organization, error)
	UpdateOrganization(ctx context.Context, org *fleet.Organization) error
	CountActiveMissions(ctx context.Context, organizationID string) (int, error)

	// Users
	CreateUser(ctx context.Context, u *fleet.User) error
	GetUser(ctx context.Context, id string) (*fleet.User, error)
	GetUserByEmail(ctx context.Context, email string) (*fleet.User, error)
	ListUsersByOrganization(ctx context.Context, organizationID string) ([]*fleet.User, error)
	UpdateUser(ctx context.Context, u *fleet.User) error

	// Memberships
	CreateMembership(ctx context.Context, m *fleet.Membership) error
	GetMembership(ctx context.Context, userID, organizationID string) (*fleet.Membership, error)
	UpdateMembershipRole(ctx context.Context, userID, organizationID string, role fleet.Role) error
	DeleteMembership(ctx context.Context, userID, organizationID string) error
	ListMembershipsByUser(ctx context.Context, userID string) ([]*fleet.Membership, error)
	ListMembershipsByOrganization(ctx context.Context, organizationID string) ([]*fleet.Membership, error)

	// Sites
	CreateSite(ctx context.Context, s *fleet.Site) error
	GetSite(ctx context.Context, id string) (*fleet.Site, error)
	ListSitesByOrganization(ctx context.Context, organizationID string) ([]*fleet.Site, error)
	UpdateSite(ctx context.Context, s *fleet.Site) error

	// Drones
	CreateDrone(ctx context.Context, d *fleet.Drone) error
	GetDrone(ctx context.Context, id string) (*fleet.Drone, error)
	ListDronesByOrganization(ctx context.Context, organizationID string) ([]*fleet.Drone, error)
	ListAvailableDrones(ctx context.Context, organizationID string, minBattery float64) ([]*fleet.Drone, error)
	UpdateDrone(ctx context.Context, d *fleet.Drone) error
	// CountMissionsForDrone counts missions referencing the drone in any of
	// the given statuses; it is the delete guard for the ledger.
	CountMissionsForDrone(ctx context.Context, droneID string, statuses ...fleet.MissionStatus) (int, error)

	// Missions
	//
	// CreateMission persists the mission and its initial waypoints as one
	// atomic unit; the drone is not touched.
	CreateMission(ctx context.Context, m *fleet.Mission, waypoints []*fleet.Waypoint) error
	GetMission(ctx context.Context, id string) (*fleet.Mission, error)
	ListMissionsByOrganization(ctx context.Context, organizationID string, f MissionFilter) ([]*fleet.Mission, error)
	ListMissionsForUser(ctx context.Context, userID string) ([]*fleet.Mission, error)
	UpdateMission(ctx context.Context, m *fleet.Mission) error

	// Transition primitives. Each encodes its status precondition into the
	// write itself (conditional update, zero-rows-affected = lost race) and
	// commits mission and drone together or not at all.
	//
	// StartMission: mission PLANNED -> IN_PROGRESS and drone
	// AVAILABLE -> IN_MISSION. A conflict on the drone leg means another
	// mission claimed it first.
	StartMission(ctx context.Context, missionID string, startedAt time.Time) error
	// PauseMission: IN_PROGRESS -> PAUSED. The drone stays claimed.
	PauseMission(ctx context.Context, missionID string) error
	// ResumeMission: PAUSED -> IN_PROGRESS.
	ResumeMission(ctx context.Context, missionID string) error
	// AbortMission: PLANNED/IN_PROGRESS/PAUSED -> ABORTED, releasing the
	// drone when it was held.
	AbortMission(ctx context.Context, missionID string) error
	// CompleteMission: IN_PROGRESS -> COMPLETED, releasing the drone.
	CompleteMission(ctx context.Context, missionID string, completedAt time.Time) error

	// Waypoints
	CreateWaypoint(ctx context.Context, w *fleet.Waypoint) error
	GetWaypoint(ctx context.Context, id string) (*fleet.Waypoint, error)
	ListWaypoints(ctx context.Context, missionID string) ([]*fleet.Waypoint, error)
	UpdateWaypoint(ctx context.Context, w *fleet.Waypoint) error
	DeleteWaypoint(ctx context.Context, id string) error
	// ReorderWaypoints rewrites all sequence numbers 1..n in one atomic
	// batch; no read can observe a duplicate sequence.
	ReorderWaypoints(ctx context.Context, missionID string, orderedIDs []string) error

	// Flight logs
	//
	// AppendFlightLog persists the immutable entry and refreshes the drone's
	// live position and battery in the same atomic unit.
	AppendFlightLog(ctx context.Context, e *fleet.FlightLogEntry) error
	ListRecentFlightLogs(ctx context.Context, missionID string, limit int) ([]*fleet.FlightLogEntry, error)

	Close() error
}
