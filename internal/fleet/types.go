// Core fleet entities shared by every service.
package fleet

import (
	"time"
)

// Role is the permission level a user holds, either globally or within an
// organization membership. SUPER_ADMIN is global: it bypasses tenant scoping.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleModerator  Role = "MODERATOR"
	RoleOperator   Role = "OPERATOR"
	RoleViewer     Role = "VIEWER"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleSuperAdmin, RoleModerator, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// DroneStatus is the ledger state of a drone resource.
type DroneStatus string

const (
	DroneAvailable   DroneStatus = "AVAILABLE"
	DroneInMission   DroneStatus = "IN_MISSION"
	DroneMaintenance DroneStatus = "MAINTENANCE"
	DroneCharging    DroneStatus = "CHARGING"
	DroneOffline     DroneStatus = "OFFLINE"
)

// ValidDroneStatus reports whether s is a known drone status.
func ValidDroneStatus(s DroneStatus) bool {
	switch s {
	case DroneAvailable, DroneInMission, DroneMaintenance, DroneCharging, DroneOffline:
		return true
	}
	return false
}

// MissionStatus is the lifecycle state of a mission.
//
//	PLANNED --start--> IN_PROGRESS --complete--> COMPLETED
//	PLANNED --abort--> ABORTED
//	IN_PROGRESS --pause--> PAUSED --resume--> IN_PROGRESS
//	IN_PROGRESS / PAUSED --abort--> ABORTED
//
// FAILED is terminal and is never produced by an exposed operation; it exists
// so operators can mark a mission failed out-of-band.
type MissionStatus string

const (
	MissionPlanned    MissionStatus = "PLANNED"
	MissionInProgress MissionStatus = "IN_PROGRESS"
	MissionPaused     MissionStatus = "PAUSED"
	MissionCompleted  MissionStatus = "COMPLETED"
	MissionAborted    MissionStatus = "ABORTED"
	MissionFailed     MissionStatus = "FAILED"
)

// Terminal reports whether the status has no outgoing transitions.
func (s MissionStatus) Terminal() bool {
	return s == MissionCompleted || s == MissionAborted || s == MissionFailed
}

// HoldsDrone reports whether a mission in this status keeps its drone claimed.
// A paused mission is mid-flight, so the drone stays IN_MISSION.
func (s MissionStatus) HoldsDrone() bool {
	return s == MissionInProgress || s == MissionPaused
}

// Organization is a tenant. All drones, sites, missions, and memberships hang
// off exactly one organization.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is an account known to the control plane. Role is the global default;
// per-tenant roles live on Membership.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name,omitempty"`
	LastName     string     `json:"last_name,omitempty"`
	Role         Role       `json:"role"`
	IsActive     bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Membership links a user to an organization with a tenant-scoped role.
// The (UserID, OrganizationID) pair is unique.
type Membership struct {
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// Site is a fixed operation location owned by an organization.
type Site struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Altitude       float64   `json:"altitude"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Position is a live GPS fix. Drones have no position until their first
// telemetry report.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Drone is the single-holder resource managed by the ledger: at most one
// mission holds it (status IN_MISSION) at any instant.
type Drone struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organization_id"`
	Name           string      `json:"name"`
	Model          string      `json:"model,omitempty"`
	Status         DroneStatus `json:"status"`
	BatteryLevel   float64     `json:"battery_level"`
	Position       *Position   `json:"position,omitempty"`
	IsActive       bool        `json:"is_active"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Mission drives a drone through its lifecycle at a site.
type Mission struct {
	ID                string        `json:"id"`
	OrganizationID    string        `json:"organization_id"`
	DroneID           string        `json:"drone_id"`
	SiteID            string        `json:"site_id"`
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	Status            MissionStatus `json:"status"`
	Priority          int           `json:"priority"`
	PlannedAltitude   float64       `json:"planned_altitude"`
	PlannedSpeed      float64       `json:"planned_speed"`
	OverlapPercentage float64       `json:"overlap_percentage"`
	ScheduledAt       *time.Time    `json:"scheduled_at,omitempty"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	EstimatedDuration int           `json:"estimated_duration,omitempty"` // minutes
	CreatedByID       string        `json:"created_by_id"`
	AssignedToID      string        `json:"assigned_to_id,omitempty"`
	IsActive          bool          `json:"is_active"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Waypoint is one leg of a mission's flight plan. Sequence numbers start at 1
// and are unique per mission at every observable instant.
type Waypoint struct {
	ID         string            `json:"id"`
	MissionID  string            `json:"mission_id"`
	Sequence   int               `json:"sequence"`
	Latitude   float64           `json:"latitude"`
	Longitude  float64           `json:"longitude"`
	Altitude   float64           `json:"altitude"`
	Action     string            `json:"action,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// FlightLogEntry is an immutable telemetry sample. Entries are append-only and
// read in timestamp-descending order.
type FlightLogEntry struct {
	ID           string    `json:"id"`
	MissionID    string    `json:"mission_id"`
	DroneID      string    `json:"drone_id"`
	Timestamp    time.Time `json:"timestamp"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Altitude     float64   `json:"altitude"`
	Speed        float64   `json:"speed"`
	BatteryLevel float64   `json:"battery_level"`
	GPSAccuracy  *float64  `json:"gps_accuracy,omitempty"`
	Heading      *float64  `json:"heading,omitempty"`
}

// Progress derives a 0-100 completion figure for a mission. Completed missions
// report 100; planned and terminal-failed ones report 0. A flying (or paused)
// mission interpolates elapsed time against its estimated duration, capped at
// 95 until it actually completes.
func (m *Mission) Progress(now time.Time) int {
	switch m.Status {
	case MissionCompleted:
		return 100
	case MissionInProgress, MissionPaused:
		if m.StartedAt == nil || m.EstimatedDuration <= 0 {
			return 0
		}
		elapsed := now.Sub(*m.StartedAt).Minutes()
		pct := elapsed / float64(m.EstimatedDuration) * 100
		if pct > 95 {
			pct = 95
		}
		if pct < 0 {
			pct = 0
		}
		return int(pct + 0.5)
	default:
		return 0
	}
}
