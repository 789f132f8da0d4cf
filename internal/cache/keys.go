package cache

import (
	"context"
	"time"
)

// TTLs per view class. Active-mission views churn fastest, listings less so,
// single entities the least.
const (
	ActiveTTL = 120 * time.Second
	ListTTL   = 300 * time.Second
	EntityTTL = 600 * time.Second
)

// Key builders. The scheme is kind:scopeID with an optional qualifier, and
// invalidation relies on it: a mutation wipes kind:scopeID* so every
// qualified variant goes with it.

func MissionsKey(organizationID string, qualifier string) string {
	if qualifier == "" {
		return "missions:" + organizationID
	}
	return "missions:" + organizationID + ":" + qualifier
}

func MissionKey(id string) string                 { return "mission:" + id }
func MissionWaypointsKey(missionID string) string { return "waypoints:" + missionID }
func MyMissionsKey(userID string) string          { return "myMissions:" + userID }
func ActiveMissionsKey(organizationID string) string {
	return "activeMissions:" + organizationID
}

func DronesKey(organizationID string) string { return "drones:" + organizationID }
func DroneKey(id string) string              { return "drone:" + id }
func AvailableDronesKey(organizationID string) string {
	return "availableDrones:" + organizationID
}

func SitesKey(organizationID string) string { return "sites:" + organizationID }
func SiteKey(id string) string              { return "site:" + id }

func UsersKey(organizationID string) string { return "users:" + organizationID }
func UserKey(id string) string              { return "user:" + id }

func OrganizationKey(id string) string      { return "organization:" + id }
func OrganizationStatsKey(id string) string { return "organizationStats:" + id }

// Invalidation helpers. Every mutation calls the matching helper BEFORE
// returning its response; only then is the caller allowed to observe success.

func InvalidateMissions(ctx context.Context, c Cache, organizationID string) {
	c.DeletePattern(ctx, "missions:"+organizationID+"*")
	c.DeletePattern(ctx, "activeMissions:"+organizationID+"*")
	c.DeletePattern(ctx, "myMissions:*")
}

func InvalidateMission(ctx context.Context, c Cache, missionID, organizationID string) {
	c.Delete(ctx, MissionKey(missionID))
	c.Delete(ctx, MissionWaypointsKey(missionID))
	InvalidateMissions(ctx, c, organizationID)
}

func InvalidateDrones(ctx context.Context, c Cache, organizationID string) {
	c.DeletePattern(ctx, "drones:"+organizationID+"*")
	c.DeletePattern(ctx, "availableDrones:"+organizationID+"*")
}

func InvalidateDrone(ctx context.Context, c Cache, droneID, organizationID string) {
	c.Delete(ctx, DroneKey(droneID))
	InvalidateDrones(ctx, c, organizationID)
}

func InvalidateSite(ctx context.Context, c Cache, siteID, organizationID string) {
	if siteID != "" {
		c.Delete(ctx, SiteKey(siteID))
	}
	c.DeletePattern(ctx, "sites:"+organizationID+"*")
}

func InvalidateUser(ctx context.Context, c Cache, userID, organizationID string) {
	if userID != "" {
		c.Delete(ctx, UserKey(userID))
	}
	if organizationID != "" {
		c.DeletePattern(ctx, "users:"+organizationID+"*")
	}
}

func InvalidateOrganization(ctx context.Context, c Cache, organizationID string) {
	c.Delete(ctx, OrganizationKey(organizationID))
	c.Delete(ctx, OrganizationStatsKey(organizationID))
}
