package telemetry

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

var editRoles = []fleet.Role{fleet.RoleSuperAdmin, fleet.RoleModerator, fleet.RoleOperator}

// Ingest accepts flight log rows, persists them, and fans them out to the
// configured sinks. The database append and the drone's live position update
// are one atomic store operation; sink delivery is best effort and detached.
type Ingest struct {
	store  store.Store
	cache  cache.Cache
	gate   *auth.Gate
	writer FlightLogWriter
	log    *slog.Logger
	now    func() time.Time
}

func NewIngest(s store.Store, c cache.Cache, gate *auth.Gate, writer FlightLogWriter, log *slog.Logger) *Ingest {
	return &Ingest{store: s, cache: c, gate: gate, writer: writer, log: log, now: time.Now}
}

// Row is one incoming telemetry sample. Timestamp is server-assigned when
// zero.
type Row struct {
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

// Append validates and stores one row. The drone's live position and battery
// move with it. The row reaches the sinks after the store commit, off the
// request path.
func (i *Ingest) Append(ctx context.Context, p *auth.Principal, in Row) (*fleet.FlightLogEntry, error) {
	m, err := i.store.GetMission(ctx, in.MissionID)
	if err != nil {
		return nil, err
	}
	if _, ok := p.RoleIn(m.OrganizationID); !ok {
		return nil, fleet.NotFound("mission")
	}
	if err := i.gate.RequireRole(p, m.OrganizationID, editRoles...); err != nil {
		return nil, err
	}

	var v fleet.Violations
	v.Check(in.DroneID == m.DroneID, "drone_id", "row does not match the mission's drone")
	v.Check(!m.Status.Terminal(), "mission_id", "mission is finished")
	v.CheckPosition(in.Latitude, in.Longitude, in.Altitude)
	v.Check(fleet.ValidSpeed(in.Speed), "speed", "must not be negative")
	v.Check(fleet.ValidBatteryLevel(in.BatteryLevel), "battery_level", "must be between 0 and 100")
	if in.GPSAccuracy != nil {
		v.Check(fleet.ValidGPSAccuracy(*in.GPSAccuracy), "gps_accuracy", "must not be negative")
	}
	if in.Heading != nil {
		v.Check(fleet.ValidHeading(*in.Heading), "heading", "must be between 0 and 360")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	ts := in.Timestamp
	if ts.IsZero() {
		ts = i.now().UTC()
	}
	entry := &fleet.FlightLogEntry{
		ID:           uuid.NewString(),
		MissionID:    in.MissionID,
		DroneID:      in.DroneID,
		Timestamp:    ts,
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		Altitude:     in.Altitude,
		Speed:        in.Speed,
		BatteryLevel: in.BatteryLevel,
		GPSAccuracy:  in.GPSAccuracy,
		Heading:      in.Heading,
	}
	if err := i.store.AppendFlightLog(ctx, entry); err != nil {
		return nil, err
	}
	metrics.FlightLogRows.Inc()
	cache.InvalidateDrone(ctx, i.cache, entry.DroneID, m.OrganizationID)

	if i.writer != nil {
		row := *entry
		go func() {
			if err := i.writer.Write(row); err != nil {
				i.log.Warn("flight log sink write failed", "mission_id", row.MissionID, "error", err)
			}
		}()
	}
	return entry, nil
}

// Recent returns the newest rows for a mission, newest first.
func (i *Ingest) Recent(ctx context.Context, p *auth.Principal, missionID string, limit int) ([]*fleet.FlightLogEntry, error) {
	m, err := i.store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if _, ok := p.RoleIn(m.OrganizationID); !ok {
		return nil, fleet.NotFound("mission")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return i.store.ListRecentFlightLogs(ctx, missionID, limit)
}
