package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"droneops-control/internal/fleet"
)

const schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_active   INTEGER NOT NULL DEFAULT 1,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	first_name    TEXT NOT NULL DEFAULT '',
	last_name     TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL,
	is_active     INTEGER NOT NULL DEFAULT 1,
	last_login    TIMESTAMP,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS memberships (
	user_id         TEXT NOT NULL REFERENCES users(id),
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	role            TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, organization_id)
);

CREATE TABLE IF NOT EXISTS sites (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	name            TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	latitude        REAL NOT NULL,
	longitude       REAL NOT NULL,
	altitude        REAL NOT NULL,
	is_active       INTEGER NOT NULL DEFAULT 1,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS drones (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	name            TEXT NOT NULL,
	model           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	battery_level   REAL NOT NULL,
	lat             REAL,
	lon             REAL,
	alt             REAL,
	is_active       INTEGER NOT NULL DEFAULT 1,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS missions (
	id                 TEXT PRIMARY KEY,
	organization_id    TEXT NOT NULL REFERENCES organizations(id),
	drone_id           TEXT NOT NULL REFERENCES drones(id),
	site_id            TEXT NOT NULL REFERENCES sites(id),
	name               TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	priority           INTEGER NOT NULL,
	planned_altitude   REAL NOT NULL,
	planned_speed      REAL NOT NULL,
	overlap_percentage REAL NOT NULL,
	scheduled_at       TIMESTAMP,
	started_at         TIMESTAMP,
	completed_at       TIMESTAMP,
	estimated_duration INTEGER NOT NULL DEFAULT 0,
	created_by_id      TEXT NOT NULL,
	assigned_to_id     TEXT NOT NULL DEFAULT '',
	is_active          INTEGER NOT NULL DEFAULT 1,
	created_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_missions_org    ON missions(organization_id, status);
CREATE INDEX IF NOT EXISTS idx_missions_drone  ON missions(drone_id, status);

CREATE TABLE IF NOT EXISTS waypoints (
	id         TEXT PRIMARY KEY,
	mission_id TEXT NOT NULL REFERENCES missions(id),
	sequence   INTEGER NOT NULL,
	latitude   REAL NOT NULL,
	longitude  REAL NOT NULL,
	altitude   REAL NOT NULL,
	action     TEXT NOT NULL DEFAULT '',
	parameters TEXT NOT NULL DEFAULT '{}',
	UNIQUE (mission_id, sequence)
);

CREATE TABLE IF NOT EXISTS flight_logs (
	id            TEXT PRIMARY KEY,
	mission_id    TEXT NOT NULL REFERENCES missions(id),
	drone_id      TEXT NOT NULL REFERENCES drones(id),
	timestamp     TIMESTAMP NOT NULL,
	latitude      REAL NOT NULL,
	longitude     REAL NOT NULL,
	altitude      REAL NOT NULL,
	speed         REAL NOT NULL,
	battery_level REAL NOT NULL,
	gps_accuracy  REAL,
	heading       REAL
);

CREATE INDEX IF NOT EXISTS idx_flight_logs_mission ON flight_logs(mission_id, timestamp);
`

// SQLStore backs the control plane with SQLite. Every transition primitive
// runs inside an immediate transaction and verifies its status preconditions
// with conditional updates, so two racing callers cannot both win.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (and if needed creates) the database at path. The connection
// takes write locks eagerly and waits for busy locks instead of failing fast.
func OpenSQL(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	var pingErr error
	for attempt := 0; attempt < 5; attempt++ {
		if pingErr = db.Ping(); pingErr == nil {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fleet.Internalf("begin transaction: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fleet.Internalf("commit transaction: %v", err)
	}
	return nil
}

// Organizations

func (s *SQLStore) CreateOrganization(ctx context.Context, org *fleet.Organization) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, description, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.Description, org.IsActive, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return fleet.Internalf("insert organization: %v", err)
	}
	return nil
}

func (s *SQLStore) GetOrganization(ctx context.Context, id string) (*fleet.Organization, error) {
	org := &fleet.Organization{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, is_active, created_at, updated_at
		 FROM organizations WHERE id = ? AND is_active = 1`, id).
		Scan(&org.ID, &org.Name, &org.Description, &org.IsActive, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fleet.NotFound("organization")
	}
	if err != nil {
		return nil, fleet.Internalf("query organization: %v", err)
	}
	return org, nil
}

func (s *SQLStore) ListOrganizations(ctx context.Context) ([]*fleet.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, is_active, created_at, updated_at
		 FROM organizations WHERE is_active = 1 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fleet.Internalf("query organizations: %v", err)
	}
	defer rows.Close()
	var out []*fleet.Organization
	for rows.Next() {
		org := &fleet.Organization{}
		if err := rows.Scan(&org.ID, &org.Name, &org.Description, &org.IsActive, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fleet.Internalf("scan organization: %v", err)
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateOrganization(ctx context.Context, org *fleet.Organization) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET name = ?, description = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		org.Name, org.Description, org.IsActive, org.UpdatedAt, org.ID)
	if err != nil {
		return fleet.Internalf("update organization: %v", err)
	}
	return requireRow(res, "organization")
}

func (s *SQLStore) CountActiveMissions(ctx context.Context, orgID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM missions
		 WHERE organization_id = ? AND is_active = 1 AND status IN (?, ?, ?)`,
		orgID, fleet.MissionPlanned, fleet.MissionInProgress, fleet.MissionPaused).Scan(&n)
	if err != nil {
		return 0, fleet.Internalf("count active missions: %v", err)
	}
	return n, nil
}

// Users

func (s *SQLStore) CreateUser(ctx context.Context, u *fleet.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, last_name, role, is_active, last_login, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role, u.IsActive, u.LastLogin, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fleet.Conflictf("email already registered")
		}
		return fleet.Internalf("insert user: %v", err)
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*fleet.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, first_name, last_name, role, is_active, last_login, created_at, updated_at
		 FROM users WHERE id = ?`, id))
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*fleet.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, first_name, last_name, role, is_active, last_login, created_at, updated_at
		 FROM users WHERE email = ? COLLATE NOCASE`, email))
}

func (s *SQLStore) scanUser(row *sql.Row) (*fleet.User, error) {
	u := &fleet.User{}
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.IsActive, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fleet.NotFound("user")
	}
	if err != nil {
		return nil, fleet.Internalf("query user: %v", err)
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return u, nil
}

func (s *SQLStore) ListUsersByOrganization(ctx context.Context, orgID string) ([]*fleet.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.email, u.password_hash, u.first_name, u.last_name, u.role, u.is_active, u.last_login, u.created_at, u.updated_at
		 FROM users u JOIN memberships m ON m.user_id = u.id
		 WHERE m.organization_id = ? AND u.is_active = 1
		 ORDER BY u.email`, orgID)
	if err != nil {
		return nil, fleet.Internalf("query users: %v", err)
	}
	defer rows.Close()
	var out []*fleet.User
	for rows.Next() {
		u := &fleet.User{}
		var lastLogin sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.IsActive, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fleet.Internalf("scan user: %v", err)
		}
		if lastLogin.Valid {
			u.LastLogin = &lastLogin.Time
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateUser(ctx context.Context, u *fleet.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email = ?, password_hash = ?, first_name = ?, last_name = ?, role = ?, is_active = ?, last_login = ?, updated_at = ?
		 WHERE id = ?`,
		u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role, u.IsActive, u.LastLogin, u.UpdatedAt, u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fleet.Conflictf("email already registered")
		}
		return fleet.Internalf("update user: %v", err)
	}
	return requireRow(res, "user")
}

// Memberships

func (s *SQLStore) CreateMembership(ctx context.Context, m *fleet.Membership) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships (user_id, organization_id, role, created_at) VALUES (?, ?, ?, ?)`,
		m.UserID, m.OrganizationID, m.Role, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fleet.Conflictf("user is already a member of this organization")
		}
		return fleet.Internalf("insert membership: %v", err)
	}
	return nil
}

func (s *SQLStore) GetMembership(ctx context.Context, userID, orgID string) (*fleet.Membership, error) {
	m := &fleet.Membership{}
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, organization_id, role, created_at FROM memberships
		 WHERE user_id = ? AND organization_id = ?`, userID, orgID).
		Scan(&m.UserID, &m.OrganizationID, &m.Role, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fleet.NotFound("membership")
	}
	if err != nil {
		return nil, fleet.Internalf("query membership: %v", err)
	}
	return m, nil
}

func (s *SQLStore) UpdateMembershipRole(ctx context.Context, userID, orgID string, role fleet.Role) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memberships SET role = ? WHERE user_id = ? AND organization_id = ?`,
		role, userID, orgID)
	if err != nil {
		return fleet.Internalf("update membership: %v", err)
	}
	return requireRow(res, "membership")
}

func (s *SQLStore) DeleteMembership(ctx context.Context, userID, orgID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE user_id = ? AND organization_id = ?`, userID, orgID)
	if err != nil {
		return fleet.Internalf("delete membership: %v", err)
	}
	return requireRow(res, "membership")
}

func (s *SQLStore) ListMembershipsByUser(ctx context.Context, userID string) ([]*fleet.Membership, error) {
	return s.queryMemberships(ctx,
		`SELECT user_id, organization_id, role, created_at FROM memberships
		 WHERE user_id = ? ORDER BY organization_id`, userID)
}

func (s *SQLStore) ListMembershipsByOrganization(ctx context.Context, orgID string) ([]*fleet.Membership, error) {
	return s.queryMemberships(ctx,
		`SELECT user_id, organization_id, role, created_at FROM memberships
		 WHERE organization_id = ? ORDER BY user_id`, orgID)
}

func (s *SQLStore) queryMemberships(ctx context.Context, query string, arg any) ([]*fleet.Membership, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fleet.Internalf("query memberships: %v", err)
	}
	defer rows.Close()
	var out []*fleet.Membership
	for rows.Next() {
		m := &fleet.Membership{}
		if err := rows.Scan(&m.UserID, &m.OrganizationID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fleet.Internalf("scan membership: %v", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Sites

func (s *SQLStore) CreateSite(ctx context.Context, site *fleet.Site) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sites (id, organization_id, name, description, latitude, longitude, altitude, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		site.ID, site.OrganizationID, site.Name, site.Description, site.Latitude, site.Longitude, site.Altitude,
		site.IsActive, site.CreatedAt, site.UpdatedAt)
	if err != nil {
		return fleet.Internalf("insert site: %v", err)
	}
	return nil
}

func (s *SQLStore) GetSite(ctx context.Context, id string) (*fleet.Site, error) {
	site := &fleet.Site{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, description, latitude, longitude, altitude, is_active, created_at, updated_at
		 FROM sites WHERE id = ? AND is_active = 1`, id).
		Scan(&site.ID, &site.OrganizationID, &site.Name, &site.Description, &site.Latitude, &site.Longitude,
			&site.Altitude, &site.IsActive, &site.CreatedAt, &site.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fleet.NotFound("site")
	}
	if err != nil {
		return nil, fleet.Internalf("query site: %v", err)
	}
	return site, nil
}

func (s *SQLStore) ListSitesByOrganization(ctx context.Context, orgID string) ([]*fleet.Site, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, organization_id, name, description, latitude, longitude, altitude, is_active, created_at, updated_at
		 FROM sites WHERE organization_id = ? AND is_active = 1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fleet.Internalf("query sites: %v", err)
	}
	defer rows.Close()
	var out []*fleet.Site
	for rows.Next() {
		site := &fleet.Site{}
		if err := rows.Scan(&site.ID, &site.OrganizationID, &site.Name, &site.Description, &site.Latitude,
			&site.Longitude, &site.Altitude, &site.IsActive, &site.CreatedAt, &site.UpdatedAt); err != nil {
			return nil, fleet.Internalf("scan site: %v", err)
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateSite(ctx context.Context, site *fleet.Site) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sites SET name = ?, description = ?, latitude = ?, longitude = ?, altitude = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		site.Name, site.Description, site.Latitude, site.Longitude, site.Altitude, site.IsActive, site.UpdatedAt, site.ID)
	if err != nil {
		return fleet.Internalf("update site: %v", err)
	}
	return requireRow(res, "site")
}

// Drones

const droneColumns = `id, organization_id, name, model, status, battery_level, lat, lon, alt, is_active, created_at, updated_at`

func (s *SQLStore) CreateDrone(ctx context.Context, d *fleet.Drone) error {
	lat, lon, alt := positionColumns(d.Position)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO drones (`+droneColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OrganizationID, d.Name, d.Model, d.Status, d.BatteryLevel, lat, lon, alt,
		d.IsActive, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fleet.Internalf("insert drone: %v", err)
	}
	return nil
}

func (s *SQLStore) GetDrone(ctx context.Context, id string) (*fleet.Drone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+droneColumns+` FROM drones WHERE id = ? AND is_active = 1`, id)
	if err != nil {
		return nil, fleet.Internalf("query drone: %v", err)
	}
	defer rows.Close()
	out, err := scanDrones(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fleet.NotFound("drone")
	}
	return out[0], nil
}

func (s *SQLStore) ListDronesByOrganization(ctx context.Context, orgID string) ([]*fleet.Drone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+droneColumns+` FROM drones WHERE organization_id = ? AND is_active = 1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fleet.Internalf("query drones: %v", err)
	}
	defer rows.Close()
	return scanDrones(rows)
}

func (s *SQLStore) ListAvailableDrones(ctx context.Context, orgID string, minBattery float64) ([]*fleet.Drone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+droneColumns+` FROM drones
		 WHERE organization_id = ? AND is_active = 1 AND status = ? AND battery_level >= ?
		 ORDER BY battery_level DESC`, orgID, fleet.DroneAvailable, minBattery)
	if err != nil {
		return nil, fleet.Internalf("query available drones: %v", err)
	}
	defer rows.Close()
	return scanDrones(rows)
}

func scanDrones(rows *sql.Rows) ([]*fleet.Drone, error) {
	var out []*fleet.Drone
	for rows.Next() {
		d := &fleet.Drone{}
		var lat, lon, alt sql.NullFloat64
		if err := rows.Scan(&d.ID, &d.OrganizationID, &d.Name, &d.Model, &d.Status, &d.BatteryLevel,
			&lat, &lon, &alt, &d.IsActive, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fleet.Internalf("scan drone: %v", err)
		}
		if lat.Valid && lon.Valid {
			d.Position = &fleet.Position{Lat: lat.Float64, Lon: lon.Float64, Alt: alt.Float64}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func positionColumns(p *fleet.Position) (lat, lon, alt sql.NullFloat64) {
	if p == nil {
		return
	}
	return sql.NullFloat64{Float64: p.Lat, Valid: true},
		sql.NullFloat64{Float64: p.Lon, Valid: true},
		sql.NullFloat64{Float64: p.Alt, Valid: true}
}

func (s *SQLStore) UpdateDrone(ctx context.Context, d *fleet.Drone) error {
	lat, lon, alt := positionColumns(d.Position)
	res, err := s.db.ExecContext(ctx,
		`UPDATE drones SET name = ?, model = ?, status = ?, battery_level = ?, lat = ?, lon = ?, alt = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		d.Name, d.Model, d.Status, d.BatteryLevel, lat, lon, alt, d.IsActive, d.UpdatedAt, d.ID)
	if err != nil {
		return fleet.Internalf("update drone: %v", err)
	}
	return requireRow(res, "drone")
}

func (s *SQLStore) CountMissionsForDrone(ctx context.Context, droneID string, statuses ...fleet.MissionStatus) (int, error) {
	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	args = append(args, droneID)
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, st)
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM missions WHERE drone_id = ? AND is_active = 1 AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...).Scan(&n)
	if err != nil {
		return 0, fleet.Internalf("count missions for drone: %v", err)
	}
	return n, nil
}

// Missions

const missionColumns = `id, organization_id, drone_id, site_id, name, description, status, priority,
	planned_altitude, planned_speed, overlap_percentage, scheduled_at, started_at, completed_at,
	estimated_duration, created_by_id, assigned_to_id, is_active, created_at, updated_at`

func (s *SQLStore) CreateMission(ctx context.Context, m *fleet.Mission, waypoints []*fleet.Waypoint) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO missions (`+missionColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.OrganizationID, m.DroneID, m.SiteID, m.Name, m.Description, m.Status, m.Priority,
			m.PlannedAltitude, m.PlannedSpeed, m.OverlapPercentage, m.ScheduledAt, m.StartedAt, m.CompletedAt,
			m.EstimatedDuration, m.CreatedByID, m.AssignedToID, m.IsActive, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			return fleet.Internalf("insert mission: %v", err)
		}
		for _, w := range waypoints {
			if err := insertWaypoint(ctx, tx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) GetMission(ctx context.Context, id string) (*fleet.Mission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+missionColumns+` FROM missions WHERE id = ? AND is_active = 1`, id)
	if err != nil {
		return nil, fleet.Internalf("query mission: %v", err)
	}
	defer rows.Close()
	out, err := scanMissions(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fleet.NotFound("mission")
	}
	return out[0], nil
}

func (s *SQLStore) ListMissionsByOrganization(ctx context.Context, orgID string, f MissionFilter) ([]*fleet.Mission, error) {
	query := `SELECT ` + missionColumns + ` FROM missions WHERE organization_id = ? AND is_active = 1`
	args := []any{orgID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fleet.Internalf("query missions: %v", err)
	}
	defer rows.Close()
	return scanMissions(rows)
}

func (s *SQLStore) ListMissionsForUser(ctx context.Context, userID string) ([]*fleet.Mission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+missionColumns+` FROM missions
		 WHERE is_active = 1 AND (created_by_id = ? OR assigned_to_id = ?)
		 ORDER BY created_at DESC`, userID, userID)
	if err != nil {
		return nil, fleet.Internalf("query missions: %v", err)
	}
	defer rows.Close()
	return scanMissions(rows)
}

func scanMissions(rows *sql.Rows) ([]*fleet.Mission, error) {
	var out []*fleet.Mission
	for rows.Next() {
		m := &fleet.Mission{}
		var scheduled, started, completed sql.NullTime
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.DroneID, &m.SiteID, &m.Name, &m.Description,
			&m.Status, &m.Priority, &m.PlannedAltitude, &m.PlannedSpeed, &m.OverlapPercentage,
			&scheduled, &started, &completed, &m.EstimatedDuration, &m.CreatedByID, &m.AssignedToID,
			&m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fleet.Internalf("scan mission: %v", err)
		}
		if scheduled.Valid {
			m.ScheduledAt = &scheduled.Time
		}
		if started.Valid {
			m.StartedAt = &started.Time
		}
		if completed.Valid {
			m.CompletedAt = &completed.Time
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateMission(ctx context.Context, m *fleet.Mission) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE missions SET name = ?, description = ?, status = ?, priority = ?, planned_altitude = ?,
		 planned_speed = ?, overlap_percentage = ?, scheduled_at = ?, started_at = ?, completed_at = ?,
		 estimated_duration = ?, assigned_to_id = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		m.Name, m.Description, m.Status, m.Priority, m.PlannedAltitude, m.PlannedSpeed, m.OverlapPercentage,
		m.ScheduledAt, m.StartedAt, m.CompletedAt, m.EstimatedDuration, m.AssignedToID, m.IsActive, m.UpdatedAt, m.ID)
	if err != nil {
		return fleet.Internalf("update mission: %v", err)
	}
	return requireRow(res, "mission")
}

// Transition primitives. Each one is a single transaction whose UPDATEs carry
// the required current status in the WHERE clause; zero rows affected means
// the precondition no longer holds and the transition is rejected.

func (s *SQLStore) StartMission(ctx context.Context, missionID string, startedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE missions SET status = ?, started_at = ?, updated_at = ?
			 WHERE id = ? AND is_active = 1 AND status = ?`,
			fleet.MissionInProgress, startedAt, startedAt, missionID, fleet.MissionPlanned)
		if err != nil {
			return fleet.Internalf("start mission: %v", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.explainMissionTransition(ctx, tx, missionID, "only planned missions can be started")
		}
		var droneID string
		if err := tx.QueryRowContext(ctx, `SELECT drone_id FROM missions WHERE id = ?`, missionID).Scan(&droneID); err != nil {
			return fleet.Internalf("load mission drone: %v", err)
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE drones SET status = ?, updated_at = ?
			 WHERE id = ? AND is_active = 1 AND status = ?`,
			fleet.DroneInMission, startedAt, droneID, fleet.DroneAvailable)
		if err != nil {
			return fleet.Internalf("claim drone: %v", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fleet.Conflictf("drone %s is not available", droneID)
		}
		return nil
	})
}

func (s *SQLStore) PauseMission(ctx context.Context, missionID string) error {
	return s.conditionalMissionUpdate(ctx, missionID, fleet.MissionInProgress, fleet.MissionPaused,
		"only missions in progress can be paused")
}

func (s *SQLStore) ResumeMission(ctx context.Context, missionID string) error {
	return s.conditionalMissionUpdate(ctx, missionID, fleet.MissionPaused, fleet.MissionInProgress,
		"only paused missions can be resumed")
}

func (s *SQLStore) conditionalMissionUpdate(ctx context.Context, missionID string, from, to fleet.MissionStatus, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE missions SET status = ?, updated_at = ? WHERE id = ? AND is_active = 1 AND status = ?`,
			to, time.Now().UTC(), missionID, from)
		if err != nil {
			return fleet.Internalf("update mission status: %v", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.explainMissionTransition(ctx, tx, missionID, reason)
		}
		return nil
	})
}

func (s *SQLStore) AbortMission(ctx context.Context, missionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status fleet.MissionStatus
		var droneID string
		err := tx.QueryRowContext(ctx,
			`SELECT status, drone_id FROM missions WHERE id = ? AND is_active = 1`, missionID).
			Scan(&status, &droneID)
		if errors.Is(err, sql.ErrNoRows) {
			return fleet.NotFound("mission")
		}
		if err != nil {
			return fleet.Internalf("query mission: %v", err)
		}
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE missions SET status = ?, updated_at = ?
			 WHERE id = ? AND is_active = 1 AND status IN (?, ?, ?)`,
			fleet.MissionAborted, now, missionID, fleet.MissionPlanned, fleet.MissionInProgress, fleet.MissionPaused)
		if err != nil {
			return fleet.Internalf("abort mission: %v", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fleet.InvalidTransitionf("mission is %s, only planned or active missions can be aborted", status)
		}
		if status.HoldsDrone() {
			return releaseDrone(ctx, tx, droneID, now)
		}
		return nil
	})
}

func (s *SQLStore) CompleteMission(ctx context.Context, missionID string, completedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var droneID string
		err := tx.QueryRowContext(ctx,
			`SELECT drone_id FROM missions WHERE id = ? AND is_active = 1`, missionID).Scan(&droneID)
		if errors.Is(err, sql.ErrNoRows) {
			return fleet.NotFound("mission")
		}
		if err != nil {
			return fleet.Internalf("query mission: %v", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE missions SET status = ?, completed_at = ?, updated_at = ?
			 WHERE id = ? AND is_active = 1 AND status = ?`,
			fleet.MissionCompleted, completedAt, completedAt, missionID, fleet.MissionInProgress)
		if err != nil {
			return fleet.Internalf("complete mission: %v", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.explainMissionTransition(ctx, tx, missionID, "only missions in progress can be completed")
		}
		return releaseDrone(ctx, tx, droneID, completedAt)
	})
}

// explainMissionTransition turns a zero-rows-affected conditional update into
// the right domain error: NotFound if the mission is gone, otherwise an
// invalid-transition error naming the actual status.
func (s *SQLStore) explainMissionTransition(ctx context.Context, tx *sql.Tx, missionID, reason string) error {
	var status fleet.MissionStatus
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM missions WHERE id = ? AND is_active = 1`, missionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.NotFound("mission")
	}
	if err != nil {
		return fleet.Internalf("query mission: %v", err)
	}
	return fleet.InvalidTransitionf("mission is %s, %s", status, reason)
}

func releaseDrone(ctx context.Context, tx *sql.Tx, droneID string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE drones SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		fleet.DroneAvailable, at, droneID, fleet.DroneInMission)
	if err != nil {
		return fleet.Internalf("release drone: %v", err)
	}
	return nil
}

// Waypoints

func insertWaypoint(ctx context.Context, tx *sql.Tx, w *fleet.Waypoint) error {
	params, err := json.Marshal(w.Parameters)
	if err != nil {
		return fleet.Internalf("encode waypoint parameters: %v", err)
	}
	if w.Parameters == nil {
		params = []byte("{}")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO waypoints (id, mission_id, sequence, latitude, longitude, altitude, action, parameters)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.MissionID, w.Sequence, w.Latitude, w.Longitude, w.Altitude, w.Action, string(params))
	if err != nil {
		if isUniqueViolation(err) {
			return fleet.Conflictf("waypoint with sequence %d already exists", w.Sequence)
		}
		return fleet.Internalf("insert waypoint: %v", err)
	}
	return nil
}

func (s *SQLStore) CreateWaypoint(ctx context.Context, w *fleet.Waypoint) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertWaypoint(ctx, tx, w)
	})
}

func (s *SQLStore) GetWaypoint(ctx context.Context, id string) (*fleet.Waypoint, error) {
	w := &fleet.Waypoint{}
	var params string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, mission_id, sequence, latitude, longitude, altitude, action, parameters
		 FROM waypoints WHERE id = ?`, id).
		Scan(&w.ID, &w.MissionID, &w.Sequence, &w.Latitude, &w.Longitude, &w.Altitude, &w.Action, &params)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fleet.NotFound("waypoint")
	}
	if err != nil {
		return nil, fleet.Internalf("query waypoint: %v", err)
	}
	if err := json.Unmarshal([]byte(params), &w.Parameters); err != nil {
		return nil, fleet.Internalf("decode waypoint parameters: %v", err)
	}
	if len(w.Parameters) == 0 {
		w.Parameters = nil
	}
	return w, nil
}

func (s *SQLStore) ListWaypoints(ctx context.Context, missionID string) ([]*fleet.Waypoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mission_id, sequence, latitude, longitude, altitude, action, parameters
		 FROM waypoints WHERE mission_id = ? ORDER BY sequence`, missionID)
	if err != nil {
		return nil, fleet.Internalf("query waypoints: %v", err)
	}
	defer rows.Close()
	var out []*fleet.Waypoint
	for rows.Next() {
		w := &fleet.Waypoint{}
		var params string
		if err := rows.Scan(&w.ID, &w.MissionID, &w.Sequence, &w.Latitude, &w.Longitude, &w.Altitude, &w.Action, &params); err != nil {
			return nil, fleet.Internalf("scan waypoint: %v", err)
		}
		if err := json.Unmarshal([]byte(params), &w.Parameters); err != nil {
			return nil, fleet.Internalf("decode waypoint parameters: %v", err)
		}
		if len(w.Parameters) == 0 {
			w.Parameters = nil
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateWaypoint(ctx context.Context, w *fleet.Waypoint) error {
	params, err := json.Marshal(w.Parameters)
	if err != nil {
		return fleet.Internalf("encode waypoint parameters: %v", err)
	}
	if w.Parameters == nil {
		params = []byte("{}")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE waypoints SET sequence = ?, latitude = ?, longitude = ?, altitude = ?, action = ?, parameters = ?
		 WHERE id = ?`,
		w.Sequence, w.Latitude, w.Longitude, w.Altitude, w.Action, string(params), w.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fleet.Conflictf("waypoint with sequence %d already exists", w.Sequence)
		}
		return fleet.Internalf("update waypoint: %v", err)
	}
	return requireRow(res, "waypoint")
}

func (s *SQLStore) DeleteWaypoint(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM waypoints WHERE id = ?`, id)
	if err != nil {
		return fleet.Internalf("delete waypoint: %v", err)
	}
	return requireRow(res, "waypoint")
}

func (s *SQLStore) ReorderWaypoints(ctx context.Context, missionID string, orderedIDs []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM waypoints WHERE mission_id = ?`, missionID)
		if err != nil {
			return fleet.Internalf("query waypoints: %v", err)
		}
		current := make(map[string]bool)
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fleet.Internalf("scan waypoint: %v", err)
			}
			current[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fleet.Internalf("query waypoints: %v", err)
		}
		if len(orderedIDs) != len(current) {
			return fleet.Conflictf("reorder list does not match the mission's waypoint set")
		}
		seen := make(map[string]bool, len(orderedIDs))
		for _, id := range orderedIDs {
			if !current[id] || seen[id] {
				return fleet.Conflictf("reorder list does not match the mission's waypoint set")
			}
			seen[id] = true
		}
		// Two phases keep the unique (mission_id, sequence) index satisfied
		// at every statement boundary.
		for i, id := range orderedIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE waypoints SET sequence = ? WHERE id = ?`, -(i + 1), id); err != nil {
				return fleet.Internalf("reorder waypoint: %v", err)
			}
		}
		for i, id := range orderedIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE waypoints SET sequence = ? WHERE id = ?`, i+1, id); err != nil {
				return fleet.Internalf("reorder waypoint: %v", err)
			}
		}
		return nil
	})
}

// Flight logs

func (s *SQLStore) AppendFlightLog(ctx context.Context, e *fleet.FlightLogEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO flight_logs (id, mission_id, drone_id, timestamp, latitude, longitude, altitude, speed, battery_level, gps_accuracy, heading)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.MissionID, e.DroneID, e.Timestamp, e.Latitude, e.Longitude, e.Altitude, e.Speed,
			e.BatteryLevel, e.GPSAccuracy, e.Heading)
		if err != nil {
			return fleet.Internalf("insert flight log: %v", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE drones SET lat = ?, lon = ?, alt = ?, battery_level = ?, updated_at = ?
			 WHERE id = ? AND is_active = 1`,
			e.Latitude, e.Longitude, e.Altitude, e.BatteryLevel, e.Timestamp, e.DroneID)
		if err != nil {
			return fleet.Internalf("update drone telemetry: %v", err)
		}
		return requireRow(res, "drone")
	})
}

func (s *SQLStore) ListRecentFlightLogs(ctx context.Context, missionID string, limit int) ([]*fleet.FlightLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mission_id, drone_id, timestamp, latitude, longitude, altitude, speed, battery_level, gps_accuracy, heading
		 FROM flight_logs WHERE mission_id = ? ORDER BY timestamp DESC LIMIT ?`, missionID, limit)
	if err != nil {
		return nil, fleet.Internalf("query flight logs: %v", err)
	}
	defer rows.Close()
	var out []*fleet.FlightLogEntry
	for rows.Next() {
		e := &fleet.FlightLogEntry{}
		var acc, heading sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.MissionID, &e.DroneID, &e.Timestamp, &e.Latitude, &e.Longitude,
			&e.Altitude, &e.Speed, &e.BatteryLevel, &acc, &heading); err != nil {
			return nil, fleet.Internalf("scan flight log: %v", err)
		}
		if acc.Valid {
			e.GPSAccuracy = &acc.Float64
		}
		if heading.Valid {
			e.Heading = &heading.Float64
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fleet.Internalf("rows affected: %v", err)
	}
	if n == 0 {
		return fleet.NotFound(entity)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
