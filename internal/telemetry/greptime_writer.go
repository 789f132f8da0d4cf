package telemetry

import (
	"context"
	"log/slog"

	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	ingesterContext "github.com/GreptimeTeam/greptimedb-ingester-go/context"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"droneops-control/internal/fleet"
)

// GreptimeDBWriter writes flight log rows to GreptimeDB via the ingester
// client.
type GreptimeDBWriter struct {
	client greptime.Client
	db     string
	table  string
	log    *slog.Logger
}

// NewGreptimeDBWriter creates the writer and auto-creates the table if needed.
func NewGreptimeDBWriter(endpoint, database string, log *slog.Logger) (*GreptimeDBWriter, error) {
	ctx := ingesterContext.NewContext(context.Background())
	client, err := greptime.NewClient(ctx, &greptime.Config{
		Endpoint: endpoint,
	})
	if err != nil {
		return nil, err
	}

	ddl := `
CREATE TABLE IF NOT EXISTS flight_logs (
  mission_id STRING TAG,
  drone_id STRING TAG,
  lat DOUBLE,
  lon DOUBLE,
  alt DOUBLE,
  speed DOUBLE,
  battery DOUBLE,
  gps_accuracy DOUBLE,
  heading DOUBLE,
  ts TIMESTAMP TIME INDEX
) WITH (ttl='30d')
`
	if _, err := client.SQL(ctx, ddl); err != nil {
		return nil, err
	}

	return &GreptimeDBWriter{
		client: client,
		db:     database,
		table:  "flight_logs",
		log:    log,
	}, nil
}

// Write inserts a single row.
func (w *GreptimeDBWriter) Write(row fleet.FlightLogEntry) error {
	return w.WriteBatch([]fleet.FlightLogEntry{row})
}

// WriteBatch inserts multiple rows.
func (w *GreptimeDBWriter) WriteBatch(rows []fleet.FlightLogEntry) error {
	if len(rows) == 0 {
		return nil
	}

	ctx := ingesterContext.NewContext(context.Background())

	tbl := table.New(w.table)
	tbl.AddTagColumn("mission_id", types.StringType, 0)
	tbl.AddTagColumn("drone_id", types.StringType, 0)
	tbl.AddFieldColumn("lat", types.Float64Type)
	tbl.AddFieldColumn("lon", types.Float64Type)
	tbl.AddFieldColumn("alt", types.Float64Type)
	tbl.AddFieldColumn("speed", types.Float64Type)
	tbl.AddFieldColumn("battery", types.Float64Type)
	tbl.AddFieldColumn("gps_accuracy", types.Float64Type)
	tbl.AddFieldColumn("heading", types.Float64Type)
	tbl.SetTimeIndex("ts", types.TimestampType)

	for _, r := range rows {
		tbl.AppendTagValue("mission_id", r.MissionID)
		tbl.AppendTagValue("drone_id", r.DroneID)
		tbl.AppendFieldValue("lat", r.Latitude)
		tbl.AppendFieldValue("lon", r.Longitude)
		tbl.AppendFieldValue("alt", r.Altitude)
		tbl.AppendFieldValue("speed", r.Speed)
		tbl.AppendFieldValue("battery", r.BatteryLevel)
		tbl.AppendFieldValue("gps_accuracy", deref(r.GPSAccuracy))
		tbl.AppendFieldValue("heading", deref(r.Heading))
		tbl.AppendTimeIndex(r.Timestamp)
	}

	if err := w.client.Write(ctx, w.db, []*table.Table{tbl}); err != nil {
		w.log.Error("greptime write failed", "rows", len(rows), "error", err)
		return err
	}
	w.log.Debug("greptime write", "rows", len(rows))
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
