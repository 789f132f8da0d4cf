package main

import (
	"log/slog"

	"droneops-control/internal/config"
	"droneops-control/internal/telemetry"
)

// newSinks builds the flight log fan-out from the telemetry config. It
// returns the combined writer and a cleanup function that closes any file
// handles.
func newSinks(cfg config.Telemetry, log *slog.Logger) (telemetry.FlightLogWriter, func(), error) {
	cleanup := func() {}
	var writers []telemetry.FlightLogWriter

	if cfg.Stdout {
		writers = append(writers, telemetry.NewStdoutWriter())
	}
	if cfg.LogFile != "" {
		fw, err := telemetry.NewFileWriter(cfg.LogFile)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { fw.Close() }
		writers = append(writers, fw)
	}
	if cfg.GreptimeEndpoint != "" {
		gw, err := telemetry.NewGreptimeDBWriter(cfg.GreptimeEndpoint, cfg.GreptimeDatabase, log)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		writers = append(writers, gw)
	}

	if len(writers) == 1 {
		return writers[0], cleanup, nil
	}
	return telemetry.NewMultiWriter(writers...), cleanup, nil
}
