package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"droneops-control/internal/api"
	"droneops-control/internal/auth"
	"droneops-control/internal/cache"
	"droneops-control/internal/config"
	"droneops-control/internal/drone"
	"droneops-control/internal/logging"
	"droneops-control/internal/mission"
	"droneops-control/internal/org"
	"droneops-control/internal/store"
	"droneops-control/internal/telemetry"
)

var (
	serveConfigPath string
	serveSchemaPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane API server",
	Long:  "serve starts the HTTP API, backed by the configured store and telemetry sinks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath, serveSchemaPath)
		if err != nil {
			return err
		}
		log := logging.New()

		var st store.Store
		switch cfg.Database.Driver {
		case "memory":
			st = store.NewMemoryStore()
		default:
			st, err = store.OpenSQL(cfg.Database.Path)
			if err != nil {
				return err
			}
		}
		defer st.Close()

		writer, cleanup, err := newSinks(cfg.Telemetry, log)
		if err != nil {
			return err
		}
		defer cleanup()

		c := cache.NewMemory()
		tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL.Std())
		gate := auth.NewGate(st, tokens, log)

		server := api.NewServer(gate,
			auth.NewService(st, tokens, log),
			org.NewService(st, c, gate, log),
			drone.NewService(st, c, gate, log),
			mission.NewService(st, c, gate, log),
			telemetry.NewIngest(st, c, gate, writer, log),
			c, log)

		httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: server.Handler()}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			log.Info("listening", "addr", cfg.Server.Addr, "driver", cfg.Database.Driver)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "config/config.yaml", "Path to service configuration YAML")
	serveCmd.Flags().StringVar(&serveSchemaPath, "schema", "schemas/config.cue", "Path to CUE schema file")
}
