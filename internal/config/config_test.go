package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testSchema = `
server?: {
	addr?:             string
	shutdown_timeout?: string
}
database?: {
	driver?: "sqlite" | "memory"
	path?:   string
}
auth?: {
	jwt_secret?: string
	token_ttl?:  string
}
telemetry?: {
	stdout?: bool
}
`

func writeConfig(t *testing.T, yaml string) (configPath, schemaPath string) {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.yaml")
	schemaPath = filepath.Join(dir, "config.cue")
	if err := os.WriteFile(configPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(schemaPath, []byte(testSchema), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, schemaPath
}

func TestLoadConfig_Valid(t *testing.T) {
	configPath, schemaPath := writeConfig(t, `
server:
  addr: ":9090"
  shutdown_timeout: 5s
database:
  driver: memory
auth:
  jwt_secret: test-secret
  token_ttl: 12h
`)
	cfg, err := Load(configPath, schemaPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.ShutdownTimeout.Std() != 5*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Auth.TokenTTL.Std() != 12*time.Hour {
		t.Errorf("token_ttl = %v", cfg.Auth.TokenTTL.Std())
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	configPath, schemaPath := writeConfig(t, `
auth:
  jwt_secret: test-secret
`)
	cfg, err := Load(configPath, schemaPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Database.Driver != "sqlite" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Auth.TokenTTL.Std() != 24*time.Hour {
		t.Errorf("token_ttl default = %v", cfg.Auth.TokenTTL.Std())
	}
}

func TestLoadConfig_RejectsBadDriver(t *testing.T) {
	configPath, schemaPath := writeConfig(t, `
database:
  driver: postgres
auth:
  jwt_secret: test-secret
`)
	if _, err := Load(configPath, schemaPath); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestLoadConfig_RequiresSecret(t *testing.T) {
	configPath, schemaPath := writeConfig(t, `
database:
  driver: memory
`)
	if _, err := Load(configPath, schemaPath); err == nil {
		t.Fatal("expected error for missing jwt_secret")
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	configPath, schemaPath := writeConfig(t, `
database:
  driver: memory
auth:
  jwt_secret: file-secret
`)
	t.Setenv("DRONEOPS_ADDR", ":7070")
	t.Setenv("DRONEOPS_JWT_SECRET", "env-secret")

	cfg, err := Load(configPath, schemaPath)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Server.Addr != ":7070" || cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}
