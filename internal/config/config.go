// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "30s" or "12h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Server configures the HTTP listener.
type Server struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Database selects and configures the persistence backend.
type Database struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	Path   string `yaml:"path"`
}

// Auth configures token issuance.
type Auth struct {
	JWTSecret string   `yaml:"jwt_secret"`
	TokenTTL  Duration `yaml:"token_ttl"`
}

// Telemetry configures the flight log sinks. Stdout is always safe; the file
// and GreptimeDB sinks are enabled when their settings are present.
type Telemetry struct {
	Stdout           bool   `yaml:"stdout"`
	LogFile          string `yaml:"log_file"`
	GreptimeEndpoint string `yaml:"greptime_endpoint"`
	GreptimeDatabase string `yaml:"greptime_database"`
}

// Config is the root configuration for the control plane.
type Config struct {
	Server    Server    `yaml:"server"`
	Database  Database  `yaml:"database"`
	Auth      Auth      `yaml:"auth"`
	Telemetry Telemetry `yaml:"telemetry"`
}

func defaults() Config {
	return Config{
		Server:    Server{Addr: ":8080", ShutdownTimeout: Duration(10 * time.Second)},
		Database:  Database{Driver: "sqlite", Path: "droneops.db"},
		Auth:      Auth{TokenTTL: Duration(24 * time.Hour)},
		Telemetry: Telemetry{GreptimeDatabase: "public"},
	}
}

// Load loads YAML config and validates it against a CUE schema. Environment
// variables override file values for deployment-specific settings.
func Load(configPath, cueSchemaPath string) (*Config, error) {
	if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DRONEOPS_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DRONEOPS_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("DRONEOPS_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Telemetry.GreptimeEndpoint = v
	}
}

func (c *Config) check() error {
	if c.Database.Driver != "sqlite" && c.Database.Driver != "memory" {
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for the sqlite driver")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (or set DRONEOPS_JWT_SECRET)")
	}
	return nil
}
