package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  host: 127.0.0.1
  port: 8080
stream:
  port: 9191
  max_sessions: 32
datagram:
  port: 9192
  worker_count: 4
database:
  driver: memory
auth:
  admin_username: admin
  admin_password: s3cret-password
  jwt_secret: 0123456789abcdef0123456789abcdef
  jwt_expiry_hours: 12
bus:
  mode: inprocess
logging:
  level: debug
  format: json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 || cfg.Stream.Port != 9191 || cfg.Datagram.Port != 9192 {
		t.Errorf("ports = %d/%d/%d", cfg.Server.Port, cfg.Stream.Port, cfg.Datagram.Port)
	}
	if cfg.Stream.MaxSessions != 32 || cfg.Datagram.WorkerCount != 4 {
		t.Errorf("limits = %d/%d", cfg.Stream.MaxSessions, cfg.Datagram.WorkerCount)
	}
	// Settings the file omits keep their defaults.
	if cfg.Stream.ReadBufferSize != 4096 || cfg.Bus.BufferSize != 64 {
		t.Errorf("defaults not retained: %d/%d", cfg.Stream.ReadBufferSize, cfg.Bus.BufferSize)
	}
	if cfg.Auth.GetJWTExpiry() != 12*time.Hour {
		t.Errorf("jwt expiry = %v", cfg.Auth.GetJWTExpiry())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENS_DATABASE_HOST", "db.internal")
	t.Setenv("ENS_DATABASE_PORT", "6543")
	t.Setenv("ENS_DATABASE_PASSWORD", "env-db-pass")
	t.Setenv("ENS_AUTH_ADMIN_PASSWORD", "env-admin-pass")
	t.Setenv("ENS_AUTH_JWT_SECRET", "ffffffffffffffffffffffffffffffff")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 6543 {
		t.Errorf("database = %s:%d", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.Password != "env-db-pass" {
		t.Errorf("database password not overridden")
	}
	if cfg.Auth.AdminPassword != "env-admin-pass" {
		t.Errorf("admin password not overridden")
	}
	if cfg.Auth.JWTSecret != "ffffffffffffffffffffffffffffffff" {
		t.Errorf("jwt secret not overridden")
	}
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT_SECRET"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "32 characters"},
		{"default admin password", func(c *Config) { c.Auth.AdminPassword = "changeme" }, "ADMIN_PASSWORD"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }, "unknown database driver"},
		{"postgres without dbname", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.DBName = ""
		}, "dbname"},
		{"unknown bus mode", func(c *Config) { c.Bus.Mode = "kafka" }, "unknown bus mode"},
		{"nats without url", func(c *Config) {
			c.Bus.Mode = "nats"
			c.Bus.NATSURL = ""
		}, "nats_url"},
		{"zero max sessions", func(c *Config) { c.Stream.MaxSessions = 0 }, "max_sessions"},
		{"zero workers", func(c *Config) { c.Datagram.WorkerCount = 0 }, "worker_count"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.AdminPassword = "s3cret-password"
			cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
			cfg.Database.Driver = "memory"
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestGetDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "ens", Password: "pw",
		DBName: "enslite", SSLMode: "disable",
	}
	want := "host=localhost port=5432 user=ens password=pw dbname=enslite sslmode=disable"
	if got := d.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}

func TestIsLogLevelValid(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "Error"} {
		l := LoggingConfig{Level: level}
		if !l.IsLogLevelValid() {
			t.Errorf("level %q rejected", level)
		}
	}
	l := LoggingConfig{Level: "verbose"}
	if l.IsLogLevelValid() {
		t.Error("level verbose accepted")
	}
}
