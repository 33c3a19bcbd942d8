// Package config loads the yaml configuration file, applies ENS_*
// environment overrides and validates the result before startup.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Stream   StreamConfig   `yaml:"stream"`
	Datagram DatagramConfig `yaml:"datagram"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Bus      BusConfig      `yaml:"bus"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
}

// StreamConfig holds the TCP alert listener settings.
type StreamConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ReadBufferSize int    `yaml:"read_buffer_size"`
	MaxSessions    int    `yaml:"max_sessions"`
}

// DatagramConfig holds the UDP telemetry listener settings.
type DatagramConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ReadBufferSize int    `yaml:"read_buffer_size"`
	WorkerCount    int    `yaml:"worker_count"`
	QueueSize      int    `yaml:"queue_size"`
}

type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // 'postgres' or 'memory'
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	User                   string `yaml:"user"`
	Password               string `yaml:"password"`
	DBName                 string `yaml:"dbname"`
	SSLMode                string `yaml:"ssl_mode"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

type AuthConfig struct {
	AdminUsername  string `yaml:"admin_username"`
	AdminPassword  string `yaml:"admin_password"`
	JWTSecret      string `yaml:"jwt_secret"`
	JWTExpiryHours int    `yaml:"jwt_expiry_hours"`
}

// BusConfig selects the broadcast transport between process instances.
type BusConfig struct {
	Mode          string `yaml:"mode"` // 'inprocess' or 'nats'
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	BufferSize    int    `yaml:"buffer_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from file and applies environment variable overrides
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with workable defaults for every
// setting that has one. Secrets have no defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			ReadTimeoutMS:  15000,
			WriteTimeoutMS: 15000,
		},
		Stream: StreamConfig{
			Host:           "0.0.0.0",
			Port:           9090,
			ReadBufferSize: 4096,
			MaxSessions:    256,
		},
		Datagram: DatagramConfig{
			Host:           "0.0.0.0",
			Port:           9091,
			ReadBufferSize: 1024,
			WorkerCount:    8,
			QueueSize:      512,
		},
		Database: DatabaseConfig{
			Driver:  "postgres",
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Bus: BusConfig{
			Mode:          "inprocess",
			SubjectPrefix: "enslite",
			BufferSize:    64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate ensures all required configuration values are set
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("ENS_AUTH_JWT_SECRET is required (minimum 32 characters)")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("jwt_secret must be at least 32 characters")
	}

	if c.Auth.AdminPassword == "" || c.Auth.AdminPassword == "changeme" {
		return fmt.Errorf("ENS_AUTH_ADMIN_PASSWORD must be set to a strong password")
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host and dbname are required")
		}
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}

	switch c.Bus.Mode {
	case "inprocess":
	case "nats":
		if c.Bus.NATSURL == "" {
			return fmt.Errorf("bus nats_url is required when mode is 'nats'")
		}
	default:
		return fmt.Errorf("unknown bus mode: %s", c.Bus.Mode)
	}

	if c.Stream.MaxSessions < 1 {
		return fmt.Errorf("stream max_sessions must be at least 1")
	}
	if c.Datagram.WorkerCount < 1 {
		return fmt.Errorf("datagram worker_count must be at least 1")
	}

	return nil
}

// applyEnvOverrides checks for environment variables with ENS_ prefix
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENS_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("ENS_DATABASE_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Database.Port)
	}
	if v := os.Getenv("ENS_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}

	if v := os.Getenv("ENS_AUTH_ADMIN_PASSWORD"); v != "" {
		cfg.Auth.AdminPassword = v
	}
	if v := os.Getenv("ENS_AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}

	if v := os.Getenv("ENS_BUS_NATS_URL"); v != "" {
		cfg.Bus.NATSURL = v
	}
}

// GetReadTimeout returns the read timeout as a duration
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// GetWriteTimeout returns the write timeout as a duration
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

// GetDSN returns the PostgreSQL connection string
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// GetJWTExpiry returns JWT expiry as duration
func (a *AuthConfig) GetJWTExpiry() time.Duration {
	if a.JWTExpiryHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.JWTExpiryHours) * time.Hour
}

// IsLogLevelValid checks if the log level is valid
func (l *LoggingConfig) IsLogLevelValid() bool {
	validLevels := []string{"debug", "info", "warn", "error"}
	return slices.Contains(validLevels, strings.ToLower(l.Level))
}
