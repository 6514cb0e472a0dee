package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Scripts  ScriptsConfig  `yaml:"scripts"`
	Hosting  HostingConfig  `yaml:"hosting"`
	Sharing  SharingConfig  `yaml:"sharing"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Security SecurityConfig `yaml:"security"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// ScriptsConfig controls the script execution registry.
type ScriptsConfig struct {
	RootDir       string        `yaml:"root_dir"`       // Base directory holding one folder per owner
	Timeout       time.Duration `yaml:"timeout"`        // Max wall-clock runtime before forced termination
	SweepSchedule string        `yaml:"sweep_schedule"` // Cron expression for the over-age sweep
	KillGrace     time.Duration `yaml:"kill_grace"`     // SIGTERM-to-SIGKILL grace window
	MaxUploadMB   int64         `yaml:"max_upload_mb"`
}

// HostingConfig controls web-panel session lifecycles.
type HostingConfig struct {
	PublicURL         string        `yaml:"public_url"`
	SessionDuration   time.Duration `yaml:"session_duration"`   // Regular tier absolute expiry
	AdminDuration     time.Duration `yaml:"admin_duration"`     // Admin tier absolute expiry
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"` // Regular tier idle cutoff
	ExtendStep        time.Duration `yaml:"extend_step"`        // Added per extend request
}

// SharingConfig controls expiring file share links.
type SharingConfig struct {
	Secret  string        `yaml:"secret"`
	LinkTTL time.Duration `yaml:"link_ttl"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type SecurityConfig struct {
	APIKeyHeader string   `yaml:"api_key_header"`
	AllowedKeys  []string `yaml:"allowed_keys"`
	OwnerID      int64    `yaml:"owner_id"`  // The single service owner (unlimited sessions)
	AdminIDs     []int64  `yaml:"admin_ids"` // Extended-session users
}

// envOverrides are environment settings that take precedence over the file.
// Prefixed SCRIPTHOST_, e.g. SCRIPTHOST_PORT, SCRIPTHOST_DATABASE_DSN.
type envOverrides struct {
	Port        int    `envconfig:"PORT"`
	DatabaseDSN string `envconfig:"DATABASE_DSN"`
	ShareSecret string `envconfig:"SHARE_SECRET"`
	PublicURL   string `envconfig:"PUBLIC_URL"`
	ScriptsRoot string `envconfig:"SCRIPTS_ROOT"`
}

// Load reads configuration from a YAML file and applies env overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("scripthost", &env); err != nil {
		return fmt.Errorf("reading env overrides: %w", err)
	}
	if env.Port != 0 {
		c.Server.Port = env.Port
	}
	if env.DatabaseDSN != "" {
		c.Database.DSN = env.DatabaseDSN
	}
	if env.ShareSecret != "" {
		c.Sharing.Secret = env.ShareSecret
	}
	if env.PublicURL != "" {
		c.Hosting.PublicURL = env.PublicURL
	}
	if env.ScriptsRoot != "" {
		c.Scripts.RootDir = env.ScriptsRoot
	}
	return nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  50 << 20, // uploads include zip archives
		},
		Scripts: ScriptsConfig{
			RootDir:       "data/scripts",
			Timeout:       time.Hour,
			SweepSchedule: "@every 5m",
			KillGrace:     3 * time.Second,
			MaxUploadMB:   20,
		},
		Hosting: HostingConfig{
			PublicURL:         "http://localhost:8080",
			SessionDuration:   15 * time.Minute,
			AdminDuration:     24 * time.Hour,
			InactivityTimeout: 15 * time.Minute,
			ExtendStep:        15 * time.Minute,
		},
		Sharing: SharingConfig{
			LinkTTL: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Security: SecurityConfig{
			APIKeyHeader: "X-API-Key",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Scripts.RootDir == "" {
		return fmt.Errorf("scripts.root_dir is required")
	}
	if c.Scripts.Timeout < time.Second {
		return fmt.Errorf("scripts.timeout must be >= 1s, got %s", c.Scripts.Timeout)
	}
	if c.Scripts.KillGrace <= 0 {
		return fmt.Errorf("scripts.kill_grace must be positive, got %s", c.Scripts.KillGrace)
	}
	if c.Hosting.SessionDuration <= 0 || c.Hosting.AdminDuration <= 0 {
		return fmt.Errorf("hosting durations must be positive")
	}
	if c.Hosting.InactivityTimeout <= 0 {
		return fmt.Errorf("hosting.inactivity_timeout must be positive, got %s", c.Hosting.InactivityTimeout)
	}
	if c.Hosting.ExtendStep <= 0 {
		return fmt.Errorf("hosting.extend_step must be positive, got %s", c.Hosting.ExtendStep)
	}
	if !strings.HasPrefix(c.Hosting.PublicURL, "http://") && !strings.HasPrefix(c.Hosting.PublicURL, "https://") {
		return fmt.Errorf("hosting.public_url must be an http(s) URL, got %q", c.Hosting.PublicURL)
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsOwner reports whether id is the configured service owner.
func (c *SecurityConfig) IsOwner(id int64) bool {
	return c.OwnerID != 0 && id == c.OwnerID
}

// IsAdmin reports whether id is on the admin allowlist (owner included).
func (c *SecurityConfig) IsAdmin(id int64) bool {
	if c.IsOwner(id) {
		return true
	}
	for _, a := range c.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}
