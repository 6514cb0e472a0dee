package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Scripts.Timeout != time.Hour {
		t.Errorf("Scripts.Timeout = %s, want 1h", cfg.Scripts.Timeout)
	}
	if cfg.Scripts.SweepSchedule != "@every 5m" {
		t.Errorf("Scripts.SweepSchedule = %q", cfg.Scripts.SweepSchedule)
	}
	if cfg.Scripts.KillGrace != 3*time.Second {
		t.Errorf("Scripts.KillGrace = %s, want 3s", cfg.Scripts.KillGrace)
	}
	if cfg.Hosting.SessionDuration != 15*time.Minute {
		t.Errorf("Hosting.SessionDuration = %s, want 15m", cfg.Hosting.SessionDuration)
	}
	if cfg.Hosting.AdminDuration != 24*time.Hour {
		t.Errorf("Hosting.AdminDuration = %s, want 24h", cfg.Hosting.AdminDuration)
	}
	if cfg.Hosting.InactivityTimeout != 15*time.Minute {
		t.Errorf("Hosting.InactivityTimeout = %s, want 15m", cfg.Hosting.InactivityTimeout)
	}
	if cfg.Sharing.LinkTTL != 24*time.Hour {
		t.Errorf("Sharing.LinkTTL = %s, want 24h", cfg.Sharing.LinkTTL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"empty scripts root", func(c *Config) { c.Scripts.RootDir = "" }, true},
		{"sub-second timeout", func(c *Config) { c.Scripts.Timeout = 100 * time.Millisecond }, true},
		{"zero kill grace", func(c *Config) { c.Scripts.KillGrace = 0 }, true},
		{"zero session duration", func(c *Config) { c.Hosting.SessionDuration = 0 }, true},
		{"zero inactivity timeout", func(c *Config) { c.Hosting.InactivityTimeout = 0 }, true},
		{"zero extend step", func(c *Config) { c.Hosting.ExtendStep = 0 }, true},
		{"non-http public url", func(c *Config) { c.Hosting.PublicURL = "panel.example.com" }, true},
		{"https public url", func(c *Config) { c.Hosting.PublicURL = "https://panel.example.com" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
scripts:
  root_dir: /srv/scripts
  timeout: 30m
  kill_grace: 5s
hosting:
  public_url: "https://panel.example.com"
  session_duration: 20m
security:
  owner_id: 42
  admin_ids: [7, 9]
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(tmpFile, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Scripts.RootDir != "/srv/scripts" {
		t.Errorf("Scripts.RootDir = %q", cfg.Scripts.RootDir)
	}
	if cfg.Scripts.Timeout != 30*time.Minute {
		t.Errorf("Scripts.Timeout = %s, want 30m", cfg.Scripts.Timeout)
	}
	if cfg.Hosting.SessionDuration != 20*time.Minute {
		t.Errorf("Hosting.SessionDuration = %s, want 20m", cfg.Hosting.SessionDuration)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Hosting.AdminDuration != 24*time.Hour {
		t.Errorf("Hosting.AdminDuration = %s, want default 24h", cfg.Hosting.AdminDuration)
	}
	if !cfg.Security.IsOwner(42) || !cfg.Security.IsAdmin(7) || cfg.Security.IsAdmin(8) {
		t.Errorf("security allowlists misparsed: %+v", cfg.Security)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCRIPTHOST_PORT", "7070")
	t.Setenv("SCRIPTHOST_SHARE_SECRET", "from-env")

	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Sharing.Secret != "from-env" {
		t.Errorf("Sharing.Secret = %q, want from-env", cfg.Sharing.Secret)
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}

func TestIsAdminIncludesOwner(t *testing.T) {
	sec := SecurityConfig{OwnerID: 1, AdminIDs: []int64{2}}
	if !sec.IsAdmin(1) {
		t.Error("owner must be admin")
	}
	if !sec.IsAdmin(2) || sec.IsAdmin(3) {
		t.Error("admin allowlist misapplied")
	}
	if sec.IsOwner(2) {
		t.Error("admin is not owner")
	}
}
