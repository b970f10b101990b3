package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "library root", mutate: func(c *Config) { c.Library.Roots = []string{root} }},
		{name: "timezone", mutate: func(c *Config) { c.Import.TimeZone = "Europe/Madrid" }},
		{name: "offset range", mutate: func(c *Config) { c.Import.ClockOffsetHours = -12 }},
		{name: "offset too large", mutate: func(c *Config) { c.Import.ClockOffsetHours = 13 }, wantErr: true},
		{name: "window too wide", mutate: func(c *Config) { c.Import.WindowDays = 15 }, wantErr: true},
		{name: "unknown mode", mutate: func(c *Config) { c.Import.Mode = "drop" }, wantErr: true},
		{name: "negative interval", mutate: func(c *Config) { c.Import.SubmitIntervalMS = -1 }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Import.TimeZone = "Mars/Olympus" }, wantErr: true},
		{name: "unknown theme", mutate: func(c *Config) { c.UI.Theme = "neon" }, wantErr: true},
		{name: "missing root", mutate: func(c *Config) { c.Library.Roots = []string{"/invalid/music"} }, wantErr: true},
		{name: "empty root", mutate: func(c *Config) { c.Library.Roots = []string{""} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAPISecret, "")
	t.Setenv(EnvUsername, "")

	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[lastfm]
api_key = "file-key"
api_secret = "file-secret"
username = "rj"

[import]
clock_offset_hours = -2
window_days = 7
mode = "exclude"
timezone = "UTC"
skip_skipped = true

[ui]
theme = "mono"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, gotPath, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if gotPath != path {
		t.Errorf("expected path %s, got %s", path, gotPath)
	}
	if cfg.LastFM.APIKey != "file-key" || cfg.LastFM.Username != "rj" {
		t.Errorf("unexpected lastfm section %+v", cfg.LastFM)
	}
	if cfg.Import.ClockOffsetHours != -2 || cfg.Import.WindowDays != 7 || cfg.Import.Mode != "exclude" || !cfg.Import.SkipSkipped {
		t.Errorf("unexpected import section %+v", cfg.Import)
	}
	if cfg.SubmitInterval() != 100*time.Millisecond {
		t.Errorf("expected default interval, got %v", cfg.SubmitInterval())
	}
	if cfg.Location() != time.UTC {
		t.Errorf("expected UTC, got %v", cfg.Location())
	}
	if cfg.UI.Theme != "mono" {
		t.Errorf("expected mono theme, got %s", cfg.UI.Theme)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvAPISecret, "env-secret")
	t.Setenv(EnvUsername, "")

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[lastfm]\napi_key = \"file-key\"\nusername = \"rj\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LastFM.APIKey != "env-key" || cfg.LastFM.APISecret != "env-secret" {
		t.Errorf("env should override file, got %+v", cfg.LastFM)
	}
	if cfg.LastFM.Username != "rj" {
		t.Errorf("empty env must keep file value, got %q", cfg.LastFM.Username)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	if _, _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("explicit missing path should fail")
	}

	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(bad, []byte("[import\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(bad); err == nil {
		t.Error("expected parse error")
	}

	invalid := filepath.Join(dir, "invalid.toml")
	if err := os.WriteFile(invalid, []byte("[import]\nwindow_days = 30\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(invalid); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadDefaultMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("AppData", dir)

	cfg, path, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path == "" {
		t.Error("expected resolved default path")
	}
	if cfg.Import.WindowDays != 14 || cfg.Import.Mode != "adjust" || cfg.UI.Theme != "rainbow" {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}
