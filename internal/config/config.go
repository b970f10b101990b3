package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Environment variables that override the file.
const (
	EnvAPIKey    = "LASTFM_API_KEY"
	EnvAPISecret = "LASTFM_API_SECRET"
	EnvUsername  = "LASTFM_USERNAME"
)

// Config holds rockscrob runtime configuration loaded from TOML.
type Config struct {
	LastFM  LastFMConfig  `toml:"lastfm"`
	Import  ImportConfig  `toml:"import"`
	Library LibraryConfig `toml:"library"`
	UI      UIConfig      `toml:"ui"`
	State   StateConfig   `toml:"state"`
}

// LastFMConfig holds the API credentials.
type LastFMConfig struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	Username  string `toml:"username"`
}

// ImportConfig controls parsing and window normalization.
type ImportConfig struct {
	ClockOffsetHours int    `toml:"clock_offset_hours"`
	WindowDays       int    `toml:"window_days"`
	Mode             string `toml:"mode"`     // adjust, exclude
	TimeZone         string `toml:"timezone"` // IANA name, empty for local
	SubmitIntervalMS int    `toml:"submit_interval_ms"`
	SkipSkipped      bool   `toml:"skip_skipped"`
}

// LibraryConfig lists music roots used to fill in missing albums.
type LibraryConfig struct {
	Roots []string `toml:"roots"`
}

type UIConfig struct {
	Theme   string `toml:"theme"`
	NoColor bool   `toml:"no_color"`
}

type StateConfig struct {
	DBPath string `toml:"db_path"`
}

// Load reads configuration from disk. If path is empty, a default OS-specific
// location is used and a missing file yields the defaults.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = DefaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	var cfg Config
	data, err := os.ReadFile(cfgPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == "":
	default:
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg, os.Getenv)
	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, err
	}

	return &cfg, cfgPath, nil
}

// DefaultPath returns the OS-specific config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	name := "rockscrob"
	if runtime.GOOS == "windows" {
		name = "Rockscrob"
	}
	return filepath.Join(dir, name, "config.toml"), nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvAPIKey); v != "" {
		cfg.LastFM.APIKey = v
	}
	if v := getenv(EnvAPISecret); v != "" {
		cfg.LastFM.APISecret = v
	}
	if v := getenv(EnvUsername); v != "" {
		cfg.LastFM.Username = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Import.WindowDays == 0 {
		cfg.Import.WindowDays = 14
	}
	if cfg.Import.Mode == "" {
		cfg.Import.Mode = "adjust"
	}
	if cfg.Import.SubmitIntervalMS == 0 {
		cfg.Import.SubmitIntervalMS = 100
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = "rainbow"
	}
}

// Validate performs semantic validation of config.
func Validate(cfg Config) error {
	if cfg.Import.ClockOffsetHours < -12 || cfg.Import.ClockOffsetHours > 12 {
		return fmt.Errorf("import.clock_offset_hours must be -12..12")
	}
	if cfg.Import.WindowDays < 1 || cfg.Import.WindowDays > 14 {
		return fmt.Errorf("import.window_days must be 1-14")
	}
	switch cfg.Import.Mode {
	case "adjust", "exclude":
	default:
		return fmt.Errorf("import.mode must be adjust or exclude, got %q", cfg.Import.Mode)
	}
	if cfg.Import.SubmitIntervalMS < 0 {
		return errors.New("import.submit_interval_ms must not be negative")
	}
	if cfg.Import.TimeZone != "" {
		if _, err := time.LoadLocation(cfg.Import.TimeZone); err != nil {
			return fmt.Errorf("import.timezone: %w", err)
		}
	}
	switch cfg.UI.Theme {
	case "rainbow", "mono", "nocolor":
	default:
		return fmt.Errorf("unknown ui.theme: %s", cfg.UI.Theme)
	}
	for _, r := range cfg.Library.Roots {
		if r == "" {
			return errors.New("library.roots contains empty path")
		}
		if _, err := os.Stat(r); err != nil {
			return fmt.Errorf("library root %s: %w", r, err)
		}
	}
	return nil
}

// Location returns the zone used for time-of-day math.
func (c Config) Location() *time.Location {
	if c.Import.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Import.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// SubmitInterval is the pause between submissions.
func (c Config) SubmitInterval() time.Duration {
	return time.Duration(c.Import.SubmitIntervalMS) * time.Millisecond
}
