// Package config loads service configuration from a YAML file, filling in
// defaults for anything unset.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML strings like "30s" or "72h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Store struct {
		// Path is the SQLite database file backing the content store.
		Path string `yaml:"path"`
	} `yaml:"store"`

	DVU struct {
		// Concurrency bounds parallel value recomputation. Zero or less
		// means unbounded.
		Concurrency int64 `yaml:"concurrency"`
	} `yaml:"dvu"`

	Rebase struct {
		// Quiesce is how long an idle apply loop lingers before exit.
		Quiesce Duration `yaml:"quiesce"`
		// MaxRetries bounds apply attempts against a moving head.
		MaxRetries int `yaml:"max_retries"`
	} `yaml:"rebase"`

	GC struct {
		// Retention keeps unreferenced snapshots around this long.
		Retention Duration `yaml:"retention"`
	} `yaml:"gc"`

	Log struct {
		// Level is one of debug, info, warn, error.
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Store.Path = "wsgraph.db"
	cfg.DVU.Concurrency = 8
	cfg.Rebase.Quiesce = Duration(30 * time.Second)
	cfg.Rebase.MaxRetries = 5
	cfg.GC.Retention = Duration(72 * time.Hour)
	cfg.Log.Level = "info"
	return cfg
}

// Load reads a YAML configuration file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// LogLevel maps the configured level name to a slog level, defaulting to
// info for unknown names.
func (c *Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
