// Package config loads the acquisition configuration from a YAML file with
// environment-variable overrides. The pipeline itself never reads files; it
// receives the already-validated values from here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/gaitworks/pressuremat/internal/deliver"
	"github.com/gaitworks/pressuremat/internal/matframe"
	"github.com/gaitworks/pressuremat/internal/sensorlink"
)

// Config is the complete startup configuration.
type Config struct {
	// Links holds the serial binding parameters.
	Links LinksConfig `yaml:"links"`

	// Shape is the declared array geometry ("32x32", "32x64", "32x96").
	Shape string `yaml:"shape"`

	// Tier selects the delivery preset ("standard", "fast", "ultra").
	Tier string `yaml:"tier"`

	// Listen is the debug HTTP listen address; empty disables it.
	Listen string `yaml:"listen"`

	// Session configures statistics recording.
	Session SessionConfig `yaml:"session"`
}

// LinksConfig holds the serial binding parameters.
type LinksConfig struct {
	// Ports is the ordered port list; empty means auto-discover.
	Ports []string `yaml:"ports"`

	// Mode is single, dual, or triple. Empty derives it from the port count.
	Mode string `yaml:"mode"`

	// Serial are the port parameters (default 1000000 baud 8N1).
	Serial sensorlink.PortOptions `yaml:"serial"`

	// ReadTimeoutMs bounds each blocking port read.
	ReadTimeoutMs int `yaml:"readTimeoutMs"`

	// HandshakeWindowMs bounds the discovery handshake per candidate port.
	HandshakeWindowMs int `yaml:"handshakeWindowMs"`

	// AccumulateFrames folds N consecutive 1024-byte frames per link into
	// one (3 for a single-port 32x96 walkway). 0 or 1 disables folding.
	AccumulateFrames int `yaml:"accumulateFrames"`
}

// SessionConfig configures statistics recording.
type SessionConfig struct {
	// DBPath is the SQLite file for statistics samples; empty disables
	// recording.
	DBPath string `yaml:"dbPath"`

	// MigrationsDir holds the schema migrations (default "migrations").
	MigrationsDir string `yaml:"migrationsDir"`

	// SampleIntervalSec is how often a statistics row is recorded.
	SampleIntervalSec int `yaml:"sampleIntervalSec"`
}

// Default returns the configuration used when no file is supplied: a single
// auto-discovered 32x32 mat at the standard tier.
func Default() *Config {
	return &Config{
		Links: LinksConfig{
			Serial:            sensorlink.DefaultPortOptions(),
			ReadTimeoutMs:     50,
			HandshakeWindowMs: 500,
		},
		Shape:  matframe.Shape32x32.String(),
		Tier:   deliver.Standard.Name,
		Listen: ":8080",
		Session: SessionConfig{
			MigrationsDir:     "migrations",
			SampleIntervalSec: 10,
		},
	}
}

// Load reads the YAML file at path (if non-empty), applies environment
// overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies PRESSUREMAT_* environment variables on top of
// the file values. Useful for deployments that cannot edit the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRESSUREMAT_PORTS"); v != "" {
		cfg.Links.Ports = splitPorts(v)
	}
	if v := os.Getenv("PRESSUREMAT_MODE"); v != "" {
		cfg.Links.Mode = v
	}
	if v := os.Getenv("PRESSUREMAT_TIER"); v != "" {
		cfg.Tier = v
	}
	if v := os.Getenv("PRESSUREMAT_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("PRESSUREMAT_DB"); v != "" {
		cfg.Session.DBPath = v
	}
	if v := os.Getenv("PRESSUREMAT_READ_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Links.ReadTimeoutMs = n
		}
	}
}

func splitPorts(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the cross-field constraints and fills the mode from the
// port count when omitted.
func (c *Config) Validate() error {
	if _, err := deliver.ParseTier(c.Tier); err != nil {
		return err
	}
	if _, err := matframe.ParseShape(c.Shape); err != nil {
		return err
	}
	if _, err := c.Links.Serial.Normalize(); err != nil {
		return err
	}

	if c.Links.Mode == "" && len(c.Links.Ports) > 0 {
		switch len(c.Links.Ports) {
		case 1:
			c.Links.Mode = string(sensorlink.ModeSingle)
		case 2:
			c.Links.Mode = string(sensorlink.ModeDual)
		case 3:
			c.Links.Mode = string(sensorlink.ModeTriple)
		default:
			return fmt.Errorf("too many ports configured: %d (max %d)", len(c.Links.Ports), matframe.MaxLinks)
		}
	}
	if c.Links.Mode != "" {
		mode, err := sensorlink.ParseMode(c.Links.Mode)
		if err != nil {
			return err
		}
		if len(c.Links.Ports) > 0 && len(c.Links.Ports) != mode.LinkCount() {
			return fmt.Errorf("mode %s requires %d ports, got %d", mode, mode.LinkCount(), len(c.Links.Ports))
		}
	}

	if c.Links.ReadTimeoutMs <= 0 {
		c.Links.ReadTimeoutMs = 50
	}
	if c.Links.HandshakeWindowMs <= 0 {
		c.Links.HandshakeWindowMs = 500
	}
	if c.Session.SampleIntervalSec <= 0 {
		c.Session.SampleIntervalSec = 10
	}
	if c.Session.MigrationsDir == "" {
		c.Session.MigrationsDir = "migrations"
	}
	return nil
}

// ParsedTier returns the validated tier preset.
func (c *Config) ParsedTier() deliver.Tier {
	t, _ := deliver.ParseTier(c.Tier)
	return t
}

// ParsedShape returns the validated array shape.
func (c *Config) ParsedShape() matframe.ArrayShape {
	s, _ := matframe.ParseShape(c.Shape)
	return s
}

// ParsedMode returns the validated mode, or empty when discovery decides.
func (c *Config) ParsedMode() sensorlink.Mode {
	return sensorlink.Mode(c.Links.Mode)
}
