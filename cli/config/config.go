// Package config handles YAML config file loading for the sysmaster daemon.
package config

import (
	"fmt"
	"time"
)

// Config represents a sysmaster.yaml configuration file, the daemon's
// bootstrap configuration.
type Config struct {
	// ControlSocket is the unix socket path the ipcserver.Server listens
	// on and sysmasterctl dials.
	ControlSocket string `yaml:"control_socket"`
	// UnitDirs is the ordered search path for unit fragments, highest
	// priority first, mirroring systemd's unit-file lookup order.
	UnitDirs []string `yaml:"unit_dirs"`
	// EtcDir is the directory manager.New installs mask symlinks and
	// .wants/.requires reverse-dependency symlinks under.
	EtcDir string `yaml:"etc_dir"`
	// JournalDir is where journal.Store persists its reliability log.
	JournalDir string `yaml:"journal_dir"`
	// DefaultTarget is the target unit the daemon loads and starts after
	// Bootstrap.
	DefaultTarget string `yaml:"default_target"`
	Adapter       AdapterConfig `yaml:"adapter"`
}

// AdapterConfig holds downstream-notification adapter defaults from the
// config file.
type AdapterConfig struct {
	// Type selects the adapter: "webhook", "redis", or "" (disabled).
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate checks required fields and fills in defaults.
func (c *Config) Validate() error {
	if c.ControlSocket == "" {
		c.ControlSocket = "/run/sysmaster/control.sock"
	}
	if c.EtcDir == "" {
		c.EtcDir = "/etc/sysmaster/system"
	}
	if c.JournalDir == "" {
		c.JournalDir = "/var/lib/sysmaster/journal"
	}
	if c.DefaultTarget == "" {
		c.DefaultTarget = "default.target"
	}
	if len(c.UnitDirs) == 0 {
		c.UnitDirs = []string{c.EtcDir, "/usr/lib/sysmaster/system"}
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("unknown adapter type: %q", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter type %q requires a url", c.Adapter.Type)
	}
	return nil
}
