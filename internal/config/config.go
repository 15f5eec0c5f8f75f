// Package config loads and validates the antenna deployment daemon's
// YAML configuration. Fields omitted from the file keep their defaults,
// so partial configs are safe.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridianspace/antdeploy/internal/buslink"
)

// ErrConfiguration reports an invalid or unreadable configuration. Every
// error from this package wraps it.
var ErrConfiguration = errors.New("config: invalid configuration")

// DefaultListen is the daemon's default HTTP listen address.
const DefaultListen = ":8617"

// Config is the root of the daemon configuration file.
type Config struct {
	Link    LinkConfig    `yaml:"link"`
	Deploy  DeployConfig  `yaml:"deploy"`
	Poller  PollerConfig  `yaml:"poller"`
	History HistoryConfig `yaml:"history"`

	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
}

// LinkConfig describes the serial connection to the deployment
// controller and the transport timeouts applied to every exchange.
type LinkConfig struct {
	// Port is the serial device path, e.g. /dev/ttyS1. It may stay empty
	// when the daemon runs against the simulated controller.
	Port string `yaml:"port"`

	buslink.PortOptions `yaml:",inline"`

	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	SendTimeoutMs int `yaml:"send_timeout_ms"`
}

// Timeouts returns the link timeouts as durations.
func (l LinkConfig) Timeouts() buslink.Timeouts {
	return buslink.Timeouts{
		Read: time.Duration(l.ReadTimeoutMs) * time.Millisecond,
		Send: time.Duration(l.SendTimeoutMs) * time.Millisecond,
	}
}

// DeployConfig bounds the deployment sequencer.
type DeployConfig struct {
	// RetryCeiling is the number of retries after the first attempt.
	RetryCeiling int `yaml:"retry_ceiling"`

	// DefaultBurnMs is the burn duration used when a request does not
	// specify one.
	DefaultBurnMs int `yaml:"default_burn_ms"`

	// MaxBurnMs is the upper bound on any requested burn duration. The
	// wire format carries burns as 16-bit milliseconds, so the bound
	// itself cannot exceed 65535.
	MaxBurnMs int `yaml:"max_burn_ms"`

	// PollIntervalMs is the wait between status polls during a burn.
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// DefaultBurn returns the default burn duration.
func (d DeployConfig) DefaultBurn() time.Duration {
	return time.Duration(d.DefaultBurnMs) * time.Millisecond
}

// MaxBurn returns the burn duration ceiling.
func (d DeployConfig) MaxBurn() time.Duration {
	return time.Duration(d.MaxBurnMs) * time.Millisecond
}

// PollInterval returns the wait between status polls during a burn.
func (d DeployConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalMs) * time.Millisecond
}

// PollerConfig bounds the background status poller.
type PollerConfig struct {
	CadenceMs         int `yaml:"cadence_ms"`
	LinkDownThreshold int `yaml:"link_down_threshold"`
}

// Cadence returns the interval between background polls.
func (p PollerConfig) Cadence() time.Duration {
	return time.Duration(p.CadenceMs) * time.Millisecond
}

// HistoryConfig locates the deployment history database. An empty path
// disables history recording.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration the daemon runs with when no file is
// given. Loading a file overlays these values.
func Default() *Config {
	return &Config{
		Link: LinkConfig{
			PortOptions: buslink.PortOptions{
				BaudRate: 19200,
				DataBits: 8,
				StopBits: 1,
				Parity:   "N",
			},
			ReadTimeoutMs: 50,
			SendTimeoutMs: 1000,
		},
		Deploy: DeployConfig{
			RetryCeiling:   2,
			DefaultBurnMs:  8000,
			MaxBurnMs:      30000,
			PollIntervalMs: 250,
		},
		Poller: PollerConfig{
			CadenceMs:         1000,
			LinkDownThreshold: 3,
		},
		History: HistoryConfig{
			Path: "antdeploy.db",
		},
		Listen: DefaultListen,
	}
}

// Load reads a YAML configuration file, overlays it on the defaults, and
// validates the result. Unknown keys are rejected so typos fail loudly.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: config file must have a .yaml or .yml extension, got %q", ErrConfiguration, ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat config file: %v", ErrConfiguration, err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)", ErrConfiguration, info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read config file: %v", ErrConfiguration, err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads the given config file, or returns the defaults
// when the path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks every field for consistency. Serial port presence is
// not checked here; a daemon running against the simulator needs none.
func (c *Config) Validate() error {
	if _, err := c.Link.PortOptions.Normalize(); err != nil {
		return fmt.Errorf("%w: link: %v", ErrConfiguration, err)
	}
	if c.Link.ReadTimeoutMs < 0 {
		return fmt.Errorf("%w: link: read_timeout_ms must not be negative, got %d", ErrConfiguration, c.Link.ReadTimeoutMs)
	}
	if c.Link.SendTimeoutMs < 0 {
		return fmt.Errorf("%w: link: send_timeout_ms must not be negative, got %d", ErrConfiguration, c.Link.SendTimeoutMs)
	}
	if c.Link.ReadTimeoutMs > 0 && c.Link.SendTimeoutMs > 0 && c.Link.SendTimeoutMs < c.Link.ReadTimeoutMs {
		return fmt.Errorf("%w: link: send_timeout_ms %d is shorter than read_timeout_ms %d", ErrConfiguration, c.Link.SendTimeoutMs, c.Link.ReadTimeoutMs)
	}

	if c.Deploy.RetryCeiling < 0 {
		return fmt.Errorf("%w: deploy: retry_ceiling must not be negative, got %d", ErrConfiguration, c.Deploy.RetryCeiling)
	}
	if c.Deploy.MaxBurnMs < 1 || c.Deploy.MaxBurnMs > 65535 {
		return fmt.Errorf("%w: deploy: max_burn_ms must be between 1 and 65535, got %d", ErrConfiguration, c.Deploy.MaxBurnMs)
	}
	if c.Deploy.DefaultBurnMs < 1 || c.Deploy.DefaultBurnMs > c.Deploy.MaxBurnMs {
		return fmt.Errorf("%w: deploy: default_burn_ms must be between 1 and max_burn_ms %d, got %d", ErrConfiguration, c.Deploy.MaxBurnMs, c.Deploy.DefaultBurnMs)
	}
	if c.Deploy.PollIntervalMs < 1 {
		return fmt.Errorf("%w: deploy: poll_interval_ms must be at least 1, got %d", ErrConfiguration, c.Deploy.PollIntervalMs)
	}

	if c.Poller.CadenceMs < 1 {
		return fmt.Errorf("%w: poller: cadence_ms must be at least 1, got %d", ErrConfiguration, c.Poller.CadenceMs)
	}
	if c.Poller.LinkDownThreshold < 1 {
		return fmt.Errorf("%w: poller: link_down_threshold must be at least 1, got %d", ErrConfiguration, c.Poller.LinkDownThreshold)
	}

	if c.Listen == "" {
		return fmt.Errorf("%w: listen address must not be empty", ErrConfiguration)
	}
	return nil
}
