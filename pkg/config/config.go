// Package config holds the server configuration, its defaults, YAML
// file loading, environment overrides, and startup validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied before file, environment, and flag overrides.
const (
	DefaultHost     = "127.0.0.1"
	DefaultHTTPPort = 8080
	DefaultWSPort   = 35729
	DefaultQuiet    = 100 * time.Millisecond
)

// Config represents the complete liveserve configuration.
type Config struct {
	// Roots is the ordered list of document roots; earlier entries
	// shadow later ones.
	Roots []string `yaml:"roots"`

	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`
	WSPort   int    `yaml:"ws_port"`

	TLS         TLSConfig `yaml:"tls"`
	CORS        bool      `yaml:"cors"`
	Listings    bool      `yaml:"listings"`
	Watch       bool      `yaml:"watch"`
	Metrics     bool      `yaml:"metrics"`
	QuietWindow Duration  `yaml:"quiet_window"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "250ms" as well as bare nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("config: invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// TLSConfig points at PEM material on disk. Generation of self-signed
// certificates is left to external tooling.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Default returns the baseline configuration: serve the current
// directory on localhost with watching enabled and everything else off.
func Default() *Config {
	return &Config{
		Roots:       []string{"."},
		Host:        DefaultHost,
		HTTPPort:    DefaultHTTPPort,
		WSPort:      DefaultWSPort,
		Watch:       true,
		QuietWindow: Duration(DefaultQuiet),
		LogLevel:    "info",
	}
}

// Load reads a YAML config file and merges it over the defaults, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadAndMerge(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %q: %w", path, err)
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("config: parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

func mergeConfigs(base, override *Config, raw map[string]any) {
	if len(override.Roots) > 0 {
		base.Roots = override.Roots
	}
	if override.Host != "" {
		base.Host = override.Host
	}
	if override.HTTPPort != 0 {
		base.HTTPPort = override.HTTPPort
	}
	if override.WSPort != 0 {
		base.WSPort = override.WSPort
	}
	if boolFieldSet(raw, "tls", "enabled") {
		base.TLS.Enabled = override.TLS.Enabled
	}
	if override.TLS.CertFile != "" {
		base.TLS.CertFile = override.TLS.CertFile
	}
	if override.TLS.KeyFile != "" {
		base.TLS.KeyFile = override.TLS.KeyFile
	}
	if boolFieldSet(raw, "cors") {
		base.CORS = override.CORS
	}
	if boolFieldSet(raw, "listings") {
		base.Listings = override.Listings
	}
	if boolFieldSet(raw, "watch") {
		base.Watch = override.Watch
	}
	if boolFieldSet(raw, "metrics") {
		base.Metrics = override.Metrics
	}
	if override.QuietWindow != 0 {
		base.QuietWindow = override.QuietWindow
	}
	if override.LogLevel != "" {
		base.LogLevel = override.LogLevel
	}
	if override.LogFile != "" {
		base.LogFile = override.LogFile
	}
}

// Validate enforces the startup contract. Violations are fatal at
// process start.
func (c *Config) Validate() error {
	if len(c.Roots) == 0 {
		return fmt.Errorf("config: at least one root is required")
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("config: invalid http_port %d", c.HTTPPort)
	}
	if c.WSPort < 0 || c.WSPort > 65535 {
		return fmt.Errorf("config: invalid ws_port %d", c.WSPort)
	}
	// Port 0 asks the OS for a free port, so two zeros never clash.
	if c.HTTPPort != 0 && c.HTTPPort == c.WSPort {
		return fmt.Errorf("config: http_port and ws_port must differ")
	}
	if c.QuietWindow < 0 {
		return fmt.Errorf("config: quiet_window must not be negative")
	}
	if c.TLS.Enabled {
		for _, f := range []string{c.TLS.CertFile, c.TLS.KeyFile} {
			if f == "" {
				return fmt.Errorf("config: tls requires cert_file and key_file")
			}
			if _, err := os.Stat(f); err != nil {
				return fmt.Errorf("config: tls material: %w", err)
			}
		}
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}

// HTTPAddr returns the listen address of the file server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// WSAddr returns the listen address of the reload WebSocket server.
func (c *Config) WSAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.WSPort)
}

// ReloadEndpoint is the WebSocket URL the injected client connects to.
func (c *Config) ReloadEndpoint() string {
	scheme := "ws"
	if c.TLS.Enabled {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/", scheme, c.Host, c.WSPort)
}
