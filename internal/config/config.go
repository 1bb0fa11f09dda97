// Package config handles klaviyo-mcp configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./klaviyo-mcp.yaml, ~/.config/klaviyo-mcp/config.yaml,
// /etc/klaviyo-mcp/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"klaviyo-mcp.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "klaviyo-mcp", "config.yaml"))
	}

	paths = append(paths, "/etc/klaviyo-mcp/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all klaviyo-mcp configuration.
type Config struct {
	Klaviyo KlaviyoConfig `yaml:"klaviyo"`
	Retry   RetryConfig   `yaml:"retry"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
	Stats   StatsConfig   `yaml:"stats"`
	Audit   AuditConfig   `yaml:"audit"`
	DataDir string        `yaml:"data_dir"`
}

// KlaviyoConfig defines the upstream API connection.
type KlaviyoConfig struct {
	// APIKey is the private API key. Falls back to the KLAVIYO_API_KEY
	// environment variable when empty.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// Revision is the dated API revision sent on every request.
	Revision string `yaml:"revision"`
}

// RetryConfig defines backoff behavior for rate-limited requests.
type RetryConfig struct {
	MaxRetries     int     `yaml:"max_retries"`
	InitialDelayMS int     `yaml:"initial_delay_ms"`
	MaxDelayMS     int     `yaml:"max_delay_ms"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
}

// CacheConfig defines the response cache.
type CacheConfig struct {
	Enabled          bool `yaml:"enabled"`
	MaxEntries       int  `yaml:"max_entries"`
	SweepIntervalSec int  `yaml:"sweep_interval_sec"`
	// TTLSeconds maps a response type (metrics, campaigns, templates,
	// profiles) to its lifetime. The "default" key covers everything else.
	TTLSeconds map[string]int `yaml:"ttl_seconds"`
}

// LogConfig defines log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	// File redirects logs to a path instead of stderr. Logs never go to
	// stdout; that stream carries protocol frames.
	File string `yaml:"file"`
	// StartupQuietMS suppresses sub-warning records for this long after
	// start so early chatter cannot race the client handshake.
	StartupQuietMS int `yaml:"startup_quiet_ms"`
}

// StatsConfig defines periodic latency and cache reporting.
type StatsConfig struct {
	// ReportIntervalSec between summaries. Zero disables the reporter.
	ReportIntervalSec int `yaml:"report_interval_sec"`
}

// AuditConfig defines the tool invocation audit trail.
type AuditConfig struct {
	// Enabled requires data_dir to be set.
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if cfg.Klaviyo.APIKey == "" {
		cfg.Klaviyo.APIKey = os.Getenv("KLAVIYO_API_KEY")
	}

	return cfg, nil
}

// Default returns a default configuration. Load unmarshals on top of it, so
// YAML only needs to name what differs.
func Default() *Config {
	return &Config{
		Klaviyo: KlaviyoConfig{
			BaseURL:  "https://a.klaviyo.com/api",
			Revision: "2024-10-15",
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialDelayMS: 1000,
			MaxDelayMS:     30000,
			BackoffFactor:  2.0,
		},
		Cache: CacheConfig{
			Enabled:          true,
			MaxEntries:       500,
			SweepIntervalSec: 60,
			TTLSeconds: map[string]int{
				"metrics":   300,
				"campaigns": 600,
				"templates": 1800,
				"profiles":  120,
				"default":   300,
			},
		},
		Log: LogConfig{
			Level:          "info",
			Format:         "text",
			StartupQuietMS: 2000,
		},
		Stats: StatsConfig{
			ReportIntervalSec: 300,
		},
	}
}

// Validate reports the first problem that would prevent serving.
func (c *Config) Validate() error {
	if c.Klaviyo.APIKey == "" {
		return fmt.Errorf("klaviyo.api_key is required (or set KLAVIYO_API_KEY)")
	}
	if c.Klaviyo.BaseURL == "" {
		return fmt.Errorf("klaviyo.base_url is required")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.InitialDelayMS <= 0 {
		return fmt.Errorf("retry.initial_delay_ms must be positive, got %d", c.Retry.InitialDelayMS)
	}
	if c.Retry.MaxDelayMS < c.Retry.InitialDelayMS {
		return fmt.Errorf("retry.max_delay_ms %d is below retry.initial_delay_ms %d",
			c.Retry.MaxDelayMS, c.Retry.InitialDelayMS)
	}
	if c.Retry.BackoffFactor <= 0 {
		return fmt.Errorf("retry.backoff_factor must be positive, got %v", c.Retry.BackoffFactor)
	}
	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Audit.Enabled && c.DataDir == "" {
		return fmt.Errorf("audit.enabled requires data_dir")
	}
	return nil
}
