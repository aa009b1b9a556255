package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Rampart configuration.
type Config struct {
	Listen    string           `yaml:"listen"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Tiers     []TierConfig     `yaml:"tiers"`
	Cache     CacheConfig      `yaml:"cache"`
	Upstream  UpstreamConfig   `yaml:"upstream"`
	Session   SessionConfig    `yaml:"session"`
	Audit     AuditConfig      `yaml:"audit"`
	Janitor   JanitorConfig    `yaml:"janitor"`
}

// EndpointConfig defines one upstream inference endpoint. Endpoints are
// tried in the order they appear; the order is fixed for the process
// lifetime.
type EndpointConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// TierConfig defines an access tier and its rate budget. Client keys are
// matched to tiers by prefix.
type TierConfig struct {
	Name      string        `yaml:"name"`
	KeyPrefix string        `yaml:"key_prefix"`
	Requests  int64         `yaml:"requests"`
	Window    time.Duration `yaml:"window"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// UpstreamConfig controls upstream dispatch behavior.
type UpstreamConfig struct {
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Path           string        `yaml:"path"`
}

// SessionConfig controls relay session behavior.
type SessionConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// AuditConfig controls the request audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// JanitorConfig controls background cleanup of expired cache entries and
// idle rate buckets. Schedule uses standard cron syntax or a descriptor
// like "@every 5m".
type JanitorConfig struct {
	Schedule string `yaml:"schedule"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8100",
		Tiers: []TierConfig{
			{Name: "customer", KeyPrefix: "rk-cust-", Requests: 60, Window: time.Minute},
			{Name: "business", KeyPrefix: "rk-biz-", Requests: 600, Window: time.Minute},
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     30 * time.Second,
		},
		Upstream: UpstreamConfig{
			AttemptTimeout: 15 * time.Second,
			Path:           "/v1/chat/completions",
		},
		Session: SessionConfig{
			IdleTimeout: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  "rampart-audit.db",
		},
		Janitor: JanitorConfig{
			Schedule: "@every 5m",
		},
	}
}

// Load reads a YAML config file, expands environment variables, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the gateway depends on. An empty endpoint
// set is a startup failure, not a runtime condition.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("config: at least one upstream endpoint is required")
	}
	for i, ep := range c.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("config: endpoint %d (%q) has no url", i, ep.Name)
		}
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("config: at least one tier is required")
	}
	seen := make(map[string]bool, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.Name == "" || t.KeyPrefix == "" {
			return fmt.Errorf("config: tier name and key_prefix are required")
		}
		if seen[t.Name] {
			return fmt.Errorf("config: duplicate tier %q", t.Name)
		}
		seen[t.Name] = true
		if t.Requests <= 0 || t.Window <= 0 {
			return fmt.Errorf("config: tier %q needs positive requests and window", t.Name)
		}
	}
	if c.Upstream.AttemptTimeout <= 0 {
		return fmt.Errorf("config: upstream attempt_timeout must be positive")
	}
	return nil
}
