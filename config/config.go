// Package config loads and validates the service configuration from a
// YAML or JSON file with FSD_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/fieldops/fsd/core/metrics"
	"github.com/fieldops/fsd/infra/notify"
)

type Config struct {
	HTTP       HTTPConfig       `json:"http"`
	Store      StoreConfig      `json:"store"`
	Geocoder   GeocoderConfig   `json:"geocoder"`
	Calendar   CalendarConfig   `json:"calendar"`
	Distance   DistanceConfig   `json:"distance"`
	Scheduling SchedulingConfig `json:"scheduling"`
	Audit      AuditConfig      `json:"audit"`
	Metrics    metrics.Config   `json:"metrics"`
	Notify     NotifyConfig     `json:"notify"`
}

// Load reads the file at path, applies FSD_ environment overrides
// (FSD_STORE__DSN sets store.dsn), fills defaults and validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("FSD_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "fsd_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section's defaults.
func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	c.Store.SetDefaults()
	c.Distance.SetDefaults()
	c.Scheduling.SetDefaults()
	c.Audit.SetDefaults()
	c.Metrics.SetDefaults()
	c.Notify.MQTT.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Distance.Validate(); err != nil {
		return err
	}
	if err := c.Scheduling.Validate(); err != nil {
		return err
	}
	if err := c.Audit.Validate(); err != nil {
		return err
	}
	return nil
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string `json:"addr"`
	ShutdownTimeout int    `json:"shutdown_timeout_seconds"`
	// AuthToken, when set, requires "Bearer <token>" on every API call.
	AuthToken string `json:"auth_token"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10
	}
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `json:"backend"`
	DSN     string `json:"dsn"`
	// InitSchema creates tables on startup; development only.
	InitSchema bool `json:"init_schema"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
}

func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown store backend %s", c.Backend)
	}
}

// GeocoderConfig configures the address resolution provider. An empty
// base URL disables geocoding; scheduling then runs on neutral travel
// scores.
type GeocoderConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Country string `json:"country"`
}

// CalendarConfig configures the external busy-time provider. An empty
// base URL means internal bookings are the only busy source.
type CalendarConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// DistanceConfig selects the travel-estimate cache backend.
type DistanceConfig struct {
	// Cache is "memory" or "redis".
	Cache         string `json:"cache"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
}

func (c *DistanceConfig) SetDefaults() {
	if c.Cache == "" {
		c.Cache = "memory"
	}
}

func (c DistanceConfig) Validate() error {
	switch c.Cache {
	case "memory":
		return nil
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("distance.redis_addr is required for the redis cache")
		}
		return nil
	default:
		return fmt.Errorf("unknown distance cache %s", c.Cache)
	}
}

// SchedulingConfig tunes the auto-scheduler.
type SchedulingConfig struct {
	CandidateLimit int `json:"candidate_limit"`
	HorizonDays    int `json:"horizon_days"`
}

func (c *SchedulingConfig) SetDefaults() {
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 3
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 14
	}
}

func (c SchedulingConfig) Validate() error {
	if c.HorizonDays > 90 {
		return fmt.Errorf("scheduling.horizon_days %d exceeds the 90 day maximum", c.HorizonDays)
	}
	return nil
}

// AuditConfig defines settings for schedule audit storage and rotation.
type AuditConfig struct {
	// Backend selects the store type: "jsonl", "sqlite" or "none".
	Backend string `json:"backend"`
	// Path is the file location of the audit store.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
}

func (c *AuditConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "schedule_audit.log"
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 50
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
}

func (c AuditConfig) Validate() error {
	switch c.Backend {
	case "jsonl", "sqlite", "none":
	default:
		return fmt.Errorf("unknown audit backend %s", c.Backend)
	}
	if c.Backend != "none" && c.Path == "" {
		return fmt.Errorf("audit.path is required")
	}
	return nil
}

// NotifyConfig configures assignment notifications.
type NotifyConfig struct {
	// Enabled switches MQTT publishing on.
	Enabled bool          `json:"enabled"`
	MQTT    notify.Config `json:"mqtt"`
}
