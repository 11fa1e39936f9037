// Package config provides configuration loading and management for the
// catalog sync server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cartfeed/catalog-sync-server/internal/pipeline"
	"github.com/cartfeed/catalog-sync-server/internal/retry"
)

// EnvPrefix is the environment variable prefix for all settings
const EnvPrefix = "CATSYNC"

// Config represents the root configuration structure
type Config struct {
	// Platform configures the source platform's bulk-export API
	Platform PlatformConfig `yaml:"platform"`

	// Catalog configures the destination catalog API
	Catalog CatalogConfig `yaml:"catalog"`

	// Scheduler configures the external task scheduler
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Blob configures the keep-list blob store
	Blob BlobConfig `yaml:"blob"`

	// Database configures the retailer state store
	Database *DatabaseConfig `yaml:"database,omitempty"`

	// Retry tunes the retry/backoff policy for every outbound call
	Retry retry.Config `yaml:"retry,omitempty"`

	// Pipeline tunes stage execution
	Pipeline pipeline.Config `yaml:"pipeline,omitempty"`

	// Sync tunes scheduling cadence
	Sync SyncConfig `yaml:"sync,omitempty"`

	// Server configures the admin HTTP API
	Server ServerConfig `yaml:"server,omitempty"`
}

// PlatformConfig defines source platform settings
type PlatformConfig struct {
	// BaseURL is the platform admin API base URL
	BaseURL string `yaml:"baseUrl"`

	// APIVersion pins the platform API version
	APIVersion string `yaml:"apiVersion,omitempty"`

	// RateLimitPerSecond is the client-side request rate limit
	RateLimitPerSecond float64 `yaml:"rateLimitPerSecond,omitempty"`
}

// CatalogConfig defines destination catalog settings
type CatalogConfig struct {
	// BaseURL is the catalog API base URL
	BaseURL string `yaml:"baseUrl"`

	// HMACSecret is the shared secret signing every catalog request
	HMACSecret string `yaml:"hmacSecret"`
}

// SchedulerConfig defines task scheduler settings
type SchedulerConfig struct {
	// BaseURL is the scheduler API base URL
	BaseURL string `yaml:"baseUrl"`

	// APIKey authorizes scheduler calls
	APIKey string `yaml:"apiKey"`
}

// BlobConfig defines blob store settings
type BlobConfig struct {
	// BaseURL is the blob store base URL
	BaseURL string `yaml:"baseUrl"`

	// APIKey authorizes uploads
	APIKey string `yaml:"apiKey,omitempty"`

	// Bucket holds reconciliation keep-lists
	Bucket string `yaml:"bucket,omitempty"`
}

// DatabaseConfig defines the Postgres connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslMode,omitempty"`

	MaxConns int `yaml:"maxConns,omitempty"`
	MinConns int `yaml:"minConns,omitempty"`
}

// SyncConfig defines scheduling cadence settings
type SyncConfig struct {
	// PartialSyncDelay defers partial syncs for tolerant batching
	PartialSyncDelay time.Duration `yaml:"partialSyncDelay,omitempty"`

	// FullSyncDelay defers full syncs briefly; they are user visible
	FullSyncDelay time.Duration `yaml:"fullSyncDelay,omitempty"`

	// RecoverySweepInterval spaces recovery monitor sweeps
	RecoverySweepInterval time.Duration `yaml:"recoverySweepInterval,omitempty"`
}

// ServerConfig defines admin HTTP API settings
type ServerConfig struct {
	// Address is the listen address, defaulting to ":8080"
	Address string `yaml:"address,omitempty"`
}

const (
	defaultAPIVersion    = "2024-10"
	defaultBucket        = "catalog-keep-lists"
	defaultServerAddress = ":8080"
)

// Load reads configuration from an optional YAML file plus the environment.
// Environment variables use the CATSYNC_ prefix with underscores for
// nesting (e.g. CATSYNC_CATALOG_HMACSECRET).
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment variables onto the config
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overlayString := func(dst *string, key string) {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}

	overlayString(&cfg.Platform.BaseURL, "platform.baseurl")
	overlayString(&cfg.Platform.APIVersion, "platform.apiversion")
	overlayString(&cfg.Catalog.BaseURL, "catalog.baseurl")
	overlayString(&cfg.Catalog.HMACSecret, "catalog.hmacsecret")
	overlayString(&cfg.Scheduler.BaseURL, "scheduler.baseurl")
	overlayString(&cfg.Scheduler.APIKey, "scheduler.apikey")
	overlayString(&cfg.Blob.BaseURL, "blob.baseurl")
	overlayString(&cfg.Blob.APIKey, "blob.apikey")
	overlayString(&cfg.Blob.Bucket, "blob.bucket")
	overlayString(&cfg.Server.Address, "server.address")

	if v.IsSet("database.host") {
		if cfg.Database == nil {
			cfg.Database = &DatabaseConfig{}
		}
		overlayString(&cfg.Database.Host, "database.host")
		overlayString(&cfg.Database.User, "database.user")
		overlayString(&cfg.Database.Password, "database.password")
		overlayString(&cfg.Database.Database, "database.database")
		overlayString(&cfg.Database.SSLMode, "database.sslmode")
		if port := v.GetInt("database.port"); port != 0 {
			cfg.Database.Port = port
		}
	}

	if n := v.GetInt("retry.maxattempts"); n != 0 {
		cfg.Retry.MaxAttempts = n
	}
	if d := v.GetDuration("retry.initialdelay"); d != 0 {
		cfg.Retry.InitialDelay = d
	}
	if d := v.GetDuration("retry.maxdelay"); d != 0 {
		cfg.Retry.MaxDelay = d
	}
	if f := v.GetFloat64("retry.multiplier"); f != 0 {
		cfg.Retry.Multiplier = f
	}
	if v.IsSet("retry.jitter") {
		jitter := v.GetBool("retry.jitter")
		cfg.Retry.Jitter = &jitter
	}
}

// applyDefaults fills unset fields
func applyDefaults(cfg *Config) {
	if cfg.Platform.APIVersion == "" {
		cfg.Platform.APIVersion = defaultAPIVersion
	}
	if cfg.Blob.Bucket == "" {
		cfg.Blob.Bucket = defaultBucket
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultServerAddress
	}

	// Each retry knob defaults independently
	def := retry.DefaultConfig()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = def.MaxAttempts
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = def.InitialDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = def.MaxDelay
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = def.Multiplier
	}
	if cfg.Retry.Jitter == nil {
		cfg.Retry.Jitter = def.Jitter
	}
	if cfg.Retry.RetryableStatusCodes == nil {
		cfg.Retry.RetryableStatusCodes = def.RetryableStatusCodes
	}
	if cfg.Retry.RetryableNetworkErrors == nil {
		cfg.Retry.RetryableNetworkErrors = def.RetryableNetworkErrors
	}
}

// Validate checks that required settings are present and well-formed
func (c *Config) Validate() error {
	if err := validateURL("platform.baseUrl", c.Platform.BaseURL); err != nil {
		return err
	}
	if err := validateURL("catalog.baseUrl", c.Catalog.BaseURL); err != nil {
		return err
	}
	if err := validateURL("scheduler.baseUrl", c.Scheduler.BaseURL); err != nil {
		return err
	}
	if err := validateURL("blob.baseUrl", c.Blob.BaseURL); err != nil {
		return err
	}
	if c.Catalog.HMACSecret == "" {
		return fmt.Errorf("catalog.hmacSecret is required")
	}
	return nil
}

func validateURL(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s is not a valid URL: %q", name, raw)
	}
	return nil
}
