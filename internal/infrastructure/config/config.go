// Package config provides configuration structs and utilities for the schoolsync client.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the root configuration for the schoolsync client.
type Config struct {
	API           APIConfig           `yaml:"api" envPrefix:"API_"`
	Storage       StorageConfig       `yaml:"storage" envPrefix:"STORAGE_"`
	Cache         CacheConfig         `yaml:"cache" envPrefix:"CACHE_"`
	Sync          SyncConfig          `yaml:"sync" envPrefix:"SYNC_"`
	Connectivity  ConnectivityConfig  `yaml:"connectivity" envPrefix:"CONNECTIVITY_"`
	Logging       LoggingConfig       `yaml:"logging" envPrefix:"LOG_"`
	Observability ObservabilityConfig `yaml:"observability" envPrefix:"OBSERVABILITY_"`
}

// APIConfig describes the school API.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url" env:"BASE_URL"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	UserAgent string        `yaml:"user_agent" env:"USER_AGENT"`
}

// StorageConfig selects and locates the durable store.
type StorageConfig struct {
	Driver         string `yaml:"driver" env:"DRIVER"` // sqlite, memory
	Path           string `yaml:"path" env:"PATH"`
	EncryptSession bool   `yaml:"encrypt_session" env:"ENCRYPT_SESSION"`
}

// CacheConfig holds configuration for the read-through cache.
type CacheConfig struct {
	MaxAge          time.Duration `yaml:"max_age" env:"MAX_AGE"`                                     // advisory; stale entries are still served
	RegisteredPaths []string      `yaml:"registered_paths" env:"REGISTERED_PATHS" envSeparator:","` // empty caches every read
}

// SyncConfig holds timings for the drain scheduler.
type SyncConfig struct {
	SettleDelay       time.Duration `yaml:"settle_delay" env:"SETTLE_DELAY"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	StartupGrace      time.Duration `yaml:"startup_grace" env:"STARTUP_GRACE"`
	ReplayTimeout     time.Duration `yaml:"replay_timeout" env:"REPLAY_TIMEOUT"`
	Backoff           BackoffConfig `yaml:"backoff" envPrefix:"BACKOFF_"`
}

// BackoffConfig delays retries of transiently failed mutations. Disabled by
// default: every drain retries everything still queued.
type BackoffConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	Base    time.Duration `yaml:"base" env:"BASE"`
	Max     time.Duration `yaml:"max" env:"MAX"`
}

// ConnectivityConfig holds the sources of online/offline state.
type ConnectivityConfig struct {
	ProbeURL      string        `yaml:"probe_url" env:"PROBE_URL"` // defaults to <base_url>/health
	ProbeInterval time.Duration `yaml:"probe_interval" env:"PROBE_INTERVAL"`
	RealtimeURL   string        `yaml:"realtime_url" env:"REALTIME_URL"`
}

// LoggingConfig holds configuration for application logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json, text
}

// ObservabilityConfig holds configuration for observability features.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`             // Whether tracing is enabled
	ExporterType string  `yaml:"exporter_type" env:"EXPORTER_TYPE"` // none, stdout, otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"` // OTLP collector endpoint
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`     // Sampling rate (0.0 to 1.0)
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`   // Service name for traces
}

// Default configuration values.
const (
	DefaultBaseURL   = "http://localhost:8000/api"
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "schoolsync/1.0"

	DefaultStorageDriver = "sqlite"
	DefaultStoragePath   = "~/.schoolsync/schoolsync.db"

	DefaultCacheMaxAge = 24 * time.Hour

	DefaultSettleDelay       = 2 * time.Second
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultStartupGrace      = 3 * time.Second
	DefaultReplayTimeout     = 30 * time.Second
	DefaultBackoffBase       = 5 * time.Second
	DefaultBackoffMax        = 10 * time.Minute

	DefaultProbeInterval = 15 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultTracingEnabled      = false
	DefaultTracingExporterType = "none"
	DefaultTracingSampleRate   = 1.0
	DefaultTracingServiceName  = "schoolsync"
)

// Valid log levels.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid log formats.
var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// Valid storage drivers.
var validStorageDrivers = map[string]bool{
	"sqlite": true,
	"memory": true,
}

// Valid tracing exporter types.
var validTracingExporterTypes = map[string]bool{
	"none":   true,
	"stdout": true,
	"otlp":   true,
}

// NewDefaultConfig creates a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   DefaultBaseURL,
			Timeout:   DefaultTimeout,
			UserAgent: DefaultUserAgent,
		},
		Storage: StorageConfig{
			Driver: DefaultStorageDriver,
			Path:   DefaultStoragePath,
		},
		Cache: CacheConfig{
			MaxAge: DefaultCacheMaxAge,
		},
		Sync: SyncConfig{
			SettleDelay:       DefaultSettleDelay,
			HeartbeatInterval: DefaultHeartbeatInterval,
			StartupGrace:      DefaultStartupGrace,
			ReplayTimeout:     DefaultReplayTimeout,
			Backoff: BackoffConfig{
				Base: DefaultBackoffBase,
				Max:  DefaultBackoffMax,
			},
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: DefaultProbeInterval,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:      DefaultTracingEnabled,
				ExporterType: DefaultTracingExporterType,
				SampleRate:   DefaultTracingSampleRate,
				ServiceName:  DefaultTracingServiceName,
			},
		},
	}
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	var errs []error

	if err := c.API.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("api: %w", err))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}

	if err := c.Sync.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}

	if err := c.Connectivity.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("connectivity: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the APIConfig is valid.
func (a *APIConfig) Validate() error {
	var errs []error

	if a.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	} else if err := validateHTTPURL(a.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("base_url: %w", err))
	}

	if a.Timeout < 0 {
		errs = append(errs, errors.New("timeout must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the StorageConfig is valid.
func (s *StorageConfig) Validate() error {
	var errs []error

	if !validStorageDrivers[s.Driver] {
		errs = append(errs, fmt.Errorf("invalid driver %q: must be one of sqlite, memory", s.Driver))
	}
	if s.Driver == "sqlite" && s.Path == "" {
		errs = append(errs, errors.New("path is required for the sqlite driver"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the CacheConfig is valid.
func (c *CacheConfig) Validate() error {
	var errs []error

	if c.MaxAge < 0 {
		errs = append(errs, errors.New("max_age must be non-negative"))
	}
	for _, p := range c.RegisteredPaths {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("registered path %q must start with /", p))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the SyncConfig is valid.
func (s *SyncConfig) Validate() error {
	var errs []error

	if s.SettleDelay < 0 {
		errs = append(errs, errors.New("settle_delay must be non-negative"))
	}
	if s.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("heartbeat_interval must be non-negative"))
	}
	if s.StartupGrace < 0 {
		errs = append(errs, errors.New("startup_grace must be non-negative"))
	}
	if s.ReplayTimeout <= 0 {
		errs = append(errs, errors.New("replay_timeout must be positive"))
	}
	if s.Backoff.Enabled {
		if s.Backoff.Base <= 0 {
			errs = append(errs, errors.New("backoff.base must be positive when backoff is enabled"))
		}
		if s.Backoff.Max < s.Backoff.Base {
			errs = append(errs, errors.New("backoff.max must not be less than backoff.base"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the ConnectivityConfig is valid.
func (c *ConnectivityConfig) Validate() error {
	var errs []error

	if c.ProbeURL != "" {
		if err := validateHTTPURL(c.ProbeURL); err != nil {
			errs = append(errs, fmt.Errorf("probe_url: %w", err))
		}
	}
	if c.ProbeInterval < 0 {
		errs = append(errs, errors.New("probe_interval must be non-negative"))
	}
	if c.RealtimeURL != "" {
		u, err := url.Parse(c.RealtimeURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid realtime_url: %w", err))
		} else if !map[string]bool{"ws": true, "wss": true, "http": true, "https": true}[u.Scheme] {
			errs = append(errs, errors.New("realtime_url must use ws, wss, http or https scheme"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the LoggingConfig is valid.
func (l *LoggingConfig) Validate() error {
	var errs []error

	if l.Level != "" && !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", l.Level))
	}

	if l.Format != "" && !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("invalid log format %q: must be one of json, text", l.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the ObservabilityConfig is valid.
func (o *ObservabilityConfig) Validate() error {
	if err := o.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// Validate checks if the TracingConfig is valid.
func (t *TracingConfig) Validate() error {
	var errs []error

	if t.Enabled {
		if t.ExporterType != "" && !validTracingExporterTypes[t.ExporterType] {
			errs = append(errs, fmt.Errorf("invalid exporter_type %q: must be one of none, stdout, otlp", t.ExporterType))
		}
		if t.ExporterType == "otlp" && t.OTLPEndpoint == "" {
			errs = append(errs, errors.New("otlp_endpoint is required when exporter_type is 'otlp'"))
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			errs = append(errs, errors.New("sample_rate must be between 0.0 and 1.0"))
		}
		if t.ServiceName == "" {
			errs = append(errs, errors.New("service_name is required when tracing is enabled"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// ProbeTarget returns the health URL polled by the connectivity probe.
func (c *Config) ProbeTarget() string {
	if c.Connectivity.ProbeURL != "" {
		return c.Connectivity.ProbeURL
	}
	if c.API.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.API.BaseURL, "/") + "/health"
}

// StoragePath returns the store location with ~ expanded.
func (c *Config) StoragePath() string {
	return ExpandPath(c.Storage.Path)
}

// DataDir returns the directory holding the store and the session salt.
func (c *Config) DataDir() string {
	if c.Storage.Driver == "sqlite" && c.Storage.Path != "" && c.Storage.Path != ":memory:" {
		return filepath.Dir(c.StoragePath())
	}
	return ExpandPath("~/.schoolsync")
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https scheme")
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
