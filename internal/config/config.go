// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	depot "github.com/eugener/depot/internal"
)

// Config is the top-level depot configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sources   []SourceEntry   `yaml:"sources"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AdminToken      string        `yaml:"admin_token"`    // empty = admin routes disabled
	RateLimitRPM    int64         `yaml:"rate_limit_rpm"` // per client on the read API, 0 = unlimited
}

// CacheConfig holds entry store settings.
type CacheConfig struct {
	MaxEntries     int           `yaml:"max_entries"`
	DefaultTTL     time.Duration `yaml:"default_ttl"`
	StaleThreshold time.Duration `yaml:"stale_threshold"` // sweep entries older than this
	SweepInterval  time.Duration `yaml:"sweep_interval"`  // 0 = no sweeper
	Policy         string        `yaml:"policy"`          // "oldest" or "tinylfu"
}

// Store policies.
const (
	PolicyOldest  = "oldest"
	PolicyTinyLFU = "tinylfu"
)

// FetchConfig holds upstream client settings.
type FetchConfig struct {
	MaxRetries        int           `yaml:"max_retries"` // total attempts
	RetryDelay        time.Duration `yaml:"retry_delay"`
	Timeout           time.Duration `yaml:"timeout"` // per fetch, retries included
	RetryClientErrors *bool         `yaml:"retry_client_errors"`
	AuthHeader        string        `yaml:"auth_header"`
	AuthToken         string        `yaml:"auth_token"`
	DNSCacheRefresh   time.Duration `yaml:"dns_cache_refresh"` // 0 = no DNS cache
}

// ShouldRetryClientErrors reports whether 4xx responses other than 429 are
// retried (defaults to true when unset).
func (f FetchConfig) ShouldRetryClientErrors() bool {
	return f.RetryClientErrors == nil || *f.RetryClientErrors
}

// BreakerConfig holds per-host circuit breaker settings.
type BreakerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ErrorThreshold float64       `yaml:"error_threshold"`
	MinSamples     int           `yaml:"min_samples"`
	WindowSeconds  int           `yaml:"window_seconds"`
	OpenTimeout    time.Duration `yaml:"open_timeout"`
}

// SnapshotConfig controls SQLite persistence of the cache.
type SnapshotConfig struct {
	Enabled  bool          `yaml:"enabled"`
	DSN      string        `yaml:"dsn"` // file path or ":memory:"
	Interval time.Duration `yaml:"interval"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate  float64 `yaml:"sample_rate"` // 0.0 to 1.0
	ServiceName string  `yaml:"service_name"`
}

// SourceEntry is a named upstream data set in the config file.
type SourceEntry struct {
	Name            string            `yaml:"name"`
	URL             string            `yaml:"url"`
	Method          string            `yaml:"method"`
	TTL             time.Duration     `yaml:"ttl"` // 0 = cache.default_ttl
	Headers         map[string]string `yaml:"headers"`
	Params          map[string]string `yaml:"params"`
	RefreshInterval time.Duration     `yaml:"refresh_interval"` // 0 = no auto refresh
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used for fields the file leaves unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			MaxEntries:     50,
			DefaultTTL:     5 * time.Minute,
			StaleThreshold: 30 * time.Minute,
			SweepInterval:  time.Minute,
			Policy:         PolicyOldest,
		},
		Fetch: FetchConfig{
			MaxRetries:      3,
			RetryDelay:      time.Second,
			Timeout:         30 * time.Second,
			AuthHeader:      "Authorization",
			DNSCacheRefresh: 5 * time.Minute,
		},
		Breaker: BreakerConfig{
			ErrorThreshold: 0.5,
			MinSamples:     10,
			WindowSeconds:  60,
			OpenTimeout:    30 * time.Second,
		},
		Snapshot: SnapshotConfig{
			DSN:      "depot.db",
			Interval: time.Minute,
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{SampleRate: 1.0, ServiceName: "depot"},
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache.max_entries must be positive"))
	}
	if c.Cache.DefaultTTL <= 0 {
		errs = append(errs, errors.New("cache.default_ttl must be positive"))
	}
	if c.Cache.SweepInterval < 0 {
		errs = append(errs, errors.New("cache.sweep_interval must not be negative"))
	}
	if c.Cache.SweepInterval > 0 {
		switch {
		case c.Cache.StaleThreshold <= 0:
			errs = append(errs, errors.New("cache.stale_threshold must be positive when the sweeper is enabled"))
		case c.Cache.StaleThreshold < c.Cache.DefaultTTL:
			errs = append(errs, fmt.Errorf("cache.stale_threshold %s must be at least cache.default_ttl %s",
				c.Cache.StaleThreshold, c.Cache.DefaultTTL))
		}
	}
	switch c.Cache.Policy {
	case PolicyOldest, PolicyTinyLFU:
	default:
		errs = append(errs, fmt.Errorf("cache.policy %q: want %q or %q", c.Cache.Policy, PolicyOldest, PolicyTinyLFU))
	}
	if c.Server.RateLimitRPM < 0 {
		errs = append(errs, errors.New("server.rate_limit_rpm must not be negative"))
	}
	if c.Fetch.MaxRetries <= 0 {
		errs = append(errs, errors.New("fetch.max_retries must be at least 1"))
	}
	if c.Fetch.RetryDelay < 0 {
		errs = append(errs, errors.New("fetch.retry_delay must not be negative"))
	}
	if c.Snapshot.Enabled && c.Snapshot.DSN == "" {
		errs = append(errs, errors.New("snapshot.dsn is required when snapshots are enabled"))
	}
	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.tracing.endpoint is required when tracing is enabled"))
	}
	if c.Telemetry.Tracing.Enabled && c.Telemetry.Tracing.ServiceName == "" {
		errs = append(errs, errors.New("telemetry.tracing.service_name is required when tracing is enabled"))
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("sources[%d]: name is required", i))
		case strings.Contains(s.Name, ":"):
			errs = append(errs, fmt.Errorf("sources[%d]: name %q must not contain ':'", i, s.Name))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true

		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("sources[%d] %q: url %q must be an absolute http(s) url", i, s.Name, s.URL))
		}
		if s.TTL < 0 || s.RefreshInterval < 0 {
			errs = append(errs, fmt.Errorf("sources[%d] %q: durations must not be negative", i, s.Name))
		}
		if c.Cache.SweepInterval > 0 && c.Cache.StaleThreshold > 0 && s.TTL > c.Cache.StaleThreshold {
			errs = append(errs, fmt.Errorf("sources[%d] %q: ttl %s exceeds cache.stale_threshold %s", i, s.Name, s.TTL, c.Cache.StaleThreshold))
		}
	}
	return errors.Join(errs...)
}

// ToSources converts source entries to domain sources, filling in the
// default TTL where a source has none.
func (c *Config) ToSources() []depot.Source {
	out := make([]depot.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		ttl := s.TTL
		if ttl == 0 {
			ttl = c.Cache.DefaultTTL
		}
		out = append(out, depot.Source{
			Name:            s.Name,
			URL:             s.URL,
			Method:          s.Method,
			Headers:         s.Headers,
			Params:          s.Params,
			TTL:             ttl,
			RefreshInterval: s.RefreshInterval,
		})
	}
	return out
}
