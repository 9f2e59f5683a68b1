package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/querycache/health"
	"github.com/jonwraymond/querycache/observe"
	"github.com/jonwraymond/querycache/query"
	"github.com/jonwraymond/querycache/resilience"
	"github.com/jonwraymond/querycache/store"
)

// Config is the complete querycache configuration.
type Config struct {
	Service    string           `yaml:"service"`
	Query      QueryConfig      `yaml:"query"`
	Store      StoreConfig      `yaml:"store"`
	Health     HealthConfig     `yaml:"health"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Observe    observe.Config   `yaml:"observe"`
}

// QueryConfig sets query freshness.
type QueryConfig struct {
	DefaultTTL Duration `yaml:"default_ttl"`
	MaxTTL     Duration `yaml:"max_ttl"`
}

// StoreConfig configures the store.
type StoreConfig struct {
	Sweep  SweepConfig `yaml:"sweep"`
	Dedupe bool        `yaml:"dedupe"`
}

// SweepConfig schedules eviction of old entries.
type SweepConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
	MaxAge   Duration `yaml:"max_age"`
}

// HealthConfig sets the store checker limits.
type HealthConfig struct {
	MaxEffects int `yaml:"max_effects"`
	MaxEntries int `yaml:"max_entries"`
}

// ResilienceConfig describes the wrappers applied to fetches. A zero
// section disables the corresponding pattern.
type ResilienceConfig struct {
	Timeout Duration `yaml:"timeout"`
	Retry   struct {
		MaxAttempts  int      `yaml:"max_attempts"`
		InitialDelay Duration `yaml:"initial_delay"`
		MaxDelay     Duration `yaml:"max_delay"`
		Jitter       bool     `yaml:"jitter"`
	} `yaml:"retry"`
	Circuit struct {
		MaxFailures  int      `yaml:"max_failures"`
		ResetTimeout Duration `yaml:"reset_timeout"`
	} `yaml:"circuit"`
	RateLimit struct {
		Rate    float64  `yaml:"rate"`
		Burst   int      `yaml:"burst"`
		MaxWait Duration `yaml:"max_wait"`
	} `yaml:"rate_limit"`
	Bulkhead struct {
		MaxConcurrent int      `yaml:"max_concurrent"`
		MaxWait       Duration `yaml:"max_wait"`
	} `yaml:"bulkhead"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Service: "querycache",
		Query: QueryConfig{
			DefaultTTL: Duration(query.DefaultTTL),
		},
		Store: StoreConfig{
			Sweep: SweepConfig{
				Interval: Duration(store.DefaultSweepInterval),
				MaxAge:   Duration(store.DefaultSweepMaxAge),
			},
			Dedupe: true,
		},
		Health: HealthConfig{
			MaxEffects: health.DefaultMaxEffects,
		},
		Observe: observe.Config{
			ServiceName: "querycache",
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
		},
	}
}

// Load reads, expands and validates the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result. ${VAR}
// references are expanded first; a missing variable is an error.
func Parse(data []byte) (Config, error) {
	expanded, err := ExpandEnvStrict(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := Default()
	cfg.Observe.ServiceName = ""
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parsing YAML: %w", ErrInvalidConfig, err)
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = cfg.Service
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration. Every failure wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	if c.Service == "" {
		errs = append(errs, errors.New("service is required"))
	}
	if c.Query.DefaultTTL < 0 {
		errs = append(errs, errors.New("query.default_ttl must not be negative"))
	}
	if c.Query.MaxTTL < 0 {
		errs = append(errs, errors.New("query.max_ttl must not be negative"))
	}
	if c.Query.MaxTTL > 0 && c.Query.DefaultTTL > c.Query.MaxTTL {
		errs = append(errs, errors.New("query.default_ttl exceeds query.max_ttl"))
	}
	if c.Store.Sweep.Enabled {
		if c.Store.Sweep.Interval <= 0 {
			errs = append(errs, errors.New("store.sweep.interval must be positive"))
		}
		if c.Store.Sweep.MaxAge <= 0 {
			errs = append(errs, errors.New("store.sweep.max_age must be positive"))
		}
	}
	if c.Health.MaxEffects < 0 || c.Health.MaxEntries < 0 {
		errs = append(errs, errors.New("health limits must not be negative"))
	}
	if c.Resilience.RateLimit.Rate < 0 {
		errs = append(errs, errors.New("resilience.rate_limit.rate must not be negative"))
	}
	if err := c.Observe.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observe: %w", err))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// QueryPolicy returns the freshness policy for queries.
func (c *Config) QueryPolicy() query.Policy {
	return query.Policy{
		DefaultTTL: c.Query.DefaultTTL.Std(),
		MaxTTL:     c.Query.MaxTTL.Std(),
	}
}

// QueryOptions returns the query options the configuration implies.
func (c *Config) QueryOptions() []query.Option {
	return []query.Option{
		query.WithPolicy(c.QueryPolicy()),
		query.WithDedup(c.Store.Dedupe),
	}
}

// StoreOptions returns the store options the configuration implies.
func (c *Config) StoreOptions() []store.Option {
	var opts []store.Option
	if c.Store.Sweep.Enabled {
		opts = append(opts, store.WithSweep(c.Store.Sweep.Interval.Std(), c.Store.Sweep.MaxAge.Std()))
	}
	return opts
}

// StoreChecker returns the health checker configuration for a store.
func (c *Config) StoreChecker() health.StoreCheckerConfig {
	return health.StoreCheckerConfig{
		MaxEffects: c.Health.MaxEffects,
		MaxEntries: c.Health.MaxEntries,
	}
}

// Executor builds the fetch wrappers described by the resilience section.
func (c *Config) Executor() *resilience.Executor {
	r := c.Resilience
	var opts []resilience.ExecutorOption

	if r.RateLimit.Rate > 0 {
		opts = append(opts, resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:    r.RateLimit.Rate,
			Burst:   r.RateLimit.Burst,
			MaxWait: r.RateLimit.MaxWait.Std(),
		})))
	}
	if r.Bulkhead.MaxConcurrent > 0 {
		opts = append(opts, resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: r.Bulkhead.MaxConcurrent,
			MaxWait:       r.Bulkhead.MaxWait.Std(),
		})))
	}
	if r.Circuit.MaxFailures > 0 {
		opts = append(opts, resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  r.Circuit.MaxFailures,
			ResetTimeout: r.Circuit.ResetTimeout.Std(),
		})))
	}
	if r.Retry.MaxAttempts > 1 {
		opts = append(opts, resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  r.Retry.MaxAttempts,
			InitialDelay: r.Retry.InitialDelay.Std(),
			MaxDelay:     r.Retry.MaxDelay.Std(),
			Jitter:       r.Retry.Jitter,
		})))
	}
	if r.Timeout > 0 {
		opts = append(opts, resilience.WithTimeout(r.Timeout.Std()))
	}
	return resilience.NewExecutor(opts...)
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML accepts strings such as "90s" or "5m".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes d as a duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
