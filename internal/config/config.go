// Package config loads the benchmark configuration from defaults, an
// optional config file, FANOUT_* environment variables and command-line flags.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/cache"
	"github.com/Sternrassler/fanout-bench/pkg/fanout"
	"github.com/Sternrassler/fanout-bench/pkg/logging"
)

// Defaults of the reference benchmark.
const (
	DefaultUniverseFile   = "Instruments.txt"
	DefaultUniverseSize   = 7500
	DefaultRepeat         = 1
	DefaultTracingService = "fanout-bench"
)

// Config is the complete benchmark configuration.
type Config struct {
	ConfigFile string `mapstructure:"-"`

	// Variant is the strategy of the run command.
	Variant string `mapstructure:"variant"`

	// Variants are the strategies of the compare command, in order.
	Variants []string `mapstructure:"variants"`

	Universe UniverseConfig `mapstructure:"universe"`
	Fields   []string       `mapstructure:"fields"`

	MinItemsPerChunk int                `mapstructure:"min_items_per_chunk"`
	ProcessWorkers   int                `mapstructure:"process_workers"`
	ThreadWorkers    int                `mapstructure:"thread_workers"`
	Retry            fanout.RetryPolicy `mapstructure:"retry"`
	Repeat           int                `mapstructure:"repeat"`

	Backend BackendConfig `mapstructure:"backend"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Log     LogConfig     `mapstructure:"log"`
	Output  OutputConfig  `mapstructure:"output"`

	// MetricsAddr enables the Prometheus endpoint when set, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// UniverseConfig selects the instruments of a run.
type UniverseConfig struct {
	// File lists one instrument per line. Missing files fall back to
	// synthetic identifiers.
	File string `mapstructure:"file"`

	// Size takes the first Size instruments (0 = all).
	Size int `mapstructure:"size"`
}

// BackendConfig configures the HTTP data backend.
type BackendConfig struct {
	URL           string            `mapstructure:"url"`
	AppKey        string            `mapstructure:"app_key"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	RatePerSecond float64           `mapstructure:"rate"`
	Parameters    map[string]string `mapstructure:"parameters"`
}

// RedisConfig configures the optional chunk cache and shared throttle.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Cache    bool          `mapstructure:"cache"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Throttle bool          `mapstructure:"throttle"`
}

// Enabled reports whether any Redis-backed feature is on.
func (r RedisConfig) Enabled() bool {
	return r.Cache || r.Throttle
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Enabled reports whether an exporter endpoint is configured.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// OutputConfig selects the report formats.
type OutputConfig struct {
	JSON bool   `mapstructure:"json"`
	CSV  string `mapstructure:"csv"`
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

// Issues returns the individual validation messages.
func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the configuration. Chunking values are clamped by the
// partitioner and are not rejected here.
func (c Config) Validate() error {
	var issues []string

	if _, err := fanout.ParseVariant(c.Variant); err != nil {
		issues = append(issues, err.Error())
	}
	for _, v := range c.Variants {
		if _, err := fanout.ParseVariant(v); err != nil {
			issues = append(issues, fmt.Sprintf("variants: %v", err))
		}
	}
	if c.Universe.Size < 0 {
		issues = append(issues, "universe size must be >= 0")
	}
	if len(c.Fields) == 0 {
		issues = append(issues, "at least one field is required")
	}
	if c.Repeat < 1 {
		issues = append(issues, "repeat must be >= 1")
	}

	if strings.TrimSpace(c.Backend.URL) == "" {
		issues = append(issues, "backend url is required")
	} else if u, err := url.Parse(c.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		issues = append(issues, fmt.Sprintf("backend url %q must be an absolute http(s) URL", c.Backend.URL))
	}
	if c.Backend.Timeout < 0 {
		issues = append(issues, "backend timeout must be >= 0")
	}
	if c.Backend.RatePerSecond < 0 {
		issues = append(issues, "backend rate must be >= 0")
	}

	if c.Redis.Enabled() && strings.TrimSpace(c.Redis.Addr) == "" {
		issues = append(issues, "redis addr is required when cache or throttle is enabled")
	}
	if c.Redis.CacheTTL < 0 {
		issues = append(issues, "cache ttl must be >= 0")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing sample rate must be between 0.0 and 1.0, got %g", c.Tracing.SampleRate))
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("unsupported tracing protocol %q: use \"grpc\" or \"http\"", c.Tracing.Protocol))
	}

	switch logging.LogLevel(strings.ToLower(c.Log.Level)) {
	case "", logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		issues = append(issues, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// RunConfig builds the strategy configuration for variant.
func (c Config) RunConfig(variant fanout.Variant) fanout.RunConfig {
	cfg := fanout.RunConfig{
		Variant:          variant,
		MinItemsPerChunk: c.MinItemsPerChunk,
		ThreadWorkers:    c.ThreadWorkers,
		Retry:            c.Retry,
	}
	switch variant {
	case fanout.VariantProcesses, fanout.VariantHybrid:
		cfg.MaxWorkers = c.ProcessWorkers
	case fanout.VariantThreads:
		cfg.MaxWorkers = c.ThreadWorkers
	}
	return cfg
}

// HTTPConfig builds the backend client configuration.
func (c Config) HTTPConfig() backend.HTTPConfig {
	cfg := backend.DefaultHTTPConfig(c.Backend.URL, c.Backend.AppKey)
	if c.Backend.Timeout > 0 {
		cfg.Timeout = c.Backend.Timeout
	}
	cfg.RatePerSecond = c.Backend.RatePerSecond
	cfg.Parameters = c.Backend.Parameters
	return cfg
}

// CacheConfig builds the caching fetcher configuration.
func (c Config) CacheConfig() cache.FetcherConfig {
	return cache.FetcherConfig{
		TTL:        c.Redis.CacheTTL,
		Parameters: c.Backend.Parameters,
	}
}

// LoggingConfig builds the zerolog configuration.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if c.Log.Level != "" {
		cfg.Level = logging.LogLevel(strings.ToLower(c.Log.Level))
	}
	cfg.Pretty = c.Log.Pretty
	return cfg
}
