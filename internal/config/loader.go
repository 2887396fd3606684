package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/cache"
	"github.com/Sternrassler/fanout-bench/pkg/fanout"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. FANOUT_BACKEND_URL.
const EnvPrefix = "FANOUT"

// Flag names.
const (
	FlagConfig           = "config"
	FlagVariant          = "variant"
	FlagVariants         = "variants"
	FlagUniverseFile     = "universe-file"
	FlagUniverseSize     = "universe-size"
	FlagField            = "field"
	FlagMinItemsPerChunk = "min-items-per-chunk"
	FlagProcessWorkers   = "process-workers"
	FlagThreadWorkers    = "thread-workers"
	FlagRetryAttempts    = "retry-attempts"
	FlagRetryBackoff     = "retry-backoff"
	FlagRepeat           = "repeat"
	FlagBackendURL       = "backend-url"
	FlagAppKey           = "app-key"
	FlagBackendTimeout   = "backend-timeout"
	FlagBackendRate      = "backend-rate"
	FlagParam            = "param"
	FlagRedisAddr        = "redis-addr"
	FlagRedisDB          = "redis-db"
	FlagCache            = "cache"
	FlagCacheTTL         = "cache-ttl"
	FlagThrottle         = "throttle"
	FlagTracingEndpoint  = "tracing-endpoint"
	FlagTracingProtocol  = "tracing-protocol"
	FlagTracingService   = "tracing-service-name"
	FlagTracingSample    = "tracing-sample-rate"
	FlagTracingInsecure  = "tracing-insecure"
	FlagLogLevel         = "log-level"
	FlagLogPretty        = "log-pretty"
	FlagMetricsAddr      = "metrics-addr"
	FlagJSON             = "json"
	FlagCSV              = "csv"
)

// flagKeys maps config keys to the flags overriding them. The field flag is
// applied separately because field names may contain commas.
var flagKeys = map[string]string{
	"variant":              FlagVariant,
	"variants":             FlagVariants,
	"universe.file":        FlagUniverseFile,
	"universe.size":        FlagUniverseSize,
	"min_items_per_chunk":  FlagMinItemsPerChunk,
	"process_workers":      FlagProcessWorkers,
	"thread_workers":       FlagThreadWorkers,
	"retry.max_attempts":   FlagRetryAttempts,
	"retry.backoff":        FlagRetryBackoff,
	"repeat":               FlagRepeat,
	"backend.url":          FlagBackendURL,
	"backend.app_key":      FlagAppKey,
	"backend.timeout":      FlagBackendTimeout,
	"backend.rate":         FlagBackendRate,
	"backend.parameters":   FlagParam,
	"redis.addr":           FlagRedisAddr,
	"redis.db":             FlagRedisDB,
	"redis.cache":          FlagCache,
	"redis.cache_ttl":      FlagCacheTTL,
	"redis.throttle":       FlagThrottle,
	"tracing.endpoint":     FlagTracingEndpoint,
	"tracing.protocol":     FlagTracingProtocol,
	"tracing.service_name": FlagTracingService,
	"tracing.sample_rate":  FlagTracingSample,
	"tracing.insecure":     FlagTracingInsecure,
	"log.level":            FlagLogLevel,
	"log.pretty":           FlagLogPretty,
	"metrics_addr":         FlagMetricsAddr,
	"output.json":          FlagJSON,
	"output.csv":           FlagCSV,
}

func variantNames() []string {
	names := make([]string, 0, len(fanout.Variants()))
	for _, v := range fanout.Variants() {
		names = append(names, string(v))
	}
	return names
}

// RegisterFlags registers all configuration flags on flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(FlagConfig, "", "Path to configuration file (YAML, JSON or TOML)")

	// Strategy
	flags.StringP(FlagVariant, "s", string(fanout.VariantDirect), "Strategy of the run command: "+strings.Join(variantNames(), ", "))
	flags.StringSlice(FlagVariants, variantNames(), "Strategies of the compare command, in order")
	flags.Int(FlagMinItemsPerChunk, fanout.DefaultMinItemsPerChunk, "Minimum number of instruments per chunk")
	flags.Int(FlagProcessWorkers, fanout.DefaultProcessWorkers, "Worker processes of the processes and hybrid strategies")
	flags.Int(FlagThreadWorkers, 0, "Goroutine pool size of the threads strategy and of hybrid workers (0 = min(32, NumCPU+4))")
	flags.Int(FlagRetryAttempts, fanout.DefaultMaxAttempts, "Attempts per chunk, including the first")
	flags.Duration(FlagRetryBackoff, fanout.DefaultBackoff, "Wait between attempts")
	flags.IntP(FlagRepeat, "n", DefaultRepeat, "Timed runs per strategy")

	// Request
	flags.String(FlagUniverseFile, DefaultUniverseFile, "Instrument list, one identifier per line")
	flags.IntP(FlagUniverseSize, "u", DefaultUniverseSize, "Number of instruments to request (0 = whole list)")
	flags.StringArrayP(FlagField, "f", nil, "Field to request (repeatable, replaces the default field set)")

	// Backend
	flags.String(FlagBackendURL, "", "Base URL of the data backend")
	flags.String(FlagAppKey, "", "Application key of the data backend")
	flags.Duration(FlagBackendTimeout, backend.DefaultRequestTimeout, "Per-attempt backend request timeout")
	flags.Float64(FlagBackendRate, 0, "Requests per second per session (0 = unlimited)")
	flags.StringToString(FlagParam, nil, "Backend request parameter in key=value form")

	// Redis
	flags.String(FlagRedisAddr, "", "Redis address for the chunk cache and shared throttle")
	flags.Int(FlagRedisDB, 0, "Redis database")
	flags.Bool(FlagCache, false, "Cache chunk results in Redis")
	flags.Duration(FlagCacheTTL, cache.DefaultTTL, "Lifetime of cached chunks")
	flags.Bool(FlagThrottle, false, "Gate requests on the throttle budget shared through Redis")

	// Observability
	flags.String(FlagTracingEndpoint, "", "OTLP endpoint; tracing is disabled when empty")
	flags.String(FlagTracingProtocol, "grpc", "OTLP protocol: grpc or http")
	flags.String(FlagTracingService, DefaultTracingService, "Service name reported with traces")
	flags.Float64(FlagTracingSample, 1.0, "Trace sample rate between 0.0 and 1.0")
	flags.Bool(FlagTracingInsecure, false, "Disable TLS for the OTLP exporter")
	flags.String(FlagLogLevel, "info", "Log level: debug, info, warn, error")
	flags.Bool(FlagLogPretty, false, "Human-readable console logs")
	flags.String(FlagMetricsAddr, "", "Serve Prometheus metrics on this address, e.g. :9090")

	// Output
	flags.Bool(FlagJSON, false, "Print reports as JSON")
	flags.String(FlagCSV, "", "Write the fetched table of the last run to this CSV file")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("variant", string(fanout.VariantDirect))
	v.SetDefault("variants", variantNames())
	v.SetDefault("universe.file", DefaultUniverseFile)
	v.SetDefault("universe.size", DefaultUniverseSize)
	v.SetDefault("fields", DefaultFields())
	v.SetDefault("min_items_per_chunk", fanout.DefaultMinItemsPerChunk)
	v.SetDefault("process_workers", fanout.DefaultProcessWorkers)
	v.SetDefault("thread_workers", 0)
	v.SetDefault("retry.max_attempts", fanout.DefaultMaxAttempts)
	v.SetDefault("retry.backoff", fanout.DefaultBackoff)
	v.SetDefault("repeat", DefaultRepeat)
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.app_key", "")
	v.SetDefault("backend.timeout", backend.DefaultRequestTimeout)
	v.SetDefault("backend.rate", 0.0)
	v.SetDefault("backend.parameters", map[string]string{})
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache", false)
	v.SetDefault("redis.cache_ttl", cache.DefaultTTL)
	v.SetDefault("redis.throttle", false)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.protocol", "grpc")
	v.SetDefault("tracing.service_name", DefaultTracingService)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("output.json", false)
	v.SetDefault("output.csv", "")
}

// Load builds a Config from defaults, the file named by the config flag,
// FANOUT_* environment variables and the flags set on flags, in increasing
// precedence. flags must have been registered with RegisterFlags and parsed.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, name := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	var path string
	if f := flags.Lookup(FlagConfig); f != nil {
		path = strings.TrimSpace(f.Value.String())
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigFile = path

	if f := flags.Lookup(FlagField); f != nil && f.Changed {
		fields, err := flags.GetStringArray(FlagField)
		if err != nil {
			return nil, err
		}
		cfg.Fields = fields
	}

	cfg.Backend.URL = strings.TrimSpace(cfg.Backend.URL)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.ThreadWorkers <= 0 {
		cfg.ThreadWorkers = fanout.DefaultThreadWorkers()
	}
	if cfg.Backend.Parameters == nil {
		cfg.Backend.Parameters = map[string]string{}
	}

	return &cfg, nil
}

// WorkerArgs returns the command line of a worker process serving jobs for
// this configuration. Secrets are passed through WorkerEnv instead.
func (c Config) WorkerArgs(command string) []string {
	args := []string{
		command,
		"--" + FlagBackendURL, c.Backend.URL,
		"--" + FlagBackendTimeout, c.Backend.Timeout.String(),
		"--" + FlagBackendRate, strconv.FormatFloat(c.Backend.RatePerSecond, 'f', -1, 64),
		"--" + FlagLogLevel, c.Log.Level,
		"--" + FlagLogPretty + "=" + strconv.FormatBool(c.Log.Pretty),
	}

	keys := make([]string, 0, len(c.Backend.Parameters))
	for k := range c.Backend.Parameters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		args = append(args, "--"+FlagParam, k+"="+c.Backend.Parameters[k])
	}

	if c.Redis.Enabled() {
		args = append(args,
			"--"+FlagRedisAddr, c.Redis.Addr,
			"--"+FlagRedisDB, strconv.Itoa(c.Redis.DB),
			"--"+FlagCache+"="+strconv.FormatBool(c.Redis.Cache),
			"--"+FlagCacheTTL, c.Redis.CacheTTL.String(),
			"--"+FlagThrottle+"="+strconv.FormatBool(c.Redis.Throttle),
		)
	}

	if c.Tracing.Enabled() {
		args = append(args,
			"--"+FlagTracingEndpoint, c.Tracing.Endpoint,
			"--"+FlagTracingProtocol, c.Tracing.Protocol,
			"--"+FlagTracingService, c.Tracing.ServiceName,
			"--"+FlagTracingSample, strconv.FormatFloat(c.Tracing.SampleRate, 'f', -1, 64),
			"--"+FlagTracingInsecure+"="+strconv.FormatBool(c.Tracing.Insecure),
		)
	}
	return args
}

// WorkerEnv returns the environment entries carrying secrets to a worker process.
func (c Config) WorkerEnv() []string {
	var env []string
	if c.Backend.AppKey != "" {
		env = append(env, EnvPrefix+"_BACKEND_APP_KEY="+c.Backend.AppKey)
	}
	if c.Redis.Password != "" {
		env = append(env, EnvPrefix+"_REDIS_PASSWORD="+c.Redis.Password)
	}
	return env
}
