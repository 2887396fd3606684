package fanout

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/backend"
)

// Defaults for a run.
const (
	DefaultMaxAttempts      = 5
	DefaultBackoff          = 200 * time.Millisecond
	DefaultMinItemsPerChunk = 800
	DefaultProcessWorkers   = 2
)

// ErrLauncherRequired is returned by New for process variants without a Launcher.
var ErrLauncherRequired = errors.New("launcher required for process variants")

// ErrFetcherRequired is returned by New without a Fetcher.
var ErrFetcherRequired = errors.New("fetcher required")

// Variant names a concurrency strategy.
type Variant string

const (
	VariantDirect    Variant = "direct"
	VariantThreads   Variant = "threads"
	VariantProcesses Variant = "processes"
	VariantHybrid    Variant = "hybrid"
)

// Variants returns all strategy variants in menu order.
func Variants() []Variant {
	return []Variant{VariantDirect, VariantThreads, VariantProcesses, VariantHybrid}
}

// ParseVariant converts a name to a Variant.
func ParseVariant(s string) (Variant, error) {
	for _, v := range Variants() {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown strategy variant %q", s)
}

// DefaultThreadWorkers is the goroutine pool size used when none is configured.
func DefaultThreadWorkers() int {
	return min(32, runtime.NumCPU()+4)
}

// RetryPolicy bounds the attempts of one chunk fetch.
type RetryPolicy struct {
	// MaxAttempts includes the initial attempt.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`

	// Backoff is the fixed wait between attempts.
	Backoff time.Duration `json:"backoff" mapstructure:"backoff"`
}

// DefaultRetryPolicy returns 5 attempts with 200ms backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Backoff: DefaultBackoff}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultBackoff
	}
	return p
}

// RunConfig is the immutable configuration of one run.
type RunConfig struct {
	Variant Variant

	// MinItemsPerChunk is the floor of the effective chunk size.
	MinItemsPerChunk int

	// MaxWorkers bounds the outer fan-out level: goroutines for threads,
	// worker processes for processes and hybrid. Zero selects the variant default.
	MaxWorkers int

	// ThreadWorkers is the goroutine pool size inside each hybrid worker and
	// of the hybrid fallback. Zero selects DefaultThreadWorkers.
	ThreadWorkers int

	Retry RetryPolicy
}

// DefaultRunConfig returns the default configuration for a variant.
func DefaultRunConfig(v Variant) RunConfig {
	return RunConfig{
		Variant:          v,
		MinItemsPerChunk: DefaultMinItemsPerChunk,
		Retry:            DefaultRetryPolicy(),
	}.withDefaults()
}

func (c RunConfig) withDefaults() RunConfig {
	if c.ThreadWorkers <= 0 {
		c.ThreadWorkers = DefaultThreadWorkers()
	}
	if c.MaxWorkers <= 0 {
		switch c.Variant {
		case VariantProcesses, VariantHybrid:
			c.MaxWorkers = DefaultProcessWorkers
		default:
			c.MaxWorkers = c.ThreadWorkers
		}
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// Deps are the collaborators a strategy needs.
type Deps struct {
	// Fetcher is the backend session of the current process. It is wrapped
	// in a RetryingFetcher by New.
	Fetcher backend.Fetcher

	// Launcher runs chunks in isolated workers. Required for processes and hybrid.
	Launcher Launcher
}

// New composes the strategy selected by cfg.Variant.
func New(cfg RunConfig, deps Deps) (Strategy, error) {
	if deps.Fetcher == nil {
		return nil, ErrFetcherRequired
	}
	cfg = cfg.withDefaults()
	retrying := NewRetryingFetcher(deps.Fetcher, cfg.Retry)

	switch cfg.Variant {
	case VariantDirect:
		return NewDirect(retrying), nil

	case VariantThreads:
		return NewThreadFanOut(retrying, cfg.MaxWorkers, cfg.MinItemsPerChunk), nil

	case VariantProcesses:
		if deps.Launcher == nil {
			return nil, ErrLauncherRequired
		}
		return NewProcessFanOut(deps.Launcher, ProcessOptions{
			Variant:          VariantProcesses,
			Workers:          cfg.MaxWorkers,
			MinItemsPerChunk: cfg.MinItemsPerChunk,
			Mode:             ModeDirect,
			ThreadWorkers:    cfg.ThreadWorkers,
			Retry:            cfg.Retry,
		}, NewDirect(retrying)), nil

	case VariantHybrid:
		if deps.Launcher == nil {
			return nil, ErrLauncherRequired
		}
		return NewProcessFanOut(deps.Launcher, ProcessOptions{
			Variant:          VariantHybrid,
			Workers:          cfg.MaxWorkers,
			MinItemsPerChunk: cfg.MinItemsPerChunk,
			Mode:             ModeThreads,
			ThreadWorkers:    cfg.ThreadWorkers,
			Retry:            cfg.Retry,
		}, NewThreadFanOut(retrying, cfg.ThreadWorkers, cfg.MinItemsPerChunk)), nil

	default:
		return nil, fmt.Errorf("unknown strategy variant %q", cfg.Variant)
	}
}
