package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Sternrassler/fanout-bench/internal/config"
	"github.com/Sternrassler/fanout-bench/internal/tracing"
	"github.com/Sternrassler/fanout-bench/pkg/backend"
	"github.com/Sternrassler/fanout-bench/pkg/cache"
	"github.com/Sternrassler/fanout-bench/pkg/fanout"
	"github.com/Sternrassler/fanout-bench/pkg/logging"
	"github.com/Sternrassler/fanout-bench/pkg/metrics"
	"github.com/Sternrassler/fanout-bench/pkg/ratelimit"
	"github.com/Sternrassler/fanout-bench/pkg/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds the process-wide resources of one command invocation.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	tracing *tracing.Provider
	redis   *redis.Client

	// sessions creates backend sessions with cache and throttle applied.
	sessions backend.SessionFactory

	// launcher starts worker processes; tests replace it.
	launcher fanout.Launcher

	parent backend.Session
	stop   context.CancelFunc
}

type appOptions struct {
	// worker marks a child process: logs carry the pid, no metrics server.
	worker bool
	stderr io.Writer
}

// newApp configures logging, tracing, metrics and Redis for cfg.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	logCfg := cfg.LoggingConfig()
	logCfg.WithPID = opts.worker
	if opts.stderr != nil {
		logCfg.Output = opts.stderr
	}
	logging.Setup(logCfg)

	a := &app{
		cfg:    cfg,
		logger: logging.NewLogger(logging.ComponentCLI),
	}

	ctx, a.stop = context.WithCancel(ctx)

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		a.close()
		return nil, err
	}
	a.tracing = tp

	if cfg.MetricsAddr != "" && !opts.worker {
		srv, err := metrics.Listen(cfg.MetricsAddr)
		if err != nil {
			a.close()
			return nil, err
		}
		go func() {
			if err := srv.Serve(ctx); err != nil {
				a.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	httpCfg := cfg.HTTPConfig()
	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		a.logger.Debug().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

		if cfg.Redis.Throttle {
			httpCfg.Throttle = ratelimit.NewTracker(a.redis, logging.NewLogger(logging.ComponentRateLimit))
		}
	}

	a.sessions = backend.HTTPSessionFactory(httpCfg)
	if cfg.Redis.Cache {
		a.sessions = cache.WrapSessions(a.sessions, cache.NewManager(a.redis), cfg.CacheConfig())
	}

	a.launcher = &worker.ExecLauncher{
		Args: cfg.WorkerArgs(worker.Command),
		Env:  cfg.WorkerEnv(),
	}
	return a, nil
}

// strategy opens the parent session on first use and composes variant.
func (a *app) strategy(ctx context.Context, variant fanout.Variant) (fanout.Strategy, error) {
	if a.parent == nil {
		s, err := a.sessions()
		if err != nil {
			return nil, fmt.Errorf("create backend session: %w", err)
		}
		if err := s.Open(ctx); err != nil {
			return nil, err
		}
		a.parent = s
	}

	return fanout.New(a.cfg.RunConfig(variant), fanout.Deps{
		Fetcher:  a.parent,
		Launcher: a.launcher,
	})
}

// close releases the session and connections in reverse order of creation.
func (a *app) close() {
	if a.parent != nil {
		if err := a.parent.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close backend session")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to flush traces")
		}
	}
	if a.stop != nil {
		a.stop()
	}
}

// writeCSVFile creates path and fills it with write.
func writeCSVFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create CSV file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
