package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultThrottleDelay is how long a request waits when the budget is in the warning band.
const DefaultThrottleDelay = 1 * time.Second

var (
	throttleRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_backend_throttle_remaining",
		Help: "Requests remaining in the current backend throttle window",
	})

	throttleBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_backend_throttle_blocks_total",
		Help: "Total number of requests refused because the throttle budget was critical",
	})

	throttleDelaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_backend_throttle_delays_total",
		Help: "Total number of requests delayed because the throttle budget was low",
	})
)

// Tracker keeps the backend throttle budget in Redis and gates requests.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	delay  time.Duration
}

// NewTracker creates a throttle tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		delay:  DefaultThrottleDelay,
	}
}

// SetThrottleDelay overrides the delay applied in the warning band.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.delay = d
}

// GetState reads the throttle state from Redis.
// A healthy default is returned when nothing has been recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*ThrottleState, error) {
	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No throttle state in Redis, assuming healthy")
		return &ThrottleState{
			Remaining:  100,
			ResetAt:    time.Now().Add(60 * time.Second),
			LastUpdate: time.Now(),
			IsHealthy:  true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	resetTimestamp, err := t.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &ThrottleState{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetTimestamp, 0),
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()
	return state, nil
}

// ParseHeaders extracts a throttle state from backend response headers.
// ok is false when the backend did not send throttle headers.
func ParseHeaders(headers http.Header, now time.Time) (state *ThrottleState, ok bool, err error) {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil, false, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return nil, false, fmt.Errorf("%s header missing", HeaderReset)
	}
	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	state = &ThrottleState{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()
	return state, true, nil
}

// UpdateFromHeaders stores the throttle budget reported by a backend response.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, ok, err := ParseHeaders(headers, time.Now())
	if err != nil || !ok {
		return err
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store throttle state in redis: %w", err)
	}

	throttleRemaining.Set(float64(state.Remaining))

	switch {
	case state.NeedsBlock():
		t.logger.Error().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Backend throttle budget CRITICAL - requests will be refused")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Backend throttle budget low - requests will be delayed")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Bool("is_healthy", state.IsHealthy).
			Msg("Backend throttle state updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a request may be sent now.
// It returns false while the budget is critical and sleeps for the throttle
// delay while the budget is in the warning band.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get throttle state: %w", err)
	}

	if state.NeedsBlock() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Backend throttle budget critical - refusing request")
		throttleBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() && t.delay > 0 {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Dur("delay", t.delay).
			Msg("Backend throttle budget low - delaying request")
		throttleDelaysTotal.Inc()

		timer := time.NewTimer(t.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}
