// Package ratelimit tracks the data backend's request throttle budget and gates
// requests before they are sent. The budget is read from the X-Throttle-Remaining
// and X-Throttle-Reset response headers and kept in Redis, so worker processes
// that each hold their own backend session still see one shared budget.
package ratelimit

import (
	"time"
)

// Response headers carrying the backend throttle budget.
const (
	HeaderRemaining = "X-Throttle-Remaining"
	HeaderReset     = "X-Throttle-Reset"
)

// Redis keys for throttle state storage.
const (
	RedisKeyRemaining      = "fanout:throttle:remaining"
	RedisKeyResetTimestamp = "fanout:throttle:reset_timestamp"
	RedisKeyLastUpdate     = "fanout:throttle:last_update"
)

// Thresholds for gating decisions.
const (
	// RemainingCritical blocks requests when the remaining budget falls below this value.
	RemainingCritical = 5

	// RemainingWarning delays requests when the remaining budget falls below this value.
	RemainingWarning = 20

	// RemainingHealthy is the budget at or above which no restriction applies.
	RemainingHealthy = 50
)

// ThrottleState is the last known backend throttle budget.
type ThrottleState struct {
	// Remaining is the number of requests the backend still accepts in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the backend window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was last refreshed from response headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= RemainingHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *ThrottleState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsBlock returns true if requests should be refused until the window resets.
func (s *ThrottleState) NeedsBlock() bool {
	return s.Remaining < RemainingCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be delayed.
func (s *ThrottleState) NeedsThrottling() bool {
	return s.Remaining < RemainingWarning && !s.NeedsBlock()
}

// TimeUntilReset returns the duration until the window resets, or 0 if it already has.
func (s *ThrottleState) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy from Remaining.
func (s *ThrottleState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= RemainingHealthy
}
