// Package ratelimit tracks the provisioning service's request budget.
// It reads the X-RateLimit-Remaining and X-RateLimit-Reset response headers
// and gates outbound calls before the budget is exhausted.
package ratelimit

import (
	"time"
)

// Response headers carrying the remote budget.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Redis keys for budget state storage.
const (
	RedisKeyRemaining      = "provisioner:rate_budget:remaining"
	RedisKeyResetTimestamp = "provisioner:rate_budget:reset_timestamp"
	RedisKeyLastUpdate     = "provisioner:rate_budget:last_update"
)

// Thresholds for budget decisions.
const (
	// ThresholdCritical blocks calls when the remaining budget falls below this value.
	ThresholdCritical = 1

	// ThresholdWarning throttles calls when the remaining budget falls below this value.
	ThresholdWarning = 5

	// ThresholdHealthy indicates normal operation.
	ThresholdHealthy = 20
)

// State is the last known remote request budget.
type State struct {
	// Remaining is the number of calls left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if calls should be refused.
// A window that has already reset never blocks.
func (s *State) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if calls should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the budget resets, or 0 if it already has.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}

func healthyState() *State {
	now := time.Now()
	return &State{
		Remaining:  ThresholdHealthy * 5,
		ResetAt:    now,
		LastUpdate: now,
		IsHealthy:  true,
	}
}
