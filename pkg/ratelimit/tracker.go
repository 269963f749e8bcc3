package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for budget tracking.
var (
	budgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "provisioner_rate_budget_remaining",
		Help: "Calls remaining in the current provisioning service rate window",
	})

	budgetBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioner_rate_budget_blocks_total",
		Help: "Total number of calls refused because the rate budget was exhausted",
	})

	budgetThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provisioner_rate_budget_throttles_total",
		Help: "Total number of calls delayed because the rate budget was low",
	})
)

// DefaultThrottleDelay is the pause applied to calls while the budget is low.
const DefaultThrottleDelay = 1 * time.Second

// StaleAfter is how long a recorded budget state is trusted. Older state
// predates any rate window the service uses and is ignored.
const StaleAfter = 5 * time.Minute

// Tracker monitors the remote request budget and gates calls.
type Tracker struct {
	store         Store
	logger        zerolog.Logger
	throttleDelay time.Duration
}

// NewTracker creates a new budget tracker.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		store:         store,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay overrides the pause applied while throttling.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// GetState retrieves the current budget state.
// Returns a default healthy state if nothing has been recorded yet or the
// recorded state is older than StaleAfter.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load budget state: %w", err)
	}
	if state == nil {
		t.logger.Debug().Msg("No budget state recorded, assuming healthy")
		return healthyState(), nil
	}
	if state.IsStale(StaleAfter) {
		t.logger.Debug().Time("last_update", state.LastUpdate).Msg("Budget state is stale, assuming healthy")
		return healthyState(), nil
	}
	return state, nil
}

// UpdateFromHeaders parses budget headers and stores the new state.
// Responses without the headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	now := time.Now()
	state := &State{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()

	if err := t.store.Save(ctx, state); err != nil {
		return err
	}

	budgetRemaining.Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate budget exhausted - calls will be blocked until reset")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate budget low - calls will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Bool("is_healthy", state.IsHealthy).
			Msg("Rate budget updated")
	}

	return nil
}

// ShouldAllowRequest reports whether a call may be sent now.
// It returns false when the budget is exhausted and waits throttleDelay when it is low.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, err
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Rate budget exhausted - blocking call")
		budgetBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() && t.throttleDelay > 0 {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("delay", t.throttleDelay).
			Msg("Rate budget low - throttling call")
		budgetThrottlesTotal.Inc()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(t.throttleDelay):
		}
	}

	return true, nil
}
