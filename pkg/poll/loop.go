// Package poll drives a remote job to a terminal state with a bounded number
// of fixed-interval status checks.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/token-provisioner/pkg/decode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for polling.
var (
	pollAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioner_poll_attempts_total",
		Help: "Total job status checks by observed state",
	}, []string{"state"})

	pollOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioner_poll_outcomes_total",
		Help: "Total finished poll sequences by outcome",
	}, []string{"outcome"})
)

const (
	// DefaultInterval is the pause between two status checks.
	DefaultInterval = 1 * time.Second

	// DefaultMaxAttempts is the status check ceiling for one job.
	DefaultMaxAttempts = 60
)

// ErrTimeout is the error of an Outcome whose job never became terminal.
var ErrTimeout = errors.New("job did not finish within the poll ceiling")

// Kind is the terminal result of a poll sequence.
type Kind string

const (
	Success Kind = "success"
	Failure Kind = "failure"
	Timeout Kind = "timeout"
)

// Outcome is what Run returns.
type Outcome struct {
	Kind     Kind
	Resource *decode.ResourceRecord // Success only
	Reason   string                 // Failure only
	Attempts int
	Err      error // nil on Success
}

// FetchFunc performs one status check.
type FetchFunc func(ctx context.Context) (decode.JobStatus, error)

// SleepFunc waits d. It returns early with ctx.Err() if ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Loop holds the polling parameters. The zero value uses the defaults.
type Loop struct {
	Interval    time.Duration
	MaxAttempts int
	Sleep       SleepFunc
	Logger      *zerolog.Logger
}

// New returns a Loop with the default interval and ceiling.
func New() *Loop {
	return &Loop{Interval: DefaultInterval, MaxAttempts: DefaultMaxAttempts}
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run checks the job until it succeeds, fails or MaxAttempts checks have
// been made. A fetch error ends the sequence at once with Failure. Pending
// and unrecognized states consume one attempt each, and the loop only
// sleeps when another attempt remains.
func (l *Loop) Run(ctx context.Context, fetch FetchFunc) Outcome {
	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxAttempts := l.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := l.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	logger := log.With().Str("component", "poll").Logger()
	if l.Logger != nil {
		logger = *l.Logger
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := fetch(ctx)
		if err != nil {
			pollAttemptsTotal.WithLabelValues("error").Inc()
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Status check failed, abandoning job")
			return finish(Outcome{Kind: Failure, Reason: err.Error(), Attempts: attempt, Err: err})
		}
		pollAttemptsTotal.WithLabelValues(status.State.String()).Inc()

		switch status.State {
		case decode.Success:
			if attempt > 1 {
				logger.Debug().Int("attempt", attempt).Msg("Job completed after polling")
			}
			return finish(Outcome{Kind: Success, Resource: status.Resource, Attempts: attempt})
		case decode.Failure:
			logger.Info().Int("attempt", attempt).Str("reason", status.Reason).Msg("Job reported failure")
			return finish(Outcome{
				Kind:     Failure,
				Reason:   status.Reason,
				Attempts: attempt,
				Err:      fmt.Errorf("job failed: %s", status.Reason),
			})
		case decode.Unknown:
			logger.Warn().
				Int("attempt", attempt).
				Str("status", status.Raw).
				Msg("Unrecognized job status, treating as pending")
		}

		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, interval); err != nil {
			return finish(Outcome{Kind: Failure, Reason: err.Error(), Attempts: attempt, Err: err})
		}
	}

	logger.Warn().
		Int("max_attempts", maxAttempts).
		Dur("interval", interval).
		Msg("Job still pending at poll ceiling")
	return finish(Outcome{
		Kind:     Timeout,
		Attempts: maxAttempts,
		Err:      fmt.Errorf("%w after %d attempts", ErrTimeout, maxAttempts),
	})
}

func finish(o Outcome) Outcome {
	pollOutcomesTotal.WithLabelValues(string(o.Kind)).Inc()
	return o
}
