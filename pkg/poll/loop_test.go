package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/token-provisioner/pkg/decode"
	"github.com/rs/zerolog"
)

// script replays a fixed status sequence and counts calls.
type script struct {
	states []decode.JobStatus
	errAt  int // 1-based call that returns an error, 0 for none
	calls  int
}

func (s *script) fetch(context.Context) (decode.JobStatus, error) {
	s.calls++
	if s.calls == s.errAt {
		return decode.JobStatus{}, errors.New("connection reset")
	}
	if s.calls > len(s.states) {
		return decode.JobStatus{State: decode.Pending, Raw: "pending"}, nil
	}
	return s.states[s.calls-1], nil
}

func repeat(st decode.JobStatus, n int) []decode.JobStatus {
	out := make([]decode.JobStatus, n)
	for i := range out {
		out[i] = st
	}
	return out
}

var (
	pending = decode.JobStatus{State: decode.Pending, Raw: "pending"}
	unknown = decode.JobStatus{State: decode.Unknown, Raw: "minting"}
	done    = decode.JobStatus{State: decode.Success, Raw: "success", Resource: &decode.ResourceRecord{Address: "0xabc"}}
	failed  = decode.JobStatus{State: decode.Failure, Raw: "failed", Reason: "symbol taken"}
)

func newTestLoop(sleeps *int) *Loop {
	nop := zerolog.Nop()
	return &Loop{
		Interval:    time.Second,
		MaxAttempts: 60,
		Logger:      &nop,
		Sleep: func(context.Context, time.Duration) error {
			*sleeps++
			return nil
		},
	}
}

func TestLoop_Run(t *testing.T) {
	tests := []struct {
		name         string
		script       *script
		wantKind     Kind
		wantAttempts int
		wantSleeps   int
		wantReason   string
	}{
		{
			name:         "immediate success",
			script:       &script{states: []decode.JobStatus{done}},
			wantKind:     Success,
			wantAttempts: 1,
		},
		{
			name:         "59 pending then success",
			script:       &script{states: append(repeat(pending, 59), done)},
			wantKind:     Success,
			wantAttempts: 60,
			wantSleeps:   59,
		},
		{
			name:         "60 pending times out",
			script:       &script{states: append(repeat(pending, 60), done)},
			wantKind:     Timeout,
			wantAttempts: 60,
			wantSleeps:   59,
		},
		{
			name:         "unknown states consume attempts",
			script:       &script{states: repeat(unknown, 60)},
			wantKind:     Timeout,
			wantAttempts: 60,
			wantSleeps:   59,
		},
		{
			name:         "remote failure",
			script:       &script{states: []decode.JobStatus{pending, pending, failed}},
			wantKind:     Failure,
			wantAttempts: 3,
			wantSleeps:   2,
			wantReason:   "symbol taken",
		},
		{
			name:         "fetch error stops immediately",
			script:       &script{states: repeat(pending, 10), errAt: 4},
			wantKind:     Failure,
			wantAttempts: 4,
			wantSleeps:   3,
			wantReason:   "connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeps := 0
			loop := newTestLoop(&sleeps)

			out := loop.Run(context.Background(), tt.script.fetch)

			if out.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", out.Kind, tt.wantKind)
			}
			if out.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", out.Attempts, tt.wantAttempts)
			}
			if tt.script.calls != tt.wantAttempts {
				t.Errorf("fetch calls = %d, want %d", tt.script.calls, tt.wantAttempts)
			}
			if sleeps != tt.wantSleeps {
				t.Errorf("sleeps = %d, want %d", sleeps, tt.wantSleeps)
			}
			if out.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", out.Reason, tt.wantReason)
			}
			if (out.Err == nil) != (tt.wantKind == Success) {
				t.Errorf("Err = %v for kind %s", out.Err, out.Kind)
			}
		})
	}
}

func TestLoop_SuccessCarriesResource(t *testing.T) {
	sleeps := 0
	out := newTestLoop(&sleeps).Run(context.Background(), (&script{states: []decode.JobStatus{pending, done}}).fetch)
	if out.Resource == nil || out.Resource.Address != "0xabc" {
		t.Errorf("Resource = %+v, want address 0xabc", out.Resource)
	}
}

func TestLoop_TimeoutIsErrTimeout(t *testing.T) {
	sleeps := 0
	loop := newTestLoop(&sleeps)
	loop.MaxAttempts = 3

	out := loop.Run(context.Background(), (&script{}).fetch)
	if out.Kind != Timeout {
		t.Fatalf("Kind = %s, want timeout", out.Kind)
	}
	if !errors.Is(out.Err, ErrTimeout) {
		t.Errorf("Err = %v, want ErrTimeout", out.Err)
	}
}

func TestLoop_Defaults(t *testing.T) {
	l := New()
	if l.Interval != DefaultInterval || l.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("New() = %+v", l)
	}

	// Zero value falls back to the defaults.
	var zero Loop
	calls := 0
	zero.Sleep = func(context.Context, time.Duration) error { return nil }
	out := zero.Run(context.Background(), func(context.Context) (decode.JobStatus, error) {
		calls++
		return pending, nil
	})
	if out.Kind != Timeout || calls != DefaultMaxAttempts {
		t.Errorf("zero Loop: kind=%s calls=%d, want timeout after %d", out.Kind, calls, DefaultMaxAttempts)
	}
}

func TestSleep_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() did not return on cancellation")
	}
}

func TestSleep_Waits(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Sleep() returned after %v", elapsed)
	}
}
