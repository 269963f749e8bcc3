// Package guard admits at most one batch workflow at a time.
//
// Local guards one process. Redis guards every process sharing a Redis
// instance with a leased key that is renewed while held.
package guard

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "provisioner_guard_rejections_total",
	Help: "Total workflow starts refused because another workflow was running",
}, []string{"guard"})

// Guard is the single-flight run state shared by every workflow type.
type Guard interface {
	// TryAcquire returns a Lease when no workflow is running. It never blocks
	// on another holder.
	TryAcquire(ctx context.Context) (Lease, bool)
	Running(ctx context.Context) bool
}

// Lease is one admitted workflow's hold on a Guard. Release is idempotent and
// only ever frees this lease.
type Lease interface {
	Release(ctx context.Context)
}

// Local is an in-process guard. The zero value is ready to use.
type Local struct {
	active atomic.Bool
}

// NewLocal returns an idle in-process guard.
func NewLocal() *Local {
	return &Local{}
}

// TryAcquire flips the guard from idle to running.
func (g *Local) TryAcquire(context.Context) (Lease, bool) {
	if g.active.CompareAndSwap(false, true) {
		return &localLease{guard: g}, true
	}
	rejectionsTotal.WithLabelValues("local").Inc()
	return nil, false
}

// Running reports whether a workflow holds the guard.
func (g *Local) Running(context.Context) bool {
	return g.active.Load()
}

type localLease struct {
	guard    *Local
	released atomic.Bool
}

func (l *localLease) Release(context.Context) {
	if l.released.CompareAndSwap(false, true) {
		l.guard.active.Store(false)
	}
}
