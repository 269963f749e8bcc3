// Package provisioner runs the creation and activation batch workflows.
//
// Each workflow runs on its own background goroutine and processes items
// one at a time. A shared guard admits a single workflow of either kind;
// starting a second one while the first runs is refused without blocking.
// A running batch cannot be cancelled. Item failures are recorded and the
// batch moves on; only the absence of anything to process fails a batch.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/token-provisioner/pkg/decode"
	"github.com/Sternrassler/token-provisioner/pkg/guard"
	"github.com/Sternrassler/token-provisioner/pkg/poll"
	"github.com/Sternrassler/token-provisioner/pkg/remote"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for workflows.
var (
	workflowRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioner_workflow_runs_total",
		Help: "Total finished workflows by kind and result",
	}, []string{"workflow", "result"})

	workflowItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioner_workflow_items_total",
		Help: "Total processed items by workflow and status",
	}, []string{"workflow", "status"})

	workflowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provisioner_workflow_duration_seconds",
		Help:    "Workflow wall time in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"workflow"})

	workflowRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "provisioner_workflow_running",
		Help: "1 while a workflow holds the guard in this process",
	})
)

// DefaultActivationDelay is the pause between two activation calls.
const DefaultActivationDelay = 500 * time.Millisecond

// Remote is the set of service calls the workflows make.
// *remote.Service implements it.
type Remote interface {
	CreateResource(ctx context.Context, token string, req remote.CreateRequest) (remote.JobHandle, error)
	JobStatus(ctx context.Context, token string, job remote.JobHandle) (decode.JobStatus, error)
	ListResources(ctx context.Context, token, owner string) ([]decode.Entry, error)
	Activate(ctx context.Context, token, address string) (bool, error)
}

// Config wires an Orchestrator.
type Config struct {
	// Remote is required.
	Remote Remote

	// Guard defaults to a fresh guard.Local.
	Guard guard.Guard

	// Entities is required for creation workflows.
	Entities EntitySource

	// Finalizer is optional.
	Finalizer Finalizer

	// Reporter defaults to a LogReporter.
	Reporter Reporter

	// Poll defaults to poll.New().
	Poll *poll.Loop

	// ActivationDelay defaults to DefaultActivationDelay; negative disables it.
	ActivationDelay time.Duration

	// Sleep defaults to poll.Sleep.
	Sleep poll.SleepFunc
}

// Orchestrator starts workflows. It is safe for concurrent use.
type Orchestrator struct {
	remote          Remote
	guard           guard.Guard
	entities        EntitySource
	finalizer       Finalizer
	reporter        Reporter
	poll            *poll.Loop
	activationDelay time.Duration
	sleep           poll.SleepFunc
	logger          zerolog.Logger

	mu   sync.Mutex
	last *Run
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Remote == nil {
		return nil, fmt.Errorf("remote is required")
	}

	logger := log.With().Str("component", "provisioner").Logger()

	o := &Orchestrator{
		remote:          cfg.Remote,
		guard:           cfg.Guard,
		entities:        cfg.Entities,
		finalizer:       cfg.Finalizer,
		reporter:        cfg.Reporter,
		poll:            cfg.Poll,
		activationDelay: cfg.ActivationDelay,
		sleep:           cfg.Sleep,
		logger:          logger,
	}
	if o.guard == nil {
		o.guard = guard.NewLocal()
	}
	if o.reporter == nil {
		o.reporter = NewLogReporter(logger)
	}
	if o.poll == nil {
		o.poll = poll.New()
	}
	if o.activationDelay == 0 {
		o.activationDelay = DefaultActivationDelay
	}
	if o.sleep == nil {
		o.sleep = poll.Sleep
	}
	return o, nil
}

// IsRunning reports whether any workflow holds the guard.
func (o *Orchestrator) IsRunning() bool {
	return o.guard.Running(context.Background())
}

// LastRun returns the most recently started run, or nil.
func (o *Orchestrator) LastRun() *Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

// TryStartCreation starts a creation workflow for account. It returns false
// without side effects if a workflow is already running.
func (o *Orchestrator) TryStartCreation(token, account string) (*Run, bool) {
	return o.start(Creation, account, func(ctx context.Context, run *Run) {
		o.runCreation(ctx, run, token)
	})
}

// TryStartActivation starts an activation workflow for account. It returns
// false without side effects if a workflow is already running.
func (o *Orchestrator) TryStartActivation(token, account string) (*Run, bool) {
	return o.start(Activation, account, func(ctx context.Context, run *Run) {
		o.runActivation(ctx, run, token)
	})
}

func (o *Orchestrator) start(kind Kind, account string, body func(context.Context, *Run)) (*Run, bool) {
	// Detached: a started workflow is never cancelled.
	ctx := context.Background()

	lease, ok := o.guard.TryAcquire(ctx)
	if !ok {
		o.logger.Warn().Str("workflow", string(kind)).Msg("Workflow already running, start refused")
		return nil, false
	}

	run := newRun(kind, account)
	o.mu.Lock()
	o.last = run
	o.mu.Unlock()

	logger := o.logger.With().Str("run_id", run.id).Str("workflow", string(kind)).Logger()
	logger.Info().Str("account", account).Msg("Workflow started")
	workflowRunning.Set(1)

	go func() {
		defer close(run.done)
		defer func() {
			lease.Release(ctx)
			workflowRunning.Set(0)
		}()
		defer func() {
			if r := recover(); r != nil {
				run.summary.BatchErr = fmt.Errorf("%w: panic: %v", ErrBatchFailure, r)
				logger.Error().Interface("panic", r).Msg("Workflow panicked")
				o.reporter.ReportBatch(run.summary)
			}
			run.summary.FinishedAt = time.Now()
			o.observe(run.summary)
		}()

		body(ctx, run)
	}()

	return run, true
}

func (o *Orchestrator) observe(s Summary) {
	result := "success"
	switch {
	case s.BatchErr != nil:
		result = "batch_failure"
	case s.Unsuccessful() > 0:
		result = "partial"
	}
	workflowRunsTotal.WithLabelValues(string(s.Kind), result).Inc()
	workflowDuration.WithLabelValues(string(s.Kind)).Observe(s.Duration().Seconds())
}

func (o *Orchestrator) recordItem(run *Run, out ItemOutcome) {
	run.summary.add(out)
	workflowItemsTotal.WithLabelValues(string(run.kind), string(out.Status)).Inc()
	o.reporter.ReportItem(run.id, run.kind, out)
}

func (o *Orchestrator) failBatch(run *Run, err error) {
	run.summary.BatchErr = err
	run.summary.FinishedAt = time.Now()
	o.reporter.ReportBatch(run.summary)
}

func (o *Orchestrator) runCreation(ctx context.Context, run *Run, token string) {
	if o.entities == nil {
		o.failBatch(run, batchError("load entities", errors.New("no entity source configured")))
		return
	}
	entities, err := o.entities.Entities(ctx)
	if err != nil {
		o.failBatch(run, batchError("load entities", err))
		return
	}
	snapshot := append([]Entity(nil), entities...)
	if len(snapshot) == 0 {
		o.failBatch(run, ErrNoEntities)
		return
	}

	for _, e := range snapshot {
		o.recordItem(run, o.createOne(ctx, run, token, e))
	}

	run.summary.FinishedAt = time.Now()
	o.reporter.ReportBatch(run.summary)
}

func (o *Orchestrator) createOne(ctx context.Context, run *Run, token string, e Entity) ItemOutcome {
	start := time.Now()
	params := DeriveParams(e)
	out := ItemOutcome{Index: e.Index, Name: params.Name, Symbol: params.Symbol}

	logger := o.logger.With().
		Str("run_id", run.id).
		Int("index", e.Index).
		Str("entity", params.Name).
		Logger()

	fail := func(op string, status ItemStatus, err error) ItemOutcome {
		out.Status = status
		out.Err = &ItemError{Workflow: Creation, Index: e.Index, Name: params.Name, Op: op, Err: err}
		out.Duration = time.Since(start)
		return out
	}

	job, err := o.remote.CreateResource(ctx, token, remote.CreateRequest{
		Name:    params.Name,
		Symbol:  params.Symbol,
		Account: run.summary.Account,
	})
	if err != nil {
		return fail("create", ItemFailure, err)
	}
	logger.Debug().Str("job_id", string(job)).Msg("Polling creation job")

	result := o.poll.Run(ctx, func(ctx context.Context) (decode.JobStatus, error) {
		return o.remote.JobStatus(ctx, token, job)
	})
	out.Attempts = result.Attempts

	switch result.Kind {
	case poll.Success:
		out.Status = ItemSuccess
		out.Resource = result.Resource
		if result.Resource != nil {
			out.Address = result.Resource.Address
		}
		out.Duration = time.Since(start)
		return out
	case poll.Timeout:
		return fail("poll", ItemTimeout, result.Err)
	default:
		return fail("poll", ItemFailure, result.Err)
	}
}

func (o *Orchestrator) runActivation(ctx context.Context, run *Run, token string) {
	entries, err := o.remote.ListResources(ctx, token, run.summary.Account)
	if err != nil {
		o.failBatch(run, batchError("list resources", err))
		return
	}
	if len(entries) == 0 {
		o.failBatch(run, ErrNoResources)
		return
	}

	calls := 0
	for i, entry := range entries {
		if entry.Err == nil && calls > 0 && o.activationDelay > 0 {
			if err := o.sleep(ctx, o.activationDelay); err != nil {
				o.logger.Warn().Err(err).Str("run_id", run.id).Msg("Activation delay interrupted, continuing")
			}
		}
		if entry.Err == nil {
			calls++
		}
		o.recordItem(run, o.activateOne(ctx, token, i, entry))
	}

	if n := run.summary.Unsuccessful(); n > 0 {
		o.logger.Warn().
			Str("run_id", run.id).
			Int("failed", n).
			Int("total", run.summary.Total).
			Msg("Finalizing after partial activation failure")
	}

	if o.finalizer != nil {
		if err := o.finalizer.InitializationComplete(ctx, run.summary); err != nil {
			run.summary.FinalizeErr = err
			o.logger.Error().Err(err).Str("run_id", run.id).Msg("Finalize failed")
		}
	}
	run.summary.Finalized = true
	run.summary.FinishedAt = time.Now()
	o.reporter.ReportBatch(run.summary)
}

func (o *Orchestrator) activateOne(ctx context.Context, token string, i int, entry decode.Entry) ItemOutcome {
	start := time.Now()
	rec := entry.Record
	out := ItemOutcome{Index: i, Name: rec.Name, Symbol: rec.Symbol, Address: rec.Address, Resource: &rec}

	fail := func(op string, err error) ItemOutcome {
		out.Status = ItemFailure
		out.Err = &ItemError{Workflow: Activation, Index: i, Name: rec.Symbol, Op: op, Err: err}
		out.Duration = time.Since(start)
		return out
	}

	if entry.Err != nil {
		out.Resource = nil
		return fail("decode", entry.Err)
	}

	ok, err := o.remote.Activate(ctx, token, rec.Address)
	out.Attempts = 1
	if err != nil {
		return fail("activate", err)
	}
	if !ok {
		return fail("activate", ErrActivationRejected)
	}

	out.Status = ItemSuccess
	out.Duration = time.Since(start)
	return out
}

// Run is a handle to one started workflow.
type Run struct {
	id      string
	kind    Kind
	done    chan struct{}
	summary Summary
}

func newRun(kind Kind, account string) *Run {
	id := uuid.NewString()
	return &Run{
		id:   id,
		kind: kind,
		done: make(chan struct{}),
		summary: Summary{
			RunID:     id,
			Kind:      kind,
			Account:   account,
			StartedAt: time.Now(),
		},
	}
}

// ID returns the run id used in logs.
func (r *Run) ID() string { return r.id }

// Kind returns the workflow kind.
func (r *Run) Kind() Kind { return r.kind }

// Done is closed once the workflow has finished and released the guard.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the workflow finishes or ctx is done. The error is the
// batch error, if any; item failures are only in the summary.
func (r *Run) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case <-r.done:
		return r.summary, r.summary.BatchErr
	}
}

// Summary returns the finished summary, or false if the run is still going.
func (r *Run) Summary() (Summary, bool) {
	select {
	case <-r.done:
		return r.summary, true
	default:
		return Summary{}, false
	}
}
