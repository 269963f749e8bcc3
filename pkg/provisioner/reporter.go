package provisioner

import (
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Reporter receives per-item and per-batch results. Calls come from the
// workflow goroutine in item order and must not block for long.
type Reporter interface {
	ReportItem(runID string, kind Kind, o ItemOutcome)
	ReportBatch(s Summary)
}

// LogReporter writes results as structured log events.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// ReportItem logs one item result.
func (r *LogReporter) ReportItem(runID string, kind Kind, o ItemOutcome) {
	var ev *zerolog.Event
	switch o.Status {
	case ItemSuccess:
		ev = r.logger.Info()
	case ItemTimeout:
		ev = r.logger.Warn()
	default:
		ev = r.logger.Error().Err(o.Err)
	}
	ev.Str("run_id", runID).
		Str("workflow", string(kind)).
		Int("index", o.Index).
		Str("entity", o.Name).
		Str("status", string(o.Status)).
		Int("attempts", o.Attempts).
		Dur("duration", o.Duration)
	if o.Address != "" {
		ev.Str("address", o.Address)
	}
	ev.Msg("Item finished")
}

// ReportBatch logs the batch summary.
func (r *LogReporter) ReportBatch(s Summary) {
	ev := r.logger.Info()
	if s.BatchErr != nil {
		ev = r.logger.Error().Err(s.BatchErr)
	} else if s.Unsuccessful() > 0 {
		ev = r.logger.Warn()
	}
	ev.Str("run_id", s.RunID).
		Str("workflow", string(s.Kind)).
		Int("total", s.Total).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("timed_out", s.TimedOut).
		Bool("finalized", s.Finalized).
		Dur("duration", s.Duration()).
		Msg("Batch finished")
}

// ConsoleReporter writes one human-readable line per result.
type ConsoleReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleReporter creates a ConsoleReporter writing to w.
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{w: w}
}

// ReportItem prints one item line.
func (r *ConsoleReporter) ReportItem(_ string, kind Kind, o ItemOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	label := o.Name
	if o.Symbol != "" {
		label = fmt.Sprintf("%s (%s)", o.Name, o.Symbol)
	}
	if label == "" {
		label = o.Address
	}

	switch o.Status {
	case ItemSuccess:
		if o.Address != "" {
			fmt.Fprintf(r.w, "[%s] #%d %s: ok, address %s\n", kind, o.Index+1, label, o.Address)
		} else {
			fmt.Fprintf(r.w, "[%s] #%d %s: ok\n", kind, o.Index+1, label)
		}
	case ItemTimeout:
		fmt.Fprintf(r.w, "[%s] #%d %s: timed out after %d status checks\n", kind, o.Index+1, label, o.Attempts)
	default:
		fmt.Fprintf(r.w, "[%s] #%d %s: FAILED: %v\n", kind, o.Index+1, label, o.Err)
	}
}

// ReportBatch prints the batch line.
func (r *ConsoleReporter) ReportBatch(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.BatchErr != nil {
		fmt.Fprintf(r.w, "[%s] batch failed: %v\n", s.Kind, s.BatchErr)
		return
	}
	fmt.Fprintf(r.w, "[%s] done: %d/%d succeeded, %d failed, %d timed out\n",
		s.Kind, s.Succeeded, s.Total, s.Failed, s.TimedOut)
}

type multiReporter []Reporter

// Reporters fans results out to every reporter in order.
func Reporters(rs ...Reporter) Reporter {
	return multiReporter(rs)
}

func (m multiReporter) ReportItem(runID string, kind Kind, o ItemOutcome) {
	for _, r := range m {
		r.ReportItem(runID, kind, o)
	}
}

func (m multiReporter) ReportBatch(s Summary) {
	for _, r := range m {
		r.ReportBatch(s)
	}
}
