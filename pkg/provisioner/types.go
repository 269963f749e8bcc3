package provisioner

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/token-provisioner/pkg/decode"
)

// Kind names a workflow.
type Kind string

const (
	Creation   Kind = "creation"
	Activation Kind = "activation"
)

// Entity is one locally managed item that gets a remote resource.
type Entity struct {
	Index int    `json:"index" yaml:"index"`
	Name  string `json:"name" yaml:"name"`
}

// EntitySource supplies the ordered entity set. The orchestrator copies the
// returned slice when a creation workflow starts.
type EntitySource interface {
	Entities(ctx context.Context) ([]Entity, error)
}

// StaticEntities is a fixed EntitySource.
type StaticEntities []Entity

// Entities returns the slice itself.
func (s StaticEntities) Entities(context.Context) ([]Entity, error) {
	return s, nil
}

// EntitySourceFunc adapts a function to EntitySource.
type EntitySourceFunc func(ctx context.Context) ([]Entity, error)

// Entities calls f.
func (f EntitySourceFunc) Entities(ctx context.Context) ([]Entity, error) {
	return f(ctx)
}

// Finalizer is told when an activation batch has attempted every resource.
type Finalizer interface {
	InitializationComplete(ctx context.Context, summary Summary) error
}

// FinalizerFunc adapts a function to Finalizer.
type FinalizerFunc func(ctx context.Context, summary Summary) error

// InitializationComplete calls f.
func (f FinalizerFunc) InitializationComplete(ctx context.Context, summary Summary) error {
	return f(ctx, summary)
}

// Params are the create-call parameters derived from an entity.
type Params struct {
	Name   string
	Symbol string
}

// DeriveParams returns the name and symbol for e. The result depends only
// on e, so a rerun over the same entity set issues the same requests.
func DeriveParams(e Entity) Params {
	n := e.Index + 1
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("Company %d", n)
	}
	return Params{Name: name, Symbol: fmt.Sprintf("CO%d", n)}
}

// ItemStatus is the terminal state of one entity or resource.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "success"
	ItemFailure ItemStatus = "failure"
	ItemTimeout ItemStatus = "timeout"
)

// ItemOutcome records what happened to one entity or resource.
type ItemOutcome struct {
	Index    int
	Name     string
	Symbol   string
	Address  string
	Status   ItemStatus
	Resource *decode.ResourceRecord
	Attempts int
	Duration time.Duration
	Err      error
}

// Summary is the result of one batch.
type Summary struct {
	RunID      string
	Kind       Kind
	Account    string
	StartedAt  time.Time
	FinishedAt time.Time

	Total     int
	Succeeded int
	Failed    int
	TimedOut  int

	// BatchErr is set when the batch could not run its item loop.
	BatchErr error

	// Finalized reports whether the finalize step ran; FinalizeErr is its error.
	Finalized   bool
	FinalizeErr error

	Items []ItemOutcome
}

func (s *Summary) add(o ItemOutcome) {
	s.Total++
	switch o.Status {
	case ItemSuccess:
		s.Succeeded++
	case ItemTimeout:
		s.TimedOut++
	default:
		s.Failed++
	}
	s.Items = append(s.Items, o)
}

// Unsuccessful is the number of items that did not succeed.
func (s Summary) Unsuccessful() int {
	return s.Failed + s.TimedOut
}

// Duration is the wall time of the batch.
func (s Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
