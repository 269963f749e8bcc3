package provisioner

import (
	"errors"
	"fmt"
)

var (
	// ErrBatchFailure marks a batch that stopped before its item loop.
	ErrBatchFailure = errors.New("batch failed")

	// ErrNoResources is the batch failure of an activation with nothing to activate.
	ErrNoResources = fmt.Errorf("%w: no resources found", ErrBatchFailure)

	// ErrNoEntities is the batch failure of a creation with an empty entity set.
	ErrNoEntities = fmt.Errorf("%w: no entities to create", ErrBatchFailure)

	// ErrActivationRejected is an activation call answered with success=false.
	ErrActivationRejected = errors.New("activation rejected by service")
)

// ItemError scopes a failure to one entity or resource of a batch.
type ItemError struct {
	Workflow Kind
	Index    int
	Name     string
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s item %d (%s): %s: %v", e.Workflow, e.Index, e.Name, e.Op, e.Err)
	}
	return fmt.Sprintf("%s item %d: %s: %v", e.Workflow, e.Index, e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ItemError) Unwrap() error {
	return e.Err
}

func batchError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrBatchFailure, op, err)
}
