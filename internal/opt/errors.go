package opt

import (
	"errors"
	"fmt"
)

// ErrOptimizerErrored is returned by Step and Run once a handle has seen a
// bad objective result. The handle cannot be reused; create a new one.
var ErrOptimizerErrored = errors.New("optimizer handle errored, reinitialize to continue")

// InvalidArgumentError reports malformed construction parameters.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "invalid argument: " + e.Field + " " + e.Reason
}

func (e *InvalidArgumentError) Is(target error) bool {
	_, ok := target.(*InvalidArgumentError)
	return ok
}

// GradientShapeError reports a gradient whose length does not match the
// parameter vector the objective was evaluated at.
type GradientShapeError struct {
	Want int
	Got  int
}

func (e *GradientShapeError) Error() string {
	return fmt.Sprintf("gradient shape mismatch: want %d components, got %d", e.Want, e.Got)
}

func (e *GradientShapeError) Is(target error) bool {
	_, ok := target.(*GradientShapeError)
	return ok
}

// NonFiniteError reports a NaN or infinite value returned by the objective,
// either for the cost or for a gradient component.
type NonFiniteError struct {
	// Quantity is "cost" or "gradient".
	Quantity string

	// Index is the offending gradient component, or -1 for the cost.
	Index int
}

func (e *NonFiniteError) Error() string {
	if e.Quantity == "cost" {
		return "objective returned non-finite cost"
	}
	return fmt.Sprintf("objective returned non-finite gradient component %d", e.Index)
}

func (e *NonFiniteError) Is(target error) bool {
	_, ok := target.(*NonFiniteError)
	return ok
}
