// Package opt implements the gradient-based variational optimization driver.
//
// The driver is deliberately ignorant of what the objective computes: it
// only ever sees a parameter vector going in and a cost (plus gradient)
// coming out. Expensive evaluations (circuit simulators, external models)
// are the caller's concern and are invoked exactly once per step.
package opt

import (
	"context"
	"math"
)

// Evaluation is the result of evaluating the objective at one parameter
// vector: the scalar cost and, for gradient-based rules, the gradient at
// that point. Gradient may be nil for derivative-free callers.
type Evaluation struct {
	Cost     float64
	Gradient []float64
}

// Objective maps a parameter vector to an Evaluation. The optimizer treats
// it as a pure black box and never inspects or retries it. The slice passed
// in must not be retained or mutated by the objective.
type Objective func(params []float64) Evaluation

// Trace is the ordered, append-only history of costs, one entry per
// completed step, in iteration order.
type Trace []float64

// Best returns the index and value of the minimum cost in the trace, ties
// broken by the earliest index. Returns (-1, +Inf) for an empty trace.
func (t Trace) Best() (int, float64) {
	best := -1
	bestCost := math.Inf(1)
	for i, c := range t {
		if c < bestCost {
			best = i
			bestCost = c
		}
	}
	return best, bestCost
}

// Config holds the construction parameters for a Handle.
type Config struct {
	// StepSize is the learning rate. Must be positive.
	StepSize float64

	// MaxIterations bounds Run. Must be at least 1.
	MaxIterations int

	// Tolerance enables early stopping in Run: once the absolute
	// difference between the last two recorded costs falls below it, the
	// run terminates. Zero disables early stopping. Must be non-negative.
	Tolerance float64

	// Rule selects the update rule. Nil means steepest descent.
	Rule UpdateRule
}

type handleState int

const (
	stateReady handleState = iota
	stateRunning
	stateFinished
	stateErrored
)

// Handle owns all mutable state of one optimization run: the current
// parameter vector, the update-rule state and the cost trace. Handles share
// nothing, so independent runs need no locking; a single Handle is not safe
// for concurrent use.
type Handle struct {
	params []float64
	cfg    Config
	rule   UpdateRule
	trace  Trace
	state  handleState
}

// New creates a Handle starting at a copy of initial.
func New(initial []float64, cfg Config) (*Handle, error) {
	if len(initial) == 0 {
		return nil, &InvalidArgumentError{Field: "initial", Reason: "cannot be empty"}
	}
	if math.IsNaN(cfg.StepSize) || math.IsInf(cfg.StepSize, 0) || cfg.StepSize <= 0 {
		return nil, &InvalidArgumentError{Field: "StepSize", Reason: "must be positive and finite"}
	}
	if cfg.MaxIterations < 1 {
		return nil, &InvalidArgumentError{Field: "MaxIterations", Reason: "must be at least 1"}
	}
	if cfg.Tolerance < 0 {
		return nil, &InvalidArgumentError{Field: "Tolerance", Reason: "cannot be negative"}
	}

	rule := cfg.Rule
	if rule == nil {
		rule = NewGradientDescent()
	}
	rule.Reset()

	params := make([]float64, len(initial))
	copy(params, initial)

	return &Handle{
		params: params,
		cfg:    cfg,
		rule:   rule,
	}, nil
}

// Step evaluates the objective once at the current parameters, records the
// observed cost, and applies the update rule. It returns a copy of the new
// parameter vector and the cost observed before the update, so the trace
// reflects the cost at the start of the iteration.
//
// On GradientShapeError or NonFiniteError the parameter vector is left
// unchanged, nothing is appended to the trace, and the handle transitions to
// the errored state; every later Step or Run fails with ErrOptimizerErrored.
func (h *Handle) Step(objective Objective) ([]float64, float64, error) {
	if h.state == stateErrored {
		return nil, 0, ErrOptimizerErrored
	}

	eval := objective(h.params)

	if math.IsNaN(eval.Cost) || math.IsInf(eval.Cost, 0) {
		h.state = stateErrored
		return nil, 0, &NonFiniteError{Quantity: "cost", Index: -1}
	}
	if len(eval.Gradient) != len(h.params) {
		h.state = stateErrored
		return nil, 0, &GradientShapeError{Want: len(h.params), Got: len(eval.Gradient)}
	}
	for i, g := range eval.Gradient {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			h.state = stateErrored
			return nil, 0, &NonFiniteError{Quantity: "gradient", Index: i}
		}
	}

	// Update a fresh copy so snapshots handed out earlier stay valid.
	next := make([]float64, len(h.params))
	copy(next, h.params)
	h.rule.Apply(next, eval.Gradient, h.cfg.StepSize)

	h.params = next
	h.trace = append(h.trace, eval.Cost)
	h.state = stateRunning

	out := make([]float64, len(next))
	copy(out, next)
	return out, eval.Cost, nil
}

// Run calls Step up to MaxIterations times. With a non-zero Tolerance it
// stops early once the last two recorded costs differ by less than the
// tolerance, one extra evaluation being needed to detect the plateau.
// Cancellation is cooperative: the context is checked between iterations and
// a cancelled run returns the partial trace alongside ctx.Err(). No
// iteration is interrupted mid-evaluation.
//
// The returned trace is a copy and always reflects every completed
// iteration, including on error.
func (h *Handle) Run(ctx context.Context, objective Objective) (Trace, error) {
	if h.state == stateErrored {
		return h.Trace(), ErrOptimizerErrored
	}

	for i := 0; i < h.cfg.MaxIterations; i++ {
		select {
		case <-ctx.Done():
			return h.Trace(), ctx.Err()
		default:
		}

		if _, _, err := h.Step(objective); err != nil {
			return h.Trace(), err
		}

		if h.cfg.Tolerance > 0 && len(h.trace) >= 2 {
			delta := math.Abs(h.trace[len(h.trace)-1] - h.trace[len(h.trace)-2])
			if delta < h.cfg.Tolerance {
				break
			}
		}
	}

	h.state = stateFinished
	return h.Trace(), nil
}

// Params returns a copy of the current parameter vector.
func (h *Handle) Params() []float64 {
	out := make([]float64, len(h.params))
	copy(out, h.params)
	return out
}

// Trace returns a copy of the cost history.
func (h *Handle) Trace() Trace {
	out := make(Trace, len(h.trace))
	copy(out, h.trace)
	return out
}

// Iterations returns the number of completed steps.
func (h *Handle) Iterations() int {
	return len(h.trace)
}

// Errored reports whether the handle has entered the errored state.
func (h *Handle) Errored() bool {
	return h.state == stateErrored
}
