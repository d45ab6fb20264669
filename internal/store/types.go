package store

import (
	"fmt"
	"time"
)

// RunConfig holds configuration for an optimization run (checkpoint copy).
// This avoids import cycles with the server package.
type RunConfig struct {
	Objective          string  `json:"objective"`
	Dim                int     `json:"dim"`
	Rule               string  `json:"rule"` // gd, momentum, adam
	StepSize           float64 `json:"stepSize"`
	Iters              int     `json:"iters"`
	Tolerance          float64 `json:"tolerance,omitempty"`
	Seed               int64   `json:"seed"`
	CheckpointInterval int     `json:"checkpointInterval,omitempty"` // Checkpoint every N seconds (0 = disabled)
}

// Checkpoint is a saved optimization state that can be resumed later. It
// carries the current and best parameter vectors but not the update rule's
// internal state (moment buffers), so a resumed adaptive-rule run restarts
// its moment estimates; the best cost can never regress because the best
// parameters are kept. Saving rule state would tie the checkpoint format to
// individual rule implementations for little benefit.
type Checkpoint struct {
	// RunID is the unique identifier for this optimization run.
	RunID string `json:"runId"`

	// Params is the current parameter vector at checkpoint time.
	Params []float64 `json:"params"`

	// Cost is the cost observed at Params.
	Cost float64 `json:"cost"`

	// BestParams is the parameter vector that achieved the lowest cost.
	BestParams []float64 `json:"bestParams"`

	// BestCost is the cost achieved by BestParams.
	BestCost float64 `json:"bestCost"`

	// InitialCost is the cost at the initial parameters, kept for
	// improvement tracking.
	InitialCost float64 `json:"initialCost"`

	// Iteration is the number of completed iterations at checkpoint time.
	Iteration int `json:"iteration"`

	// Timestamp records when this checkpoint was created.
	Timestamp time.Time `json:"timestamp"`

	// Config holds the run configuration, needed for validation during
	// resume. Resumed runs must use a compatible objective and shape.
	Config RunConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the parameter
// vectors. Used for listing checkpoints without loading large arrays.
type CheckpointInfo struct {
	RunID     string    `json:"runId"`
	BestCost  float64   `json:"bestCost"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Objective string    `json:"objective"`
	Rule      string    `json:"rule"`
	Dim       int       `json:"dim"`
}

// NewCheckpoint creates a checkpoint from run state.
func NewCheckpoint(runID string, params []float64, cost float64, bestParams []float64, bestCost, initialCost float64, iteration int, config RunConfig) *Checkpoint {
	return &Checkpoint{
		RunID:       runID,
		Params:      params,
		Cost:        cost,
		BestParams:  bestParams,
		BestCost:    bestCost,
		InitialCost: initialCost,
		Iteration:   iteration,
		Timestamp:   time.Now(),
		Config:      config,
	}
}

// ToInfo converts a full Checkpoint to metadata-only CheckpointInfo.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		RunID:     c.RunID,
		BestCost:  c.BestCost,
		Iteration: c.Iteration,
		Timestamp: c.Timestamp,
		Objective: c.Config.Objective,
		Rule:      c.Config.Rule,
		Dim:       c.Config.Dim,
	}
}

// Validate checks that the checkpoint has consistent data.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if len(c.Params) == 0 {
		return &ValidationError{Field: "Params", Reason: "cannot be empty"}
	}
	if len(c.BestParams) == 0 {
		return &ValidationError{Field: "BestParams", Reason: "cannot be empty"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Objective == "" {
		return &ValidationError{Field: "Config.Objective", Reason: "cannot be empty"}
	}
	if c.Config.Rule == "" {
		return &ValidationError{Field: "Config.Rule", Reason: "cannot be empty"}
	}
	if c.Config.Dim <= 0 {
		return &ValidationError{Field: "Config.Dim", Reason: "must be positive"}
	}
	if c.Config.StepSize <= 0 {
		return &ValidationError{Field: "Config.StepSize", Reason: "must be positive"}
	}
	if c.Config.Iters <= 0 {
		return &ValidationError{Field: "Config.Iters", Reason: "must be positive"}
	}
	if len(c.Params) != c.Config.Dim {
		return &ValidationError{
			Field:  "Params",
			Reason: fmt.Sprintf("length mismatch: expected %d, got %d", c.Config.Dim, len(c.Params)),
		}
	}
	if len(c.BestParams) != c.Config.Dim {
		return &ValidationError{
			Field:  "BestParams",
			Reason: fmt.Sprintf("length mismatch: expected %d, got %d", c.Config.Dim, len(c.BestParams)),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether this checkpoint can be resumed with the given
// config: the objective, its shape, and the update rule must all match.
func (c *Checkpoint) IsCompatible(config RunConfig) error {
	if c.Config.Objective != config.Objective {
		return &CompatibilityError{
			Field:    "Objective",
			Expected: c.Config.Objective,
			Actual:   config.Objective,
		}
	}
	if c.Config.Dim != config.Dim {
		return &CompatibilityError{
			Field:    "Dim",
			Expected: fmt.Sprintf("%d", c.Config.Dim),
			Actual:   fmt.Sprintf("%d", config.Dim),
		}
	}
	if c.Config.Rule != config.Rule {
		return &CompatibilityError{
			Field:    "Rule",
			Expected: c.Config.Rule,
			Actual:   config.Rule,
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
