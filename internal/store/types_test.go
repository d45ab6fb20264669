package store

import (
	"errors"
	"testing"
	"time"
)

func validCheckpoint() *Checkpoint {
	return &Checkpoint{
		RunID:       "run-1",
		Params:      []float64{0.4, -0.9},
		Cost:        0.41,
		BestParams:  []float64{0.5, -1.0},
		BestCost:    0.25,
		InitialCost: 2.0,
		Iteration:   120,
		Timestamp:   time.Now(),
		Config: RunConfig{
			Objective: "quadratic",
			Dim:       2,
			Rule:      "gd",
			StepSize:  0.1,
			Iters:     500,
			Seed:      42,
		},
	}
}

func TestCheckpointValidate(t *testing.T) {
	if err := validCheckpoint().Validate(); err != nil {
		t.Fatalf("Valid checkpoint failed validation: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Checkpoint)
	}{
		{"empty run id", func(c *Checkpoint) { c.RunID = "" }},
		{"empty params", func(c *Checkpoint) { c.Params = nil }},
		{"empty best params", func(c *Checkpoint) { c.BestParams = nil }},
		{"negative iteration", func(c *Checkpoint) { c.Iteration = -1 }},
		{"zero timestamp", func(c *Checkpoint) { c.Timestamp = time.Time{} }},
		{"empty objective", func(c *Checkpoint) { c.Config.Objective = "" }},
		{"empty rule", func(c *Checkpoint) { c.Config.Rule = "" }},
		{"zero dim", func(c *Checkpoint) { c.Config.Dim = 0 }},
		{"zero step size", func(c *Checkpoint) { c.Config.StepSize = 0 }},
		{"zero iters", func(c *Checkpoint) { c.Config.Iters = 0 }},
		{"params length mismatch", func(c *Checkpoint) { c.Params = []float64{1} }},
		{"best params length mismatch", func(c *Checkpoint) { c.BestParams = []float64{1, 2, 3} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCheckpoint()
			tt.mutate(c)

			err := c.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("Expected ValidationError, got %T", err)
			}
		})
	}
}

func TestCheckpointIsCompatible(t *testing.T) {
	c := validCheckpoint()

	compatible := c.Config
	if err := c.IsCompatible(compatible); err != nil {
		t.Errorf("Expected compatible config, got %v", err)
	}

	// Step size and iteration count may change on resume.
	tweaked := c.Config
	tweaked.StepSize = 0.01
	tweaked.Iters = 10000
	if err := c.IsCompatible(tweaked); err != nil {
		t.Errorf("Expected step/iters changes to be compatible, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"different objective", func(cfg *RunConfig) { cfg.Objective = "rosenbrock" }},
		{"different dim", func(cfg *RunConfig) { cfg.Dim = 7 }},
		{"different rule", func(cfg *RunConfig) { cfg.Rule = "adam" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := c.Config
			tt.mutate(&cfg)

			err := c.IsCompatible(cfg)
			if err == nil {
				t.Fatal("Expected compatibility error, got nil")
			}
			var cErr *CompatibilityError
			if !errors.As(err, &cErr) {
				t.Errorf("Expected CompatibilityError, got %T", err)
			}
		})
	}
}

func TestCheckpointToInfo(t *testing.T) {
	c := validCheckpoint()
	info := c.ToInfo()

	if info.RunID != c.RunID {
		t.Errorf("RunID = %q, expected %q", info.RunID, c.RunID)
	}
	if info.BestCost != c.BestCost {
		t.Errorf("BestCost = %v, expected %v", info.BestCost, c.BestCost)
	}
	if info.Iteration != c.Iteration {
		t.Errorf("Iteration = %d, expected %d", info.Iteration, c.Iteration)
	}
	if info.Objective != c.Config.Objective {
		t.Errorf("Objective = %q, expected %q", info.Objective, c.Config.Objective)
	}
	if info.Rule != c.Config.Rule {
		t.Errorf("Rule = %q, expected %q", info.Rule, c.Config.Rule)
	}
	if info.Dim != c.Config.Dim {
		t.Errorf("Dim = %d, expected %d", info.Dim, c.Config.Dim)
	}
}
