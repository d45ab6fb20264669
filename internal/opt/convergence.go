package opt

import (
	"log/slog"
	"math"
)

// PlateauConfig defines parameters for patience-based plateau detection.
// This is a coarser criterion than Config.Tolerance, intended for long
// server-driven runs where noisy objectives make single-delta tolerance
// checks unreliable.
type PlateauConfig struct {
	// Enabled controls whether plateau detection is active.
	Enabled bool

	// Patience is the number of iterations without significant improvement
	// before the run is considered converged.
	Patience int

	// Threshold is the minimum relative improvement required to count as
	// progress: (oldCost - newCost) / oldCost.
	Threshold float64
}

// DefaultPlateauConfig returns sensible defaults for plateau detection.
func DefaultPlateauConfig() PlateauConfig {
	return PlateauConfig{
		Enabled:   true,
		Patience:  25,
		Threshold: 1e-4,
	}
}

// DisabledPlateauConfig returns a config with plateau detection disabled.
func DisabledPlateauConfig() PlateauConfig {
	return PlateauConfig{Enabled: false}
}

// PlateauTracker watches the cost sequence and reports when the run has
// stalled: Patience consecutive iterations whose relative improvement over
// the last significant cost stays below Threshold.
type PlateauTracker struct {
	config          PlateauConfig
	bestCost        float64
	lastSignificant float64
	staleCount      int
	seen            int
}

// NewPlateauTracker creates a tracker with the given config.
func NewPlateauTracker(config PlateauConfig) *PlateauTracker {
	return &PlateauTracker{
		config:          config,
		bestCost:        math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records a new cost and returns true if the run has plateaued.
func (p *PlateauTracker) Update(cost float64) bool {
	if !p.config.Enabled {
		return false
	}

	p.seen++
	if cost < p.bestCost {
		p.bestCost = cost
	}

	if p.seen == 1 {
		p.lastSignificant = cost
		return false
	}

	relative := (p.lastSignificant - cost) / p.lastSignificant
	if relative >= p.config.Threshold {
		p.lastSignificant = cost
		p.staleCount = 0
		return false
	}

	p.staleCount++
	if p.staleCount >= p.config.Patience {
		slog.Debug("Plateau detected",
			"stale_count", p.staleCount,
			"patience", p.config.Patience,
			"best_cost", p.bestCost,
		)
		return true
	}
	return false
}

// BestCost returns the best cost seen so far.
func (p *PlateauTracker) BestCost() float64 {
	return p.bestCost
}

// StaleCount returns the current number of iterations without improvement.
func (p *PlateauTracker) StaleCount() int {
	return p.staleCount
}

// Reset clears the tracker's state.
func (p *PlateauTracker) Reset() {
	p.bestCost = math.Inf(1)
	p.lastSignificant = math.Inf(1)
	p.staleCount = 0
	p.seen = 0
}
