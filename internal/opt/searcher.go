package opt

import (
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// Searcher is a derivative-free global optimizer over a bounded box. It
// complements the gradient driver for objectives that expose no gradient:
// a coarse global search can seed a Handle with a good starting point.
type Searcher interface {
	// Search minimizes eval over the box [lower, upper] in dim dimensions
	// and returns the best parameters and their cost.
	Search(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// MayflySearcher wraps the external mayfly library to conform to the
// Searcher interface.
type MayflySearcher struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayflySearcher creates a mayfly-based global searcher.
func NewMayflySearcher(maxIters, popSize int, seed int64) Searcher {
	return &MayflySearcher{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Search executes the mayfly optimization using the external library.
func (m *MayflySearcher) Search(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	config := mayfly.NewDefaultConfig()

	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize

	// The external library uses scalar bounds; assume a uniform box.
	config.LowerBound = lower[0]
	config.UpperBound = upper[0]

	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		// Fall back to the box midpoint if the search fails.
		mid := make([]float64, dim)
		for i := range mid {
			mid[i] = (lower[i] + upper[i]) / 2
		}
		return mid, eval(mid)
	}

	return result.GlobalBest.Position, result.GlobalBest.Cost
}
