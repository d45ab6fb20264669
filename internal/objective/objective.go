// Package objective provides standard analytic test objectives with exact
// gradients, plus a finite-difference wrapper for derivative-free cost
// surfaces. The optimizer core never depends on this package; it exists so
// the CLI and job server can construct objectives from config strings.
package objective

import (
	"fmt"
	"sort"

	"github.com/varifit/varifit/internal/opt"
)

// Function bundles a named objective with its dimensionality and a search
// box for derivative-free global search.
type Function struct {
	Name  string
	Dim   int
	Eval  opt.Objective
	Lower []float64
	Upper []float64
}

type builder func(dim int) (Function, error)

var registry = map[string]builder{
	"sphere":     buildSphere,
	"quadratic":  buildQuadratic,
	"rosenbrock": buildRosenbrock,
	"rastrigin":  buildRastrigin,
}

// Lookup constructs a registered objective by name for the given dimension.
func Lookup(name string, dim int) (Function, error) {
	if dim < 1 {
		return Function{}, fmt.Errorf("objective dimension must be positive, got %d", dim)
	}
	b, ok := registry[name]
	if !ok {
		return Function{}, fmt.Errorf("unknown objective: %q (known: %v)", name, Names())
	}
	return b(dim)
}

// Names returns the registered objective names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func uniformBox(dim int, lo, hi float64) (lower, upper []float64) {
	lower = make([]float64, dim)
	upper = make([]float64, dim)
	for i := range lower {
		lower[i] = lo
		upper[i] = hi
	}
	return lower, upper
}
