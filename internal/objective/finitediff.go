package objective

import (
	"github.com/varifit/varifit/internal/opt"
)

// FiniteDifference wraps a scalar cost function as a gradient-bearing
// objective using central differences with spacing h. Each optimizer step
// still sees exactly one objective call; the 2n extra cost evaluations
// happen inside the wrapper and are invisible to the driver.
//
// The wrapper never mutates the vector the optimizer passes in: it perturbs
// a private copy coordinate by coordinate.
func FiniteDifference(f func(params []float64) float64, h float64) opt.Objective {
	return func(params []float64) opt.Evaluation {
		cost := f(params)

		work := make([]float64, len(params))
		copy(work, params)

		grad := make([]float64, len(params))
		for i := range params {
			orig := work[i]
			work[i] = orig + h
			fp := f(work)
			work[i] = orig - h
			fm := f(work)
			work[i] = orig
			grad[i] = (fp - fm) / (2 * h)
		}

		return opt.Evaluation{Cost: cost, Gradient: grad}
	}
}
