package objective

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/varifit/varifit/internal/opt"
)

// Quadratic builds f(p) = Σ (p_i - target_i)² with gradient 2(p - target).
// Its unique minimum is target with cost 0.
func Quadratic(target []float64) Function {
	// Keep a private copy; the objective must stay pure.
	t := make([]float64, len(target))
	copy(t, target)

	eval := func(params []float64) opt.Evaluation {
		d := make([]float64, len(params))
		floats.SubTo(d, params, t)
		grad := make([]float64, len(params))
		floats.ScaleTo(grad, 2, d)
		return opt.Evaluation{
			Cost:     floats.Dot(d, d),
			Gradient: grad,
		}
	}

	lower, upper := uniformBox(len(target), -5, 5)
	return Function{
		Name:  "quadratic",
		Dim:   len(target),
		Eval:  eval,
		Lower: lower,
		Upper: upper,
	}
}

// Sphere builds the quadratic centered at the origin.
func Sphere(dim int) Function {
	fn := Quadratic(make([]float64, dim))
	fn.Name = "sphere"
	return fn
}

// Rosenbrock builds the chained Rosenbrock function
//
//	f(p) = Σ_{i<n-1} 100(p_{i+1} - p_i²)² + (1 - p_i)²
//
// with its analytic gradient. The minimum is the all-ones vector. Requires
// dim >= 2.
func Rosenbrock(dim int) (Function, error) {
	if dim < 2 {
		return Function{}, fmt.Errorf("rosenbrock requires dim >= 2, got %d", dim)
	}

	eval := func(params []float64) opt.Evaluation {
		n := len(params)
		cost := 0.0
		grad := make([]float64, n)
		for i := 0; i < n-1; i++ {
			t0 := params[i+1] - params[i]*params[i]
			t1 := 1 - params[i]
			cost += 100*t0*t0 + t1*t1
			grad[i] += -400*t0*params[i] - 2*t1
			grad[i+1] += 200 * t0
		}
		return opt.Evaluation{Cost: cost, Gradient: grad}
	}

	lower, upper := uniformBox(dim, -2, 2)
	return Function{
		Name:  "rosenbrock",
		Dim:   dim,
		Eval:  eval,
		Lower: lower,
		Upper: upper,
	}, nil
}

// Rastrigin builds the highly multimodal Rastrigin function
//
//	f(p) = 10n + Σ p_i² - 10 cos(2π p_i)
//
// with gradient 2p_i + 20π sin(2π p_i). Global minimum at the origin; a
// useful stress case for the derivative-free searcher.
func Rastrigin(dim int) Function {
	eval := func(params []float64) opt.Evaluation {
		cost := 10 * float64(len(params))
		grad := make([]float64, len(params))
		for i, p := range params {
			cost += p*p - 10*math.Cos(2*math.Pi*p)
			grad[i] = 2*p + 20*math.Pi*math.Sin(2*math.Pi*p)
		}
		return opt.Evaluation{Cost: cost, Gradient: grad}
	}

	lower, upper := uniformBox(dim, -5.12, 5.12)
	return Function{
		Name:  "rastrigin",
		Dim:   dim,
		Eval:  eval,
		Lower: lower,
		Upper: upper,
	}
}

func buildSphere(dim int) (Function, error) {
	return Sphere(dim), nil
}

// buildQuadratic targets the alternating ±1 vector so that low dimensions
// have a non-trivial, reproducible minimum.
func buildQuadratic(dim int) (Function, error) {
	target := make([]float64, dim)
	for i := range target {
		if i%2 == 0 {
			target[i] = 1
		} else {
			target[i] = -1
		}
	}
	return Quadratic(target), nil
}

func buildRosenbrock(dim int) (Function, error) {
	return Rosenbrock(dim)
}

func buildRastrigin(dim int) (Function, error) {
	return Rastrigin(dim), nil
}
