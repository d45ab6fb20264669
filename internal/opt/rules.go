package opt

import (
	"fmt"
	"math"
)

// UpdateRule applies one parameter update given the gradient at the
// pre-update vector. Apply mutates params in place; the gradient has been
// computed entirely against the vector passed in, so no coordinate ever sees
// a partially updated state. Rules carry their own state between iterations
// (momentum buffers, moment estimates) and must reset it in Reset.
type UpdateRule interface {
	Name() string
	Apply(params, grad []float64, stepSize float64)
	Reset()
}

// GradientDescent is plain steepest descent:
//
//	p[i] = p[i] - step * g[i]
//
// It is the reproducible baseline rule; given identical inputs it produces
// bit-identical parameter sequences.
type GradientDescent struct{}

// NewGradientDescent creates the steepest-descent update rule.
func NewGradientDescent() *GradientDescent {
	return &GradientDescent{}
}

func (r *GradientDescent) Name() string { return "gd" }

func (r *GradientDescent) Apply(params, grad []float64, stepSize float64) {
	for i := range params {
		params[i] -= stepSize * grad[i]
	}
}

func (r *GradientDescent) Reset() {}

// Momentum is classical momentum SGD: a velocity buffer accumulates the
// gradient with decay beta and the parameters move against the velocity.
type Momentum struct {
	beta     float64
	velocity []float64
}

// NewMomentum creates a momentum rule. beta is the velocity decay, typically
// 0.9.
func NewMomentum(beta float64) *Momentum {
	return &Momentum{beta: beta}
}

func (r *Momentum) Name() string { return "momentum" }

func (r *Momentum) Apply(params, grad []float64, stepSize float64) {
	if r.velocity == nil {
		r.velocity = make([]float64, len(params))
	}
	for i := range params {
		r.velocity[i] = r.beta*r.velocity[i] + grad[i]
		params[i] -= stepSize * r.velocity[i]
	}
}

func (r *Momentum) Reset() { r.velocity = nil }

// Adam is adaptive moment estimation with bias correction:
//
//	m[i] = β1·m[i] + (1-β1)·g[i]
//	v[i] = β2·v[i] + (1-β2)·g[i]²
//	m̂[i] = m[i] / (1 - β1^t)
//	v̂[i] = v[i] / (1 - β2^t)
//	p[i] = p[i] - step · m̂[i] / (√v̂[i] + ε)
type Adam struct {
	beta1 float64
	beta2 float64
	eps   float64

	m, v []float64
	t    int
}

// NewAdam creates an Adam rule with the standard defaults β1=0.9, β2=0.999,
// ε=1e-8.
func NewAdam() *Adam {
	return &Adam{beta1: 0.9, beta2: 0.999, eps: 1e-8}
}

func (r *Adam) Name() string { return "adam" }

func (r *Adam) Apply(params, grad []float64, stepSize float64) {
	if r.m == nil {
		r.m = make([]float64, len(params))
		r.v = make([]float64, len(params))
	}
	r.t++

	bc1 := 1 - math.Pow(r.beta1, float64(r.t))
	bc2 := 1 - math.Pow(r.beta2, float64(r.t))

	for i := range params {
		g := grad[i]
		r.m[i] = r.beta1*r.m[i] + (1-r.beta1)*g
		r.v[i] = r.beta2*r.v[i] + (1-r.beta2)*g*g

		mHat := r.m[i] / bc1
		vHat := r.v[i] / bc2

		params[i] -= stepSize * mHat / (math.Sqrt(vHat) + r.eps)
	}
}

func (r *Adam) Reset() {
	r.m = nil
	r.v = nil
	r.t = 0
}

// RuleByName constructs an update rule from its config-string name.
func RuleByName(name string) (UpdateRule, error) {
	switch name {
	case "", "gd":
		return NewGradientDescent(), nil
	case "momentum":
		return NewMomentum(0.9), nil
	case "adam":
		return NewAdam(), nil
	default:
		return nil, fmt.Errorf("unknown update rule: %q", name)
	}
}
