package opt

import (
	"math"
	"testing"
)

func TestGradientDescentApply(t *testing.T) {
	rule := NewGradientDescent()
	params := []float64{1.0, -2.0, 0.5}
	grad := []float64{0.5, 1.0, -0.25}

	rule.Apply(params, grad, 0.1)

	// p[i] -= 0.1 * g[i], exact in binary floating point for these values.
	want := []float64{1.0 - 0.1*0.5, -2.0 - 0.1*1.0, 0.5 - 0.1*-0.25}
	for i := range params {
		if params[i] != want[i] {
			t.Errorf("Param %d = %v, expected %v", i, params[i], want[i])
		}
	}
}

func TestMomentumAccumulates(t *testing.T) {
	rule := NewMomentum(0.9)
	params := []float64{0.0}
	grad := []float64{1.0}

	// First step: v = 1, p = -0.1.
	rule.Apply(params, grad, 0.1)
	if math.Abs(params[0]-(-0.1)) > 1e-15 {
		t.Errorf("First step: got %v, expected -0.1", params[0])
	}

	// Second step: v = 0.9*1 + 1 = 1.9, p = -0.1 - 0.19 = -0.29.
	rule.Apply(params, grad, 0.1)
	if math.Abs(params[0]-(-0.29)) > 1e-15 {
		t.Errorf("Second step: got %v, expected -0.29", params[0])
	}

	rule.Reset()
	params[0] = 0
	rule.Apply(params, grad, 0.1)
	if math.Abs(params[0]-(-0.1)) > 1e-15 {
		t.Errorf("After Reset: got %v, expected -0.1", params[0])
	}
}

func TestAdamFirstStepMagnitude(t *testing.T) {
	rule := NewAdam()
	params := []float64{5.0, -5.0}
	grad := []float64{2.0, -0.001}

	rule.Apply(params, grad, 0.1)

	// With bias correction, the very first Adam step moves each parameter
	// by approximately stepSize against the gradient sign, regardless of
	// gradient magnitude.
	for i, p := range params {
		moved := p - []float64{5.0, -5.0}[i]
		wantSign := -math.Copysign(1, grad[i])
		if math.Copysign(1, moved) != wantSign {
			t.Errorf("Param %d moved in wrong direction: %v", i, moved)
		}
		if math.Abs(math.Abs(moved)-0.1) > 0.01 {
			t.Errorf("Param %d: first step magnitude %v, expected near 0.1", i, math.Abs(moved))
		}
	}
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	h, err := New([]float64{0, 0}, Config{
		StepSize:      0.1,
		MaxIterations: 500,
		Rule:          NewAdam(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	objective := quadratic([]float64{1.0, -1.0})
	for i := 0; i < 500; i++ {
		if _, _, err := h.Step(objective); err != nil {
			t.Fatalf("Step %d failed: %v", i, err)
		}
	}

	final := objective(h.Params()).Cost
	if final >= 1e-4 {
		t.Errorf("Expected Adam to reach cost < 1e-4, got %g", final)
	}
}

func TestRuleByName(t *testing.T) {
	tests := []struct {
		name     string
		wantName string
		wantErr  bool
	}{
		{"", "gd", false},
		{"gd", "gd", false},
		{"momentum", "momentum", false},
		{"adam", "adam", false},
		{"lbfgs", "", true},
	}

	for _, tt := range tests {
		rule, err := RuleByName(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("RuleByName(%q): expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("RuleByName(%q) failed: %v", tt.name, err)
			continue
		}
		if rule.Name() != tt.wantName {
			t.Errorf("RuleByName(%q).Name() = %q, expected %q", tt.name, rule.Name(), tt.wantName)
		}
	}
}
