package opt

import (
	"math"
	"testing"
)

// Sphere function: f(x) = sum(x_i^2), minimum at origin
func sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func TestMayflyAdapterOnSphere(t *testing.T) {
	optimizer := NewMayfly(100, 20, 42)

	dim := 3
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := 0; i < dim; i++ {
		lower[i] = -10
		upper[i] = 10
	}

	best, cost := optimizer.Run(sphere, lower, upper, dim)

	if len(best) != dim {
		t.Fatalf("Expected %d parameters, got %d", dim, len(best))
	}
	if cost > 0.1 {
		t.Errorf("Expected cost near 0, got %f", cost)
	}
	for i, v := range best {
		if math.Abs(v) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 0", i, v)
		}
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	lower := []float64{0}
	upper := []float64{15}
	eval := func(x []float64) float64 { return math.Abs(x[0] - 11.3) }

	_, cost1 := NewMayfly(50, 20, 123).Run(eval, lower, upper, 1)
	_, cost2 := NewMayfly(50, 20, 123).Run(eval, lower, upper, 1)
	if cost1 != cost2 {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", cost1, cost2)
	}
}

func TestMayflyAdapterStaysInBox(t *testing.T) {
	lower := []float64{0, -1}
	upper := []float64{4, 1}
	// Minimum lies outside the box; results must be clamped to its edge.
	eval := func(x []float64) float64 { return math.Abs(x[0]-100) + math.Abs(x[1]+100) }

	best, _ := NewMayfly(30, 5, 7).Run(eval, lower, upper, 2)
	for i, v := range best {
		if v < lower[i] || v > upper[i] {
			t.Errorf("Parameter %d = %f outside [%f, %f]", i, v, lower[i], upper[i])
		}
	}
}

func TestMayflyAdapterDegenerateBox(t *testing.T) {
	calls := 0
	best, cost := NewMayfly(10, 20, 1).Run(func(x []float64) float64 {
		calls++
		return x[0]
	}, []float64{3}, []float64{3}, 1)
	if best[0] != 3 || cost != 3 || calls != 1 {
		t.Errorf("got %v cost %f after %d calls, want [3] cost 3 after 1 call", best, cost, calls)
	}
}
