package opt

import (
	"log/slog"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// minPopulation is the smallest population mayfly accepts.
const minPopulation = 20

// MayflyAdapter wraps the Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a Mayfly optimizer. popSize is raised to the library
// minimum of 20.
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{
		maxIters: max(maxIters, 1),
		popSize:  max(popSize, minPopulation),
		seed:     seed,
	}
}

// Run executes the optimization. Mayfly only takes scalar bounds, so the
// search runs over the hull of the per-dimension box and the objective
// sees candidates clamped back into it.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	lo, hi := lower[0], upper[0]
	for i := 1; i < dim; i++ {
		lo = min(lo, lower[i])
		hi = max(hi, upper[i])
	}
	if lo == hi {
		x := clamp(make([]float64, dim), lower, upper)
		return x, eval(x)
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(x []float64) float64 {
		return eval(clamp(x, lower, upper))
	}
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lo
	config.UpperBound = hi
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		slog.Warn("mayfly optimization failed, using box midpoint", "error", err)
		mid := make([]float64, dim)
		for i := range mid {
			mid[i] = (lower[i] + upper[i]) / 2
		}
		return mid, eval(mid)
	}

	best := clamp(result.GlobalBest.Position, lower, upper)
	return best, eval(best)
}
