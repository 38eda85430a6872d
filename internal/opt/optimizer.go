package opt

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	// Run minimizes eval over the box [lower, upper] of dimension dim and
	// returns the best parameters found with their cost. Returned
	// parameters always lie inside the box.
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// clamp pins x into [lower, upper] per dimension.
func clamp(x, lower, upper []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = min(max(v, lower[i]), upper[i])
	}
	return out
}
