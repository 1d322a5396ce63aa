package estimator

// InnovationStats is the running innovation mean and variance for one measurement axis
type InnovationStats struct {
	N, Mean, Variance float64
}

// varianceAccumulator accumulates an exponentially weighted mean and variance
// with decay constant decay. The first observation seeds the mean.
type varianceAccumulator struct {
	decay  float64
	seeded bool
	stats  InnovationStats
}

func newVarianceAccumulator(decay float64) *varianceAccumulator {
	return &varianceAccumulator{decay: decay}
}

// Add folds obs into the running estimates and returns them
func (a *varianceAccumulator) Add(obs float64) InnovationStats {
	if !a.seeded {
		a.seeded = true
		a.stats = InnovationStats{N: 1, Mean: obs}
		return a.stats
	}
	d := obs - a.stats.Mean
	dm := (1 - a.decay) * d

	a.stats.N = 1 + a.decay*a.stats.N
	a.stats.Mean += dm
	a.stats.Variance = a.decay * (a.stats.Variance + dm*d)
	return a.stats
}
