package telemetry

import "math"

// RunningStats accumulates mean and variance online via Welford's
// algorithm, avoiding the numerical blow-up of a naive sum-of-squares and
// the need to retain every sample just to recompute a stddev.
type RunningStats struct {
	count int
	mean  float64
	m2    float64
}

// Add folds one observation into the running statistics.
func (s *RunningStats) Add(x float64) {
	s.count++
	delta := x - s.mean
	s.mean += delta / float64(s.count)
	delta2 := x - s.mean
	s.m2 += delta * delta2
}

// Count returns the number of observations folded in so far.
func (s *RunningStats) Count() int { return s.count }

// Mean returns the running mean.
func (s *RunningStats) Mean() float64 { return s.mean }

// Stddev returns the running sample standard deviation, or 0 until at
// least two observations have been added.
func (s *RunningStats) Stddev() float64 {
	if s.count < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.count-1))
}
