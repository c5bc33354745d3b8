// Package predictor implements the Resource Predictor: a feature-vector
// regression model over each node's resource history, falling back to
// trend extrapolation or a fixed default when data is insufficient.
package predictor

import (
	"math"
	"time"

	"github.com/corefabric/proxy/internal/domain"
)

// minSamplesForModel is the shortest window the normal-equations learner
// will fit against; below this the predictor always falls back.
const minSamplesForModel = 20

// FeatureVector is the fixed-order input to the regression model:
// [cpu_mean, cpu_stddev, cpu_max, cpu_slope,
//  mem_mean, mem_stddev, mem_max, mem_slope,
//  load_mean, load_stddev, load_max, load_slope,
//  hour_of_day, day_of_week, history_length,
//  intent_count_gt_0.8, intent_mean_probability,
//  is_file_operation, is_application_usage, is_intensive_computing, is_network_operation].
// Missing values (e.g. no intent predictions this tick) are zero-padded
// rather than shortening the vector, so the trained model always sees the
// same width.
type FeatureVector []float64

// mainIntentTypes are the four intent types the feature vector carries a
// binary indicator for; location_based_activity is the fifth signal type
// ExtractSignal recognizes but isn't one of the "four main" types spec'd
// for this vector.
var mainIntentTypes = [4]string{
	"file_operation",
	"application_usage",
	"intensive_computing",
	"network_operation",
}

const (
	windowStatsPerMetric = 4 // mean, stddev, max, slope
	windowMetricCount    = 3 // cpu, memory, load_score
	timeFeatureCount     = 3 // hour_of_day, day_of_week, history_length
	intentFeatureCount   = 2 + len(mainIntentTypes)
	featureCount         = windowStatsPerMetric*windowMetricCount + timeFeatureCount + intentFeatureCount
)

// IntentFeatureInput is the subset of a PIG prediction the feature vector
// and confidence scoring consume. It mirrors pig.Prediction's fields
// without importing the pig package, keeping predictor decoupled from the
// intent graph's internal types.
type IntentFeatureInput struct {
	Probability float64
	Confidence  float64
	IntentType  string
}

// BuildFeatures derives a feature vector from a node's resource-state
// window (oldest first) and its live intent predictions, as of now.
func BuildFeatures(window []domain.ResourceState, intents []IntentFeatureInput, now time.Time) FeatureVector {
	recent := lastN(window, 10)

	var cpu, mem, load RunningMoments
	for _, s := range recent {
		cpu.Add(s.CPUPercent)
		mem.Add(s.MemoryPercent)
		load.Add(s.LoadScore())
	}

	cpuMax := maxOf(recent, func(s domain.ResourceState) float64 { return s.CPUPercent })
	memMax := maxOf(recent, func(s domain.ResourceState) float64 { return s.MemoryPercent })
	loadMax := maxOf(recent, func(s domain.ResourceState) float64 { return s.LoadScore() })

	cpuSlope := lastFirstSlope(recent, func(s domain.ResourceState) float64 { return s.CPUPercent })
	memSlope := lastFirstSlope(recent, func(s domain.ResourceState) float64 { return s.MemoryPercent })
	loadSlope := lastFirstSlope(recent, func(s domain.ResourceState) float64 { return s.LoadScore() })

	var highConfidenceCount int
	var probSum float64
	fired := map[string]bool{}
	for _, ic := range intents {
		if ic.Confidence > 0.8 {
			highConfidenceCount++
		}
		probSum += ic.Probability
		fired[ic.IntentType] = true
	}
	var meanProb float64
	if len(intents) > 0 {
		meanProb = probSum / float64(len(intents))
	}

	vec := make(FeatureVector, 0, featureCount)
	vec = append(vec,
		cpu.Mean(), cpu.Stddev(), cpuMax, cpuSlope,
		mem.Mean(), mem.Stddev(), memMax, memSlope,
		load.Mean(), load.Stddev(), loadMax, loadSlope,
		float64(now.Hour()), float64(int(now.Weekday())), float64(len(window)),
		float64(highConfidenceCount), meanProb,
	)
	for _, t := range mainIntentTypes {
		if fired[t] {
			vec = append(vec, 1)
		} else {
			vec = append(vec, 0)
		}
	}
	return vec
}

// RunningMoments is a minimal mean/stddev accumulator, independent of the
// telemetry package's window so the predictor has no infra dependency.
type RunningMoments struct {
	count int
	mean  float64
	m2    float64
}

func (r *RunningMoments) Add(x float64) {
	r.count++
	delta := x - r.mean
	r.mean += delta / float64(r.count)
	r.m2 += delta * (x - r.mean)
}

func (r *RunningMoments) Mean() float64 { return r.mean }

func (r *RunningMoments) Stddev() float64 {
	if r.count < 2 {
		return 0
	}
	return math.Sqrt(r.m2 / float64(r.count-1))
}

// maxOf returns the largest value get produces over window, or 0 for an
// empty window.
func maxOf(window []domain.ResourceState, get func(domain.ResourceState) float64) float64 {
	var max float64
	for i, s := range window {
		v := get(s)
		if i == 0 || v > max {
			max = v
		}
	}
	return max
}

// lastFirstSlope is spec §4.5's window-statistic slope: the raw
// last-minus-first difference over the window, distinct from
// trendSlopes' least-squares fit used for trend-extrapolation fallback.
func lastFirstSlope(window []domain.ResourceState, get func(domain.ResourceState) float64) float64 {
	if len(window) < 2 {
		return 0
	}
	return get(window[len(window)-1]) - get(window[0])
}

// trendSlopes fits a simple least-squares slope of cpu/mem percent against
// sample index over the window, used both as the trend-extrapolation
// fallback's basis and by contributingFactors.
func trendSlopes(window []domain.ResourceState) (cpuSlope, memSlope float64) {
	n := len(window)
	if n < 2 {
		return 0, 0
	}

	var sumX, sumCPU, sumMem, sumXCPU, sumXMem, sumXX float64
	for i, s := range window {
		x := float64(i)
		sumX += x
		sumCPU += s.CPUPercent
		sumMem += s.MemoryPercent
		sumXCPU += x * s.CPUPercent
		sumXMem += x * s.MemoryPercent
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	cpuSlope = (fn*sumXCPU - sumX*sumCPU) / denom
	memSlope = (fn*sumXMem - sumX*sumMem) / denom
	return cpuSlope, memSlope
}
