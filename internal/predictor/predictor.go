package predictor

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/corefabric/proxy/internal/domain"
	"github.com/corefabric/proxy/internal/infra/metrics"
)

// Config configures the predictor.
type Config struct {
	RetrainInterval   time.Duration // default 2h
	MinTrainingSamples int          // default 50
	DefaultHorizon    time.Duration // default 30m
}

// DefaultConfig returns production predictor defaults.
func DefaultConfig() Config {
	return Config{
		RetrainInterval:    2 * time.Hour,
		MinTrainingSamples: 50,
		DefaultHorizon:     30 * time.Minute,
	}
}

// Predictor produces ResourcePredictions per node, training a regression
// model once enough history accumulates and falling back to trend
// extrapolation or a fixed default otherwise.
type Predictor struct {
	cfg Config

	mu           sync.Mutex
	model        *LinearModel
	lastTrained  time.Time
}

// New creates a Predictor.
func New(cfg Config) *Predictor {
	return &Predictor{cfg: cfg, model: &LinearModel{}}
}

// MaybeRetrain retrains the model from window if enough samples exist and
// the retrain interval has elapsed.
func (p *Predictor) MaybeRetrain(window []domain.ResourceState, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(window) < p.cfg.MinTrainingSamples {
		return
	}
	if !p.lastTrained.IsZero() && now.Sub(p.lastTrained) < p.cfg.RetrainInterval {
		return
	}

	features := make([]FeatureVector, 0, len(window)-1)
	targets := make([]float64, 0, len(window)-1)
	for i := 0; i < len(window)-1; i++ {
		// Historical intent predictions aren't retained alongside resource
		// history, so retraining builds features with the intent block
		// zero-padded — the live predict path is what actually carries
		// intent signal forward.
		features = append(features, BuildFeatures(window[:i+1], nil, now))
		targets = append(targets, window[i+1].CPUPercent)
	}

	if err := p.model.Fit(features, targets); err != nil {
		log.Printf("predictor: retrain failed: %v", err)
		return
	}
	p.lastTrained = now
}

// ForceRetrain retrains the model from window immediately, bypassing the
// retrain-interval gate MaybeRetrain enforces. Wired to the orchestrator's
// retrain_models command (spec §6) so an operator can force a refresh
// without waiting out RetrainInterval.
func (p *Predictor) ForceRetrain(window []domain.ResourceState, now time.Time) error {
	p.mu.Lock()
	p.lastTrained = time.Time{}
	p.mu.Unlock()

	if len(window) < p.cfg.MinTrainingSamples {
		return domain.NewCoreError(domain.KindModelUntrained, "insufficient history to retrain", nil)
	}
	p.MaybeRetrain(window, now)
	return nil
}

// Predict produces a ResourcePrediction for nodeID given its resource
// history window (oldest first) and its live intent predictions.
func (p *Predictor) Predict(nodeID string, window []domain.ResourceState, horizon time.Duration, intents []IntentFeatureInput, now time.Time) domain.ResourcePrediction {
	if horizon <= 0 {
		horizon = p.cfg.DefaultHorizon
	}

	if len(window) == 0 {
		metrics.PredictionFallbacks.WithLabelValues("no_history").Inc()
		return domain.ResourcePrediction{
			Timestamp:           now,
			NodeID:              nodeID,
			HorizonMinutes:      int(horizon.Minutes()),
			Predicted:           map[string]float64{"cpu_pct": 50, "memory_pct": 40, "load_score": 45},
			Confidence:          0.3,
			ContributingFactors: []string{"insufficient_data"},
			SuggestedActions:    nil,
		}
	}

	features := BuildFeatures(window, intents, now)
	predicted, usedModel := p.predictValues(window, features, horizon, now)
	confidence := p.scoreConfidence(window, features, intentConfidencesOf(intents))
	factors := contributingFactors(window, predicted)
	actions := SuggestActions(predicted, confidence)

	if !usedModel {
		metrics.PredictionFallbacks.WithLabelValues("trend_extrapolation").Inc()
	}
	metrics.PredictionConfidence.WithLabelValues(nodeID).Set(confidence)

	return domain.ResourcePrediction{
		Timestamp:           now,
		NodeID:              nodeID,
		HorizonMinutes:      int(horizon.Minutes()),
		Predicted:           predicted,
		Confidence:          confidence,
		ContributingFactors: factors,
		SuggestedActions:    actions,
	}
}

// intentConfidencesOf extracts the bare confidence values scoreConfidence
// averages over, from the richer IntentFeatureInput the feature vector
// also consumes.
func intentConfidencesOf(intents []IntentFeatureInput) []float64 {
	if len(intents) == 0 {
		return nil
	}
	out := make([]float64, len(intents))
	for i, ic := range intents {
		out[i] = ic.Confidence
	}
	return out
}

// predictValues returns {cpu_pct, memory_pct, load_score} and whether the
// trained regression model (rather than trend extrapolation) produced the
// cpu figure.
func (p *Predictor) predictValues(window []domain.ResourceState, features FeatureVector, horizon time.Duration, now time.Time) (map[string]float64, bool) {
	cpuTrend, memTrend := trendSlopes(window)
	last := window[len(window)-1]
	horizonHours := horizon.Hours()

	cpuExtrapolated := clamp(last.CPUPercent+cpuTrend*horizonHours, 0, 100)
	memExtrapolated := clamp(last.MemoryPercent+memTrend*horizonHours, 0, 100)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.model.Trained() || len(window) < minSamplesForModel {
		loadScore := 0.4*cpuExtrapolated + 0.3*memExtrapolated + 0.1*last.DiskPercent
		return map[string]float64{
			"cpu_pct":    cpuExtrapolated,
			"memory_pct": memExtrapolated,
			"load_score": clamp(loadScore, 0, 100),
		}, false
	}

	cpuPred, err := p.model.Predict(features)
	if err != nil {
		return map[string]float64{
			"cpu_pct":    cpuExtrapolated,
			"memory_pct": memExtrapolated,
			"load_score": clamp(0.4*cpuExtrapolated+0.3*memExtrapolated+0.1*last.DiskPercent, 0, 100),
		}, false
	}
	cpuPred = clamp(cpuPred, 0, 100)
	loadScore := clamp(0.4*cpuPred+0.3*memExtrapolated+0.1*last.DiskPercent, 0, 100)
	return map[string]float64{
		"cpu_pct":    cpuPred,
		"memory_pct": memExtrapolated,
		"load_score": loadScore,
	}, true
}

// scoreConfidence implements spec §4.5's confidence formula, capped at
// 0.95. The "history" and "features" bonuses are deliberately distinct:
// history is how many resource samples this node has accumulated, while
// features is the width of the vector actually handed to the model.
func (p *Predictor) scoreConfidence(window []domain.ResourceState, features FeatureVector, intentConfidences []float64) float64 {
	score := 0.5
	switch {
	case len(window) >= 20:
		score += 0.2
	case len(window) >= 10:
		score += 0.1
	}

	if len(intentConfidences) > 0 {
		var sum float64
		for _, c := range intentConfidences {
			sum += c
		}
		score += 0.3 * (sum / float64(len(intentConfidences)))
	}

	if len(features) >= 20 {
		score += 0.1
	}

	if variance(lastN(window, 10)) < 100 {
		score += 0.1
	}

	return math.Min(0.95, score)
}

func variance(window []domain.ResourceState) float64 {
	if len(window) < 2 {
		return 0
	}
	var m RunningMoments
	for _, s := range window {
		m.Add(s.CPUPercent)
	}
	return m.Stddev() * m.Stddev()
}

func lastN(window []domain.ResourceState, n int) []domain.ResourceState {
	if len(window) <= n {
		return window
	}
	return window[len(window)-n:]
}

// contributingFactors tags a prediction with the conditions that drove it.
func contributingFactors(window []domain.ResourceState, predicted map[string]float64) []string {
	var factors []string
	cpuTrend, _ := trendSlopes(window)
	if cpuTrend > 0 {
		factors = append(factors, "increasing_cpu_demand")
	}
	if predicted["cpu_pct"] > 80 {
		factors = append(factors, "high_cpu_utilization")
	}
	if predicted["memory_pct"] > 85 {
		factors = append(factors, "high_memory_utilization")
	}
	if predicted["load_score"] > 70 {
		factors = append(factors, "elevated_load")
	}
	return factors
}

// Summary reports the predictor's training state for the get_summary
// orchestrator command and /api/summary route.
type Summary struct {
	Trained     bool      `json:"trained"`
	LastTrained time.Time `json:"last_trained,omitempty"`
}

// Summary returns the predictor's current training state.
func (p *Predictor) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Summary{Trained: p.model.Trained(), LastTrained: p.lastTrained}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
