package predictor

import (
	"testing"
	"time"

	"github.com/corefabric/proxy/internal/domain"
)

func risingWindow(n int, from, to float64) []domain.ResourceState {
	window := make([]domain.ResourceState, n)
	for i := 0; i < n; i++ {
		frac := float64(i) / float64(n-1)
		window[i] = domain.ResourceState{
			NodeID:     "node-1",
			Timestamp:  int64(i),
			CPUPercent: from + frac*(to-from),
		}
	}
	return window
}

func TestPredict_NoHistory_ReturnsDefault(t *testing.T) {
	p := New(DefaultConfig())
	pred := p.Predict("node-1", nil, 15*time.Minute, nil, time.Now())

	if pred.Predicted["cpu_pct"] != 50 || pred.Confidence != 0.3 {
		t.Fatalf("Predict() = %+v, want default fallback", pred)
	}
	if len(pred.ContributingFactors) != 1 || pred.ContributingFactors[0] != "insufficient_data" {
		t.Fatalf("ContributingFactors = %v, want [insufficient_data]", pred.ContributingFactors)
	}
}

func TestPredict_RisingCPU_PredictsHighUtilization(t *testing.T) {
	p := New(DefaultConfig())
	window := risingWindow(30, 20, 90)

	intents := []IntentFeatureInput{
		{Probability: 0.9, Confidence: 0.9, IntentType: "intensive_computing"},
		{Probability: 0.85, Confidence: 0.85, IntentType: "application_usage"},
	}
	pred := p.Predict("node-1", window, 15*time.Minute, intents, time.Now())

	if pred.Predicted["cpu_pct"] < 80 {
		t.Fatalf("predicted cpu_pct = %v, want >= 80", pred.Predicted["cpu_pct"])
	}
	if pred.Confidence < 0.6 {
		t.Fatalf("confidence = %v, want >= 0.6", pred.Confidence)
	}

	foundIncreasing, foundHighCPU := false, false
	for _, f := range pred.ContributingFactors {
		if f == "increasing_cpu_demand" {
			foundIncreasing = true
		}
		if f == "high_cpu_utilization" {
			foundHighCPU = true
		}
	}
	if !foundIncreasing || !foundHighCPU {
		t.Fatalf("ContributingFactors = %v, want increasing_cpu_demand and high_cpu_utilization", pred.ContributingFactors)
	}

	foundScaleUp := false
	for _, a := range pred.SuggestedActions {
		if a.Action == domain.ActionScaleUpCPU && a.Priority == "high" {
			foundScaleUp = true
		}
	}
	if !foundScaleUp {
		t.Fatalf("SuggestedActions = %+v, want scale_up_cpu/high", pred.SuggestedActions)
	}
}

func TestLinearModel_FitAndPredict(t *testing.T) {
	var m LinearModel
	features := []FeatureVector{{1, 2}, {2, 3}, {3, 4}, {4, 5}}
	targets := []float64{5, 8, 11, 14} // y = 1 + 2*x0 + 1*x1 fits exactly; x1 = x0+1, so only the prediction is checked

	if err := m.Fit(features, targets); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	got, err := m.Predict(FeatureVector{5, 6})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if abs(got-17) > 0.01 {
		t.Fatalf("Predict() = %v, want ~17", got)
	}
}

func TestSuggestActions_HighCPU(t *testing.T) {
	actions := SuggestActions(map[string]float64{"cpu_pct": 90, "memory_pct": 10, "load_score": 10}, 0.9)
	if len(actions) != 1 || actions[0].Action != domain.ActionScaleUpCPU || actions[0].Priority != "high" {
		t.Fatalf("SuggestActions() = %+v", actions)
	}
}
