package predictor

import "github.com/corefabric/proxy/internal/domain"

// SuggestActions applies the fixed suggestion rules of spec §4.6 over a
// predicted resource vector, used both to populate a ResourcePrediction's
// suggested_actions and to seed the RL policy's initial exploration.
func SuggestActions(predicted map[string]float64, confidence float64) []domain.SuggestedAction {
	cpu := predicted["cpu_pct"]
	mem := predicted["memory_pct"]
	load := predicted["load_score"]

	var out []domain.SuggestedAction

	if confidence >= 0.7 && cpu > 85 {
		out = append(out, domain.SuggestedAction{Action: domain.ActionScaleUpCPU, Priority: "high"})
	}
	if confidence >= 0.7 && mem > 90 {
		out = append(out, domain.SuggestedAction{Action: domain.ActionScaleUpMemory, Priority: "high"})
	}
	if confidence >= 0.6 && load > 80 {
		out = append(out, domain.SuggestedAction{Action: domain.ActionRedistributeLoad, Priority: "medium"})
	}
	if confidence >= 0.8 && cpu < 20 && mem < 30 {
		out = append(out, domain.SuggestedAction{Action: domain.ActionScaleDownCPU, Priority: "low"})
	}
	if confidence >= 0.7 && load > 60 {
		out = append(out, domain.SuggestedAction{Action: domain.ActionOptimizeProcesses, Priority: "medium"})
	}

	return out
}
