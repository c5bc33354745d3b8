package ingest

import (
	"fmt"
	"strings"

	"github.com/corefabric/proxy/internal/domain"
)

// ExtractSignal derives the single intent signal an item of behavior
// evidence carries, following the fixed evidence-type-to-signal table:
// file_access → file_operation, app_focus → application_usage,
// system_activity (cpu>50%) → intensive_computing, network_activity →
// network_operation, location → location_based_activity. Evidence that
// doesn't clear its type's activation condition (e.g. low-CPU system
// activity) yields no signal.
func ExtractSignal(ev domain.BehaviorEvidence) *domain.IntentSignal {
	switch ev.EvidenceType {
	case domain.EvidenceFileAccess:
		fileType := stringFeature(ev.Features, "type", "unknown")
		return &domain.IntentSignal{
			IntentType:       "file_operation",
			Description:      fmt.Sprintf("access_%s_file", fileType),
			EvidenceStrength: 0.7,
			InitialPrior:     0.6,
		}

	case domain.EvidenceAppFocus:
		category := stringFeature(ev.Features, "category", "unknown")
		return &domain.IntentSignal{
			IntentType:       "application_usage",
			Description:      fmt.Sprintf("use_%s_application", category),
			EvidenceStrength: 0.8,
			InitialPrior:     0.7,
		}

	case domain.EvidenceSystemActivity:
		cpuPercent := floatFeature(ev.Features, "cpu_percent", 0)
		if cpuPercent <= 50 {
			return nil
		}
		process := stringFeature(ev.Features, "process_category", "unknown")
		strength := cpuPercent / 100
		if strength > 1.0 {
			strength = 1.0
		}
		return &domain.IntentSignal{
			IntentType:       "intensive_computing",
			Description:      fmt.Sprintf("high_cpu_%s", process),
			EvidenceStrength: strength,
			InitialPrior:     0.5,
		}

	case domain.EvidenceNetworkActivity:
		level := stringFeature(ev.Features, "level", "low")
		return &domain.IntentSignal{
			IntentType:       "network_operation",
			Description:      fmt.Sprintf("network_%s_activity", level),
			EvidenceStrength: 0.6,
			InitialPrior:     0.4,
		}

	case domain.EvidenceLocation:
		location := stringFeature(ev.Features, "location", "unknown")
		return &domain.IntentSignal{
			IntentType:       "location_based_activity",
			Description:      fmt.Sprintf("activity_at_%s", location),
			EvidenceStrength: 0.5,
			InitialPrior:     0.3,
		}

	default:
		return nil
	}
}

func stringFeature(features map[string]any, key, fallback string) string {
	v, ok := features[key]
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return fallback
	}
	return sanitizeForDescription(s)
}

func floatFeature(features map[string]any, key string, fallback float64) float64 {
	v, ok := features[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return fallback
	}
}

// sanitizeForDescription keeps intent-node descriptions stable and
// collision-free across callers that format user-controlled strings into
// them.
func sanitizeForDescription(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
