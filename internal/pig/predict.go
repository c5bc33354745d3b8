package pig

import (
	"math"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/corefabric/proxy/internal/domain"
)

// Prediction is one scored intent prediction returned by PredictIntent.
type Prediction struct {
	IntentID      string  `json:"intent_id"`
	IntentType    string  `json:"intent_type"`
	Description   string  `json:"description"`
	Probability   float64 `json:"probability"`
	Confidence    float64 `json:"confidence"`
	EvidenceCount int     `json:"evidence_count"`
}

const relevanceThreshold = 0.3
const maxRelevantNodes = 50
const maxPredictions = 10

// PredictIntent scores every node against context and returns the ones
// whose final probability and confidence both clear confidenceThreshold,
// highest probability first.
func (g *Graph) PredictIntent(context map[string]any, confidenceThreshold float64, now time.Time) []Prediction {
	relevant := g.relevantNodes(context)

	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Prediction
	for _, id := range relevant {
		node, ok := g.nodes[id]
		if !ok {
			continue
		}

		timeDecay := timeDecayFactor(now.Sub(node.LastUpdated), g.cfg.HalfLife)
		contextBoost := contextSimilarity(node.Description, context)
		base := node.Posterior * timeDecay * contextBoost

		conditionalBoost := g.conditionalBoostLocked(id, relevant)
		final := math.Min(0.99, base*conditionalBoost)

		if final > confidenceThreshold && node.Confidence > confidenceThreshold {
			out = append(out, Prediction{
				IntentID:      id,
				IntentType:    node.IntentType,
				Description:   node.Description,
				Probability:   final,
				Confidence:    node.Confidence,
				EvidenceCount: node.EvidenceCount,
			})
		}
	}

	slices.SortFunc(out, func(a, b Prediction) int {
		switch {
		case a.Probability > b.Probability:
			return -1
		case a.Probability < b.Probability:
			return 1
		default:
			return 0
		}
	})
	if len(out) > maxPredictions {
		out = out[:maxPredictions]
	}
	return out
}

// relevantNodes scores every node for relevance to context (spec's decided
// metric: 0.3 time recency + 0.3 evidence volume + 0.4 confidence, plus a
// keyword-overlap bonus) and returns up to maxRelevantNodes IDs above
// relevanceThreshold.
func (g *Graph) relevantNodes(context map[string]any) []string {
	contextStr := marshalContext(context)

	g.mu.RLock()
	defer g.mu.RUnlock()

	type scored struct {
		id    string
		score float64
	}
	var scores []scored
	now := time.Now()
	for id, n := range g.nodes {
		timeFactor := math.Max(0.1, 1.0-now.Sub(n.LastUpdated).Hours()/24)
		evidenceFactor := math.Min(1.0, float64(n.EvidenceCount)/100)

		score := timeFactor*0.3 + evidenceFactor*0.3 + n.Confidence*0.4

		if strings.Contains(contextStr, strings.ToLower(n.IntentType)) {
			score += 0.5
		}
		for _, word := range strings.Split(n.Description, "_") {
			if word != "" && strings.Contains(contextStr, strings.ToLower(word)) {
				score += 0.3
				break
			}
		}

		if score > relevanceThreshold {
			scores = append(scores, scored{id: id, score: score})
		}
	}

	slices.SortFunc(scores, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})
	if len(scores) > maxRelevantNodes {
		scores = scores[:maxRelevantNodes]
	}

	ids := make([]string, len(scores))
	for i, s := range scores {
		ids[i] = s.id
	}
	return ids
}

// conditionalBoostLocked amplifies a target node's probability when other
// currently-active nodes have a strong conditional edge into it. Must be
// called with g.mu held for reading.
func (g *Graph) conditionalBoostLocked(target string, active []string) float64 {
	boost := 1.0
	for _, src := range active {
		if src == target {
			continue
		}
		edge, ok := g.edges[domain.EdgeKey{Source: src, Target: target}]
		if !ok {
			continue
		}
		boost += edge.Strength * edge.ConditionalProbability * 0.5
	}
	return math.Min(3.0, boost)
}

// timeDecayFactor applies exponential decay with the configured half-life,
// floored at 0.1 so very stale nodes remain faintly predictable rather than
// vanishing outright.
func timeDecayFactor(age time.Duration, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		halfLife = time.Hour
	}
	decay := math.Exp(-0.693 * age.Seconds() / halfLife.Seconds())
	return math.Max(0.1, decay)
}

// contextSimilarity does keyword overlap between a node's underscore-joined
// description and the serialized context, capped at 2.0.
func contextSimilarity(description string, context map[string]any) float64 {
	contextStr := marshalContext(context)
	similarity := 1.0

	words := strings.Split(description, "_")
	overlap := 0
	for _, w := range words {
		if w == "" {
			continue
		}
		if strings.Contains(contextStr, strings.ToLower(w)) {
			overlap++
		}
	}
	if overlap > 0 {
		similarity += float64(overlap) * 0.2
	}
	return math.Min(2.0, similarity)
}
