package domain

import "time"

// ResourcePrediction is one forecast for one node.
type ResourcePrediction struct {
	ID                  string             `json:"prediction_id"`
	Timestamp           time.Time          `json:"timestamp"`
	NodeID              string             `json:"node_id"`
	HorizonMinutes      int                `json:"horizon_minutes"`
	Predicted           map[string]float64 `json:"predicted"` // cpu_pct, memory_pct, load_score
	Confidence          float64            `json:"confidence"`
	ContributingFactors []string           `json:"contributing_factors"`
	SuggestedActions    []SuggestedAction  `json:"suggested_actions"`

	// Filled in once the horizon elapses.
	ActualFilled bool               `json:"actual_filled"`
	Actual       map[string]float64 `json:"actual,omitempty"`
}

// SuggestedAction pairs an action with the priority the suggestion rules of
// spec §4.6 assign it.
type SuggestedAction struct {
	Action   Action `json:"action"`
	Priority string `json:"priority"` // "high" | "medium" | "low"
}
