package connector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corefabric/proxy/internal/domain"
)

// NewIntentFeed builds a Connector for the inbound intent feed (spec §6):
// each line is `{predictions: [{intent_type, confidence, probability, …}], …}`,
// becoming one intent_prediction router event.
func NewIntentFeed(dial Dialer, publisher domain.EventPublisher, backoff BackoffConfig) *Connector {
	handle := func(ctx context.Context, line []byte) error {
		var payload map[string]any
		if err := json.Unmarshal(line, &payload); err != nil {
			return fmt.Errorf("intent feed: decode: %w", err)
		}
		return publishWrapped(ctx, publisher, domain.EventIntentPrediction, "connector:intent_feed", 5, payload)
	}
	return New("intent_feed", dial, handle, backoff)
}

// NewBehaviorFeed builds a Connector for the inbound behavior feed: each
// line is `{resource_patterns: {<node_id>: {anomaly_score, …}}, …}`,
// becoming one behavior_pattern router event.
func NewBehaviorFeed(dial Dialer, publisher domain.EventPublisher, backoff BackoffConfig) *Connector {
	handle := func(ctx context.Context, line []byte) error {
		var payload map[string]any
		if err := json.Unmarshal(line, &payload); err != nil {
			return fmt.Errorf("behavior feed: decode: %w", err)
		}
		return publishWrapped(ctx, publisher, domain.EventBehaviorPattern, "connector:behavior_feed", 5, payload)
	}
	return New("behavior_feed", dial, handle, backoff)
}

// marketOpportunityThreshold and marketWarningThreshold are spec §6's
// cost-optimization emission thresholds on spot_price_change.
const (
	marketOpportunityThreshold = -0.2
	marketWarningThreshold     = 0.3
)

// NewMarketFeed builds a Connector for the periodic market feed: each line
// is `{spot_price_change: <real>, …}`. Every line always produces a
// market_data_update event; a price drop to or below -0.2 additionally
// emits cost_optimization_opportunity, and a rise to or above +0.3
// additionally emits cost_optimization_warning.
func NewMarketFeed(dial Dialer, publisher domain.EventPublisher, backoff BackoffConfig) *Connector {
	handle := func(ctx context.Context, line []byte) error {
		var payload map[string]any
		if err := json.Unmarshal(line, &payload); err != nil {
			return fmt.Errorf("market feed: decode: %w", err)
		}
		if err := publishWrapped(ctx, publisher, domain.EventMarketDataUpdate, "connector:market_feed", 4, payload); err != nil {
			return err
		}

		change, ok := payload["spot_price_change"].(float64)
		if !ok {
			return nil
		}
		switch {
		case change <= marketOpportunityThreshold:
			return publishWrapped(ctx, publisher, domain.EventCostOptimizationOpp, "connector:market_feed", 7, payload)
		case change >= marketWarningThreshold:
			return publishWrapped(ctx, publisher, domain.EventCostOptimizationWarn, "connector:market_feed", 7, payload)
		}
		return nil
	}
	return New("market_feed", dial, handle, backoff)
}
