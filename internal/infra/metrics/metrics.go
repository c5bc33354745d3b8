// Package metrics provides Prometheus metrics for the core: the intent
// graph, the resource predictor, the RL policy, the executor, the
// connectors and telemetry each publish a handful of gauges/counters/
// histograms here. The Event Router metrics and PredictionLatency are
// declared here but no package updates them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Event Router ───────────────────────────────────────────────────────────

// RouterQueueDepth tracks events currently queued, by priority band.
var RouterQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "coreproxy",
	Name:      "router_queue_depth",
	Help:      "Events currently queued in the router, by priority band.",
}, []string{"band"})

// RouterEventsPublished tracks events accepted onto the router.
var RouterEventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coreproxy",
	Name:      "router_events_published_total",
	Help:      "Total events published, by type.",
}, []string{"type"})

// RouterEventsDropped tracks events dropped by back-pressure.
var RouterEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coreproxy",
	Name:      "router_events_dropped_total",
	Help:      "Total events dropped due to a full queue, by type.",
}, []string{"type"})

// RouterDispatchLatency tracks time from publish to subscriber delivery.
var RouterDispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "coreproxy",
	Name:      "router_dispatch_latency_seconds",
	Help:      "Time from event publish to subscriber delivery.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
})

// ─── Probabilistic Intent Graph ─────────────────────────────────────────────

// PIGNodeCount tracks the number of live intent nodes.
var PIGNodeCount = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "coreproxy",
	Name:      "pig_intent_nodes",
	Help:      "Number of intent nodes currently held in the graph.",
})

// PIGEdgeCount tracks the number of live intent edges.
var PIGEdgeCount = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "coreproxy",
	Name:      "pig_intent_edges",
	Help:      "Number of intent edges currently held in the graph.",
})

// PIGPruneEvents tracks pruning passes.
var PIGPruneEvents = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "coreproxy",
	Name:      "pig_prune_events_total",
	Help:      "Total graph pruning passes triggered by max_nodes.",
})

// PIGEvidenceProcessed tracks evidence ingested, by evidence type.
var PIGEvidenceProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coreproxy",
	Name:      "pig_evidence_processed_total",
	Help:      "Total behavior evidence items processed, by evidence type.",
}, []string{"evidence_type"})

// ─── Resource Predictor ─────────────────────────────────────────────────────

// PredictionLatency tracks prediction generation time.
var PredictionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "coreproxy",
	Name:      "prediction_latency_seconds",
	Help:      "Time to produce one resource prediction.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
})

// PredictionConfidence tracks the confidence of the most recent prediction
// per node.
var PredictionConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "coreproxy",
	Name:      "prediction_confidence",
	Help:      "Confidence of the most recent resource prediction, by node.",
}, []string{"node_id"})

// PredictionFallbacks tracks predictions served from the fallback path.
var PredictionFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coreproxy",
	Name:      "prediction_fallbacks_total",
	Help:      "Total predictions served by a fallback path, by reason.",
}, []string{"reason"})

// ─── RL Policy ───────────────────────────────────────────────────────────────

// QTableSize tracks the number of distinct states learned.
var QTableSize = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "coreproxy",
	Name:      "policy_qtable_size",
	Help:      "Number of distinct states in the Q-table.",
})

// PolicyEpsilon tracks the current exploration rate.
var PolicyEpsilon = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "coreproxy",
	Name:      "policy_epsilon",
	Help:      "Current epsilon-greedy exploration rate.",
})

// PolicyActionsChosen tracks actions chosen, by action and by
// exploration/exploitation.
var PolicyActionsChosen = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coreproxy",
	Name:      "policy_actions_chosen_total",
	Help:      "Total actions chosen by the RL policy, by action and mode.",
}, []string{"action", "mode"})

// ─── Executor ────────────────────────────────────────────────────────────────

// DecisionsExecuted tracks executed decisions by action and outcome.
var DecisionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coreproxy",
	Name:      "decisions_executed_total",
	Help:      "Total allocation decisions executed, by action and outcome.",
}, []string{"action", "outcome"})

// DecisionReward tracks the reward computed per executed decision.
var DecisionReward = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "coreproxy",
	Name:      "decision_reward",
	Help:      "Reward computed for an executed allocation decision.",
	Buckets:   []float64{-1, -0.5, -0.1, 0, 0.1, 0.5, 1},
})

// NodesCoolingDown tracks nodes currently in a post-failure cooldown.
var NodesCoolingDown = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "coreproxy",
	Name:      "executor_nodes_cooling_down",
	Help:      "Number of nodes currently cooling down after a failed execution.",
})

// ─── External Connectors ────────────────────────────────────────────────────

// ConnectorState tracks connector circuit state (1=connected, 0=disconnected).
var ConnectorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "coreproxy",
	Name:      "connector_connected",
	Help:      "Connector connection state, by connector name (1=connected).",
}, []string{"connector"})

// ConnectorReconnects tracks reconnect attempts.
var ConnectorReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coreproxy",
	Name:      "connector_reconnects_total",
	Help:      "Total reconnect attempts, by connector name.",
}, []string{"connector"})

// ConnectorOutboundDropped tracks outbound messages dropped from a
// connector's disconnected-replay buffer because it overflowed.
var ConnectorOutboundDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "coreproxy",
	Name:      "connector_outbound_dropped_total",
	Help:      "Total buffered outbound messages dropped due to buffer overflow, by connector name.",
}, []string{"connector"})

// ─── Telemetry ───────────────────────────────────────────────────────────────

// NodeAvailability tracks the availability score per node.
var NodeAvailability = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "coreproxy",
	Name:      "node_availability_score",
	Help:      "Current availability score, by node.",
}, []string{"node_id"})

// NodeLoadScore tracks the derived load score per node.
var NodeLoadScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "coreproxy",
	Name:      "node_load_score",
	Help:      "Most recent derived load score, by node.",
}, []string{"node_id"})
