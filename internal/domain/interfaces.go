package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers. Infrastructure
// implements them; application layers depend on them, never the reverse.

// EventPublisher is the narrow slice of the Event Router that producers use.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// EventSubscriber is the narrow slice consumers use to receive a typed
// stream of events in timestamp order.
type EventSubscriber interface {
	Subscribe(eventType EventType) (<-chan Event, func())
}

// Store is the persistence boundary (spec §4.7). Every table in the
// logical schema has a narrow read/write surface here; infra/storage is the
// only package that knows it's backed by SQL.
type Store interface {
	UpsertNode(n Node) error
	GetNode(id string) (*Node, error)
	ListNodes() ([]Node, error)

	AppendResourceState(s ResourceState) error
	RecentResourceStates(nodeID string, limit int) ([]ResourceState, error)

	UpsertIntentNode(n IntentNode) error
	DeleteIntentNode(id string) error
	ListIntentNodes() ([]IntentNode, error)

	UpsertIntentEdge(e IntentEdge) error
	DeleteIntentEdge(source, target string) error
	ListIntentEdges() ([]IntentEdge, error)

	AppendEvidence(e BehaviorEvidence) error
	PurgeEvidenceOlderThan(cutoffUnix int64) (int, error)

	InsertPrediction(p ResourcePrediction) error
	UpdatePredictionActual(predictionID string, actual map[string]float64) error

	InsertDecision(d AllocationDecision) error
	UpdateDecisionStatus(decisionID string, status DecisionStatus, actualImpact map[string]float64, successScore float64) error

	AppendExperience(e RLExperience) error
	RecentExperiences(limit int) ([]RLExperience, error)
}
