// Package executor carries out AllocationDecisions chosen by the RL
// policy: it runs the fixed action registry of spec §4.6 against a node,
// enforces per-node serialization and post-failure cooldown, and reports
// back the reward signal the policy trains on.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corefabric/proxy/internal/domain"
	"github.com/corefabric/proxy/internal/infra/metrics"
)

// ActionHandler performs one action against a node and reports the impact
// it actually achieved, keyed the same way as SuggestedAction/prediction
// maps (e.g. "cpu_pct", "memory_pct").
type ActionHandler func(ctx context.Context, nodeID string, changes map[string]any) (actualImpact map[string]float64, err error)

// Config configures the executor.
type Config struct {
	ExecutionBudget  time.Duration // default 60s
	CooldownDuration time.Duration // default 30s
}

// DefaultConfig returns production executor defaults per spec §4.6.
func DefaultConfig() Config {
	return Config{
		ExecutionBudget:  60 * time.Second,
		CooldownDuration: 30 * time.Second,
	}
}

// Executor runs decisions against nodes, one non-terminal decision per
// node at a time, applying a cooldown gate after any failure. A decision
// for a busy node is refused by TryAcquire, not queued; the daemon's
// allocation loop tries that node again on a later tick.
type Executor struct {
	cfg       Config
	store     domain.Store
	publisher domain.EventPublisher
	cooldown  *cooldownTracker
	registry  map[domain.Action]ActionHandler

	mu     sync.Mutex
	active map[string]string // nodeID -> in-flight decision ID
	done   map[string]bool   // decision ID -> already executed (idempotency)
}

// New creates an Executor with the default action registry — every entry
// in domain.Actions is pre-registered so an unrecognized action can never
// reach Execute; callers may override individual handlers with Register
// for integration with a real scaling backend.
func New(cfg Config, store domain.Store, publisher domain.EventPublisher) *Executor {
	e := &Executor{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		cooldown:  newCooldownTracker(cfg.CooldownDuration),
		registry:  make(map[domain.Action]ActionHandler),
		active:    make(map[string]string),
		done:      make(map[string]bool),
	}
	for _, a := range domain.Actions {
		e.registry[a] = simulatedHandler(a)
	}
	return e
}

// Register overrides the handler for a single action, e.g. to wire a real
// autoscaler. The action must already be in the closed set.
func (e *Executor) Register(action domain.Action, handler ActionHandler) error {
	if !domain.IsValidAction(action) {
		return domain.NewCoreError(domain.KindValidation, "unknown action", domain.ErrUnknownAction)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[action] = handler
	return nil
}

// TryAcquire claims nodeID for decisionID if the node has no other
// non-terminal decision in flight and isn't cooling down. Returns false if
// the node is busy or cooling down — the caller should hold the decision
// in its own FIFO queue and retry later.
func (e *Executor) TryAcquire(nodeID, decisionID string) bool {
	if !e.cooldown.Allow(nodeID) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.active[nodeID]; busy {
		return false
	}
	e.active[nodeID] = decisionID
	return true
}

// Execute runs decision to completion within the configured budget,
// persists the terminal status and actual impact, emits the executed
// event, and returns the reward to feed the RL policy. It is idempotent:
// calling Execute twice with the same decision ID after the first call has
// already reached a terminal state is a no-op returning a zero reward.
func (e *Executor) Execute(ctx context.Context, decision domain.AllocationDecision) (float64, error) {
	e.mu.Lock()
	if e.done[decision.ID] {
		e.mu.Unlock()
		return 0, nil
	}
	e.mu.Unlock()

	defer e.release(decision.NodeID)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionBudget)
	defer cancel()

	handler, ok := e.registry[decision.Action]
	if !ok {
		return 0, domain.NewCoreError(domain.KindValidation, "unregistered action", domain.ErrUnknownAction)
	}

	if err := e.store.UpdateDecisionStatus(decision.ID, domain.DecisionExecuting, nil, 0); err != nil {
		return 0, domain.NewCoreError(domain.KindPersistenceWrite, "mark decision executing", err)
	}

	actualImpact, execErr := handler(ctx, decision.NodeID, decision.Changes)

	success := execErr == nil
	status := domain.DecisionExecuted
	if !success {
		status = domain.DecisionFailed
		e.cooldown.Trip(decision.NodeID)
		metrics.DecisionsExecuted.WithLabelValues(string(decision.Action), "failed").Inc()
	} else {
		e.cooldown.Clear(decision.NodeID)
		metrics.DecisionsExecuted.WithLabelValues(string(decision.Action), "executed").Inc()
	}
	metrics.NodesCoolingDown.Set(float64(e.cooldown.Count()))

	impactAccuracy := impactAccuracyScore(decision.ExpectedImpact, actualImpact)
	successScore := 0.0
	if success {
		successScore = impactAccuracy
	}

	if err := e.store.UpdateDecisionStatus(decision.ID, status, actualImpact, successScore); err != nil {
		return 0, domain.NewCoreError(domain.KindPersistenceWrite, "mark decision terminal", err)
	}

	reward := rewardFor(success, impactAccuracy, decision.EstimatedCost)
	metrics.DecisionReward.Observe(reward)

	if e.publisher != nil {
		_ = e.publisher.Publish(ctx, domain.Event{
			ID:        uuid.NewString(),
			Type:      domain.EventAllocationExecuted,
			Timestamp: time.Now(),
			Source:    "executor",
			Priority:  6,
			Payload: map[string]any{
				"decision_id": decision.ID,
				"node_id":     decision.NodeID,
				"action":      string(decision.Action),
				"status":      string(status),
				"reward":      reward,
			},
		})
	}

	e.mu.Lock()
	e.done[decision.ID] = true
	e.mu.Unlock()

	if execErr != nil {
		return reward, domain.NewCoreError(domain.KindExecutionFailure, fmt.Sprintf("action %s failed", decision.Action), execErr)
	}
	return reward, nil
}

func (e *Executor) release(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, nodeID)
}

// CooldownRemaining reports how long nodeID remains cooling down.
func (e *Executor) CooldownRemaining(nodeID string) time.Duration {
	return e.cooldown.Remaining(nodeID)
}

// impactAccuracyScore compares predicted and actual impact maps, returning
// 1.0 for a perfect match decaying toward 0 as the relative error grows,
// averaged across every key the prediction named.
func impactAccuracyScore(expected, actual map[string]float64) float64 {
	if len(expected) == 0 {
		return 0.5
	}
	var total float64
	for k, exp := range expected {
		act := actual[k]
		diff := exp - act
		if diff < 0 {
			diff = -diff
		}
		denom := exp
		if denom < 0 {
			denom = -denom
		}
		if denom < 1 {
			denom = 1
		}
		accuracy := 1 - diff/denom
		if accuracy < 0 {
			accuracy = 0
		}
		total += accuracy
	}
	return total / float64(len(expected))
}

// rewardFor mirrors policy.Reward without importing the policy package —
// the executor only needs the formula, not the Q-table; the daemon hands
// the returned reward to the policy for training.
func rewardFor(success bool, impactAccuracy, estimatedCost float64) float64 {
	base := -1.0
	if success {
		base = 1.0
	}
	costTerm := 1 - estimatedCost/100
	if costTerm < 0 {
		costTerm = 0
	}
	return base + 0.5*impactAccuracy + 0.3*costTerm
}

// simulatedHandler is the default action handler: it has no real scaling
// backend to drive (this core manages a personal compute fabric, not a
// cloud control plane with an API to call), so it reports the decision's
// own expected impact as achieved. Register overrides this per-action for
// any deployment with a real backend to call.
func simulatedHandler(action domain.Action) ActionHandler {
	return func(ctx context.Context, nodeID string, changes map[string]any) (map[string]float64, error) {
		impact := map[string]float64{}
		for k, v := range changes {
			if f, ok := v.(float64); ok {
				impact[k] = f
			}
		}
		return impact, nil
	}
}
