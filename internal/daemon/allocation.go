package daemon

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/corefabric/proxy/internal/domain"
	"github.com/corefabric/proxy/internal/predictor"
)

// allocationTickInterval is how often the decision loop considers each
// known node for a new allocation, independent of the predictor's own
// (usually much longer) retrain interval.
const allocationTickInterval = 30 * time.Second

// runAllocationLoop is the Policy/Executor task of spec §5: it consumes
// predictions, emits decisions, and awaits completions, one tick per node
// per allocationTickInterval.
func (d *Daemon) runAllocationLoop(ctx context.Context) {
	ticker := time.NewTicker(allocationTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tickAllocations(ctx)
		}
	}
}

func (d *Daemon) tickAllocations(ctx context.Context) {
	nodes, err := d.DB.ListNodes()
	if err != nil {
		log.Printf("[daemon] list nodes: %v", err)
		return
	}

	for _, node := range nodes {
		d.tickNodeAllocation(ctx, node)
	}
}

func (d *Daemon) tickNodeAllocation(ctx context.Context, node domain.Node) {
	now := time.Now()
	window, err := d.DB.RecentResourceStates(node.ID, 200)
	if err != nil {
		log.Printf("[daemon] recent resource states for %s: %v", node.ID, err)
		return
	}

	d.Predictor.MaybeRetrain(window, now)
	d.reconcileDuePredictions(node.ID, window, now)

	intentCtx := map[string]any{"node_id": node.ID}
	predictions := d.Graph.PredictIntent(intentCtx, 0.3, now)
	intents := make([]predictor.IntentFeatureInput, 0, len(predictions))
	for _, p := range predictions {
		intents = append(intents, predictor.IntentFeatureInput{
			Probability: p.Probability,
			Confidence:  p.Confidence,
			IntentType:  p.IntentType,
		})
	}

	prediction := d.Predictor.Predict(node.ID, window, 0, intents, now)
	prediction.ID = uuid.NewString()
	if err := d.DB.InsertPrediction(prediction); err != nil {
		log.Printf("[daemon] insert prediction for %s: %v", node.ID, err)
	}

	if len(prediction.SuggestedActions) == 0 {
		return
	}

	decisionID := uuid.NewString()
	if !d.Executor.TryAcquire(node.ID, decisionID) {
		return // node busy or cooling down; retry next tick
	}

	candidates := make([]domain.Action, 0, len(prediction.SuggestedActions))
	for _, a := range prediction.SuggestedActions {
		candidates = append(candidates, a.Action)
	}

	var loadTrend float64
	recent := window
	if n := len(recent); n > 20 {
		recent = recent[n-20:]
	}
	if n := len(recent); n >= 2 {
		var sumX, sumY, sumXY, sumXX float64
		for i, s := range recent {
			x, y := float64(i), s.LoadScore()
			sumX, sumY, sumXY, sumXX = sumX+x, sumY+y, sumXY+x*y, sumXX+x*x
		}
		fn := float64(n)
		loadTrend = (fn*sumXY - sumX*sumY) / (fn*sumXX - sumX*sumX)
	}
	stateKey := d.Policy.Discretize(prediction.Predicted["cpu_pct"], prediction.Predicted["memory_pct"], loadTrend, now.Hour())
	chosen := d.Policy.SelectAction(stateKey, candidates)

	changes := predictedChanges(chosen, prediction.Predicted)
	expected := make(map[string]float64, len(changes))
	for k := range changes {
		expected[k] = prediction.Predicted[k]
	}
	decision := domain.AllocationDecision{
		ID:             decisionID,
		Timestamp:      now,
		NodeID:         node.ID,
		Action:         chosen,
		Changes:        changes,
		ExpectedImpact: expected,
		Priority:       priorityFor(chosen),
		EstimatedCost:  estimatedCostFor(chosen),
		Status:         domain.DecisionPending,
	}

	if err := d.DB.InsertDecision(decision); err != nil {
		log.Printf("[daemon] insert decision for %s: %v", node.ID, err)
		return
	}
	_ = d.Router.Publish(ctx, domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventAllocationDecisionNew,
		Timestamp: now,
		Source:    "daemon",
		Priority:  6,
		Payload:   map[string]any{"decision_id": decision.ID, "node_id": node.ID, "action": string(chosen)},
	})

	reward, execErr := d.Executor.Execute(ctx, decision)
	// Each allocation tick is modeled as a single-step episode: the policy
	// observes (state, action, reward) and bootstraps off the same stateKey
	// as its own next state, since the actual post-action state isn't
	// recomputed until the following tick's window read. Terminal is
	// therefore always true here — true multi-step bootstrapping across
	// ticks is an open extension, not exercised by this loop.
	terminal := true
	nextState := stateKey
	d.Policy.Observe(domain.RLExperience{
		State:     stateKey,
		Action:    chosen,
		Reward:    reward,
		NextState: nextState,
		Terminal:  terminal,
		Timestamp: now,
	})
	if err := d.DB.AppendExperience(domain.RLExperience{
		State: stateKey, Action: chosen, Reward: reward, NextState: nextState, Terminal: terminal, Timestamp: now,
	}); err != nil {
		log.Printf("[daemon] append experience: %v", err)
	}
	if execErr != nil {
		log.Printf("[daemon] execute decision %s: %v", decision.ID, execErr)
	}
	d.Policy.ReplayBatch()
}

// reconcileDuePredictions backfills predictions whose horizon has elapsed
// with the node's current observed values, the actual-outcome bookkeeping
// spec §3 describes for ResourcePrediction.
func (d *Daemon) reconcileDuePredictions(nodeID string, window []domain.ResourceState, now time.Time) {
	if len(window) == 0 {
		return
	}
	due, err := d.DB.DueForReconciliation(nodeID, now)
	if err != nil {
		log.Printf("[daemon] due for reconciliation for %s: %v", nodeID, err)
		return
	}
	if len(due) == 0 {
		return
	}

	latest := window[len(window)-1]
	actual := map[string]float64{
		"cpu_pct":    latest.CPUPercent,
		"memory_pct": latest.MemoryPercent,
		"load_score": latest.LoadScore(),
	}
	for _, p := range due {
		if err := d.DB.UpdatePredictionActual(p.ID, actual); err != nil {
			log.Printf("[daemon] reconcile prediction %s: %v", p.ID, err)
		}
	}
}

// predictedChanges narrows the full predicted vector down to the field
// chosen's handler actually targets, so simulatedHandler's expected/actual
// impact comparison stays meaningful per action.
func predictedChanges(action domain.Action, predicted map[string]float64) map[string]any {
	changes := map[string]any{}
	switch action {
	case domain.ActionScaleUpCPU, domain.ActionScaleDownCPU:
		changes["cpu_pct"] = predicted["cpu_pct"]
	case domain.ActionScaleUpMemory, domain.ActionScaleDownMemory:
		changes["memory_pct"] = predicted["memory_pct"]
	default:
		changes["load_score"] = predicted["load_score"]
	}
	return changes
}

func priorityFor(action domain.Action) int {
	switch action {
	case domain.ActionScaleUpCPU, domain.ActionScaleUpMemory:
		return 8
	case domain.ActionRedistributeLoad:
		return 6
	default:
		return 4
	}
}

func estimatedCostFor(action domain.Action) float64 {
	switch action {
	case domain.ActionScaleUpCPU, domain.ActionScaleUpMemory:
		return 15
	case domain.ActionMigrateWorkload:
		return 25
	default:
		return 5
	}
}

// runPerformanceReporter sends a performance_metrics_report to the
// orchestrator every 60s per spec §5, when the orchestrator connector is
// configured and connected.
func (d *Daemon) runPerformanceReporter(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.Orchestrator == nil || !d.Orchestrator.Connected() {
				continue
			}
			summary := d.Summary()
			if err := d.Orchestrator.Send("performance_metrics_report", map[string]any{
				"intent_node_count": summary.IntentNodeCount,
				"intent_edge_count": summary.IntentEdgeCount,
				"q_table_size":      summary.QTableSize,
				"policy_epsilon":    summary.PolicyEpsilon,
			}); err != nil {
				log.Printf("[daemon] performance report: %v", err)
			}
		}
	}
}
