package daemon

import (
	"context"
	"log"
	"time"

	"github.com/corefabric/proxy/internal/domain"
)

// IngestBehavior implements api.Ingester, forwarding one evidence
// observation from the local HTTP surface through Behavior Ingest exactly
// as a behavior_event message arriving over the orchestrator stream does.
func (d *Daemon) IngestBehavior(evidenceType domain.EvidenceType, source string, features map[string]any) error {
	return d.Ingestor.Ingest(context.Background(), evidenceType, source, features, time.Now())
}

// runBehaviorEventConsumer bridges inbound orchestrator behavior_event
// messages (domain.EventBehaviorEvent) into Behavior Ingest, the same path
// /api/ingest drives locally.
func (d *Daemon) runBehaviorEventConsumer(ctx context.Context) {
	sub, unsubscribe := d.Router.Subscribe(domain.EventBehaviorEvent)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			d.handleBehaviorEvent(ctx, ev)
		}
	}
}

func (d *Daemon) handleBehaviorEvent(ctx context.Context, ev domain.Event) {
	evidenceType, _ := ev.Payload["evidence_type"].(string)
	source, _ := ev.Payload["source"].(string)
	features, _ := ev.Payload["features"].(map[string]any)
	if evidenceType == "" || source == "" {
		log.Printf("[daemon] behavior_event missing evidence_type/source, dropping")
		return
	}
	if err := d.Ingestor.Ingest(ctx, domain.EvidenceType(evidenceType), source, features, time.Now()); err != nil {
		log.Printf("[daemon] ingest behavior_event: %v", err)
	}
}

// runResourceStateUpdateConsumer bridges inbound orchestrator
// resource_state_update messages (domain.EventResourceStateUpdate) into the
// telemetry collector, the only path a remote/cloud node's utilization
// reaches this process (spec §4.4 — collection over the same transport as
// External Connectors, not local OS polling).
func (d *Daemon) runResourceStateUpdateConsumer(ctx context.Context) {
	sub, unsubscribe := d.Router.Subscribe(domain.EventResourceStateUpdate)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			d.handleResourceStateUpdate(ctx, ev)
		}
	}
}

func (d *Daemon) handleResourceStateUpdate(ctx context.Context, ev domain.Event) {
	nodeID, _ := ev.Payload["node_id"].(string)
	if nodeID == "" {
		log.Printf("[daemon] resource_state_update missing node_id, dropping")
		return
	}
	cpuPct := floatField(ev.Payload, "cpu_pct")
	memPct := floatField(ev.Payload, "memory_pct")
	diskPct := floatField(ev.Payload, "disk_pct")
	d.Telemetry.RecordRemote(ctx, nodeID, cpuPct, memPct, diskPct)
}

func floatField(payload map[string]any, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// runOrchestratorCommandConsumer bridges inbound orchestrator_command
// messages (domain.EventOrchestratorCommand) to the operations they name
// (spec §6, §9): get_summary and health_check answer inline, retrain_models
// forces the predictor to retrain ahead of its usual interval.
func (d *Daemon) runOrchestratorCommandConsumer(ctx context.Context) {
	sub, unsubscribe := d.Router.Subscribe(domain.EventOrchestratorCommand)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			d.handleOrchestratorCommand(ev)
		}
	}
}

func (d *Daemon) handleOrchestratorCommand(ev domain.Event) {
	if d.Orchestrator == nil {
		return
	}
	commandType, _ := ev.Payload["command_type"].(string)

	switch commandType {
	case "get_summary":
		summary := d.Summary()
		if err := d.Orchestrator.Send("summary_response", map[string]any{
			"proxy_id":          summary.ProxyID,
			"intent_node_count": summary.IntentNodeCount,
			"intent_edge_count": summary.IntentEdgeCount,
			"predictor_trained": summary.PredictorTrained,
			"q_table_size":      summary.QTableSize,
			"policy_epsilon":    summary.PolicyEpsilon,
		}); err != nil {
			log.Printf("[daemon] summary_response: %v", err)
		}
	case "health_check":
		if err := d.Orchestrator.Send("health_check_response", map[string]any{"status": "ok"}); err != nil {
			log.Printf("[daemon] health_check_response: %v", err)
		}
	case "retrain_models":
		d.forceRetrain()
	default:
		log.Printf("[daemon] orchestrator_command: unrecognized command_type %q", commandType)
	}
}

// forceRetrain retrains the shared predictor model from the first node with
// enough history to train on — the predictor holds one model across all
// nodes (spec §4.5), so one node's window is sufficient to satisfy an
// operator-triggered retrain.
func (d *Daemon) forceRetrain() {
	nodes, err := d.DB.ListNodes()
	if err != nil {
		log.Printf("[daemon] retrain_models: list nodes: %v", err)
		return
	}
	now := time.Now()
	for _, node := range nodes {
		window, err := d.DB.RecentResourceStates(node.ID, 200)
		if err != nil {
			continue
		}
		if err := d.Predictor.ForceRetrain(window, now); err == nil {
			return
		}
	}
	log.Printf("[daemon] retrain_models: no node has enough history to retrain")
}

// runCostEventForwarder bridges market-feed-derived cost optimization
// events, and the raw market data update itself, onto the orchestrator
// stream so the orchestrator sees the same signal the core acted on.
func (d *Daemon) runCostEventForwarder(ctx context.Context) {
	marketSub, unsubMarket := d.Router.Subscribe(domain.EventMarketDataUpdate)
	defer unsubMarket()
	oppSub, unsubOpp := d.Router.Subscribe(domain.EventCostOptimizationOpp)
	defer unsubOpp()
	warnSub, unsubWarn := d.Router.Subscribe(domain.EventCostOptimizationWarn)
	defer unsubWarn()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-marketSub:
			if !ok {
				return
			}
			d.forwardToOrchestrator("market_data_update", ev)
		case ev, ok := <-oppSub:
			if !ok {
				return
			}
			d.forwardToOrchestrator("cost_optimization_opportunity", ev)
		case ev, ok := <-warnSub:
			if !ok {
				return
			}
			d.forwardToOrchestrator("cost_optimization_warning", ev)
		}
	}
}

func (d *Daemon) forwardToOrchestrator(msgType string, ev domain.Event) {
	if d.Orchestrator == nil {
		return
	}
	if err := d.Orchestrator.Send(msgType, ev.Payload); err != nil {
		log.Printf("[daemon] forward %s: %v", msgType, err)
	}
}
