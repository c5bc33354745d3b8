// Package pig implements the Probabilistic Intent Graph: a Bayesian
// network of IntentNodes and IntentEdges updated online from behavior
// evidence and queried for intent predictions.
package pig

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/corefabric/proxy/internal/domain"
	"github.com/corefabric/proxy/internal/infra/metrics"
)

// Config configures the graph.
type Config struct {
	LearningRate   float64 // η in the Bayesian moving-average update (default 0.15)
	MaxNodes       int     // prune trigger (default 1000)
	PruneFraction  float64 // fraction removed once MaxNodes is hit (default 0.1)
	TemporalWindow int     // how many recent activations feed co-occurrence scoring (default 5)
	HalfLife       time.Duration // prediction time-decay half-life (default 1h)
}

// DefaultConfig returns production graph defaults.
func DefaultConfig() Config {
	return Config{
		LearningRate:   0.15,
		MaxNodes:       1000,
		PruneFraction:  0.1,
		TemporalWindow: 5,
		HalfLife:       time.Hour,
	}
}

type activation struct {
	timestamp time.Time
	nodeIDs   []string
}

// Graph is the Probabilistic Intent Graph.
type Graph struct {
	cfg   Config
	store domain.Store

	mu    sync.RWMutex
	nodes map[string]*domain.IntentNode
	edges map[domain.EdgeKey]*domain.IntentEdge

	recent []activation
}

// New creates a Graph and rehydrates it from store.
func New(cfg Config, store domain.Store) (*Graph, error) {
	g := &Graph{
		cfg:   cfg,
		store: store,
		nodes: make(map[string]*domain.IntentNode),
		edges: make(map[domain.EdgeKey]*domain.IntentEdge),
	}

	nodes, err := store.ListIntentNodes()
	if err != nil {
		return nil, fmt.Errorf("rehydrate intent nodes: %w", err)
	}
	for i := range nodes {
		n := nodes[i]
		g.nodes[n.ID] = &n
	}

	edges, err := store.ListIntentEdges()
	if err != nil {
		return nil, fmt.Errorf("rehydrate intent edges: %w", err)
	}
	for i := range edges {
		e := edges[i]
		g.edges[domain.EdgeKey{Source: e.SourceID, Target: e.TargetID}] = &e
	}

	g.refreshMetrics()
	return g, nil
}

// NodeID deterministically derives a node's ID from its type and
// description, so the same (type, description) pair always resolves to
// the same node across the process's lifetime.
func NodeID(intentType, description string) string {
	sum := sha256.Sum256([]byte(description))
	return fmt.Sprintf("%s_%s", intentType, hex.EncodeToString(sum[:])[:12])
}

// Run subscribes to behavior_ingested events and feeds them into the
// graph until ctx is canceled.
func (g *Graph) Run(ctx context.Context, sub domain.EventSubscriber) {
	ch, cancel := sub.Subscribe(domain.EventBehaviorIngested)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			g.handleBehaviorIngested(ev)
		}
	}
}

func (g *Graph) handleBehaviorIngested(ev domain.Event) {
	intentType, _ := ev.Payload["intent_type"].(string)
	description, _ := ev.Payload["description"].(string)
	strength, _ := ev.Payload["evidence_strength"].(float64)
	prior, _ := ev.Payload["initial_prior"].(float64)
	if intentType == "" || description == "" {
		return
	}
	if prior == 0 {
		prior = 0.5
	}
	if strength == 0 {
		strength = 0.5
	}

	nodeID := g.IngestSignal(intentType, description, strength, prior, ev.Timestamp)
	g.updateTemporalDependencies([]string{nodeID}, ev.Timestamp)
	g.recordActivation([]string{nodeID}, ev.Timestamp)
}

// IngestSignal creates or updates the intent node for (intentType,
// description) with one piece of evidence and returns its node ID.
func (g *Graph) IngestSignal(intentType, description string, evidenceStrength, initialPrior float64, now time.Time) string {
	id := NodeID(intentType, description)

	g.mu.Lock()
	node, exists := g.nodes[id]
	if !exists {
		if len(g.nodes) >= g.cfg.MaxNodes {
			g.pruneLocked(now)
		}
		node = &domain.IntentNode{
			ID:          id,
			IntentType:  intentType,
			Description: description,
			Prior:       initialPrior,
			Posterior:   initialPrior,
			LastUpdated: now,
			Metadata:    map[string]any{},
		}
		g.nodes[id] = node
	}
	node.UpdatePosterior(evidenceStrength, g.cfg.LearningRate, now)
	g.mu.Unlock()

	if err := g.store.UpsertIntentNode(*node); err != nil {
		log.Printf("pig: persist node %s: %v", id, err)
	}
	g.refreshMetrics()
	return id
}

// updateTemporalDependencies links nodes activated together across the
// recent activation window — more recent co-activations create stronger
// edges, decaying to a floor over one hour.
func (g *Graph) updateTemporalDependencies(currentNodes []string, now time.Time) {
	g.mu.RLock()
	window := g.recent
	if len(window) > g.cfg.TemporalWindow {
		window = window[len(window)-g.cfg.TemporalWindow:]
	}
	g.mu.RUnlock()

	for _, past := range window {
		timeDiff := now.Sub(past.timestamp).Seconds()
		temporalStrength := math.Max(0.1, 1.0-timeDiff/3600)

		for _, recentNode := range past.nodeIDs {
			for _, curNode := range currentNodes {
				if recentNode == curNode {
					continue
				}
				condProb := g.conditionalProbability(recentNode, curNode)
				g.upsertEdge(recentNode, curNode, condProb, temporalStrength, now)
			}
		}
	}
}

func (g *Graph) upsertEdge(source, target string, condProb, strength float64, now time.Time) {
	key := domain.EdgeKey{Source: source, Target: target}

	g.mu.Lock()
	edge, exists := g.edges[key]
	if !exists {
		edge = &domain.IntentEdge{SourceID: source, TargetID: target}
		g.edges[key] = edge
	}
	edge.UpdateStrength(strength, condProb, g.cfg.LearningRate, now)
	g.mu.Unlock()

	if err := g.store.UpsertIntentEdge(*edge); err != nil {
		log.Printf("pig: persist edge %s->%s: %v", source, target, err)
	}
	g.refreshMetrics()
}

// conditionalProbability estimates P(target|source) from recent
// co-occurrence: how often target activated alongside source, among the
// activations where source was active. Falls back to a low default when
// source hasn't been seen recently.
func (g *Graph) conditionalProbability(source, target string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var coOccur, sourceOccur int
	for _, act := range g.recent {
		hasSource := containsString(act.nodeIDs, source)
		if hasSource {
			sourceOccur++
			if containsString(act.nodeIDs, target) {
				coOccur++
			}
		}
	}
	if sourceOccur == 0 {
		return 0.1
	}
	p := float64(coOccur) / float64(sourceOccur)
	if p < 0.1 {
		return 0.1
	}
	return p
}

func (g *Graph) recordActivation(nodeIDs []string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recent = append(g.recent, activation{timestamp: now, nodeIDs: nodeIDs})
	if len(g.recent) > g.cfg.TemporalWindow*4 {
		g.recent = g.recent[len(g.recent)-g.cfg.TemporalWindow*4:]
	}
}

// pruneLocked removes the lowest-scoring PruneFraction of nodes. Must be
// called with g.mu held for writing.
func (g *Graph) pruneLocked(now time.Time) {
	type scored struct {
		id    string
		score float64
	}
	scores := make([]scored, 0, len(g.nodes))
	for id, n := range g.nodes {
		age := now.Sub(n.LastUpdated).Seconds()
		evidenceFactor := math.Min(1.0, float64(n.EvidenceCount)/100)
		ageFactor := math.Max(0.1, 1.0-age/86400)
		score := n.Confidence*0.4 + evidenceFactor*0.3 + ageFactor*0.3
		scores = append(scores, scored{id: id, score: score})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score < scores[j].score })

	toRemove := int(float64(len(scores)) * g.cfg.PruneFraction)
	for i := 0; i < toRemove; i++ {
		id := scores[i].id
		delete(g.nodes, id)
		for key := range g.edges {
			if key.Source == id || key.Target == id {
				delete(g.edges, key)
			}
		}
		if err := g.store.DeleteIntentNode(id); err != nil {
			log.Printf("pig: delete pruned node %s: %v", id, err)
		}
	}
	metrics.PIGPruneEvents.Inc()
}

func (g *Graph) refreshMetrics() {
	g.mu.RLock()
	nodeCount := len(g.nodes)
	edgeCount := len(g.edges)
	g.mu.RUnlock()
	metrics.PIGNodeCount.Set(float64(nodeCount))
	metrics.PIGEdgeCount.Set(float64(edgeCount))
}

// Summary reports graph size for the HTTP summary surface.
type Summary struct {
	NodeCount int `json:"node_count"`
	EdgeCount int `json:"edge_count"`
}

// Summary returns the current graph size.
func (g *Graph) Summary() Summary {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Summary{NodeCount: len(g.nodes), EdgeCount: len(g.edges)}
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// marshalContext turns an arbitrary context map into the lowercase string
// PredictIntent keyword-matches against.
func marshalContext(context map[string]any) string {
	b, err := json.Marshal(context)
	if err != nil {
		return ""
	}
	return strings.ToLower(string(b))
}
