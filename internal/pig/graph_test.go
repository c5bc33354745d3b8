package pig

import (
	"testing"
	"time"

	"github.com/corefabric/proxy/internal/domain"
)

// memStore is a minimal in-memory domain.Store for graph tests.
type memStore struct {
	nodes map[string]domain.IntentNode
	edges map[domain.EdgeKey]domain.IntentEdge
}

func newMemStore() *memStore {
	return &memStore{nodes: map[string]domain.IntentNode{}, edges: map[domain.EdgeKey]domain.IntentEdge{}}
}

func (m *memStore) UpsertNode(domain.Node) error                 { return nil }
func (m *memStore) GetNode(string) (*domain.Node, error)         { return nil, domain.ErrNodeNotFound }
func (m *memStore) ListNodes() ([]domain.Node, error)            { return nil, nil }
func (m *memStore) AppendResourceState(domain.ResourceState) error { return nil }
func (m *memStore) RecentResourceStates(string, int) ([]domain.ResourceState, error) {
	return nil, nil
}
func (m *memStore) UpsertIntentNode(n domain.IntentNode) error {
	m.nodes[n.ID] = n
	return nil
}
func (m *memStore) DeleteIntentNode(id string) error {
	delete(m.nodes, id)
	return nil
}
func (m *memStore) ListIntentNodes() ([]domain.IntentNode, error) {
	var out []domain.IntentNode
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out, nil
}
func (m *memStore) UpsertIntentEdge(e domain.IntentEdge) error {
	m.edges[domain.EdgeKey{Source: e.SourceID, Target: e.TargetID}] = e
	return nil
}
func (m *memStore) DeleteIntentEdge(source, target string) error {
	delete(m.edges, domain.EdgeKey{Source: source, Target: target})
	return nil
}
func (m *memStore) ListIntentEdges() ([]domain.IntentEdge, error) {
	var out []domain.IntentEdge
	for _, e := range m.edges {
		out = append(out, e)
	}
	return out, nil
}
func (m *memStore) AppendEvidence(domain.BehaviorEvidence) error         { return nil }
func (m *memStore) PurgeEvidenceOlderThan(int64) (int, error)           { return 0, nil }
func (m *memStore) InsertPrediction(domain.ResourcePrediction) error    { return nil }
func (m *memStore) UpdatePredictionActual(string, map[string]float64) error { return nil }
func (m *memStore) InsertDecision(domain.AllocationDecision) error { return nil }
func (m *memStore) UpdateDecisionStatus(string, domain.DecisionStatus, map[string]float64, float64) error {
	return nil
}
func (m *memStore) AppendExperience(domain.RLExperience) error           { return nil }
func (m *memStore) RecentExperiences(int) ([]domain.RLExperience, error) { return nil, nil }

func TestNodeID_Deterministic(t *testing.T) {
	a := NodeID("file_operation", "access_pdf_file")
	b := NodeID("file_operation", "access_pdf_file")
	if a != b {
		t.Fatalf("NodeID() not deterministic: %s != %s", a, b)
	}
	c := NodeID("file_operation", "access_doc_file")
	if a == c {
		t.Fatalf("different descriptions should not collide")
	}
}

func TestGraph_IngestSignal_CreatesAndUpdatesNode(t *testing.T) {
	g, err := New(DefaultConfig(), newMemStore())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	now := time.Now()

	id := g.IngestSignal("file_operation", "access_pdf_file", 0.7, 0.6, now)
	id2 := g.IngestSignal("file_operation", "access_pdf_file", 0.7, 0.6, now.Add(time.Minute))
	if id != id2 {
		t.Fatalf("repeated signal should resolve to the same node: %s != %s", id, id2)
	}

	s := g.Summary()
	if s.NodeCount != 1 {
		t.Fatalf("NodeCount = %d, want 1", s.NodeCount)
	}
}

func TestGraph_PredictIntent_MatchesContext(t *testing.T) {
	store := newMemStore()
	g, _ := New(DefaultConfig(), store)
	now := time.Now()

	for i := 0; i < 20; i++ {
		g.IngestSignal("application_usage", "use_editor_application", 0.9, 0.7, now)
	}

	preds := g.PredictIntent(map[string]any{"hint": "editor"}, 0.1, now)
	if len(preds) == 0 {
		t.Fatal("expected at least one prediction matching context keyword")
	}
	if preds[0].IntentType != "application_usage" {
		t.Fatalf("top prediction = %+v", preds[0])
	}
}

func TestGraph_Prune_RemovesLowestScoring(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxNodes = 10
	cfg.PruneFraction = 0.5
	store := newMemStore()
	g, _ := New(cfg, store)
	now := time.Now()

	for i := 0; i < 10; i++ {
		g.IngestSignal("t", stringN(i), 0.9, 0.9, now)
	}
	// Triggers a prune pass on the 11th distinct node.
	g.IngestSignal("t", stringN(10), 0.9, 0.9, now)

	s := g.Summary()
	if s.NodeCount >= 11 {
		t.Fatalf("expected pruning to shrink below 11 nodes, got %d", s.NodeCount)
	}
}

func stringN(i int) string {
	letters := "abcdefghijklmnop"
	return string(letters[i%len(letters)]) + "_desc"
}
