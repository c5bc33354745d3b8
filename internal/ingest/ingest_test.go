package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/corefabric/proxy/internal/domain"
)

// fakeStore implements domain.Store with the minimum needed for these tests.
type fakeStore struct {
	mu       sync.Mutex
	evidence []domain.BehaviorEvidence
}

func (f *fakeStore) UpsertNode(domain.Node) error                             { return nil }
func (f *fakeStore) GetNode(string) (*domain.Node, error)                     { return nil, domain.ErrNodeNotFound }
func (f *fakeStore) ListNodes() ([]domain.Node, error)                        { return nil, nil }
func (f *fakeStore) AppendResourceState(domain.ResourceState) error           { return nil }
func (f *fakeStore) RecentResourceStates(string, int) ([]domain.ResourceState, error) {
	return nil, nil
}
func (f *fakeStore) UpsertIntentNode(domain.IntentNode) error          { return nil }
func (f *fakeStore) DeleteIntentNode(string) error                     { return nil }
func (f *fakeStore) ListIntentNodes() ([]domain.IntentNode, error)     { return nil, nil }
func (f *fakeStore) UpsertIntentEdge(domain.IntentEdge) error          { return nil }
func (f *fakeStore) DeleteIntentEdge(string, string) error             { return nil }
func (f *fakeStore) ListIntentEdges() ([]domain.IntentEdge, error)     { return nil, nil }
func (f *fakeStore) AppendEvidence(e domain.BehaviorEvidence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evidence = append(f.evidence, e)
	return nil
}
func (f *fakeStore) PurgeEvidenceOlderThan(int64) (int, error) { return 0, nil }
func (f *fakeStore) InsertPrediction(domain.ResourcePrediction) error { return nil }
func (f *fakeStore) UpdatePredictionActual(string, map[string]float64) error { return nil }
func (f *fakeStore) InsertDecision(domain.AllocationDecision) error { return nil }
func (f *fakeStore) UpdateDecisionStatus(string, domain.DecisionStatus, map[string]float64, float64) error {
	return nil
}
func (f *fakeStore) AppendExperience(domain.RLExperience) error             { return nil }
func (f *fakeStore) RecentExperiences(int) ([]domain.RLExperience, error)   { return nil, nil }

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.evidence)
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *fakePublisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestExtractSignal_FileAccess(t *testing.T) {
	ev := domain.BehaviorEvidence{EvidenceType: domain.EvidenceFileAccess, Features: map[string]any{"type": "PDF"}}
	sig := ExtractSignal(ev)
	if sig == nil || sig.IntentType != "file_operation" || sig.Description != "access_pdf_file" {
		t.Fatalf("ExtractSignal() = %+v", sig)
	}
}

func TestExtractSignal_SystemActivity_BelowThreshold(t *testing.T) {
	ev := domain.BehaviorEvidence{EvidenceType: domain.EvidenceSystemActivity, Features: map[string]any{"cpu_percent": 30.0}}
	if sig := ExtractSignal(ev); sig != nil {
		t.Fatalf("expected nil signal below 50%% cpu, got %+v", sig)
	}
}

func TestExtractSignal_SystemActivity_AboveThreshold(t *testing.T) {
	ev := domain.BehaviorEvidence{EvidenceType: domain.EvidenceSystemActivity, Features: map[string]any{"cpu_percent": 90.0, "process_category": "compile"}}
	sig := ExtractSignal(ev)
	if sig == nil || sig.IntentType != "intensive_computing" || sig.EvidenceStrength != 0.9 {
		t.Fatalf("ExtractSignal() = %+v", sig)
	}
}

func TestAnonymizePath_PreservesDepthHidesNames(t *testing.T) {
	a := anonymizePath("/home/alice/Documents/report.pdf")
	b := anonymizePath("/home/bob/Documents/report.pdf")
	if a == b {
		t.Fatalf("different users should anonymize differently: %s == %s", a, b)
	}
	if len(splitNonEmpty(a)) != len(splitNonEmpty("/home/alice/Documents/report.pdf")) {
		t.Fatalf("anonymized path should preserve segment count")
	}
}

func splitNonEmpty(p string) []string {
	var out []string
	cur := ""
	for _, r := range p {
		if r == '/' {
			if cur != "" {
				out = append(out, cur)
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func TestIngestor_IngestPersistsAndPublishes(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	ig := New(DefaultConfig(), store, pub)

	err := ig.Ingest(context.Background(), domain.EvidenceAppFocus, "test", map[string]any{"category": "editor"}, time.Now())
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("store.count() = %d, want 1", store.count())
	}
	if pub.count() != 1 {
		t.Fatalf("pub.count() = %d, want 1", pub.count())
	}
}

func TestIngestor_IdempotentWithinDedupeWindow(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	ig := New(DefaultConfig(), store, pub)

	now := time.Now()
	features := map[string]any{"category": "editor"}
	_ = ig.Ingest(context.Background(), domain.EvidenceAppFocus, "test", features, now)
	_ = ig.Ingest(context.Background(), domain.EvidenceAppFocus, "test", features, now)

	if store.count() != 1 {
		t.Fatalf("expected second identical ingest to be suppressed, store.count() = %d", store.count())
	}
}
