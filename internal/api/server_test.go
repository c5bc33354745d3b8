package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/corefabric/proxy/internal/domain"
)

type fakeSummarizer struct {
	summary SummaryResponse

	lastEvidenceType domain.EvidenceType
	lastSource       string
	lastFeatures     map[string]any
	ingestErr        error
}

func (f fakeSummarizer) Summary() SummaryResponse { return f.summary }

func (f *fakeSummarizer) IngestBehavior(evidenceType domain.EvidenceType, source string, features map[string]any) error {
	f.lastEvidenceType = evidenceType
	f.lastSource = source
	f.lastFeatures = features
	return f.ingestErr
}

func newTestServer() *Server {
	return NewServer(&fakeSummarizer{summary: SummaryResponse{
		ProxyID:          "test-proxy",
		IntentNodeCount:  3,
		IntentEdgeCount:  5,
		PredictorTrained: true,
		QTableSize:       42,
		PolicyEpsilon:    0.5,
	}})
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want \"ok\"", body["status"])
	}
}

func TestServer_Summary(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body SummaryResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ProxyID != "test-proxy" {
		t.Errorf("ProxyID = %q, want \"test-proxy\"", body.ProxyID)
	}
	if body.QTableSize != 42 {
		t.Errorf("QTableSize = %d, want 42", body.QTableSize)
	}
	if !body.PredictorTrained {
		t.Error("PredictorTrained = false, want true")
	}
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.Len() == 0 {
		t.Error("/metrics returned an empty body")
	}
}

func TestServer_Ingest(t *testing.T) {
	fake := &fakeSummarizer{summary: SummaryResponse{ProxyID: "test-proxy"}}
	srv := NewServer(fake)

	body, _ := json.Marshal(ingestRequest{
		EvidenceType: domain.EvidenceFileAccess,
		Source:       "fs_watcher",
		Features:     map[string]any{"path": "/tmp/foo"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if fake.lastEvidenceType != domain.EvidenceFileAccess || fake.lastSource != "fs_watcher" {
		t.Fatalf("IngestBehavior not called with expected args: %+v", fake)
	}
}

func TestServer_IngestRejectsMissingFields(t *testing.T) {
	srv := NewServer(&fakeSummarizer{})

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestServer_NotFound(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
