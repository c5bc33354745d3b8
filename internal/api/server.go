// Package api exposes the small local-operator HTTP surface named in spec
// §9: the core's primary external contract is the persistent orchestrator
// stream (§6), not this HTTP surface, but /health, /metrics, and
// /api/summary give a local operator (or a process supervisor) something
// to poll without a full client for the stream protocol.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corefabric/proxy/internal/domain"
)

// Summarizer is the narrow view of the daemon the API needs: enough to
// answer /api/summary without importing the daemon package (which would
// create an import cycle, since daemon constructs Server).
type Summarizer interface {
	Summary() SummaryResponse
}

// Ingester is the narrow view of the daemon /api/ingest needs — a local
// operator or sidecar process's way into Behavior Ingest (spec §2) that
// doesn't require standing up the orchestrator's behavior_event message
// type just to feed the graph one observation by hand.
type Ingester interface {
	IngestBehavior(evidenceType domain.EvidenceType, source string, features map[string]any) error
}

// ingestRequest is the /api/ingest request body.
type ingestRequest struct {
	EvidenceType domain.EvidenceType `json:"evidence_type"`
	Source       string              `json:"source"`
	Features     map[string]any      `json:"features"`
}

// SummaryResponse mirrors the orchestrator's get_summary/summary_response
// payload (spec §6, §9): graph size, predictor training state, and policy
// exploration state in one JSON object.
type SummaryResponse struct {
	ProxyID          string  `json:"proxy_id"`
	IntentNodeCount  int     `json:"intent_node_count"`
	IntentEdgeCount  int     `json:"intent_edge_count"`
	PredictorTrained bool    `json:"predictor_trained"`
	QTableSize       int     `json:"q_table_size"`
	PolicyEpsilon    float64 `json:"policy_epsilon"`
}

// Server is the core's HTTP API. ingester is optional — when the Summarizer
// passed to NewServer does not also implement Ingester (as test fakes may
// not; *daemon.Daemon always does), /api/ingest returns 503.
type Server struct {
	summarizer Summarizer
	ingester   Ingester
}

// NewServer creates a Server. summarizer is typically the *daemon.Daemon,
// which also implements Ingester.
func NewServer(summarizer Summarizer) *Server {
	s := &Server{summarizer: summarizer}
	if ig, ok := summarizer.(Ingester); ok {
		s.ingester = ig
	}
	return s
}

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/api/summary", s.handleSummary)
	r.Post("/api/ingest", s.handleIngest)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.summarizer.Summary())
}

// handleIngest accepts one behavior evidence observation from a local
// caller and routes it through Behavior Ingest exactly as the
// orchestrator's behavior_event message does (spec §2, §6).
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ingest not available"})
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.EvidenceType == "" || req.Source == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "evidence_type and source are required"})
		return
	}

	if err := s.ingester.IngestBehavior(req.EvidenceType, req.Source, req.Features); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
