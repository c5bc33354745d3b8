package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/corefabric/proxy/internal/domain"
	"github.com/corefabric/proxy/internal/infra/metrics"
)

// maxBufferedOutbound bounds the in-memory replay buffer Send falls back to
// while disconnected (spec §8: a disconnect/reconnect cycle loses no
// produced events; overflow drops the oldest buffered message).
const maxBufferedOutbound = 1000

// orchestratorInboundTypes maps the "type" field of an inbound orchestrator
// message (spec §6) to the router event it becomes.
var orchestratorInboundTypes = map[string]domain.EventType{
	"allocation_request":    domain.EventAllocationRequest,
	"system_alert":          domain.EventSystemAlert,
	"orchestrator_command":  domain.EventOrchestratorCommand,
	"behavior_event":        domain.EventBehaviorEvent,
	"resource_state_update": domain.EventResourceStateUpdate,
}

// OrchestratorSession is the bidirectional, persistent stream connector to
// the orchestrator: on connect it sends a registration message, then loops
// receiving typed messages as router events, while exposing Send for the
// core to push its own outbound messages (allocation_decision_created,
// performance_metrics_report, …) back over the same connection.
type OrchestratorSession struct {
	conn    *Connector
	proxyID string

	mu     sync.Mutex
	w      io.Writer
	buffer [][]byte
}

// NewOrchestratorSession builds the orchestrator connector. proxyID is sent
// in the registration message's proxy_id field.
func NewOrchestratorSession(dial Dialer, publisher domain.EventPublisher, proxyID string, backoff BackoffConfig) *OrchestratorSession {
	s := &OrchestratorSession{proxyID: proxyID}

	handle := func(ctx context.Context, line []byte) error {
		var raw struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &raw); err != nil {
			return fmt.Errorf("orchestrator: decode type: %w", err)
		}
		evType, ok := orchestratorInboundTypes[raw.Type]
		if !ok {
			return fmt.Errorf("orchestrator: unrecognized message type %q", raw.Type)
		}
		var payload map[string]any
		if err := json.Unmarshal(line, &payload); err != nil {
			return fmt.Errorf("orchestrator: decode payload: %w", err)
		}
		return publishWrapped(ctx, publisher, evType, "connector:orchestrator", 6, payload)
	}

	s.conn = New("orchestrator", dial, handle, backoff)
	s.conn.OnConnect(func(w io.Writer) {
		s.mu.Lock()
		s.w = w
		s.mu.Unlock()
		_ = s.sendRegistration()
		s.flushBuffered()
	})
	s.conn.OnDisconnect(func() {
		s.mu.Lock()
		s.w = nil
		s.mu.Unlock()
	})
	return s
}

// Run blocks, managing the connection until ctx is canceled.
func (s *OrchestratorSession) Run(ctx context.Context) { s.conn.Run(ctx) }

// Connected reports whether the session currently holds a live connection.
func (s *OrchestratorSession) Connected() bool { return s.conn.Connected() }

func (s *OrchestratorSession) sendRegistration() error {
	payload := map[string]any{
		"type":         "registration",
		"proxy_id":     s.proxyID,
		"capabilities": []string{"resource_prediction", "allocation_execution", "performance_monitoring"},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("orchestrator: encode: %w", err)
	}
	return s.writeOrBuffer(append(b, '\n'))
}

// Send pushes one outbound message (spec §6's core→orchestrator types:
// allocation_decision_created, allocation_decision_executed,
// behavioral_anomaly_detected, cost_optimization_opportunity,
// cost_optimization_warning, performance_degradation_detected,
// emergency_allocation_completed, allocation_request_completed,
// health_check_response, summary_response, performance_metrics_report).
// A message produced while disconnected is buffered rather than lost; see
// writeOrBuffer.
func (s *OrchestratorSession) Send(msgType string, fields map[string]any) error {
	payload := map[string]any{
		"type":      msgType,
		"timestamp": time.Now().Unix(),
		"source":    "coreproxy",
	}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("orchestrator: encode: %w", err)
	}
	return s.writeOrBuffer(append(b, '\n'))
}

// writeOrBuffer writes b to the live connection if one exists, buffering it
// for replay on reconnect otherwise (spec §8: "disconnect followed by
// reconnect within 60s loses no produced events — bounded in-memory buffer
// until reconnect; overflow drops oldest with telemetry"). A write that
// fails because the connection just dropped underneath us is treated the
// same as already being disconnected, not as an error the caller must
// handle.
func (s *OrchestratorSession) writeOrBuffer(b []byte) error {
	s.mu.Lock()
	w := s.w
	s.mu.Unlock()

	if w != nil {
		if _, err := w.Write(b); err == nil {
			return nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, b)
	s.dropOverflowLocked()
	return nil
}

// flushBuffered replays every buffered message in order once a connection
// is (re-)established, re-queuing whatever it couldn't send if the
// connection drops again mid-flush.
func (s *OrchestratorSession) flushBuffered() {
	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	for i, b := range pending {
		s.mu.Lock()
		w := s.w
		s.mu.Unlock()

		if w == nil {
			s.requeue(pending[i:])
			return
		}
		if _, err := w.Write(b); err != nil {
			s.requeue(pending[i:])
			return
		}
	}
}

// requeue puts undelivered messages back at the front of the buffer,
// preserving send order, and applies the same overflow policy as
// writeOrBuffer.
func (s *OrchestratorSession) requeue(remaining [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(append([][]byte{}, remaining...), s.buffer...)
	s.dropOverflowLocked()
}

// dropOverflowLocked trims the buffer to maxBufferedOutbound, dropping the
// oldest entries first, and records how many were lost. Must be called
// with s.mu held.
func (s *OrchestratorSession) dropOverflowLocked() {
	if len(s.buffer) <= maxBufferedOutbound {
		return
	}
	dropped := len(s.buffer) - maxBufferedOutbound
	s.buffer = s.buffer[dropped:]
	metrics.ConnectorOutboundDropped.WithLabelValues("orchestrator").Add(float64(dropped))
}
