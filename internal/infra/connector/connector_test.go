package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/corefabric/proxy/internal/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) snapshot() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

// pipeConn is an in-memory io.ReadWriteCloser backed by an io.Pipe pair,
// enough to drive Connector.readLoop without a real socket.
type pipeConn struct {
	io.Reader
	io.Writer
	closed chan struct{}
}

func newPipeConn() (*pipeConn, *io.PipeWriter) {
	r, w := io.Pipe()
	return &pipeConn{Reader: r, Writer: new(bytes.Buffer), closed: make(chan struct{})}, w
}

func (p *pipeConn) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

func TestConnector_PublishesOneEventPerLine(t *testing.T) {
	pub := &recordingPublisher{}
	conn, w := newPipeConn()

	dialed := make(chan struct{}, 1)
	dial := func(ctx context.Context) (io.ReadWriteCloser, error) {
		select {
		case dialed <- struct{}{}:
		default:
		}
		return conn, nil
	}

	handle := func(ctx context.Context, line []byte) error {
		var payload map[string]any
		if err := json.Unmarshal(line, &payload); err != nil {
			return err
		}
		return publishWrapped(ctx, pub, domain.EventIntentPrediction, "test", 5, payload)
	}

	c := New("test", dial, handle, BackoffConfig{Base: time.Millisecond, Cap: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	<-dialed
	w.Write([]byte(`{"predictions":[{"intent_type":"file_operation"}]}` + "\n"))

	deadline := time.After(time.Second)
	for {
		if len(pub.snapshot()) > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for published event")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	w.Close()

	events := pub.snapshot()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Type != domain.EventIntentPrediction {
		t.Fatalf("events[0].Type = %v, want %v", events[0].Type, domain.EventIntentPrediction)
	}
}

func TestSleepBackoff_CapsAtConfiguredMax(t *testing.T) {
	c := New("test", nil, nil, BackoffConfig{Base: time.Millisecond, Cap: 5 * time.Millisecond})
	start := time.Now()
	ok := c.sleepBackoff(context.Background(), 20) // would be huge uncapped
	elapsed := time.Since(start)
	if !ok {
		t.Fatal("sleepBackoff() = false, want true")
	}
	if elapsed > 50*time.Millisecond {
		t.Fatalf("sleepBackoff() took %v, want capped near 5ms", elapsed)
	}
}

func TestSleepBackoff_ReturnsFalseOnCanceledContext(t *testing.T) {
	c := New("test", nil, nil, DefaultBackoffConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if c.sleepBackoff(ctx, 0) {
		t.Fatal("sleepBackoff() = true on canceled context, want false")
	}
}

func TestNewMarketFeed_EmitsOpportunityBelowThreshold(t *testing.T) {
	pub := &recordingPublisher{}
	feed := NewMarketFeed(nil, pub, DefaultBackoffConfig())
	if err := feed.handle(context.Background(), []byte(`{"spot_price_change": -0.25}`)); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	events := pub.snapshot()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (update + opportunity)", len(events))
	}
	if events[1].Type != domain.EventCostOptimizationOpp {
		t.Fatalf("events[1].Type = %v, want %v", events[1].Type, domain.EventCostOptimizationOpp)
	}
}

func TestNewMarketFeed_EmitsWarningAboveThreshold(t *testing.T) {
	pub := &recordingPublisher{}
	feed := NewMarketFeed(nil, pub, DefaultBackoffConfig())
	if err := feed.handle(context.Background(), []byte(`{"spot_price_change": 0.35}`)); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	events := pub.snapshot()
	if len(events) != 2 || events[1].Type != domain.EventCostOptimizationWarn {
		t.Fatalf("events = %+v, want update + warning", events)
	}
}

func TestOrchestratorSession_SendBuffersWithoutLiveConnection(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewOrchestratorSession(nil, pub, "proxy-1", DefaultBackoffConfig())
	if err := s.Send("performance_metrics_report", nil); err != nil {
		t.Fatalf("Send() error = %v, want nil (buffered while disconnected)", err)
	}
	if len(s.buffer) != 1 {
		t.Fatalf("len(buffer) = %d, want 1", len(s.buffer))
	}
}

func TestOrchestratorSession_OverflowDropsOldestBuffered(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewOrchestratorSession(nil, pub, "proxy-1", DefaultBackoffConfig())
	for i := 0; i < maxBufferedOutbound+10; i++ {
		if err := s.Send("performance_metrics_report", map[string]any{"i": i}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if len(s.buffer) != maxBufferedOutbound {
		t.Fatalf("len(buffer) = %d, want %d", len(s.buffer), maxBufferedOutbound)
	}
	if !bytes.Contains(s.buffer[0], []byte(`"i":10,`)) {
		t.Fatalf("buffer[0] = %s, want the oldest surviving message i=10", s.buffer[0])
	}
}

func TestOrchestratorSession_FlushBufferedReplaysOnConnect(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewOrchestratorSession(nil, pub, "proxy-1", DefaultBackoffConfig())
	if err := s.Send("performance_metrics_report", map[string]any{"cpu_pct": 42}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	var buf bytes.Buffer
	s.mu.Lock()
	s.w = &buf
	s.mu.Unlock()
	s.flushBuffered()

	if len(s.buffer) != 0 {
		t.Fatalf("len(buffer) after flush = %d, want 0", len(s.buffer))
	}
	if !bytes.Contains(buf.Bytes(), []byte("performance_metrics_report")) {
		t.Fatalf("flushed output = %q, want it to contain the buffered message", buf.String())
	}
}

func TestOrchestratorSession_HandlesKnownMessageTypes(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewOrchestratorSession(nil, pub, "proxy-1", DefaultBackoffConfig())
	if err := s.conn.handle(context.Background(), []byte(`{"type":"system_alert","severity":"warning"}`)); err != nil {
		t.Fatalf("handle() error = %v", err)
	}
	events := pub.snapshot()
	if len(events) != 1 || events[0].Type != domain.EventSystemAlert {
		t.Fatalf("events = %+v, want one system_alert", events)
	}
}

func TestOrchestratorSession_RejectsUnknownMessageType(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewOrchestratorSession(nil, pub, "proxy-1", DefaultBackoffConfig())
	if err := s.conn.handle(context.Background(), []byte(`{"type":"unknown_thing"}`)); err == nil {
		t.Fatal("handle() error = nil for unknown message type, want error")
	}
}
