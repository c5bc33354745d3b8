package router

import (
	"context"
	"testing"
	"time"

	"github.com/corefabric/proxy/internal/domain"
)

func testConfig(maxDepth int) Config {
	cfg := DefaultConfig()
	cfg.MaxQueueDepth = maxDepth
	cfg.OverflowEmitInterval = 0
	return cfg
}

func TestRouter_PublishSubscribeDelivers(t *testing.T) {
	r := New(testConfig(10))
	sub, unsubscribe := r.Subscribe(domain.EventSystemAlert)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	if err := r.Publish(context.Background(), domain.Event{Type: domain.EventSystemAlert, Priority: 5}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case ev := <-sub:
		if ev.Type != domain.EventSystemAlert {
			t.Fatalf("delivered type = %v, want %v", ev.Type, domain.EventSystemAlert)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestRouter_HigherPriorityDispatchedFirst(t *testing.T) {
	r := New(testConfig(10))
	sub, unsubscribe := r.Subscribe(domain.EventSystemAlert)
	defer unsubscribe()

	// Publish before Run starts so both land in the queue together and
	// dispatch order is decided purely by priority band, not arrival race.
	if err := r.Publish(context.Background(), domain.Event{Type: domain.EventSystemAlert, Priority: 2, Source: "low"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := r.Publish(context.Background(), domain.Event{Type: domain.EventSystemAlert, Priority: 9, Source: "high"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	first := mustReceive(t, sub)
	second := mustReceive(t, sub)

	if first.Source != "high" || second.Source != "low" {
		t.Fatalf("dispatch order = [%s, %s], want [high, low]", first.Source, second.Source)
	}
}

func TestRouter_OverflowEvictsLowestPriorityQueuedEvent(t *testing.T) {
	r := New(testConfig(2))

	if err := r.Publish(context.Background(), domain.Event{Type: domain.EventSystemAlert, Priority: 1, Source: "evict-me"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := r.Publish(context.Background(), domain.Event{Type: domain.EventSystemAlert, Priority: 5, Source: "keep-me"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// Queue is now full (depth 2). This third publish must evict the
	// lowest-priority queued event ("evict-me") rather than being rejected
	// itself.
	if err := r.Publish(context.Background(), domain.Event{Type: domain.EventSystemAlert, Priority: 8, Source: "incoming"}); err != nil {
		t.Fatalf("Publish() error = %v, want nil (incoming should displace lowest-priority queued event)", err)
	}

	stats := r.Stats()
	if stats.Depth != 2 {
		t.Fatalf("Depth = %d, want 2", stats.Depth)
	}
	if stats.TotalDropped != 1 {
		t.Fatalf("TotalDropped = %d, want 1", stats.TotalDropped)
	}

	sub, unsubscribe := r.Subscribe(domain.EventSystemAlert)
	defer unsubscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	first := mustReceive(t, sub)
	second := mustReceive(t, sub)
	if first.Source != "incoming" || second.Source != "keep-me" {
		t.Fatalf("surviving events = [%s, %s], want [incoming, keep-me] (evict-me should have been dropped)", first.Source, second.Source)
	}
}

func TestRouter_ShutdownDrainsQueueThenStops(t *testing.T) {
	r := New(testConfig(10))
	sub, unsubscribe := r.Subscribe(domain.EventSystemAlert)
	defer unsubscribe()

	for i := 0; i < 3; i++ {
		if err := r.Publish(context.Background(), domain.Event{Type: domain.EventSystemAlert, Priority: 5}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	runDone := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		r.Run(ctx)
		close(runDone)
	}()

	for i := 0; i < 3; i++ {
		mustReceive(t, sub)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	if err := r.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if err := r.Publish(context.Background(), domain.Event{Type: domain.EventSystemAlert, Priority: 5}); err != domain.ErrRouterShuttingDown {
		t.Fatalf("Publish() after shutdown error = %v, want ErrRouterShuttingDown", err)
	}

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after Shutdown drained the queue")
	}
}

func mustReceive(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}
