// Package router implements the in-process Event Router: priority queues
// banded 1 (lowest) through 10 (highest), bounded depth with overflow drop,
// and fan-out delivery to typed subscribers.
package router

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corefabric/proxy/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the router.
type Config struct {
	MaxQueueDepth        int           // default 10_000, across all bands
	OverflowEmitInterval time.Duration // minimum gap between router_overflow events (default 1s)
	ShutdownDrainTimeout time.Duration // default 5s
	SubscriberBufferSize int           // per-subscriber channel buffer (default 64)
}

// DefaultConfig returns production router defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueueDepth:        10_000,
		OverflowEmitInterval: time.Second,
		ShutdownDrainTimeout: 5 * time.Second,
		SubscriberBufferSize: 64,
	}
}

// minPriority and maxPriority bound the router's priority bands.
const (
	minPriority = 1
	maxPriority = 10
	// preemptPriority is the threshold at which an event is dequeued ahead
	// of older, lower-priority events regardless of arrival order.
	preemptPriority = 8
)

type queuedEvent struct {
	ev       domain.Event
	queuedAt time.Time
}

type subscriber struct {
	ch chan domain.Event
}

// Router is the in-process Event Router (spec §4.1).
type Router struct {
	cfg Config

	mu          sync.Mutex
	cond        *sync.Cond
	bands       [maxPriority + 1][]queuedEvent // index 1..10, 0 unused
	depth       int
	subscribers map[domain.EventType][]*subscriber
	shutdown    bool

	lastOverflow time.Time

	totalPublished atomic.Int64
	totalDropped   atomic.Int64
	totalDequeued  atomic.Int64
}

// New creates a Router. Call Run in its own goroutine to start dispatch.
func New(cfg Config) *Router {
	r := &Router{
		cfg:         cfg,
		subscribers: make(map[domain.EventType][]*subscriber),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// ─── Publish ────────────────────────────────────────────────────────────────

// Publish enqueues an event. When the bounded queue is at capacity it makes
// room by evicting the oldest event in the lowest occupied priority band
// rather than rejecting the incoming event — back pressure falls on the
// least important already-queued work, not on the newest arrival.
// Publish returns domain.ErrRouterFull only in the degenerate case where
// the queue is reported full but holds nothing to evict, and
// domain.ErrRouterShuttingDown once Shutdown has been called.
func (r *Router) Publish(ctx context.Context, ev domain.Event) error {
	p := ev.Priority
	if p < minPriority {
		p = minPriority
	}
	if p > maxPriority {
		p = maxPriority
	}

	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return domain.ErrRouterShuttingDown
	}

	if r.depth >= r.cfg.MaxQueueDepth {
		if !r.evictLowestLocked() {
			r.totalDropped.Add(1)
			r.emitOverflowLocked(ev.Type)
			r.mu.Unlock()
			return domain.ErrRouterFull
		}
	}

	r.bands[p] = append(r.bands[p], queuedEvent{ev: ev, queuedAt: time.Now()})
	r.depth++
	r.totalPublished.Add(1)
	r.cond.Signal()
	r.mu.Unlock()
	return nil
}

// evictLowestLocked drops the oldest event in the lowest occupied priority
// band to make room for an incoming event. Must be called with r.mu held.
// Returns false if every band is empty, meaning there was nothing to evict.
func (r *Router) evictLowestLocked() bool {
	for p := minPriority; p <= maxPriority; p++ {
		if len(r.bands[p]) == 0 {
			continue
		}
		evicted := r.bands[p][0]
		r.bands[p] = r.bands[p][1:]
		r.depth--
		r.totalDropped.Add(1)
		r.emitOverflowLocked(evicted.ev.Type)
		return true
	}
	return false
}

// emitOverflowLocked records that the queue is full. It is rate limited to
// at most once per OverflowEmitInterval so a sustained overflow doesn't
// itself flood the router. Must be called with r.mu held.
func (r *Router) emitOverflowLocked(droppedType domain.EventType) {
	now := time.Now()
	if now.Sub(r.lastOverflow) < r.cfg.OverflowEmitInterval {
		return
	}
	r.lastOverflow = now

	ev := domain.Event{
		Type:      domain.EventRouterOverflow,
		Timestamp: now,
		Source:    "router",
		Priority:  maxPriority,
		Payload: map[string]any{
			"dropped_type": string(droppedType),
			"queue_depth":  r.depth,
		},
	}
	// Bypass the normal bounded enqueue — this is a best-effort, in-memory
	// fan-out directly to subscribers, never queued.
	go r.dispatch(ev)
}

// ─── Subscribe ──────────────────────────────────────────────────────────────

// Subscribe registers interest in eventType and returns a channel of
// matching events in dispatch order, plus a function to unsubscribe.
func (r *Router) Subscribe(eventType domain.EventType) (<-chan domain.Event, func()) {
	sub := &subscriber{ch: make(chan domain.Event, r.cfg.SubscriberBufferSize)}

	r.mu.Lock()
	r.subscribers[eventType] = append(r.subscribers[eventType], sub)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.subscribers[eventType]
		for i, s := range subs {
			if s == sub {
				r.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}
	return sub.ch, cancel
}

// ─── Dispatch Loop ──────────────────────────────────────────────────────────

// Run drains the priority queues and dispatches to subscribers until ctx is
// canceled. It returns once the shutdown drain (see Shutdown) completes.
func (r *Router) Run(ctx context.Context) {
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
		close(stop)
	}()

	for {
		qe, ok := r.popHighestPriority(ctx)
		if !ok {
			return
		}
		r.dispatch(qe.ev)
		r.totalDequeued.Add(1)
	}
}

// popHighestPriority blocks until an event is available, ctx is canceled and
// the queue has drained, or shutdown completes. The preempt threshold has no
// separate code path: scanning bands high-to-low already dequeues priority
// >=8 events ahead of anything queued earlier at a lower band.
func (r *Router) popHighestPriority(ctx context.Context) (queuedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		for p := maxPriority; p >= minPriority; p-- {
			if len(r.bands[p]) > 0 {
				qe := r.bands[p][0]
				r.bands[p] = r.bands[p][1:]
				r.depth--
				return qe, true
			}
		}

		select {
		case <-ctx.Done():
			return queuedEvent{}, false
		default:
		}
		if r.shutdown && r.depth == 0 {
			return queuedEvent{}, false
		}

		r.cond.Wait()
	}
}

func (r *Router) dispatch(ev domain.Event) {
	r.mu.Lock()
	subs := append([]*subscriber(nil), r.subscribers[ev.Type]...)
	r.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			log.Printf("router: subscriber channel full, dropping %s event", ev.Type)
		}
	}
}

// ─── Shutdown ───────────────────────────────────────────────────────────────

// Shutdown stops accepting new events and waits for the queue to drain (or
// deadline, whichever comes first), then wakes Run so it can exit.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()

	deadline := time.Now().Add(r.cfg.ShutdownDrainTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	for {
		r.mu.Lock()
		depth := r.depth
		r.mu.Unlock()
		if depth == 0 {
			break
		}
		if time.Now().After(deadline) {
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
			return domain.NewCoreError(domain.KindShutdownDeadlineExceeded,
				"router did not drain before shutdown deadline", domain.ErrShutdownDeadlineExceeded)
		}
		time.Sleep(10 * time.Millisecond)
	}

	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
	return nil
}

// ─── Stats ──────────────────────────────────────────────────────────────────

// Stats reports router load for metrics and the HTTP summary surface.
type Stats struct {
	Depth          int   `json:"depth"`
	TotalPublished int64 `json:"total_published"`
	TotalDropped   int64 `json:"total_dropped"`
	TotalDequeued  int64 `json:"total_dequeued"`
}

// Stats returns a snapshot of router load.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	depth := r.depth
	r.mu.Unlock()
	return Stats{
		Depth:          depth,
		TotalPublished: r.totalPublished.Load(),
		TotalDropped:   r.totalDropped.Load(),
		TotalDequeued:  r.totalDequeued.Load(),
	}
}
