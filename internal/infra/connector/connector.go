// Package connector implements the External Connectors of spec §4.8: one
// autonomous task per out-of-process endpoint (orchestrator session,
// intent feed, behavior feed, market feed), each connecting, looping over
// inbound messages, wrapping them as router events, and reconnecting with
// exponential backoff on disconnect — never failing the owning process.
//
// Grounded on the teacher's internal/infra/network.Fabric: a background
// loop that treats "cloud unreachable" as a transient, retryable state
// rather than a startup failure, continuing to serve locally while it
// waits to reconnect.
package connector

import (
	"bufio"
	"context"
	"io"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/corefabric/proxy/internal/domain"
	"github.com/corefabric/proxy/internal/infra/metrics"
)

// BackoffConfig configures the reconnect schedule.
type BackoffConfig struct {
	Base time.Duration // default 5s
	Cap  time.Duration // default 60s
}

// DefaultBackoffConfig returns the backoff schedule spec §4.8 names.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{Base: 5 * time.Second, Cap: 60 * time.Second}
}

// LineHandler processes one inbound line from the connection, typically
// unmarshaling JSON and publishing a router event. Returning an error does
// not tear down the connection — only read/write failures do that.
type LineHandler func(ctx context.Context, line []byte) error

// Dialer opens a fresh connection to the endpoint.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// TCPDialer builds a Dialer over a plain TCP connection to addr, the
// simplest transport for a line-delimited-JSON feed; an orchestrator or
// feed endpoint reachable over TLS or HTTP would substitute its own Dialer.
func TCPDialer(addr string) Dialer {
	var d net.Dialer
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		return d.DialContext(ctx, "tcp", addr)
	}
}

// Connector owns one long-lived connection, looping reconnect-on-failure
// until its context is canceled.
type Connector struct {
	name    string
	dial    Dialer
	handle  LineHandler
	backoff BackoffConfig

	// onConnect/onDisconnect let a caller (the orchestrator session) learn
	// the live connection to write outbound messages on, without the base
	// Connector needing to know anything about an outbound protocol.
	onConnect    func(conn io.Writer)
	onDisconnect func()

	connected  atomic.Bool
	reconnects atomic.Int64
}

// New creates a Connector. name is used for logging and the
// ConnectorState/ConnectorReconnects metric labels.
func New(name string, dial Dialer, handle LineHandler, backoff BackoffConfig) *Connector {
	return &Connector{name: name, dial: dial, handle: handle, backoff: backoff}
}

// OnConnect registers a callback fired with the live connection each time
// one is established, for sessions that also write outbound messages.
func (c *Connector) OnConnect(fn func(conn io.Writer)) { c.onConnect = fn }

// OnDisconnect registers a callback fired when the live connection is
// torn down.
func (c *Connector) OnDisconnect(fn func()) { c.onDisconnect = fn }

// Run loops connect → read-lines → reconnect until ctx is canceled. It
// never returns an error — a permanently unreachable endpoint just keeps
// backing off, consistent with spec §4.8's "never fails the process."
func (c *Connector) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			metrics.ConnectorState.WithLabelValues(c.name).Set(0)
			return
		}

		conn, err := c.dial(ctx)
		if err != nil {
			log.Printf("[connector:%s] dial failed: %v", c.name, err)
			if !c.sleepBackoff(ctx, attempt) {
				return
			}
			attempt++
			continue
		}

		metrics.ConnectorState.WithLabelValues(c.name).Set(1)
		c.connected.Store(true)
		if attempt > 0 {
			metrics.ConnectorReconnects.WithLabelValues(c.name).Inc()
			c.reconnects.Add(1)
		}
		if c.onConnect != nil {
			c.onConnect(conn)
		}

		c.readLoop(ctx, conn)

		conn.Close()
		c.connected.Store(false)
		metrics.ConnectorState.WithLabelValues(c.name).Set(0)
		if c.onDisconnect != nil {
			c.onDisconnect()
		}

		if ctx.Err() != nil {
			return
		}
		attempt++
		if !c.sleepBackoff(ctx, attempt) {
			return
		}
	}
}

func (c *Connector) readLoop(ctx context.Context, conn io.ReadWriteCloser) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := append([]byte(nil), scanner.Bytes()...)
		if err := c.handle(ctx, line); err != nil {
			log.Printf("[connector:%s] handler error: %v", c.name, err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[connector:%s] read error: %v", c.name, err)
	}
}

// sleepBackoff waits the exponential-backoff delay for attempt, capped,
// returning false if ctx was canceled first.
func (c *Connector) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := c.backoff.Base << attempt
	if delay <= 0 || delay > c.backoff.Cap {
		delay = c.backoff.Cap
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// Connected reports whether the connector currently holds a live
// connection.
func (c *Connector) Connected() bool { return c.connected.Load() }

// publishWrapped is a small helper feeds/orchestrator use to turn a parsed
// payload into a router event with a fixed priority and source tag.
func publishWrapped(ctx context.Context, publisher domain.EventPublisher, evType domain.EventType, source string, priority int, payload map[string]any) error {
	return publisher.Publish(ctx, domain.Event{
		ID:        uuid.NewString(),
		Type:      evType,
		Timestamp: time.Now(),
		Source:    source,
		Priority:  priority,
		Payload:   payload,
	})
}
