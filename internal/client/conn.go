// Package client implements the Client Event Engine (C6): the
// single-threaded cooperative loop fusing keyboard, server, and timer
// events into a consistent terminal view (§4.6). This file is the
// transport layer beneath it — a connection to one server session
// that demultiplexes correlated responses from unsolicited broadcast
// events, grounded on the request/response matching idiom visible in
// bureau-foundation-bureau/lib/service (client side) generalized to a
// long-lived streaming connection instead of one-shot request/reply.
package client

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justin4957/nexus/internal/wire"
)

// Event is a demultiplexed broadcast event from the server (§4.4):
// exactly one of the pointer fields is non-nil.
type Event struct {
	Output         *wire.Output
	ChannelCreated *wire.ChannelCreated
	ChannelExited  *wire.ChannelExited
	DropNotice     *wire.DropNotice
}

// result is the outcome of a correlated request, delivered to whoever
// is awaiting that Corr.
type result struct {
	ok  *wire.Ok
	err *wire.Err
}

// Conn is a live connection to one Nexus server session. Safe for
// concurrent use: multiple goroutines may issue requests while a
// single reader goroutine demultiplexes the socket.
type Conn struct {
	conn      net.Conn
	SessionID string

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan result
	corrSeq atomic.Uint64

	events chan Event
}

// Dial performs the Hello/Welcome handshake against the server
// listening at socketPath and starts the background reader. rows/cols
// are the client's initial terminal size (§4.4).
func Dial(socketPath string, rows, cols uint16) (*Conn, error) {
	nc, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", socketPath, err)
	}

	if err := wire.WriteFrame(nc, wire.KindHello, wire.Hello{
		ProtocolVersion: wire.ProtocolVersion, Rows: rows, Cols: cols,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("client: send hello: %w", err)
	}

	kind, body, err := wire.ReadFrame(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("client: read handshake response: %w", err)
	}
	if kind == wire.KindErr {
		var errResp wire.Err
		_ = wire.Unmarshal(body, &errResp)
		nc.Close()
		return nil, fmt.Errorf("client: handshake rejected: %s: %s", errResp.Kind, errResp.Message)
	}
	if kind != wire.KindWelcome {
		nc.Close()
		return nil, fmt.Errorf("client: expected Welcome, got %s", kind)
	}

	var welcome wire.Welcome
	if err := wire.Unmarshal(body, &welcome); err != nil {
		nc.Close()
		return nil, fmt.Errorf("client: malformed Welcome: %w", err)
	}

	c := &Conn{
		conn:      nc,
		SessionID: welcome.SessionID,
		pending:   make(map[uint64]chan result),
		events:    make(chan Event, 256),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the channel of unsolicited broadcast events. It is
// closed when the connection's reader loop exits (disconnect).
func (c *Conn) Events() <-chan Event { return c.events }

// NextCorr allocates a fresh correlation id for a new request.
func (c *Conn) NextCorr() uint64 { return c.corrSeq.Add(1) }

// Send writes a request frame without waiting for a response. Pair
// with Await(corr) to observe the eventual Ok/Err.
func (c *Conn) Send(kind wire.Kind, body any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.conn, kind, body)
}

// Await blocks until the response for corr arrives or timeout elapses.
func (c *Conn) Await(corr uint64, timeout time.Duration) (*wire.Ok, *wire.Err, error) {
	ch := make(chan result, 1)
	c.mu.Lock()
	c.pending[corr] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, corr)
		c.mu.Unlock()
	}()

	select {
	case r := <-ch:
		return r.ok, r.err, nil
	case <-time.After(timeout):
		return nil, nil, fmt.Errorf("client: timed out waiting for response to corr %d", corr)
	}
}

// Detach tells the server this session is leaving voluntarily (§13 of
// SPEC_FULL.md) and closes the connection.
func (c *Conn) Detach() error {
	corr := c.NextCorr()
	if err := c.Send(wire.KindDetach, wire.Detach{Corr: corr}); err != nil {
		return err
	}
	_, _, _ = c.Await(corr, 2*time.Second)
	return c.conn.Close()
}

// Close drops the connection without a clean Detach handshake.
func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		kind, body, err := wire.ReadFrame(c.conn)
		if err != nil {
			return
		}

		switch kind {
		case wire.KindOk:
			var ok wire.Ok
			if wire.Unmarshal(body, &ok) == nil {
				c.deliver(ok.Corr, result{ok: &ok})
			}
		case wire.KindErr:
			var errResp wire.Err
			if wire.Unmarshal(body, &errResp) == nil {
				c.deliver(errResp.Corr, result{err: &errResp})
			}
		case wire.KindOutput:
			var out wire.Output
			if wire.Unmarshal(body, &out) == nil {
				c.events <- Event{Output: &out}
			}
		case wire.KindChannelCreated:
			var created wire.ChannelCreated
			if wire.Unmarshal(body, &created) == nil {
				c.events <- Event{ChannelCreated: &created}
			}
		case wire.KindChannelExited:
			var exited wire.ChannelExited
			if wire.Unmarshal(body, &exited) == nil {
				c.events <- Event{ChannelExited: &exited}
			}
		case wire.KindDropNotice:
			var drop wire.DropNotice
			if wire.Unmarshal(body, &drop) == nil {
				c.events <- Event{DropNotice: &drop}
			}
		}
	}
}

func (c *Conn) deliver(corr uint64, r result) {
	c.mu.Lock()
	ch, ok := c.pending[corr]
	c.mu.Unlock()
	if ok {
		ch <- r
	}
}
