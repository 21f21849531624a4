// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package replication is a long-lived TCP client for the upstream
// home-server's line-based replication protocol. It frames on newline
// (internal/replication/framer.go), demultiplexes multiple
// logical streams, reassembles batched RDATA rows into single StreamUpdates,
// and tracks connection state through Disconnected → Resolving → Connected
// → Named → Ready.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	internaljson "github.com/federationsender/federationsender/internal/json"
)

// State is a connection lifecycle stage.
type State int

const (
	Disconnected State = iota
	Resolving
	Connected
	Named
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Resolving:
		return "resolving"
	case Connected:
		return "connected"
	case Named:
		return "named"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// StreamUpdate is a batch of homogeneous rows for one logical stream.
type StreamUpdate struct {
	Stream   string
	Position string
	Rows     []internaljson.RawMessage
}

// ErrProtocol wraps a fatal ERROR command received from the server.
type ErrProtocol struct{ Text string }

func (e *ErrProtocol) Error() string { return "replication: server error: " + e.Text }

const (
	pingInterval   = 5 * time.Second
	minReconnect   = time.Second
	maxReconnect   = 30 * time.Second
	maxCommandArgs = 3 // verb-specific field count, trailing field unsplit
)

// Client subscribes to named replication streams over one TCP connection,
// reconnecting with exponential backoff on failure while preserving
// subscriptions and last-known positions.
type Client struct {
	addr       string
	clientName string
	dial       func(ctx context.Context, addr string) (net.Conn, error)

	subsMu sync.Mutex
	subs   map[string]*subscription

	connMu sync.Mutex
	conn   net.Conn
	state  State

	onError func(error) // invoked on fatal protocol errors, for logging/metrics
}

type subscription struct {
	ch       chan StreamUpdate
	position string // last position requested/acknowledged for this stream
	pending  []internaljson.RawMessage
}

// NewClient creates a replication client dialing addr with plain TCP.
// clientName is sent as the NAME on every (re)connect.
func NewClient(addr, clientName string) *Client {
	return &Client{
		addr:       addr,
		clientName: clientName,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
		subs:  make(map[string]*subscription),
		state: Disconnected,
	}
}

// OnError registers a callback invoked whenever the server sends a fatal
// ERROR command. Must be called before Run.
func (c *Client) OnError(f func(error)) { c.onError = f }

// Subscribe registers interest in stream, requesting delivery starting at
// position ("-1" for latest). It returns a channel of
// reassembled StreamUpdates; the channel is buffered and never closed while
// the client runs. Subscribe must be called before Run, or while Run is
// between connection attempts — it is safe for concurrent use.
func (c *Client) Subscribe(stream, position string) <-chan StreamUpdate {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	sub, ok := c.subs[stream]
	if !ok {
		sub = &subscription{ch: make(chan StreamUpdate, 16)}
		c.subs[stream] = sub
	}
	sub.position = position
	return sub.ch
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.connMu.Lock()
	c.state = s
	c.connMu.Unlock()
}

// Run connects, serves the protocol, and reconnects with exponential
// backoff (1s → 30s) until ctx is cancelled. It returns nil on
// orderly shutdown (ctx cancelled) and a non-nil error only if construction
// of the client itself is invalid; transient connection failures are
// logged and retried internally, never returned.
func (c *Client) Run(ctx context.Context) error {
	delay := minReconnect
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := c.runOnce(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		var perr *ErrProtocol
		if errors.As(err, &perr) && c.onError != nil {
			c.onError(err)
		}
		slog.Warn("replication connection lost, reconnecting",
			"addr", c.addr, "err", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnect {
			delay = maxReconnect
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	c.setState(Resolving)
	conn, err := c.dial(ctx, c.addr)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.setState(Connected)
	defer func() {
		conn.Close()
		c.setState(Disconnected)
	}()

	if _, err := fmt.Fprintf(conn, "%s\n", formatNAME(c.clientName)); err != nil {
		return fmt.Errorf("send NAME: %w", err)
	}
	c.setState(Named)

	if err := c.resendSubscriptions(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-runCtx.Done()
		conn.Close() // unblocks the read loop on shutdown
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- c.pingLoop(runCtx) }()

	readErr := c.readLoop(conn)
	cancel()
	<-errCh
	return readErr
}

func (c *Client) resendSubscriptions() error {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for stream, sub := range c.subs {
		sub.pending = nil
		pos := sub.position
		if pos == "" {
			pos = latestPosition
		}
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if _, err := fmt.Fprintf(conn, "%s\n", formatREPLICATE(stream, pos)); err != nil {
			return fmt.Errorf("send REPLICATE %s: %w", stream, err)
		}
	}
	return nil
}

func (c *Client) pingLoop(ctx context.Context) error {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	var n int
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if c.State() != Ready && c.State() != Named {
				continue
			}
			n++
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				continue
			}
			if _, err := fmt.Fprintf(conn, "%s\n", formatPING(fmt.Sprint(n))); err != nil {
				return nil // readLoop will observe the same broken connection
			}
		}
	}
}

func (c *Client) readLoop(conn net.Conn) error {
	sc := newLineScanner(conn)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue // empty lines are discarded
		}
		if first {
			c.setState(Ready)
			first = false
		}
		if err := c.handleLine(line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("connection closed by peer")
}

func (c *Client) handleLine(line string) error {
	cmd, err := parseCommand(line, maxCommandArgs)
	if err != nil {
		return nil
	}
	switch cmd.verb {
	case verbServer:
		// Informational; nothing to act on.
		return nil
	case verbPing:
		return nil
	case verbPosition:
		if len(cmd.args) < 2 {
			slog.Error("replication: malformed POSITION", "line", line)
			return nil
		}
		return c.flush(cmd.args[0], cmd.args[1], nil)
	case verbRData:
		return c.handleRData(cmd.args)
	case verbError:
		text := strings.Join(cmd.args, " ")
		return &ErrProtocol{Text: text}
	default:
		slog.Error("replication: unrecognized command", "verb", cmd.verb, "line", line)
		return nil
	}
}

func (c *Client) handleRData(args []string) error {
	if len(args) < 3 {
		slog.Error("replication: malformed RDATA", "args", args)
		return nil
	}
	stream, position, row := args[0], args[1], args[2]

	c.subsMu.Lock()
	sub, ok := c.subs[stream]
	if !ok {
		c.subsMu.Unlock()
		return nil // no subscriber for this stream; ignore
	}
	sub.pending = append(sub.pending, internaljson.RawMessage(row))
	if position == batchPosition {
		c.subsMu.Unlock()
		return nil
	}
	rows := sub.pending
	sub.pending = nil
	sub.position = position
	ch := sub.ch
	c.subsMu.Unlock()

	ch <- StreamUpdate{Stream: stream, Position: position, Rows: rows}
	return nil
}

// flush delivers a POSITION-only update (no rows) as an authoritative
// cursor advance.
func (c *Client) flush(stream, position string, rows []internaljson.RawMessage) error {
	c.subsMu.Lock()
	sub, ok := c.subs[stream]
	if !ok {
		c.subsMu.Unlock()
		return nil
	}
	sub.position = position
	ch := sub.ch
	c.subsMu.Unlock()
	ch <- StreamUpdate{Stream: stream, Position: position, Rows: rows}
	return nil
}
