// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package sender drains per-destination transaction queues, serializing
// delivery to each remote home-server while bounding global concurrency.
//
// Each destination owns exactly one goroutine for as long as it has work,
// started the first time the destination is kicked: a "start-if-idle,
// share a guarded map" pattern is race-prone around the release/reacquire
// window, so the owning goroutine instead runs until its queue is empty
// and only then drops its claim.
package sender

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/federationsender/federationsender/internal/backoff"
	"github.com/federationsender/federationsender/internal/metrics"
	"github.com/federationsender/federationsender/internal/pdu"
	"github.com/federationsender/federationsender/internal/txqueue"
)

// Transport sends one transaction and reports the resulting HTTP status
// code (0 if the request never reached the peer) and any transport error.
// internal/federation.Client satisfies this.
type Transport interface {
	Send(ctx context.Context, destinationBaseURL string, tx *pdu.Transaction) (statusCode int, err error)
}

// Resolver turns a destination server name into the base URL its federation
// API is reached at. Server discovery (.well-known delegation, SRV lookups)
// is delegated to it; this package only calls it.
type Resolver func(destination string) (baseURL string, err error)

// OnSuccess is invoked after a transaction is successfully delivered, so the
// event/presence/device pumps can run their post-success bookkeeping:
// device-outbox cleanup, device-list-poke marking.
type OnSuccess func(ctx context.Context, tx *pdu.Transaction)

// Config bounds the sender manager's resource usage.
type Config struct {
	// MaxConcurrency is the global semaphore size bounding concurrent
	// in-flight transactions (default 100).
	MaxConcurrency int
	// SpinUpRate bounds how fast new destinations' owning goroutines are
	// started, smoothing a connection storm when many destinations
	// become active at once. Zero means unlimited.
	SpinUpRate rate.Limit
	// ShutdownGrace bounds how long Shutdown waits for destination
	// goroutines to exit (default 60s). Shutdown cancels the context sends
	// run under, so an in-flight HTTP call is aborted, not left to finish.
	ShutdownGrace time.Duration
}

// Manager owns one goroutine per active destination, draining its
// transaction queue under a global concurrency gate and the shared backoff
// registry.
type Manager struct {
	cfg       Config
	queue     *txqueue.Queue
	transport Transport
	resolve   Resolver
	backoff   *backoff.Registry
	onSuccess OnSuccess
	metrics   metrics.Recorder

	sem      chan struct{} // global concurrency gate
	spinUp   *rate.Limiter

	mu      sync.Mutex
	active  map[string]chan struct{} // destination -> kick signal; present iff a goroutine owns it
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewManager builds a Manager. Call Start before Kick.
func NewManager(cfg Config, q *txqueue.Queue, t Transport, resolve Resolver, reg *backoff.Registry, onSuccess OnSuccess, rec metrics.Recorder) *Manager {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 100
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 60 * time.Second
	}
	var lim *rate.Limiter
	if cfg.SpinUpRate > 0 {
		lim = rate.NewLimiter(cfg.SpinUpRate, int(cfg.SpinUpRate)+1)
	}
	return &Manager{
		cfg:       cfg,
		queue:     q,
		transport: t,
		resolve:   resolve,
		backoff:   reg,
		onSuccess: onSuccess,
		metrics:   rec,
		sem:       make(chan struct{}, cfg.MaxConcurrency),
		spinUp:    lim,
		active:    make(map[string]chan struct{}),
	}
}

// Start prepares the manager to accept Kick calls. ctx governs the
// lifetime of all destination goroutines; cancelling it begins shutdown.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
}

// Shutdown cancels all destination goroutines, including any in-flight
// sends, and waits (up to cfg.ShutdownGrace) for them to exit.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.cfg.ShutdownGrace):
		slog.Warn("sender: shutdown grace period elapsed with senders still running")
	}
}

// Kick ensures dest has an owning goroutine draining its queue. It is safe
// to call repeatedly and concurrently; if dest already has an active
// goroutine, Kick just wakes it.
func (m *Manager) Kick(dest string) {
	m.mu.Lock()
	wake, ok := m.active[dest]
	starting := !ok
	if starting {
		wake = make(chan struct{}, 1)
		m.active[dest] = wake
		m.wg.Add(1)
	}
	m.mu.Unlock()

	if starting {
		// Reserved dest's slot in m.active above, so concurrent Kicks for
		// the same destination see it as active and just signal wake below;
		// the rate-limit wait here only blocks this destination's own
		// startup, not the global Kick path.
		if m.spinUp != nil {
			_ = m.spinUp.Wait(m.ctx)
		}
		go m.run(dest, wake)
	}

	select {
	case wake <- struct{}{}:
	default:
	}
}

// run is the destination's owning goroutine: it drains the queue until
// empty, then exits, dropping its slot in m.active so a future Kick starts
// a fresh goroutine.
func (m *Manager) run(dest string, wake chan struct{}) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if m.active[dest] == wake {
			delete(m.active, dest)
		}
		m.mu.Unlock()
	}()

	for {
		tx := m.queue.Peek(dest)
		if tx == nil {
			select {
			case <-m.ctx.Done():
				return
			case <-wake:
				continue
			case <-time.After(100 * time.Millisecond):
				// Re-check the queue even without a wake, and give up the
				// slot under m.mu, so a Kick that raced the empty-check
				// above is never lost: it either finds this goroutine still
				// active (and its item is seen here) or starts a fresh one.
				m.mu.Lock()
				if m.queue.Peek(dest) == nil {
					delete(m.active, dest)
					m.mu.Unlock()
					return
				}
				m.mu.Unlock()
			}
			continue
		}

		select {
		case m.sem <- struct{}{}:
		case <-m.ctx.Done():
			return
		}

		status, err := m.attempt(dest, tx)
		<-m.sem

		switch backoff.Classify(status, err) {
		case backoff.Success:
			m.backoff.RecordSuccess(dest)
			m.metrics.IncSendResult(dest, "success")
			m.queue.Pop(dest)
			if m.onSuccess != nil {
				m.onSuccess(m.ctx, tx)
			}
		case backoff.Transient:
			delay := m.backoff.RecordTransient(dest)
			m.metrics.IncSendResult(dest, "retry")
			slog.Warn("federation send failed, retrying",
				"destination", dest, "transaction_id", tx.ID, "status", status, "err", err, "retry_in", delay)
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(delay):
			}
			// Loop without popping: the same transaction is retried.
		case backoff.Terminal:
			m.backoff.RecordTerminal(dest)
			m.metrics.IncSendResult(dest, "fail")
			slog.Error("federation send failed terminally, dropping transaction",
				"destination", dest, "transaction_id", tx.ID, "status", status, "err", err)
			m.queue.Pop(dest)
		}
	}
}

func (m *Manager) attempt(dest string, tx *pdu.Transaction) (int, error) {
	start := time.Now()
	m.metrics.SetInFlight(dest, 1)
	defer m.metrics.SetInFlight(dest, 0)

	base, err := m.resolve(dest)
	if err != nil {
		return 0, err
	}
	status, err := m.transport.Send(m.ctx, base, tx)
	m.metrics.ObserveSendDuration(dest, time.Since(start))
	return status, err
}
