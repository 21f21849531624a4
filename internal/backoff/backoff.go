// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package backoff classifies federation send failures and tracks the retry
// schedule per destination.
package backoff

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Classification is the outcome of inspecting a send failure.
type Classification int

const (
	// Success means the send succeeded; any existing entry is cleared.
	Success Classification = iota
	// Transient means the failure should be retried after a delay.
	Transient
	// Terminal means the failure must not be retried; the transaction is
	// dropped.
	Terminal
)

const (
	// DefaultBase is the initial retry delay.
	DefaultBase = time.Second
	// DefaultCap is the maximum retry delay.
	DefaultCap = time.Hour
	// gcInterval is how often stale entries are pruned.
	gcInterval = time.Minute
	// gcAfter is how long past next_attempt_allowed an entry must be,
	// with no further failures recorded, before it is eligible for
	// garbage collection.
	gcAfter = time.Hour
)

// Entry is the per-destination retry bookkeeping record.
type Entry struct {
	Destination        string
	ConsecutiveFailures int
	NextAttemptAllowed  time.Time
	LastClassification  Classification
}

// Registry tracks one Entry per destination with a failure history. It is
// safe for concurrent use.
type Registry struct {
	Base time.Duration
	Cap  time.Duration

	mu      sync.Mutex
	entries map[string]*Entry

	cron *cron.Cron
}

// NewRegistry creates a Registry with the default base/cap delays and
// starts the maintenance scheduler that prunes stale entries. Call Stop to
// shut the scheduler down.
func NewRegistry() *Registry {
	r := &Registry{
		Base:    DefaultBase,
		Cap:     DefaultCap,
		entries: make(map[string]*Entry),
		cron:    cron.New(),
	}
	_, err := r.cron.AddFunc("@every 1m", r.gc)
	if err != nil {
		// A literal, constant schedule string failing to parse is a
		// programmer error, not a runtime condition.
		panic("backoff: invalid cron schedule: " + err.Error())
	}
	r.cron.Start()
	return r
}

// Stop halts the background garbage-collection scheduler.
func (r *Registry) Stop() { r.cron.Stop() }

// gc drops entries that have been inactive well past their retry window:
// destinations that failed once, were never retried (e.g. the queue
// drained, or the destination produced no further traffic), and whose
// next_attempt_allowed is long past. An unbounded map of per-destination
// backoff state is otherwise the one thing in this worker nothing else
// prunes.
func (r *Registry) gc() {
	cutoff := time.Now().Add(-gcAfter)
	r.mu.Lock()
	defer r.mu.Unlock()
	for dest, e := range r.entries {
		if e.NextAttemptAllowed.Before(cutoff) {
			delete(r.entries, dest)
		}
	}
}

// Classify maps a send error (and HTTP status, when available) to a
// Classification.
func Classify(statusCode int, err error) Classification {
	if err == nil && statusCode == 0 {
		return Success
	}
	if err != nil {
		if isTransientNetworkError(err) {
			return Transient
		}
		// Malformed-response and signing errors are surfaced as plain
		// errors by the caller (not an HTTP status) and are terminal.
		return Terminal
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return Success
	case statusCode == http.StatusTooManyRequests:
		return Transient
	case statusCode >= 500:
		return Transient
	case statusCode >= 400:
		return Terminal
	default:
		return Terminal
	}
}

func isTransientNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

// RecordSuccess clears any backoff entry for dest: a success after one or
// more failures clears the failure history.
func (r *Registry) RecordSuccess(dest string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, dest)
}

// RecordTerminal clears any backoff entry for dest; terminal failures are
// not retried and do not grow the backoff state.
func (r *Registry) RecordTerminal(dest string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, dest)
}

// RecordTransient records a transient failure for dest and returns the
// delay the caller should wait before retrying:
// min(cap, base·2^(n-1))·jitter(0.5…1.5).
func (r *Registry) RecordTransient(dest string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[dest]
	if !ok {
		e = &Entry{Destination: dest}
		r.entries[dest] = e
	}
	e.ConsecutiveFailures++
	e.LastClassification = Transient

	delay := r.Base * (1 << uint(e.ConsecutiveFailures-1))
	if delay > r.Cap || delay <= 0 { // overflow guard on large exponents
		delay = r.Cap
	}
	jitter := 0.5 + rand.Float64()
	delay = time.Duration(float64(delay) * jitter)

	e.NextAttemptAllowed = time.Now().Add(delay)
	return delay
}

// Entry returns a copy of the current entry for dest, and whether one
// exists.
func (r *Registry) Entry(dest string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[dest]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
