// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package txqueue builds per-destination Transaction queues, coalescing
// PDUs and EDUs into size-capped transactions.
package txqueue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/federationsender/federationsender/internal/pdu"
)

// Queue holds one FIFO of pending transactions per destination. New items
// are appended to the tail transaction unless it is at a cap; appends and
// pops are safe for concurrent use, but pops are expected to happen only
// from within a destination's owning sender goroutine.
type Queue struct {
	origin string
	nextID atomic.Int64

	mu    sync.Mutex
	lists map[string][]*pdu.Transaction
}

// New creates a Queue for origin, seeding the transaction-id counter at the
// current Unix-seconds value.
func New(origin string) *Queue {
	q := &Queue{origin: origin, lists: make(map[string][]*pdu.Transaction)}
	q.nextID.Store(time.Now().Unix())
	return q
}

func (q *Queue) allocID() string {
	n := q.nextID.Add(1)
	return formatTxnID(n)
}

func formatTxnID(n int64) string {
	// Monotonically increasing within the process; the exact textual form
	// is opaque to peers.
	const base = 36
	if n == 0 {
		return "0"
	}
	digits := "0123456789abcdefghijklmnopqrstuvwxyz"
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n%base]
		n /= base
	}
	return string(buf[i:])
}

func (q *Queue) tail(dest string) *pdu.Transaction {
	list := q.lists[dest]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// getOrCreateLocked returns the tail transaction for dest if it has room
// under the given predicate, else appends and returns a fresh one.
func (q *Queue) getOrCreateLocked(dest string, full func(*pdu.Transaction) bool) *pdu.Transaction {
	t := q.tail(dest)
	if t != nil && !full(t) {
		return t
	}
	t = &pdu.Transaction{
		ID:             q.allocID(),
		Origin:         q.origin,
		OriginServerTS: time.Now().UnixMilli(),
		Destination:    dest,
	}
	q.lists[dest] = append(q.lists[dest], t)
	return t
}

// AppendPDU appends p to dest's tail transaction, opening a new one if the
// tail is at MaxPDUsPerTransaction.
func (q *Queue) AppendPDU(dest string, p *pdu.PduEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.getOrCreateLocked(dest, (*pdu.Transaction).PDUsFull)
	t.PDUs = append(t.PDUs, p)
}

// AppendEDU appends e to dest's tail transaction, opening a new one if the
// tail is at MaxEDUsPerTransaction. If e carries a non-empty InternalKey and
// the tail transaction already holds an EDU with the same key, that EDU is
// replaced in place rather than appended again.
func (q *Queue) AppendEDU(dest string, e pdu.EduEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e.Destination = dest

	if e.InternalKey != "" {
		if t := q.tail(dest); t != nil {
			for i, existing := range t.EDUs {
				if existing.InternalKey == e.InternalKey {
					t.EDUs[i] = e
					return
				}
			}
		}
	}

	t := q.getOrCreateLocked(dest, (*pdu.Transaction).EDUsFull)
	t.EDUs = append(t.EDUs, e)
}

// Peek returns the head transaction for dest without removing it, or nil
// if the queue is empty.
func (q *Queue) Peek(dest string) *pdu.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.lists[dest]
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

// Pop removes and returns the head transaction for dest, or nil if empty.
// Pops must only happen from the destination's owning sender task.
func (q *Queue) Pop(dest string) *pdu.Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.lists[dest]
	if len(list) == 0 {
		return nil
	}
	t := list[0]
	q.lists[dest] = list[1:]
	if len(q.lists[dest]) == 0 {
		delete(q.lists, dest)
	}
	return t
}

// Len reports how many transactions are queued for dest.
func (q *Queue) Len(dest string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lists[dest])
}
