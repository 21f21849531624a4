// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package pump

import (
	"context"
	"testing"

	"github.com/federationsender/federationsender/internal/storage"
	"github.com/federationsender/federationsender/internal/txqueue"
)

func TestEventPumpAdvanceCommitsCursorExactlyOncePastRange(t *testing.T) {
	store := storage.NewMemory()
	store.PutMembership("!r:example", "@remote:remote.example", "join")
	for _, id := range []int64{1, 2, 3} {
		store.PutEvent(storage.StoredEvent{
			StreamID:      id,
			RoomID:        "!r:example",
			Sender:        "@local:origin.example",
			FormatVersion: 2,
			Content:       []byte(`{"type":"m.room.message","origin_server_ts":1,"depth":1,"auth_events":[],"prev_events":[],"content":{}}`),
		})
	}

	q := txqueue.New("origin.example")
	var kicked []string
	p := &EventPump{
		Store:  store,
		Queue:  q,
		Kick:   func(dest string) { kicked = append(kicked, dest) },
		Origin: "origin.example",
	}

	if err := p.Advance(context.Background(), 3); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	pos, err := store.EventStreamPosition(context.Background())
	if err != nil || pos != 3 {
		t.Fatalf("cursor after advance = (%d, %v), want (3, nil)", pos, err)
	}
	if q.Len("remote.example") != 1 {
		t.Fatalf("queue len for remote.example = %d, want 1", q.Len("remote.example"))
	}
	tx := q.Peek("remote.example")
	if len(tx.PDUs) != 3 {
		t.Fatalf("PDUs in transaction = %d, want 3", len(tx.PDUs))
	}

	// Advancing again over the same range must not re-deliver anything:
	// the cursor already covers it.
	if err := p.Advance(context.Background(), 3); err != nil {
		t.Fatalf("second Advance: %v", err)
	}
	if len(tx.PDUs) != 3 {
		t.Fatalf("PDUs after redundant Advance = %d, want still 3", len(tx.PDUs))
	}
}

func TestEventPumpSkipsNonLocalSenders(t *testing.T) {
	store := storage.NewMemory()
	store.PutMembership("!r:example", "@remote:remote.example", "join")
	store.PutEvent(storage.StoredEvent{
		StreamID:      1,
		RoomID:        "!r:example",
		Sender:        "@someone:other.example",
		FormatVersion: 2,
		Content:       []byte(`{}`),
	})

	q := txqueue.New("origin.example")
	p := &EventPump{Store: store, Queue: q, Kick: func(string) {}, Origin: "origin.example"}

	if err := p.Advance(context.Background(), 1); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if q.Len("remote.example") != 0 {
		t.Fatalf("queue len for remote.example = %d, want 0 (non-local sender must be skipped)", q.Len("remote.example"))
	}
}

func TestEventPumpPaginatesWhenPageIsFull(t *testing.T) {
	store := storage.NewMemory()
	store.PutMembership("!r:example", "@remote:remote.example", "join")
	for id := int64(1); id <= 60; id++ {
		store.PutEvent(storage.StoredEvent{
			StreamID:      id,
			RoomID:        "!r:example",
			Sender:        "@local:origin.example",
			FormatVersion: 2,
			Content:       []byte(`{}`),
		})
	}

	q := txqueue.New("origin.example")
	p := &EventPump{Store: store, Queue: q, Kick: func(string) {}, Origin: "origin.example"}

	if err := p.Advance(context.Background(), 60); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	pos, _ := store.EventStreamPosition(context.Background())
	if pos != 60 {
		t.Fatalf("cursor = %d, want 60", pos)
	}

	total := 0
	for dest := "remote.example"; ; {
		tx := q.Pop(dest)
		if tx == nil {
			break
		}
		total += len(tx.PDUs)
	}
	if total != 60 {
		t.Fatalf("total PDUs across transactions = %d, want 60", total)
	}
}
