// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package storage

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store fake, used by the pump and sender unit
// tests so they don't need a live Postgres instance. It is not meant for
// production use; see Postgres for that.
type Memory struct {
	mu sync.Mutex

	eventStreamPos int64
	events         []StoredEvent
	memberships    map[string][]membership // room_id -> rows
	outbox         map[string][]OutboxMessage
	pokes          map[string][]DeviceListPoke
}

type membership struct {
	userID     string
	membership string
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		memberships: make(map[string][]membership),
		outbox:      make(map[string][]OutboxMessage),
		pokes:       make(map[string][]DeviceListPoke),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Close() error { return nil }

func (m *Memory) EventStreamPosition(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventStreamPos, nil
}

func (m *Memory) CommitEventStreamPosition(ctx context.Context, pos int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventStreamPos = pos
	return nil
}

// PutEvent seeds a StoredEvent for tests. Events do not need to be inserted
// in stream-id order; NewEvents sorts at read time.
func (m *Memory) PutEvent(e StoredEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// PutMembership seeds a room_memberships row for tests.
func (m *Memory) PutMembership(roomID, userID, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberships[roomID] = append(m.memberships[roomID], membership{userID: userID, membership: state})
}

// PutOutbox seeds a device_federation_outbox row for tests.
func (m *Memory) PutOutbox(msg OutboxMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox[msg.Destination] = append(m.outbox[msg.Destination], msg)
}

// PutDeviceListPoke seeds a device_lists_outbound_pokes row for tests.
func (m *Memory) PutDeviceListPoke(p DeviceListPoke) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pokes[p.Destination] = append(m.pokes[p.Destination], p)
}

func (m *Memory) NewEvents(ctx context.Context, after, upTo int64, limit int) ([]StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []StoredEvent
	for _, e := range m.events {
		if e.StreamID > after && e.StreamID <= upTo {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StreamID < matched[j].StreamID })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *Memory) JoinedServers(ctx context.Context, roomID, self string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, row := range m.memberships[roomID] {
		if row.membership != "join" {
			continue
		}
		server := serverPart(row.userID)
		if server == self || seen[server] {
			continue
		}
		seen[server] = true
		out = append(out, server)
	}
	return out, nil
}

func serverPart(userID string) string {
	for i := len(userID) - 1; i >= 0; i-- {
		if userID[i] == ':' {
			return userID[i+1:]
		}
	}
	return userID
}

func (m *Memory) RoomsForUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for roomID, rows := range m.memberships {
		for _, row := range rows {
			if row.userID == userID && row.membership == "join" {
				out = append(out, roomID)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) PendingOutbox(ctx context.Context, destination string, after int64, limit int) ([]OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []OutboxMessage
	for _, msg := range m.outbox[destination] {
		if msg.StreamID > after {
			matched = append(matched, msg)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StreamID < matched[j].StreamID })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *Memory) DeleteOutbox(ctx context.Context, destination string, streamIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[int64]bool, len(streamIDs))
	for _, id := range streamIDs {
		drop[id] = true
	}
	kept := m.outbox[destination][:0]
	for _, msg := range m.outbox[destination] {
		if !drop[msg.StreamID] {
			kept = append(kept, msg)
		}
	}
	m.outbox[destination] = kept
	return nil
}

func (m *Memory) PendingDeviceListPokes(ctx context.Context, destination string, after int64, limit int) ([]DeviceListPoke, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []DeviceListPoke
	for _, p := range m.pokes[destination] {
		if p.StreamID > after {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StreamID < matched[j].StreamID })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *Memory) MarkDeviceListPokesSent(ctx context.Context, destination string, pokes []DeviceListPoke) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sentKey := make(map[[2]any]bool, len(pokes))
	for _, p := range pokes {
		sentKey[[2]any{p.StreamID, p.UserID}] = true
	}
	// Memory has no "sent" flag field; a poke marked sent is just removed,
	// since nothing here ever reads a sent=true row.
	var kept []DeviceListPoke
	for _, p := range m.pokes[destination] {
		if !sentKey[[2]any{p.StreamID, p.UserID}] {
			kept = append(kept, p)
		}
	}
	m.pokes[destination] = kept
	return nil
}
