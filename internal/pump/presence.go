// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package pump

import (
	"context"
	"fmt"
	"sync"
	"time"

	internaljson "github.com/federationsender/federationsender/internal/json"
	"github.com/federationsender/federationsender/internal/pdu"
	"github.com/federationsender/federationsender/internal/storage"
	"github.com/federationsender/federationsender/internal/txqueue"
)

// PresenceState is one reported presence update.
type PresenceState struct {
	UserID          string
	State           string // "online", "offline", "unavailable", ...
	LastActiveTS    int64  // zero means "unknown"
	StatusMsg       *string
	CurrentlyActive bool
}

// PresencePump coalesces a batch of PresenceState by user id, resolves the
// remote servers sharing a room with each local user, and enqueues one
// m.presence EDU per (host, user).
type PresencePump struct {
	Store  storage.Store
	Queue  *txqueue.Queue
	Kick   Kicker
	Origin string

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time

	mu        sync.Mutex
	coalesced map[string]PresenceState
}

func (p *PresencePump) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Flush accepts a batch, retains only local users, coalesces by user id
// (later state in the batch overrides earlier), then routes and clears the
// coalescing map.
func (p *PresencePump) Flush(ctx context.Context, batch []PresenceState) error {
	p.mu.Lock()
	if p.coalesced == nil {
		p.coalesced = make(map[string]PresenceState)
	}
	for _, s := range batch {
		if serverPart(s.UserID) != p.Origin {
			continue
		}
		p.coalesced[s.UserID] = s
	}
	pending := p.coalesced
	p.coalesced = make(map[string]PresenceState)
	p.mu.Unlock()

	for _, s := range pending {
		if err := p.routeOne(ctx, s); err != nil {
			return fmt.Errorf("pump: route presence for %s: %w", s.UserID, err)
		}
	}
	return nil
}

func (p *PresencePump) routeOne(ctx context.Context, s PresenceState) error {
	rooms, err := p.Store.RoomsForUser(ctx, s.UserID)
	if err != nil {
		return fmt.Errorf("rooms for user: %w", err)
	}

	hosts := make(map[string]bool)
	for _, room := range rooms {
		servers, err := p.Store.JoinedServers(ctx, room, p.Origin)
		if err != nil {
			return fmt.Errorf("joined servers for %s: %w", room, err)
		}
		for _, server := range servers {
			hosts[server] = true
		}
	}

	content, err := presenceContent(s, p.now())
	if err != nil {
		return fmt.Errorf("format presence content: %w", err)
	}

	for host := range hosts {
		edu := pdu.EduEvent{
			Origin:      p.Origin,
			EduType:     "m.presence",
			Content:     content,
			InternalKey: "m.presence:" + s.UserID,
		}
		p.Queue.AppendEDU(host, edu)
		p.Kick(host)
	}
	return nil
}

// wirePresence is the canonical m.presence EDU content shape.
type wirePresence struct {
	UserID          string  `json:"user_id"`
	Presence        string  `json:"presence"`
	LastActiveAgo   *int64  `json:"last_active_ago,omitempty"`
	StatusMsg       *string `json:"status_msg,omitempty"`
	CurrentlyActive *bool   `json:"currently_active,omitempty"`
}

// presenceRow is the shape of one row on the upstream "presence" replication
// stream: the source's own internal PresenceState, not the wire EDU format.
type presenceRow struct {
	UserID          string  `json:"user_id"`
	State           string  `json:"state"`
	LastActiveTS    int64   `json:"last_active_ts"`
	StatusMsg       *string `json:"status_msg"`
	CurrentlyActive bool    `json:"currently_active"`
}

// DecodePresenceRow decodes one raw "presence" replication row into a
// PresenceState, for the caller to batch up and pass to Flush.
func DecodePresenceRow(raw internaljson.RawMessage) (PresenceState, error) {
	var row presenceRow
	if err := internaljson.Unmarshal(raw, &row); err != nil {
		return PresenceState{}, fmt.Errorf("pump: decode presence row: %w", err)
	}
	return PresenceState{
		UserID:          row.UserID,
		State:           row.State,
		LastActiveTS:    row.LastActiveTS,
		StatusMsg:       row.StatusMsg,
		CurrentlyActive: row.CurrentlyActive,
	}, nil
}

// presenceContent formats a PresenceState into canonical EDU content:
// last_active_ago is included iff last_active_ts is known, status_msg is
// included iff non-nil and state isn't "offline", and currently_active is
// included (and true) iff state is "online".
func presenceContent(s PresenceState, now time.Time) (internaljson.RawMessage, error) {
	w := wirePresence{UserID: s.UserID, Presence: s.State}
	if s.LastActiveTS != 0 {
		ago := now.UnixMilli() - s.LastActiveTS
		w.LastActiveAgo = &ago
	}
	if s.StatusMsg != nil && s.State != "offline" {
		w.StatusMsg = s.StatusMsg
	}
	if s.State == "online" {
		t := true
		w.CurrentlyActive = &t
	}
	return internaljson.Marshal(w)
}
