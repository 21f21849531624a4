// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package pump translates replication-stream rows into outbound EDUs/PDUs
// and drives the durable cursors and outbox bookkeeping around them.
package pump

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	internaljson "github.com/federationsender/federationsender/internal/json"
	"github.com/federationsender/federationsender/internal/pdu"
	"github.com/federationsender/federationsender/internal/storage"
	"github.com/federationsender/federationsender/internal/txqueue"
)

// Kicker wakes a destination's sender, e.g. (*sender.Manager).Kick.
type Kicker func(destination string)

// EventPump reads new room events from storage between two stream
// positions, fans them out by room membership, and advances the durable
// cursor.
type EventPump struct {
	Store  storage.Store
	Queue  *txqueue.Queue
	Kick   Kicker
	Origin string // this server's own server-part, excluded from fan-out
}

// Advance is invoked when the replication client reports a new "events"
// stream position top. It processes (last, top] in pages of at most
// pdu.MaxPDUsPerTransaction rows, committing the durable cursor after each
// page is enqueued, so the cursor never skips ahead of what was actually
// enqueued.
func (p *EventPump) Advance(ctx context.Context, top int64) error {
	last, err := p.Store.EventStreamPosition(ctx)
	if err != nil {
		return fmt.Errorf("pump: read event stream position: %w", err)
	}

	for {
		events, err := p.Store.NewEvents(ctx, last, top, pdu.MaxPDUsPerTransaction)
		if err != nil {
			return fmt.Errorf("pump: fetch new events: %w", err)
		}
		if len(events) == 0 {
			break
		}

		for _, e := range events {
			if err := p.processOne(ctx, e); err != nil {
				slog.Error("pump: drop unprocessable event", "stream_id", e.StreamID, "room_id", e.RoomID, "err", err)
			}
		}

		pageTop := events[len(events)-1].StreamID
		if err := p.Store.CommitEventStreamPosition(ctx, pageTop); err != nil {
			return fmt.Errorf("pump: commit event stream position: %w", err)
		}
		last = pageTop

		if len(events) < pdu.MaxPDUsPerTransaction {
			// Fewer than a full page: caught up to top.
			break
		}
	}
	return nil
}

// processOne fans one stored event out to the joined remote hosts of its
// room, skipping non-local senders.
func (p *EventPump) processOne(ctx context.Context, e storage.StoredEvent) error {
	if serverPart(e.Sender) != p.Origin {
		return nil
	}

	hosts, err := p.Store.JoinedServers(ctx, e.RoomID, p.Origin)
	if err != nil {
		return fmt.Errorf("joined servers for %s: %w", e.RoomID, err)
	}
	if len(hosts) == 0 {
		return nil
	}

	var fields eventFields
	if err := internaljson.Unmarshal(e.Content, &fields); err != nil {
		return fmt.Errorf("unmarshal stored event content: %w", err)
	}

	for _, host := range hosts {
		var event *pdu.PduEvent
		if e.FormatVersion == 1 {
			event = pdu.NewV1(e.EventID)
		} else {
			event = pdu.NewV2()
		}
		event.RoomID = e.RoomID
		event.Sender = e.Sender
		event.Origin = p.Origin
		event.OriginServerTS = fields.OriginServerTS
		event.Type = fields.Type
		event.Content = fields.Content
		event.Depth = fields.Depth
		event.AuthEvents = fields.AuthEvents
		event.PrevEvents = fields.PrevEvents
		event.PrevState = fields.PrevState
		event.StateKey = fields.StateKey
		event.Redacts = fields.Redacts

		p.Queue.AppendPDU(host, event)
		p.Kick(host)
	}
	return nil
}

// eventFields holds the subset of a stored event's JSON this pump needs to
// carry onto the outbound PduEvent; room_id/sender/origin/event_id come
// from the storage row itself, not this blob.
type eventFields struct {
	OriginServerTS int64                   `json:"origin_server_ts"`
	Type           string                  `json:"type"`
	Content        internaljson.RawMessage `json:"content"`
	Depth          int64                   `json:"depth"`
	AuthEvents     []string                `json:"auth_events"`
	PrevEvents     []string                `json:"prev_events"`
	PrevState      []string                `json:"prev_state,omitempty"`
	StateKey       *string                 `json:"state_key,omitempty"`
	Redacts        *string                 `json:"redacts,omitempty"`
}

func serverPart(userID string) string {
	i := strings.LastIndexByte(userID, ':')
	if i < 0 {
		return userID
	}
	return userID[i+1:]
}
