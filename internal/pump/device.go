// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package pump

import (
	"context"
	"fmt"
	"sync"

	internaljson "github.com/federationsender/federationsender/internal/json"
	"github.com/federationsender/federationsender/internal/pdu"
	"github.com/federationsender/federationsender/internal/storage"
	"github.com/federationsender/federationsender/internal/txqueue"
)

// devicePumpBudget bounds the total device-message + device-list-poke rows
// fetched the first time a destination is observed.
const devicePumpBudget = 100

// DevicePump routes pending device messages and device-list updates to
// destinations: on first contact with a destination it drains the device
// outbox and device-list poke tables (bounded, split across transactions
// as needed), then cleans both up once the carrying transaction succeeds.
type DevicePump struct {
	Store  storage.Store
	Queue  *txqueue.Queue
	Kick   Kicker
	Origin string

	mu   sync.Mutex
	seen map[string]bool // destinations already primed
}

// PrimeIfFirstSeen queries the outbox and poke tables for destination the
// first time it is observed in this process, enqueues EDUs for what it
// finds (bounded to devicePumpBudget items total, split across
// transactions as either cap is hit), and kicks the destination.
func (d *DevicePump) PrimeIfFirstSeen(ctx context.Context, destination string) error {
	d.mu.Lock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	if d.seen[destination] {
		d.mu.Unlock()
		return nil
	}
	d.seen[destination] = true
	d.mu.Unlock()

	budget := devicePumpBudget

	messages, err := d.Store.PendingOutbox(ctx, destination, 0, budget)
	if err != nil {
		return fmt.Errorf("pump: pending outbox for %s: %w", destination, err)
	}
	budget -= len(messages)
	if budget < 0 {
		budget = 0
	}

	pokes, err := d.Store.PendingDeviceListPokes(ctx, destination, 0, budget)
	if err != nil {
		return fmt.Errorf("pump: pending device list pokes for %s: %w", destination, err)
	}

	if len(messages) == 0 && len(pokes) == 0 {
		return nil
	}

	for _, m := range messages {
		d.Queue.AppendEDU(destination, pdu.EduEvent{
			Origin:   d.Origin,
			EduType:  "m.direct_to_device",
			Content:  m.MessagesJSON,
			StreamID: m.StreamID,
		})
	}
	for _, p := range pokes {
		d.Queue.AppendEDU(destination, devicePokeEDU(d.Origin, p))
	}
	d.Kick(destination)
	return nil
}

// OnTransactionSuccess deletes outbox rows and marks device-list pokes sent
// for whatever this transaction's EDUs carried.
func (d *DevicePump) OnTransactionSuccess(ctx context.Context, tx *pdu.Transaction) error {
	var outboxIDs []int64
	var pokes []storage.DeviceListPoke

	for _, edu := range tx.EDUs {
		switch edu.EduType {
		case "m.direct_to_device":
			if edu.StreamID != 0 {
				outboxIDs = append(outboxIDs, edu.StreamID)
			}
		case "m.device_list_update":
			var wire wireDeviceListUpdate
			if err := internaljson.Unmarshal(edu.Content, &wire); err == nil && edu.StreamID != 0 {
				pokes = append(pokes, storage.DeviceListPoke{
					Destination: tx.Destination,
					StreamID:    edu.StreamID,
					UserID:      wire.UserID,
				})
			}
		}
	}

	if len(outboxIDs) > 0 {
		if err := d.Store.DeleteOutbox(ctx, tx.Destination, outboxIDs); err != nil {
			return fmt.Errorf("pump: delete outbox rows for %s: %w", tx.Destination, err)
		}
	}
	if len(pokes) > 0 {
		if err := d.Store.MarkDeviceListPokesSent(ctx, tx.Destination, pokes); err != nil {
			return fmt.Errorf("pump: mark device list pokes sent for %s: %w", tx.Destination, err)
		}
	}
	return nil
}

type wireDeviceListUpdate struct {
	UserID string `json:"user_id"`
}

// devicePokeEDU builds the EDU for one poke row. It deliberately carries no
// InternalKey: unlike presence/typing, every poke row must reach the wire so
// OnTransactionSuccess can mark it sent. Collapsing two pokes for the same
// user would strand the replaced row's stream_id as pending forever.
func devicePokeEDU(origin string, p storage.DeviceListPoke) pdu.EduEvent {
	content, _ := internaljson.Marshal(wireDeviceListUpdate{UserID: p.UserID})
	return pdu.EduEvent{
		Origin:   origin,
		EduType:  "m.device_list_update",
		Content:  content,
		StreamID: p.StreamID,
	}
}
