// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package storage abstracts over the relational store as five contracts:
// the durable replication cursor, the events view the event pump reads
// from, room membership for host resolution, and the two device-message
// outbox tables.
package storage

import (
	"context"
)

// StreamTypeEvents names the federation_stream_position row holding the
// event cursor, the only row type in use; the type column exists to let
// other stream types share the table.
const StreamTypeEvents = "events"

// StoredEvent is one row the event pump consumes from the events view.
type StoredEvent struct {
	StreamID      int64
	RoomID        string
	Sender        string // "localpart:server"
	FormatVersion int    // 1 selects PduEvent v1 wire shape; anything else, v2
	EventID       string // only meaningful when FormatVersion == 1
	Content       []byte // the stored event JSON, passed through to the PDU
}

// OutboxMessage is one pending row in device_federation_outbox.
type OutboxMessage struct {
	Destination  string
	StreamID     int64
	MessagesJSON []byte // already-shaped m.direct_to_device EDU content
}

// DeviceListPoke is one pending row in device_lists_outbound_pokes.
type DeviceListPoke struct {
	Destination string
	StreamID    int64
	UserID      string
}

// Store is the storage boundary the worker runs against. Implementations
// must be safe for concurrent use; the event pump and the per-destination
// device-message pump call into it from different goroutines.
type Store interface {
	// EventStreamPosition returns the durable cursor for StreamTypeEvents,
	// or 0 if no row exists yet.
	EventStreamPosition(ctx context.Context) (int64, error)
	// CommitEventStreamPosition advances the durable cursor to pos.
	CommitEventStreamPosition(ctx context.Context, pos int64) error

	// NewEvents returns up to limit rows in the half-open range (after,
	// upTo], ordered by stream id ascending.
	NewEvents(ctx context.Context, after, upTo int64, limit int) ([]StoredEvent, error)

	// JoinedServers returns the distinct server-parts of users with
	// membership = "join" in roomID, excluding self.
	JoinedServers(ctx context.Context, roomID, self string) ([]string, error)

	// RoomsForUser returns the room ids userID has membership = "join" in,
	// used by the presence pump to resolve which remote servers share a
	// room with a given local user.
	RoomsForUser(ctx context.Context, userID string) ([]string, error)

	// PendingOutbox returns up to limit device_federation_outbox rows for
	// destination with stream_id > after, ordered by stream id ascending.
	PendingOutbox(ctx context.Context, destination string, after int64, limit int) ([]OutboxMessage, error)
	// DeleteOutbox removes device_federation_outbox rows for destination
	// whose stream ids are in streamIDs, after a successful send.
	DeleteOutbox(ctx context.Context, destination string, streamIDs []int64) error

	// PendingDeviceListPokes returns up to limit unsent
	// device_lists_outbound_pokes rows for destination with stream_id >
	// after, ordered by stream id ascending.
	PendingDeviceListPokes(ctx context.Context, destination string, after int64, limit int) ([]DeviceListPoke, error)
	// MarkDeviceListPokesSent flips sent=true for the given
	// (stream_id, user_id) pairs, after a successful send.
	MarkDeviceListPokesSent(ctx context.Context, destination string, pokes []DeviceListPoke) error

	// Close releases any resources held by the implementation.
	Close() error
}
