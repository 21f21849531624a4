//go:build integration

// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var containerDSN string

const schema = `
CREATE TABLE federation_stream_position (
	type TEXT PRIMARY KEY,
	stream_id BIGINT NOT NULL
);
CREATE TABLE events (
	stream_id BIGINT PRIMARY KEY,
	room_id TEXT NOT NULL,
	sender TEXT NOT NULL,
	format_version INT NOT NULL,
	event_id TEXT NOT NULL,
	content JSONB NOT NULL
);
CREATE TABLE room_memberships (
	room_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	membership TEXT NOT NULL
);
CREATE TABLE device_federation_outbox (
	destination TEXT NOT NULL,
	stream_id BIGINT NOT NULL,
	messages_json JSONB NOT NULL
);
CREATE TABLE device_lists_outbound_pokes (
	destination TEXT NOT NULL,
	stream_id BIGINT NOT NULL,
	user_id TEXT NOT NULL,
	sent BOOLEAN NOT NULL DEFAULT false
);
`

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "federationsender",
			"POSTGRES_PASSWORD": "federationsender",
			"POSTGRES_DB":       "federationsender",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(2 * time.Minute),
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if ctr != nil {
			_ = ctr.Terminate(ctx)
		}
		_, _ = fmt.Fprintf(os.Stderr, "start postgres container: %v\n", err)
		os.Exit(1)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		_ = ctr.Terminate(ctx)
		_, _ = fmt.Fprintf(os.Stderr, "container host: %v\n", err)
		os.Exit(1)
	}
	port, err := ctr.MappedPort(ctx, "5432")
	if err != nil {
		_ = ctr.Terminate(ctx)
		_, _ = fmt.Fprintf(os.Stderr, "container port: %v\n", err)
		os.Exit(1)
	}

	containerDSN = fmt.Sprintf("postgres://federationsender:federationsender@%s:%d/federationsender?sslmode=disable",
		host, port.Int())

	code := m.Run()
	_ = ctr.Terminate(ctx)
	os.Exit(code)
}

// newStore opens a fresh Postgres connection against the shared container
// and applies the schema, returning a Store dropped via t.Cleanup.
func newStore(t *testing.T) *Postgres {
	t.Helper()
	store, err := OpenPostgres(containerDSN)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	if _, err := store.db.Exec(schema); err != nil {
		store.Close()
		t.Fatalf("apply schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = store.db.Exec(`
			DROP TABLE federation_stream_position, events, room_memberships,
			device_federation_outbox, device_lists_outbound_pokes
		`)
		store.Close()
	})
	return store
}

func TestPostgresEventStreamPositionRoundTrips(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	pos, err := store.EventStreamPosition(ctx)
	if err != nil || pos != 0 {
		t.Fatalf("initial position = (%d, %v), want (0, nil)", pos, err)
	}
	if err := store.CommitEventStreamPosition(ctx, 77); err != nil {
		t.Fatalf("CommitEventStreamPosition: %v", err)
	}
	if err := store.CommitEventStreamPosition(ctx, 78); err != nil {
		t.Fatalf("CommitEventStreamPosition (upsert): %v", err)
	}
	pos, err = store.EventStreamPosition(ctx)
	if err != nil || pos != 78 {
		t.Fatalf("position after two commits = (%d, %v), want (78, nil)", pos, err)
	}
}

func TestPostgresNewEventsHalfOpenRange(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3, 4, 5} {
		_, err := store.db.ExecContext(ctx, `
			INSERT INTO events (stream_id, room_id, sender, format_version, event_id, content)
			VALUES ($1, '!r:example', '@a:origin.example', 2, '', '{}')
		`, id)
		if err != nil {
			t.Fatalf("seed event %d: %v", id, err)
		}
	}

	got, err := store.NewEvents(ctx, 1, 4, 50)
	if err != nil {
		t.Fatalf("NewEvents: %v", err)
	}
	if len(got) != 3 || got[0].StreamID != 2 || got[2].StreamID != 4 {
		t.Fatalf("NewEvents = %+v, want stream ids [2,3,4]", got)
	}
}

func TestPostgresOutboxDeleteAfterSend(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2} {
		_, err := store.db.ExecContext(ctx, `
			INSERT INTO device_federation_outbox (destination, stream_id, messages_json)
			VALUES ('dest.example', $1, '{}')
		`, id)
		if err != nil {
			t.Fatalf("seed outbox %d: %v", id, err)
		}
	}

	if err := store.DeleteOutbox(ctx, "dest.example", []int64{1}); err != nil {
		t.Fatalf("DeleteOutbox: %v", err)
	}
	remaining, err := store.PendingOutbox(ctx, "dest.example", 0, 100)
	if err != nil || len(remaining) != 1 || remaining[0].StreamID != 2 {
		t.Fatalf("PendingOutbox after delete = (%+v, %v), want [stream_id=2]", remaining, err)
	}
}
