// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Postgres implements Store over the five underlying relations.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to connectionString and verifies it with a ping.
func OpenPostgres(connectionString string) (*Postgres, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) EventStreamPosition(ctx context.Context) (int64, error) {
	var pos int64
	err := p.db.QueryRowContext(ctx,
		`SELECT stream_id FROM federation_stream_position WHERE type = $1`, StreamTypeEvents,
	).Scan(&pos)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: read event stream position: %w", err)
	}
	return pos, nil
}

func (p *Postgres) CommitEventStreamPosition(ctx context.Context, pos int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO federation_stream_position (type, stream_id) VALUES ($1, $2)
		ON CONFLICT (type) DO UPDATE SET stream_id = EXCLUDED.stream_id
	`, StreamTypeEvents, pos)
	if err != nil {
		return fmt.Errorf("storage: commit event stream position: %w", err)
	}
	return nil
}

func (p *Postgres) NewEvents(ctx context.Context, after, upTo int64, limit int) ([]StoredEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT stream_id, room_id, sender, format_version, event_id, content
		FROM events
		WHERE stream_id > $1 AND stream_id <= $2
		ORDER BY stream_id ASC
		LIMIT $3
	`, after, upTo, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query new events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.StreamID, &e.RoomID, &e.Sender, &e.FormatVersion, &e.EventID, &e.Content); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate events: %w", err)
	}
	return out, nil
}

func (p *Postgres) JoinedServers(ctx context.Context, roomID, self string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT split_part(user_id, ':', 2)
		FROM room_memberships
		WHERE room_id = $1 AND membership = 'join'
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("storage: query joined servers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var server string
		if err := rows.Scan(&server); err != nil {
			return nil, fmt.Errorf("storage: scan joined server: %w", err)
		}
		if server == self {
			continue
		}
		out = append(out, server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate joined servers: %w", err)
	}
	return out, nil
}

func (p *Postgres) RoomsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT room_id FROM room_memberships WHERE user_id = $1 AND membership = 'join'
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: query rooms for user: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			return nil, fmt.Errorf("storage: scan room for user: %w", err)
		}
		out = append(out, roomID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate rooms for user: %w", err)
	}
	return out, nil
}

func (p *Postgres) PendingOutbox(ctx context.Context, destination string, after int64, limit int) ([]OutboxMessage, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT destination, stream_id, messages_json
		FROM device_federation_outbox
		WHERE destination = $1 AND stream_id > $2
		ORDER BY stream_id ASC
		LIMIT $3
	`, destination, after, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query pending outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.Destination, &m.StreamID, &m.MessagesJSON); err != nil {
			return nil, fmt.Errorf("storage: scan outbox row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate outbox: %w", err)
	}
	return out, nil
}

func (p *Postgres) DeleteOutbox(ctx context.Context, destination string, streamIDs []int64) error {
	if len(streamIDs) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM device_federation_outbox WHERE destination = $1 AND stream_id = ANY($2)
	`, destination, int64Array(streamIDs))
	if err != nil {
		return fmt.Errorf("storage: delete outbox rows: %w", err)
	}
	return nil
}

func (p *Postgres) PendingDeviceListPokes(ctx context.Context, destination string, after int64, limit int) ([]DeviceListPoke, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT destination, stream_id, user_id
		FROM device_lists_outbound_pokes
		WHERE destination = $1 AND stream_id > $2 AND sent = false
		ORDER BY stream_id ASC
		LIMIT $3
	`, destination, after, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query pending device list pokes: %w", err)
	}
	defer rows.Close()

	var out []DeviceListPoke
	for rows.Next() {
		var poke DeviceListPoke
		if err := rows.Scan(&poke.Destination, &poke.StreamID, &poke.UserID); err != nil {
			return nil, fmt.Errorf("storage: scan device list poke: %w", err)
		}
		out = append(out, poke)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate device list pokes: %w", err)
	}
	return out, nil
}

func (p *Postgres) MarkDeviceListPokesSent(ctx context.Context, destination string, pokes []DeviceListPoke) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin mark-sent transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE device_lists_outbound_pokes SET sent = true
		WHERE destination = $1 AND stream_id = $2 AND user_id = $3
	`)
	if err != nil {
		return fmt.Errorf("storage: prepare mark-sent: %w", err)
	}
	defer stmt.Close()

	for _, poke := range pokes {
		if _, err := stmt.ExecContext(ctx, destination, poke.StreamID, poke.UserID); err != nil {
			return fmt.Errorf("storage: mark poke sent: %w", err)
		}
	}
	return tx.Commit()
}

// int64Array renders ids as a Postgres array literal for ANY($n) — lib/pq
// does not implement database/sql/driver.Valuer for []int64 directly.
func int64Array(ids []int64) string {
	s := "{"
	for i, id := range ids {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%d", id)
	}
	return s + "}"
}
