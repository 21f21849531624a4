// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package pdu holds the wire types exchanged with remote home-servers:
// PDUs (room events), EDUs (ephemeral data units), and the Transaction that
// bundles them for one federation send.
package pdu

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	internaljson "github.com/federationsender/federationsender/internal/json"
	"github.com/federationsender/federationsender/internal/canonicaljson"
)

// Version distinguishes the two room-event wire shapes a PduEvent can take.
type Version int

const (
	// V1 events carry their own event_id on the wire.
	V1 Version = 1
	// V2 events derive their id from a content hash; no event_id field is
	// sent.
	V2 Version = 2
)

// PduEvent is a room event in one of two wire shapes. It is modeled as a
// tagged variant over {V1, V2} sharing a common field set, rather than via
// inheritance; MarshalJSON branches on Version.
type PduEvent struct {
	Version Version

	RoomID         string            `json:"room_id"`
	Sender         string            `json:"sender"`
	Origin         string            `json:"origin"`
	OriginServerTS int64             `json:"origin_server_ts"`
	Type           string            `json:"type"`
	Content        internaljson.RawMessage `json:"content"`
	Depth          int64             `json:"depth"`
	AuthEvents     []string          `json:"auth_events"`
	PrevEvents     []string          `json:"prev_events"`
	PrevState      []string          `json:"prev_state,omitempty"`
	StateKey       *string           `json:"state_key,omitempty"`
	Redacts        *string           `json:"redacts,omitempty"`
	Hashes         map[string]string `json:"hashes,omitempty"`
	// Signatures maps server name -> key id -> base64 signature.
	Signatures map[string]map[string]string `json:"signatures,omitempty"`
	Unsigned   internaljson.RawMessage       `json:"unsigned,omitempty"`

	// v1EventID is only populated (and only serialized) for V1 events.
	v1EventID string
}

// NewV1 constructs a v1 PduEvent carrying the given event id verbatim.
func NewV1(eventID string) *PduEvent {
	return &PduEvent{Version: V1, v1EventID: eventID}
}

// NewV2 constructs a v2 PduEvent whose id is derived from its content hash.
func NewV2() *PduEvent {
	return &PduEvent{Version: V2}
}

// EventID returns the event's identifier: the stored id for V1, or the
// content-hash-derived id for V2. Deriving a V2 id requires Hashes to
// already be populated by a separate signing step; if absent, EventID falls
// back to hashing the reference encoding of the event sans
// signatures/unsigned/event_id, the same input that signing step hashes to
// populate Hashes in the first place.
func (e *PduEvent) EventID() string {
	if e.Version == V1 {
		return e.v1EventID
	}
	if h, ok := e.Hashes["sha256"]; ok {
		return "$" + h
	}
	sum := e.referenceHash()
	return "$" + base64.RawURLEncoding.EncodeToString(sum[:])
}

func (e *PduEvent) referenceHash() [sha256.Size]byte {
	redacted := *e
	redacted.Signatures = nil
	redacted.Unsigned = nil
	redacted.Hashes = nil
	redacted.v1EventID = ""
	canon, err := canonicaljson.Marshal(redacted.wire())
	if err != nil {
		// Marshaling our own well-typed struct cannot fail; a failure here
		// indicates a Content field containing unmarshalable Go values,
		// which is a caller bug, not a runtime condition to recover from.
		panic(fmt.Sprintf("pdu: canonicalize for hashing: %v", err))
	}
	return sha256.Sum256(canon)
}

// wireShape is the JSON representation shared by both PDU versions, plus the
// EventID field that only V1 populates.
type wireShape struct {
	EventID        string                        `json:"event_id,omitempty"`
	RoomID         string                        `json:"room_id"`
	Sender         string                        `json:"sender"`
	Origin         string                        `json:"origin"`
	OriginServerTS int64                         `json:"origin_server_ts"`
	Type           string                        `json:"type"`
	Content        internaljson.RawMessage       `json:"content"`
	Depth          int64                         `json:"depth"`
	AuthEvents     []string                      `json:"auth_events"`
	PrevEvents     []string                      `json:"prev_events"`
	PrevState      []string                      `json:"prev_state,omitempty"`
	StateKey       *string                       `json:"state_key,omitempty"`
	Redacts        *string                       `json:"redacts,omitempty"`
	Hashes         map[string]string             `json:"hashes,omitempty"`
	Signatures     map[string]map[string]string  `json:"signatures,omitempty"`
	Unsigned       internaljson.RawMessage       `json:"unsigned,omitempty"`
}

func (e *PduEvent) wire() wireShape {
	w := wireShape{
		RoomID:         e.RoomID,
		Sender:         e.Sender,
		Origin:         e.Origin,
		OriginServerTS: e.OriginServerTS,
		Type:           e.Type,
		Content:        e.Content,
		Depth:          e.Depth,
		AuthEvents:     e.AuthEvents,
		PrevEvents:     e.PrevEvents,
		PrevState:      e.PrevState,
		StateKey:       e.StateKey,
		Redacts:        e.Redacts,
		Hashes:         e.Hashes,
		Signatures:     e.Signatures,
		Unsigned:       e.Unsigned,
	}
	if e.Version == V1 {
		w.EventID = e.v1EventID
	}
	return w
}

// MarshalJSON encodes the event per its wire version: v1 events include
// event_id, v2 events omit it.
func (e *PduEvent) MarshalJSON() ([]byte, error) {
	return internaljson.Marshal(e.wire())
}

// UnmarshalJSON decodes an event, inferring its Version from the presence of
// an event_id field. The authoritative version comes from the stored
// event's format-version field, which this package's caller resolves before
// calling NewV1/NewV2; UnmarshalJSON itself is used for round-tripping
// already-typed wire data and infers from event_id as the nearest
// observable signal.
func (e *PduEvent) UnmarshalJSON(data []byte) error {
	var w wireShape
	if err := internaljson.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("pdu: unmarshal: %w", err)
	}
	*e = PduEvent{
		RoomID:         w.RoomID,
		Sender:         w.Sender,
		Origin:         w.Origin,
		OriginServerTS: w.OriginServerTS,
		Type:           w.Type,
		Content:        w.Content,
		Depth:          w.Depth,
		AuthEvents:     w.AuthEvents,
		PrevEvents:     w.PrevEvents,
		PrevState:      w.PrevState,
		StateKey:       w.StateKey,
		Redacts:        w.Redacts,
		Hashes:         w.Hashes,
		Signatures:     w.Signatures,
		Unsigned:       w.Unsigned,
	}
	if w.EventID != "" {
		e.Version = V1
		e.v1EventID = w.EventID
	} else {
		e.Version = V2
	}
	return nil
}

// EduEvent is an ephemeral data unit: presence, typing, device messages or
// device-list updates. InternalKey, when non-empty, is a client-side dedup
// key (e.g. "m.typing:!room:@user") — re-enqueuing an EDU with the same key
// on the same destination replaces the pending one.
type EduEvent struct {
	Destination string                  `json:"-"`
	Origin      string                  `json:"origin"`
	EduType     string                  `json:"edu_type"`
	Content     internaljson.RawMessage `json:"content"`

	// InternalKey is never sent on the wire.
	InternalKey string `json:"-"`
	// StreamID correlates a device-message/device-list EDU back to the
	// storage rows it was built from, so DevicePump can clean them up after
	// a successful send. Zero for EDUs with no backing storage row (e.g.
	// presence).
	StreamID int64 `json:"-"`
}

// wireEdu is the shape actually sent in a Transaction's edus array.
type wireEdu struct {
	EduType string                  `json:"edu_type"`
	Content internaljson.RawMessage `json:"content"`
}

func (e EduEvent) wire() wireEdu {
	return wireEdu{EduType: e.EduType, Content: e.Content}
}

// Transaction is the unit of federation delivery: up to 50 PDUs and 100
// EDUs, signed as a whole.
type Transaction struct {
	ID             string
	Origin         string
	OriginServerTS int64
	Destination    string
	PDUs           []*PduEvent
	EDUs           []EduEvent

	// SendOnBehalfOf is an unused hook: implementers may set it to
	// originate a transaction on behalf of another local server in a
	// virtual-hosting setup. Left for callers to populate; this package
	// does not interpret it.
	SendOnBehalfOf string
}

const (
	// MaxPDUsPerTransaction is the hard cap on PDUs per transaction.
	MaxPDUsPerTransaction = 50
	// MaxEDUsPerTransaction is the hard cap on EDUs per transaction.
	MaxEDUsPerTransaction = 100
)

// PDUsFull and EDUsFull report whether the transaction is at the PDU or EDU
// cap respectively and can accept no more items of that kind.
func (t *Transaction) PDUsFull() bool { return len(t.PDUs) >= MaxPDUsPerTransaction }
func (t *Transaction) EDUsFull() bool { return len(t.EDUs) >= MaxEDUsPerTransaction }

// wireBody is the canonical-JSON body PUT to
// /_matrix/federation/v1/send/{transactionId}.
type wireBody struct {
	Origin         string        `json:"origin"`
	OriginServerTS int64         `json:"origin_server_ts"`
	PDUs           []*PduEvent   `json:"pdus"`
	EDUs           []wireEdu     `json:"edus"`
}

// Body returns the JSON-marshalable request body for this transaction.
func (t *Transaction) Body() any {
	edus := make([]wireEdu, len(t.EDUs))
	for i, e := range t.EDUs {
		edus[i] = e.wire()
	}
	pdus := t.PDUs
	if pdus == nil {
		pdus = []*PduEvent{}
	}
	return wireBody{
		Origin:         t.Origin,
		OriginServerTS: t.OriginServerTS,
		PDUs:           pdus,
		EDUs:           edus,
	}
}
