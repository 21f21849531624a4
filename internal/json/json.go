// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package json provides the JSON codec used on the worker's hot paths: the
// replication reader (one decode per row) and the PDU/EDU encoders (one
// encode per event). It wraps segmentio/encoding/json instead of
// encoding/json for exactly this allocation-sensitive purpose.
package json

import (
	"fmt"

	segjson "github.com/segmentio/encoding/json"
)

// RawMessage is a re-export so callers never need to import both this
// package and encoding/json for the RawMessage type.
type RawMessage = segjson.RawMessage

// Marshal encodes v using the fast codec. It is not used for canonical JSON
// (signed, sorted-key) output — see internal/canonicaljson for that.
func Marshal(v any) ([]byte, error) {
	return segjson.Marshal(v)
}

// Unmarshal decodes data into v using the fast codec. Object keys are
// matched against struct field names and tags case-sensitively.
func Unmarshal(data []byte, v any) error {
	rest, err := segjson.Parse(data, v, segjson.DontMatchCaseInsensitiveStructFields)
	if err == nil && len(rest) != 0 {
		return fmt.Errorf("json: invalid character %q after top-level value", rest[0])
	}
	return err
}
