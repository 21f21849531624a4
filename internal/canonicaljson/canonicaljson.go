// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package canonicaljson produces the canonical JSON encoding federation
// signatures are computed over: sorted object keys, no insignificant
// whitespace, no NaN/Infinity. No third-party canonical-JSON library is a
// good fit here, so this package is built on encoding/json's map round
// trip, which is the standard way to get deterministic key order out of
// Go's JSON encoder (Go marshals map[string]any keys in sorted order since
// Go 1.12).
package canonicaljson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Marshal encodes v as canonical JSON.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: marshal: %w", err)
	}
	return Canonicalize(data)
}

// Canonicalize reformats an already-valid JSON document into its canonical
// form: keys sorted lexicographically at every nesting level, and no
// insignificant whitespace.
func Canonicalize(data []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicaljson: decode: %w", err)
	}
	if err := rejectNonFinite(v); err != nil {
		return nil, err
	}
	// encoding/json already sorts map[string]any keys on encode; decoding
	// through `any` and re-encoding is what gives us that property for
	// arbitrarily nested input, without insignificant whitespace (Marshal,
	// unlike MarshalIndent, never inserts any).
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: re-encode: %w", err)
	}
	return out, nil
}

func rejectNonFinite(v any) error {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return fmt.Errorf("canonicaljson: non-finite number %q", t.String())
		}
	case map[string]any:
		for _, child := range t {
			if err := rejectNonFinite(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := rejectNonFinite(child); err != nil {
				return err
			}
		}
	}
	return nil
}
