// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package canonicaljson

import "testing"

func TestCanonicalizeSortsKeysRegardlessOfInputOrder(t *testing.T) {
	a, err := Canonicalize([]byte(`{"b":1,"a":2,"c":{"z":1,"y":2}}`))
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	b, err := Canonicalize([]byte(`{"c":{"y":2,"z":1},"a":2,"b":1}`))
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("key order affected output: %s != %s", a, b)
	}
	want := `{"a":2,"b":1,"c":{"y":2,"z":1}}`
	if string(a) != want {
		t.Fatalf("got %s, want %s", a, want)
	}
}

func TestCanonicalizeNoWhitespace(t *testing.T) {
	out, err := Canonicalize([]byte(`{ "a" : 1 , "b" : [1, 2, 3] }`))
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":1,"b":[1,2,3]}`
	if string(out) != want {
		t.Fatalf("got %s, want %s", out, want)
	}
}

func TestCanonicalizeRejectsNonFiniteNumbers(t *testing.T) {
	// NaN/Infinity cannot appear in valid JSON input directly, but a caller
	// marshaling a Go float64 NaN through Marshal should fail rather than
	// silently emit invalid JSON.
	type withNaN struct {
		X float64
	}
	if _, err := Marshal(withNaN{X: nanFloat()}); err == nil {
		t.Fatal("expected error marshaling NaN, got nil")
	}
}

func nanFloat() float64 {
	var z float64
	return z / z
}
