// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package replication

import (
	"strings"
	"testing"
)

func collectLines(t *testing.T, r string) []string {
	t.Helper()
	sc := newLineScanner(strings.NewReader(r))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	return lines
}

func TestFramerSplitsOnNewline(t *testing.T) {
	got := collectLines(t, "NAME a\nPING 1\nRDATA events 57 {}\n")
	want := []string{"NAME a", "PING 1", "RDATA events 57 {}"}
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFramerToleratesCRLF(t *testing.T) {
	got := collectLines(t, "PING 1\r\nPING 2\r\n")
	want := []string{"PING 1", "PING 2"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFramerKeepsEmptyLinesAsBlankTokens(t *testing.T) {
	got := collectLines(t, "PING 1\n\n\nPING 2\n")
	// The framer itself returns empty lines as zero-length tokens; the
	// replication client is responsible for discarding them. Verify
	// framing alone is lossless.
	if len(got) != 4 {
		t.Fatalf("got %d tokens, want 4: %q", len(got), got)
	}
	if got[1] != "" || got[2] != "" {
		t.Fatalf("expected blank tokens for blank lines, got %q", got)
	}
}

func TestFramerReassemblesRecordSplitAcrossReads(t *testing.T) {
	r := &stepReader{chunks: []string{"RDATA ev", "ents 57 {\"a\":1}\n"}}
	sc := newLineScanner(r)
	if !sc.Scan() {
		t.Fatalf("expected a scanned line, err=%v", sc.Err())
	}
	want := `RDATA events 57 {"a":1}`
	if sc.Text() != want {
		t.Fatalf("got %q, want %q", sc.Text(), want)
	}
}

// stepReader returns one chunk per Read call, simulating a record split
// across multiple socket reads.
type stepReader struct {
	chunks []string
	i      int
}

func (r *stepReader) Read(p []byte) (int, error) {
	if r.i >= len(r.chunks) {
		return 0, strings.NewReader("").Read(p) // io.EOF via empty reader
	}
	n := copy(p, r.chunks[r.i])
	r.i++
	return n, nil
}
