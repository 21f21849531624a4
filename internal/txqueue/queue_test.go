// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package txqueue

import (
	"strconv"
	"testing"

	"github.com/federationsender/federationsender/internal/pdu"
)

func TestAppendPDUOpensNewTransactionAtCap(t *testing.T) {
	q := New("origin.example")
	for i := 0; i < pdu.MaxPDUsPerTransaction; i++ {
		q.AppendPDU("dest.example", pdu.NewV2())
	}
	if q.Len("dest.example") != 1 {
		t.Fatalf("expected 1 transaction, got %d", q.Len("dest.example"))
	}
	q.AppendPDU("dest.example", pdu.NewV2())
	if q.Len("dest.example") != 2 {
		t.Fatalf("expected a 2nd transaction once the first is full, got %d", q.Len("dest.example"))
	}
	first := q.Peek("dest.example")
	if len(first.PDUs) != pdu.MaxPDUsPerTransaction {
		t.Fatalf("first transaction has %d PDUs, want %d", len(first.PDUs), pdu.MaxPDUsPerTransaction)
	}
}

func TestAppendEDUDedupsByInternalKey(t *testing.T) {
	q := New("origin.example")
	first := pdu.EduEvent{EduType: "m.typing", InternalKey: "t:!r:@u", Content: []byte(`{"n":1}`)}
	second := pdu.EduEvent{EduType: "m.typing", InternalKey: "t:!r:@u", Content: []byte(`{"n":2}`)}

	q.AppendEDU("dest.example", first)
	q.AppendEDU("dest.example", second)

	tail := q.Peek("dest.example")
	if len(tail.EDUs) != 1 {
		t.Fatalf("expected exactly 1 EDU after dedup, got %d", len(tail.EDUs))
	}
	if string(tail.EDUs[0].Content) != `{"n":2}` {
		t.Fatalf("expected the second EDU to win, got %s", tail.EDUs[0].Content)
	}
}

func TestAppendEDUOpensNewTransactionAtCap(t *testing.T) {
	q := New("origin.example")
	for i := 0; i < pdu.MaxEDUsPerTransaction; i++ {
		q.AppendEDU("dest.example", pdu.EduEvent{EduType: "m.presence"})
	}
	if q.Len("dest.example") != 1 {
		t.Fatalf("expected 1 transaction, got %d", q.Len("dest.example"))
	}
	q.AppendEDU("dest.example", pdu.EduEvent{EduType: "m.presence"})
	if q.Len("dest.example") != 2 {
		t.Fatalf("expected a 2nd transaction once the first is full, got %d", q.Len("dest.example"))
	}
}

func TestTransactionIDsAreMonotonicallyIncreasing(t *testing.T) {
	q := New("origin.example")
	q.AppendPDU("a.example", pdu.NewV2())
	idA := q.Peek("a.example").ID

	// Force a.example's transaction to a new one, and start b.example too.
	for i := 0; i < pdu.MaxPDUsPerTransaction; i++ {
		q.AppendPDU("a.example", pdu.NewV2())
	}
	q.AppendPDU("b.example", pdu.NewV2())
	idB := q.Peek("b.example").ID

	if idA == idB {
		t.Fatalf("expected distinct transaction ids, got %q twice", idA)
	}
	nA, errA := strconv.ParseInt(idA, 36, 64)
	nB, errB := strconv.ParseInt(idB, 36, 64)
	if errA != nil || errB != nil || nA >= nB {
		t.Fatalf("expected increasing transaction ids, got %q then %q", idA, idB)
	}
}

func TestPopRemovesHeadInFIFOOrder(t *testing.T) {
	q := New("origin.example")
	for i := 0; i < pdu.MaxPDUsPerTransaction+1; i++ {
		q.AppendPDU("dest.example", pdu.NewV2())
	}
	if q.Len("dest.example") != 2 {
		t.Fatalf("expected 2 transactions, got %d", q.Len("dest.example"))
	}
	first := q.Peek("dest.example")
	popped := q.Pop("dest.example")
	if popped != first {
		t.Fatal("Pop did not return the head transaction")
	}
	if q.Len("dest.example") != 1 {
		t.Fatalf("expected 1 transaction remaining, got %d", q.Len("dest.example"))
	}
	popped = q.Pop("dest.example")
	if popped == nil {
		t.Fatal("expected a second transaction")
	}
	if q.Pop("dest.example") != nil {
		t.Fatal("expected nil once queue is drained")
	}
}
