// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package federation

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/federationsender/federationsender/internal/pdu"
	"github.com/federationsender/federationsender/internal/signing"
)

func newTestSigner() signing.Signer {
	_, priv, _ := ed25519.GenerateKey(nil)
	return &signing.Ed25519Signer{Origin: "origin.example", KeyID: "ed25519:1", Private: priv}
}

func TestSendPUTsSignedTransaction(t *testing.T) {
	var gotMethod, gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(TransportConfig{}, newTestSigner())
	tx := &pdu.Transaction{
		ID:             "42",
		Origin:         "origin.example",
		OriginServerTS: 1000,
		Destination:    "destination.example",
		PDUs:           []*pdu.PduEvent{},
	}

	status, err := c.Send(context.Background(), srv.URL, tx)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("method = %s, want PUT", gotMethod)
	}
	if !strings.HasSuffix(gotPath, "/_matrix/federation/v1/send/42") {
		t.Fatalf("path = %s, want suffix /_matrix/federation/v1/send/42", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "X-Matrix ") {
		t.Fatalf("Authorization = %q, want X-Matrix prefix", gotAuth)
	}
}

func TestSendReturnsStatusOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(TransportConfig{}, newTestSigner())
	tx := &pdu.Transaction{ID: "1", Origin: "o", Destination: "d"}
	status, err := c.Send(context.Background(), srv.URL, tx)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}
}
