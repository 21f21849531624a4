// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package signing is the narrow interface the transaction sender consumes
// for request signing; key loading and rotation are handled elsewhere. The
// default implementation uses stdlib crypto/ed25519 directly: ed25519
// signing is a fixed, well-specified primitive with no room for a
// third-party alternative to add value.
package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/federationsender/federationsender/internal/canonicaljson"
)

// Authorization holds the fields of an X-Matrix Authorization header.
type Authorization struct {
	Origin      string
	Destination string
	KeyID       string
	Signature   string // base64, unpadded
}

// Header renders the Authorization header value.
func (a Authorization) Header() string {
	return fmt.Sprintf(`X-Matrix origin=%q,destination=%q,key=%q,sig=%q`,
		a.Origin, a.Destination, a.KeyID, a.Signature)
}

// Signer signs an outbound federation request. Implementations must produce
// canonical JSON and an Authorization whose signature covers
// {method, uri, origin, destination, content}.
type Signer interface {
	Sign(ctx context.Context, method, uri, destination string, content any) (Authorization, error)
}

// Ed25519Signer is the default Signer: it holds a single signing key and a
// key id. It does not load keys from disk or rotate them; that is handled
// by a separate loader.
type Ed25519Signer struct {
	Origin  string
	KeyID   string
	Private ed25519.PrivateKey
}

var _ Signer = (*Ed25519Signer)(nil)

// signedObject is the canonical-JSON envelope the signature is computed
// over.
type signedObject struct {
	Method      string `json:"method"`
	URI         string `json:"uri"`
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Content     any    `json:"content,omitempty"`
}

func (s *Ed25519Signer) Sign(ctx context.Context, method, uri, destination string, content any) (Authorization, error) {
	if err := ctx.Err(); err != nil {
		return Authorization{}, err
	}
	canon, err := canonicaljson.Marshal(signedObject{
		Method:      method,
		URI:         uri,
		Origin:      s.Origin,
		Destination: destination,
		Content:     content,
	})
	if err != nil {
		return Authorization{}, fmt.Errorf("signing: canonicalize: %w", err)
	}
	sig := ed25519.Sign(s.Private, canon)
	return Authorization{
		Origin:      s.Origin,
		Destination: destination,
		KeyID:       s.KeyID,
		Signature:   base64.RawStdEncoding.EncodeToString(sig),
	}, nil
}

// ApplyHeader sets the Authorization header on req to the result of Sign
// for req's method, URI path, and content.
func ApplyHeader(ctx context.Context, signer Signer, req *http.Request, destination string, content any) error {
	auth, err := signer.Sign(ctx, req.Method, req.URL.RequestURI(), destination, content)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth.Header())
	return nil
}
