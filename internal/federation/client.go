// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package federation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/federationsender/federationsender/internal/canonicaljson"
	"github.com/federationsender/federationsender/internal/pdu"
	"github.com/federationsender/federationsender/internal/signing"
	kgzip "github.com/klauspost/compress/gzip"
	"github.com/yosida95/uritemplate/v3"
)

// sendTemplate is the federation transaction-send endpoint.
var sendTemplate = uritemplate.MustNew("{+origin}/_matrix/federation/v1/send/{transactionId}")

// gzipThreshold is the body size above which requests are gzip-compressed.
// A full transaction's worth of PDUs is exactly the kind of payload worth
// compressing over a federation link.
const gzipThreshold = 8 * 1024

// Client sends signed transactions to remote home-servers.
type Client struct {
	HTTP   *http.Client
	Signer signing.Signer
}

// NewClient builds a Client using NewTransport(cfg) with the federation
// per-request timeout.
func NewClient(cfg TransportConfig, signer signing.Signer) *Client {
	return &Client{
		HTTP: &http.Client{
			Transport: NewTransport(cfg),
			Timeout:   60 * time.Second,
		},
		Signer: signer,
	}
}

// Send PUTs tx to its destination and returns the HTTP status code
// (0 if the request never reached the peer) and any transport-level error.
// Callers classify the result with internal/backoff.Classify.
func (c *Client) Send(ctx context.Context, destinationBaseURL string, tx *pdu.Transaction) (statusCode int, err error) {
	vals := uritemplate.Values{
		"origin":        uritemplate.String(destinationBaseURL),
		"transactionId": uritemplate.String(tx.ID),
	}
	uri, err := sendTemplate.Expand(vals)
	if err != nil {
		return 0, fmt.Errorf("federation: build send URI: %w", err)
	}

	body := tx.Body()
	plain, err := canonicaljson.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("federation: marshal transaction: %w", err)
	}

	payload := plain
	contentEncoding := ""
	if len(plain) > gzipThreshold {
		compressed, cerr := gzipCompress(plain)
		if cerr == nil {
			payload = compressed
			contentEncoding = "gzip"
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("federation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}
	if err := signing.ApplyHeader(ctx, c.Signer, req, tx.Destination, body); err != nil {
		return 0, fmt.Errorf("federation: sign: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := kgzip.NewWriterLevel(&buf, kgzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
