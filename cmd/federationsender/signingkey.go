// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/federationsender/federationsender/internal/signing"
)

// loadSigningKey reads a Synapse-style signing key file ("ed25519 <key_id>
// <base64-seed>", one key per line; the first line wins) and builds the
// Ed25519Signer for origin. Key management (rotation, multiple active
// keys, remote key fetch) is a deliberately separate concern; this is a
// narrow, minimal reader.
func loadSigningKey(origin, path string) (*signing.Ed25519Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signing key: read %s: %w", path, err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 || fields[0] != "ed25519" {
			return nil, fmt.Errorf("signing key: %s: unrecognized line %q", path, line)
		}
		seed, err := base64.RawStdEncoding.DecodeString(fields[2])
		if err != nil {
			return nil, fmt.Errorf("signing key: %s: decode seed: %w", path, err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signing key: %s: seed is %d bytes, want %d", path, len(seed), ed25519.SeedSize)
		}
		return &signing.Ed25519Signer{
			Origin:  origin,
			KeyID:   "ed25519:" + fields[1],
			Private: ed25519.NewKeyFromSeed(seed),
		}, nil
	}
	return nil, fmt.Errorf("signing key: %s: no keys found", path)
}
