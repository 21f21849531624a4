// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
server_name: origin.example
connection_string: "postgres://localhost/federationsender"
signing_key_path: "/etc/federationsender/signing.key"
replication_host: "127.0.0.1"
replication_port: 9092
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClientName != defaultClientName {
		t.Fatalf("ClientName = %q, want %q", cfg.ClientName, defaultClientName)
	}
	if cfg.Client.MaxConcurrency != defaultMaxConcurrency {
		t.Fatalf("MaxConcurrency = %d, want %d", cfg.Client.MaxConcurrency, defaultMaxConcurrency)
	}
}

func TestLoadRejectsMissingRequiredField(t *testing.T) {
	_, err := Load(writeConfig(t, `
connection_string: "postgres://localhost/federationsender"
signing_key_path: "/etc/federationsender/signing.key"
replication_host: "127.0.0.1"
replication_port: 9092
`))
	if err == nil {
		t.Fatal("Load succeeded, want error for missing server_name")
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	_, err := Load(writeConfig(t, `
server_name: origin.example
connection_string: "postgres://localhost/federationsender"
signing_key_path: "/etc/federationsender/signing.key"
replication_host: "127.0.0.1"
replication_port: 99999
`))
	if err == nil {
		t.Fatal("Load succeeded, want error for out-of-range port")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FEDERATIONSENDER_SERVER_NAME", "override.example")
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerName != "override.example" {
		t.Fatalf("ServerName = %q, want override.example", cfg.ServerName)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load succeeded for missing file, want error")
	}
}
