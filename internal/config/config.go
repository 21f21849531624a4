// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config loads the worker's YAML configuration file: read,
// unmarshal, validate-with-defaults, fail loudly.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/federationsender/federationsender/internal/util"
)

// Config is the worker's full configuration.
type Config struct {
	ServerName       string       `yaml:"server_name"`
	ConnectionString string       `yaml:"connection_string"`
	SigningKeyPath   string       `yaml:"signing_key_path"`
	ReplicationHost  string       `yaml:"replication_host"`
	ReplicationPort  int          `yaml:"replication_port"`
	ClientName       string       `yaml:"client_name"`
	Client           ClientConfig `yaml:"client"`
}

// ClientConfig configures the outbound federation HTTP client.
type ClientConfig struct {
	AllowSelfSigned bool `yaml:"allow_self_signed"`
	MaxConcurrency  int  `yaml:"max_concurrency"`
}

const defaultClientName = "NETCORESynapseReplication"
const defaultMaxConcurrency = 100

// Load reads path, applies environment-variable overrides, validates the
// result, and returns it. A malformed or incomplete config is a fatal error
// the caller should exit(1) on.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment tooling override the YAML file without
// rewriting it.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FEDERATIONSENDER_SERVER_NAME"); v != "" {
		cfg.ServerName = v
	}
	if v := os.Getenv("FEDERATIONSENDER_CONNECTION_STRING"); v != "" {
		cfg.ConnectionString = v
	}
	if v := os.Getenv("FEDERATIONSENDER_SIGNING_KEY_PATH"); v != "" {
		cfg.SigningKeyPath = v
	}
	if v := os.Getenv("FEDERATIONSENDER_REPLICATION_HOST"); v != "" {
		cfg.ReplicationHost = v
	}
	if v := os.Getenv("FEDERATIONSENDER_REPLICATION_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ReplicationPort = port
		}
	}
	if v := os.Getenv("FEDERATIONSENDER_CLIENT_NAME"); v != "" {
		cfg.ClientName = v
	}
}

func (c *Config) validate() error {
	if c.ServerName == "" {
		return fmt.Errorf("server_name is required")
	}
	if c.ConnectionString == "" {
		return fmt.Errorf("connection_string is required")
	}
	if c.SigningKeyPath == "" {
		return fmt.Errorf("signing_key_path is required")
	}
	if c.ReplicationHost == "" {
		return fmt.Errorf("replication_host is required")
	}
	if c.ReplicationPort <= 0 || c.ReplicationPort > 65535 {
		return fmt.Errorf("replication_port must be between 1 and 65535, got %d", c.ReplicationPort)
	}
	if c.ClientName == "" {
		c.ClientName = defaultClientName
	}
	if c.Client.MaxConcurrency <= 0 {
		c.Client.MaxConcurrency = defaultMaxConcurrency
	}

	addr := fmt.Sprintf("%s:%d", c.ReplicationHost, c.ReplicationPort)
	if !util.IsLoopback(addr) {
		slog.Warn("config: replication_host is not loopback; ensure the link is trusted",
			"replication_host", c.ReplicationHost)
	}
	return nil
}
