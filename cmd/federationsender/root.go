// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/federationsender/federationsender/internal/replication"
)

// Exit codes for the worker: 0 on orderly shutdown, 1 when configuration
// or storage startup fails, 2 when the replication connection reports an
// unrecoverable protocol error. A cancelled context (SIGINT/SIGTERM) IS the
// orderly shutdown path, so it exits 0 rather than signaling an
// interruption the way an interactive CLI's 130 would.
const (
	exitOK       = 0
	exitConfig   = 1
	exitProtocol = 2
)

// configError marks an error as a fatal configuration problem, distinct
// from a runtime replication-protocol failure, so main can map it to the
// right exit code.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

type rootConfig struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	cfg := &rootConfig{}
	return buildRootCmd(cfg)
}

func buildRootCmd(cfg *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "federationsender",
		Short:         "Delivers room events, presence, and device messages to remote home-servers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), cfg.configPath)
		},
	}
	cmd.Flags().StringVarP(&cfg.configPath, "config", "c", "federationsender.yaml", "path to the worker's YAML config file")
	return cmd
}

// exitCode maps a runWorker error to the process exit code it should
// produce.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var cerr *configError
	if errors.As(err, &cerr) {
		return exitConfig
	}
	var perr *replication.ErrProtocol
	if errors.As(err, &perr) {
		return exitProtocol
	}
	return exitConfig
}
