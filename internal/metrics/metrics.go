// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package metrics is the narrow interface the sender and pumps report
// through: ongoing transactions, per-destination retry and success counts,
// and a transaction duration histogram. The actual metrics sink is an
// external collaborator; this package only defines the call sites it is
// reached through.
package metrics

import (
	"log/slog"
	"time"
)

// Recorder is the metrics sink interface the core consumes.
type Recorder interface {
	// IncSendResult increments a counter for dest's send outcome:
	// "success", "retry", or "fail".
	IncSendResult(dest, outcome string)
	// SetInFlight sets whether dest currently has an in-flight send (1) or
	// not (0); used to derive the "ongoing transactions" gauge.
	SetInFlight(dest string, inFlight int)
	// ObserveSendDuration records one federation send's wall-clock time.
	ObserveSendDuration(dest string, d time.Duration)
}

// SlogRecorder is the default Recorder: it logs structured events instead
// of pushing to a real metrics backend. It is sufficient to make the
// worker observable without requiring a metrics sink to be wired in.
type SlogRecorder struct {
	Logger *slog.Logger
}

var _ Recorder = SlogRecorder{}

func (r SlogRecorder) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r SlogRecorder) IncSendResult(dest, outcome string) {
	r.logger().Info("federation send result", "destination", dest, "outcome", outcome)
}

func (r SlogRecorder) SetInFlight(dest string, inFlight int) {
	r.logger().Debug("federation send in-flight", "destination", dest, "in_flight", inFlight)
}

func (r SlogRecorder) ObserveSendDuration(dest string, d time.Duration) {
	r.logger().Debug("federation send duration", "destination", dest, "duration_ms", d.Milliseconds())
}
