// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package replication

import (
	"fmt"
	"strings"
)

// command is one parsed line of the replication protocol: a verb followed
// by space-separated fields, where the trailing field may itself contain
// spaces and is taken verbatim to end of line.
type command struct {
	verb string
	args []string
}

// parseCommand splits a line into its verb and at most maxFields
// further fields, with the last field left unsplit so it can carry
// embedded spaces (row JSON, error text).
func parseCommand(line string, maxFields int) (command, error) {
	if line == "" {
		return command{}, errEmptyLine
	}
	parts := strings.SplitN(line, " ", maxFields+1)
	return command{verb: parts[0], args: parts[1:]}, nil
}

var errEmptyLine = fmt.Errorf("replication: empty line")

const (
	verbName     = "NAME"
	verbReplicate = "REPLICATE"
	verbPing     = "PING"
	verbServer   = "SERVER"
	verbRData    = "RDATA"
	verbPosition = "POSITION"
	verbError    = "ERROR"
)

// batchPosition is the sentinel value indicating an RDATA row continues an
// open batch for its stream.
const batchPosition = "batch"

// latestPosition is the REPLICATE position meaning "subscribe from the
// current head of the stream".
const latestPosition = "-1"

func formatNAME(client string) string { return verbName + " " + client }

func formatREPLICATE(stream, position string) string {
	return verbReplicate + " " + stream + " " + position
}

func formatPING(opaque string) string { return verbPing + " " + opaque }
