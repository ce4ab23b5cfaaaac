package flume

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// runIDFormat is the timestamp prefix that keeps run ids sortable by
// creation time within a host.
const runIDFormat = "20060102_150405"

// NewRunID generates a run identifier: a sortable second-resolution
// timestamp plus 8 random hex characters, e.g. 20260825_142310_3fa81c9d.
func NewRunID() string {
	return time.Now().Format(runIDFormat) + "_" + randHex(8)
}

// NewForkID generates a run identifier for a forked run, e.g.
// 20260825_142310_fork_3fa81c.
func NewForkID() string {
	return time.Now().Format(runIDFormat) + "_fork_" + randHex(6)
}

// randHex returns n hex characters of UUID-grade randomness.
func randHex(n int) string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:n]
}

// normalizeID puts workflow and run identifiers into NFC so the same id
// typed on different platforms keys the same storage entry.
func normalizeID(id string) string {
	return norm.NFC.String(id)
}
