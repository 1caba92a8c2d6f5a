// Package testrun defines the artifact shape produced by running a
// test harness under the execution sandbox (spec §3, §4.9).
package testrun

import (
	"time"

	"github.com/ultimate-mcp/mcpd/internal/domain/execution"
)

// Artifact is a completed test-harness run.
type Artifact struct {
	ID              string
	Framework       string
	ReturnCode      int
	Stdout          string
	Stderr          string
	DurationMs      int64
	PeakMemoryBytes int64
	Truncated       bool
	Passed          int
	Failed          int
	ParseOK         bool
	Reason          execution.Reason
	CacheHit        bool
	CreatedAt       time.Time
}
