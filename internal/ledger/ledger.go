// Package ledger provides the append-only per-stage checkpoint journal the
// pipeline's idempotence rests on. Once a stage has a terminal entry for an
// artifact — success or failure after exhausted retries — that stage is
// never re-attempted for that artifact.
package ledger

import (
	"time"

	"github.com/callops/callsight/internal/artifact"
)

// Outcome is the terminal result of one stage attempt.
type Outcome string

const (
	Success Outcome = "success"
	Failed  Outcome = "failed"
)

// Entry is one terminal record for an (artifact, stage) pair. Detail carries
// stage-specific context, such as the embedding's inserted ID.
type Entry struct {
	ArtifactID string
	Stage      artifact.Stage
	Outcome    Outcome
	Detail     string
	At         time.Time
}

// Counts aggregates a stage's terminal entries for reporting.
type Counts struct {
	Success int
	Failed  int
}

// Ledger is the checkpoint journal consulted before and written after every
// stage invocation. Implementations must be safe for concurrent use and
// durable across restarts; Record appends and never overwrites or removes.
type Ledger interface {
	// Attempt returns the terminal entry for (artifactID, stage), or nil if
	// the stage has never reached a terminal outcome for that artifact.
	Attempt(artifactID string, stage artifact.Stage) (*Entry, error)
	// Record appends a terminal entry. If an entry already exists for the
	// pair, the append still happens but the first entry keeps precedence.
	Record(e Entry) error
	// Reset clears one stage's journal — the explicit "reprocess everything"
	// switch for that stage.
	Reset(stage artifact.Stage) error
	// StageCounts reports terminal outcomes per stage.
	StageCounts(stage artifact.Stage) (Counts, error)
}
