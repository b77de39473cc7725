package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/callops/callsight/internal/artifact"
)

// DefaultWorkers is the bounded pool width for per-artifact pipelines.
const DefaultWorkers = 4

// Executor fans a batch of artifacts over a bounded worker pool, running the
// full per-artifact pipeline independently on each. Artifacts share nothing
// but the ledger and the datastore, both safe for concurrent use.
type Executor struct {
	coord   *Coordinator
	workers int
	logger  *slog.Logger
}

// NewExecutor creates an Executor. Non-positive workers falls back to
// DefaultWorkers.
func NewExecutor(coord *Coordinator, workers int) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Executor{coord: coord, workers: workers, logger: slog.Default()}
}

// Run processes the batch and returns how many artifacts reached the
// embedded state. One artifact's failure never aborts the others; every
// failure has already been logged (and, when terminal, journaled) by the
// coordinator.
func (e *Executor) Run(ctx context.Context, artifacts []artifact.Artifact) int {
	if len(artifacts) == 0 {
		return 0
	}

	var completed, succeeded atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for _, a := range artifacts {
		a := a
		g.Go(func() error {
			p := e.coord.Run(ctx, a)
			if p.State == artifact.StateEmbedded {
				succeeded.Add(1)
			}
			e.logger.Info("artifact processed",
				"artifact", a.ID,
				"state", p.State.String(),
				"progress", completed.Add(1),
				"total", len(artifacts),
			)
			return nil
		})
	}
	g.Wait()

	return int(succeeded.Load())
}
