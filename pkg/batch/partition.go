package batch

import (
	"context"
	"fmt"

	"github.com/eunmann/batchio/internal/logctx"
	"golang.org/x/sync/errgroup"
)

// Runner is a step that can be run on its own.
type Runner interface {
	Name() string
	Run(ctx context.Context) (*StepExecution, error)
}

// RunPartitions runs independent steps of job concurrently, at most limit
// at a time (no limit when limit <= 0). Each runner must own its reader and
// writer. The executions are returned in runner order; the first failure
// cancels the context of the remaining runners.
func RunPartitions(ctx context.Context, job string, runners []Runner, limit int) ([]*StepExecution, error) {
	ctx = logctx.WithStr(ctx, "job", job)
	log := logctx.FromContext(ctx)

	for i, runner := range runners {
		if runner == nil {
			return nil, fmt.Errorf("%w: partition %d has no runner", ErrMissingCollaborator, i)
		}
	}

	execs := make([]*StepExecution, len(runners))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, runner := range runners {
		g.Go(func() error {
			exec, err := runner.Run(logctx.WithInt(gctx, "partition", i))
			execs[i] = exec
			if err != nil {
				return fmt.Errorf("partition %s: %w", runner.Name(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	log.Info().Int("partitions", len(runners)).Bool("failed", err != nil).Msg("partitions finished")
	return execs, err
}
