package inspections

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/animus-inspect/internal/inspection"
)

const DefaultProbeTimeout = 5 * time.Second

type StatusAggregator struct {
	builds    BuildProber
	jobs      JobProber
	workflows WorkflowProber
	results   ResultStore
	timeout   time.Duration
	logger    *slog.Logger
}

func NewStatusAggregator(builds BuildProber, jobs JobProber, workflows WorkflowProber, results ResultStore, timeout time.Duration, logger *slog.Logger) (*StatusAggregator, error) {
	if builds == nil || jobs == nil || workflows == nil || results == nil {
		return nil, errors.New("status probes are required")
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusAggregator{
		builds:    builds,
		jobs:      jobs,
		workflows: workflows,
		results:   results,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

func (a *StatusAggregator) Status(ctx context.Context, id inspection.ID) (inspection.Status, error) {
	var out inspection.Status
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gctx, a.timeout)
		defer cancel()
		build, err := a.builds.Build(pctx, id)
		if errors.Is(err, inspection.ErrNotFound) {
			return err
		}
		if err != nil {
			a.degraded(id, "build", err)
			return nil
		}
		out.Build = build
		return nil
	})
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gctx, a.timeout)
		defer cancel()
		job, err := a.jobs.Job(pctx, id)
		if err != nil {
			a.degraded(id, "job", err)
			return nil
		}
		out.Job = job
		return nil
	})
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gctx, a.timeout)
		defer cancel()
		wf, err := a.workflows.Workflow(pctx, id)
		if err != nil {
			a.degraded(id, "workflow", err)
			return nil
		}
		out.Workflow = wf
		return nil
	})
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gctx, a.timeout)
		defer cancel()
		stored, err := a.results.Exists(pctx, id)
		if err != nil {
			a.degraded(id, "data_stored", err)
			return nil
		}
		out.DataStored = stored
		return nil
	})

	if err := g.Wait(); err != nil {
		return inspection.Status{}, err
	}
	return out, nil
}

// degraded logs a source that will be reported as null. Not-found is the
// normal state of a job before the build finishes, so it stays at debug.
func (a *StatusAggregator) degraded(id inspection.ID, source string, err error) {
	if errors.Is(err, inspection.ErrNotFound) {
		a.logger.Debug("status source absent", "inspection_id", id.String(), "source", source)
		return
	}
	a.logger.Warn("status source unavailable", "inspection_id", id.String(), "source", source, "error", err.Error())
}
