// Package sweep periodically re-runs active jobs through the weather check
// so sizing stays honest when conditions drift between customer requests.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solarsync/solarsync/internal/state"
	"github.com/solarsync/solarsync/internal/storage"
)

const defaultConcurrency = 4

// JobLister returns the jobs still moving through the pipeline.
type JobLister interface {
	ListJobsByStatus(statuses ...string) ([]storage.Job, error)
}

// Rechecker re-enters one job at the weather node.
type Rechecker interface {
	Recheck(ctx context.Context, jobID string) (state.JobState, error)
}

// Worker drives the periodic sweep.
type Worker struct {
	store       JobLister
	runner      Rechecker
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewWorker creates a Worker. If interval is <= 0, it defaults to 30
// minutes.
func NewWorker(store JobLister, runner Rechecker, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Worker{
		store:       store,
		runner:      runner,
		interval:    interval,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("sweep failed", "error", err)
			} else if n > 0 {
				w.logger.Info("sweep finished", "jobs", n)
			}
		}
	}
}

// RunOnce sweeps every active job exactly once, fanning out with bounded
// concurrency. It returns the number of jobs re-entered. Per-job failures
// are logged and do not stop the sweep.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.store.ListJobsByStatus(storage.StatusPending, storage.StatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("listing active jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, job := range jobs {
		g.Go(func() error {
			if _, err := w.runner.Recheck(ctx, job.ID); err != nil {
				w.logger.Warn("recheck failed", "job_id", job.ID, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return len(jobs), err
	}
	return len(jobs), nil
}
