package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/worksuite/exportd/internal/archive"
	"github.com/worksuite/exportd/internal/artifact"
	"github.com/worksuite/exportd/internal/entity"
	"github.com/worksuite/exportd/internal/metrics"
	"github.com/worksuite/exportd/internal/repository"
	"github.com/worksuite/exportd/internal/source"
)

// Runner drives one claimed job through the export state machine:
// snapshot every module in fixed order, assemble the archive, publish the
// artifact, and flip the row to READY or FAILED.
type Runner struct {
	jobs      repository.JobRepository
	artifacts *artifact.Store
	sources   []source.Source
	collector *metrics.Collector

	ttl               time.Duration
	moduleTimeout     time.Duration
	heartbeatInterval time.Duration

	logger *slog.Logger
}

// RunnerConfig groups the policy knobs applied per job.
type RunnerConfig struct {
	TTL               time.Duration
	ModuleTimeout     time.Duration
	HeartbeatInterval time.Duration
}

func NewRunner(jobs repository.JobRepository, artifacts *artifact.Store, sources []source.Source, collector *metrics.Collector, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		jobs:              jobs,
		artifacts:         artifacts,
		sources:           sources,
		collector:         collector,
		ttl:               cfg.TTL,
		moduleTimeout:     cfg.ModuleTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		logger:            logger,
	}
}

// Process claims and executes a single job. Losing the claim (another
// worker got there first, or the row is gone) is not an error.
func (r *Runner) Process(ctx context.Context, workerID string, jobID uuid.UUID) {
	job, ok, err := r.jobs.Claim(ctx, jobID, workerID)
	if err != nil {
		r.logger.Error("claim errored", "job_id", jobID, "worker_id", workerID, "error", err)
		return
	}
	if !ok {
		r.logger.Info("claim lost, skipping", "job_id", jobID, "worker_id", workerID)
		return
	}
	r.collector.RecordClaimed()
	start := time.Now()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go r.heartbeatLoop(hbCtx, jobID, workerID)

	modules, failMsg := r.snapshotModules(ctx, workerID, job.ID, job.TenantID, job.Filters)
	if failMsg != "" {
		r.fail(ctx, jobID, workerID, failMsg, start)
		return
	}

	ref := job.ID.String()
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(archive.Build(pw, job, modules))
	}()
	size, err := r.artifacts.Put(ref, pr)
	if err != nil {
		// Unblock the builder goroutine still writing into the pipe.
		pr.CloseWithError(err)
		r.fail(ctx, jobID, workerID, fmt.Sprintf("assembling archive failed: %v", err), start)
		return
	}

	completedAt := time.Now().UTC()
	published, err := r.jobs.MarkReady(ctx, jobID, workerID, ref, size, completedAt, completedAt.Add(r.ttl))
	if err != nil {
		// The artifact is orphaned; the reaper's sweep reclaims it.
		r.logger.Error("mark ready errored", "job_id", jobID, "error", err)
		r.collector.RecordFailed(time.Since(start).Seconds())
		return
	}
	if !published {
		// Record deleted while we were exporting: discard, never publish.
		if err := r.artifacts.Delete(ref); err != nil {
			r.logger.Warn("discard of unpublished artifact failed", "job_id", jobID, "error", err)
		}
		r.collector.RecordFailed(time.Since(start).Seconds())
		return
	}

	r.collector.RecordCompleted(time.Since(start).Seconds())
	r.logger.Info("export complete", "job_id", jobID, "worker_id", workerID,
		"size_bytes", size, "elapsed_ms", time.Since(start).Milliseconds())
}

// snapshotModules walks the sources in their fixed order, reporting
// progress after each. A non-empty failMsg aborts the whole job; partial
// output is dropped on the floor, never persisted.
func (r *Runner) snapshotModules(ctx context.Context, workerID string, jobID, tenantID uuid.UUID, filters entity.ExportFilters) ([]archive.ModuleData, string) {
	total := len(r.sources)
	modules := make([]archive.ModuleData, 0, total)

	for i, src := range r.sources {
		if err := r.jobs.UpdateProgress(ctx, jobID, workerID, i*100/total, src.Name()); err != nil {
			r.logger.Warn("progress update failed", "job_id", jobID, "module", src.Name(), "error", err)
		}

		mctx, cancel := context.WithTimeout(ctx, r.moduleTimeout)
		snap, err := src.Snapshot(mctx, tenantID, filters)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Sprintf("module %s timed out after %s", src.Name(), r.moduleTimeout)
			}
			return nil, fmt.Sprintf("module %s failed: %v", src.Name(), err)
		}

		if !filters.IncludePII {
			source.Redact(snap)
		}
		modules = append(modules, archive.ModuleData{Name: src.Name(), Snap: snap})
	}
	return modules, ""
}

func (r *Runner) fail(ctx context.Context, jobID uuid.UUID, workerID, message string, start time.Time) {
	if err := r.jobs.MarkFailed(ctx, jobID, workerID, message); err != nil {
		r.logger.Error("mark failed errored", "job_id", jobID, "error", err)
	}
	r.collector.RecordFailed(time.Since(start).Seconds())
}

// heartbeatLoop keeps the liveness watchdog off our back while a module
// fetch blocks on slow business-store I/O.
func (r *Runner) heartbeatLoop(ctx context.Context, jobID uuid.UUID, workerID string) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.jobs.Heartbeat(ctx, jobID, workerID); err != nil {
				r.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}
