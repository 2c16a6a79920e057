// Package reaper runs the periodic maintenance sweep: expiring stale
// READY jobs, failing abandoned PROCESSING jobs, purging long-terminal
// records, and reclaiming orphaned artifacts.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/worksuite/exportd/internal/artifact"
	"github.com/worksuite/exportd/internal/metrics"
	"github.com/worksuite/exportd/internal/repository"
)

// Reaper decouples storage reclamation from client activity: a tenant
// that never calls Delete still has its artifact reclaimed at TTL.
type Reaper struct {
	jobs      repository.JobRepository
	artifacts *artifact.Store
	collector *metrics.Collector

	interval        time.Duration
	livenessTimeout time.Duration
	recordRetention time.Duration

	logger *slog.Logger
}

// Config groups the sweep windows.
type Config struct {
	Interval        time.Duration
	LivenessTimeout time.Duration
	RecordRetention time.Duration
}

func New(jobs repository.JobRepository, artifacts *artifact.Store, collector *metrics.Collector, cfg Config, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		jobs:            jobs,
		artifacts:       artifacts,
		collector:       collector,
		interval:        cfg.Interval,
		livenessTimeout: cfg.LivenessTimeout,
		recordRetention: cfg.RecordRetention,
		logger:          logger,
	}
}

// Run sweeps once immediately (crash fix-up on startup) and then on every
// tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.Sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep executes all maintenance passes. Each pass is independent; a
// failure in one is logged and does not block the others.
func (r *Reaper) Sweep(ctx context.Context) {
	now := time.Now()
	r.expireReady(ctx, now)
	r.failAbandoned(ctx, now)
	r.purgeOldRecords(ctx, now)
	r.sweepOrphans(ctx, now)
}

// expireReady transitions READY jobs past their TTL to EXPIRED and
// reclaims their artifacts. EXPIRED rows stay visible to List/Poll until
// the retention purge so clients can see why Download stopped working.
func (r *Reaper) expireReady(ctx context.Context, now time.Time) {
	jobs, err := r.jobs.ListExpired(ctx, now)
	if err != nil {
		r.logger.Error("expiry scan failed", "error", err)
		return
	}
	for _, job := range jobs {
		ok, err := r.jobs.Expire(ctx, job.ID)
		if err != nil {
			r.logger.Error("expire failed", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			// Lost the CAS: deleted or already swept by another instance.
			continue
		}
		if job.ArtifactRef != nil {
			if err := r.artifacts.Delete(*job.ArtifactRef); err != nil {
				r.logger.Warn("expired artifact delete deferred to orphan sweep", "job_id", job.ID, "error", err)
			}
		}
		r.collector.RecordExpired()
		r.logger.Info("job expired", "job_id", job.ID, "tenant_id", job.TenantID)
	}
}

// failAbandoned is the liveness watchdog: PROCESSING rows whose owner
// stopped heartbeating are failed rather than left unresolvable forever.
func (r *Reaper) failAbandoned(ctx context.Context, now time.Time) {
	cutoff := now.Add(-r.livenessTimeout)
	ids, err := r.jobs.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		r.logger.Error("stale scan failed", "error", err)
		return
	}
	for _, id := range ids {
		ok, err := r.jobs.FailStale(ctx, id, cutoff, "worker lost")
		if err != nil {
			r.logger.Error("fail stale errored", "job_id", id, "error", err)
			continue
		}
		if ok {
			r.logger.Warn("abandoned job failed", "job_id", id)
		}
	}
}

func (r *Reaper) purgeOldRecords(ctx context.Context, now time.Time) {
	purged, err := r.jobs.PurgeBefore(ctx, now.Add(-r.recordRetention))
	if err != nil {
		r.logger.Error("retention purge failed", "error", err)
		return
	}
	if purged > 0 {
		r.logger.Info("purged terminal records", "count", purged)
	}
}

// sweepOrphans reclaims blobs no job row references anymore, e.g. after a
// Delete whose artifact removal failed, or a crash between artifact write
// and the READY flip. Fresh blobs are skipped: a worker may still be
// about to publish them.
func (r *Reaper) sweepOrphans(ctx context.Context, now time.Time) {
	live, err := r.jobs.LiveArtifactRefs(ctx)
	if err != nil {
		r.logger.Error("live ref scan failed", "error", err)
		return
	}
	blobs, err := r.artifacts.List()
	if err != nil {
		r.logger.Error("artifact list failed", "error", err)
		return
	}
	for _, blob := range blobs {
		if _, ok := live[blob.Ref]; ok {
			continue
		}
		if now.Sub(blob.ModTime) < r.livenessTimeout {
			continue
		}
		if err := r.artifacts.Delete(blob.Ref); err != nil {
			r.logger.Warn("orphan delete failed, will retry next sweep", "ref", blob.Ref, "error", err)
			continue
		}
		r.logger.Info("orphaned artifact reclaimed", "ref", blob.Ref)
	}
}
