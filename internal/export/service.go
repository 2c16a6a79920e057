// Package export is the gateway-facing orchestration layer: it accepts
// export requests, hands accepted jobs to the worker queue, and answers
// list/poll/download/delete with tenant isolation enforced throughout.
package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/worksuite/exportd/constants"
	"github.com/worksuite/exportd/internal/artifact"
	"github.com/worksuite/exportd/internal/common"
	"github.com/worksuite/exportd/internal/entity"
	"github.com/worksuite/exportd/internal/metrics"
	"github.com/worksuite/exportd/internal/repository"
)

// Enqueuer wakes the worker pool for an accepted job.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
}

// Service is a façade over the job store and artifact store that the
// gateway calls. Every method reads the resolved tenant from ctx.
type Service struct {
	jobs      repository.JobRepository
	artifacts *artifact.Store
	queue     Enqueuer
	collector *metrics.Collector
	ttl       time.Duration
	logger    *slog.Logger
}

func NewService(jobs repository.JobRepository, artifacts *artifact.Store, queue Enqueuer, collector *metrics.Collector, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:      jobs,
		artifacts: artifacts,
		queue:     queue,
		collector: collector,
		ttl:       ttl,
		logger:    logger,
	}
}

// TTL returns the retention window applied when a job completes.
func (s *Service) TTL() time.Duration { return s.ttl }

// Submit validates the filter snapshot, persists a QUEUED job unless the
// tenant already has one in flight, and signals the workers.
func (s *Service) Submit(ctx context.Context, filters entity.ExportFilters) (*entity.JobView, error) {
	tenantID, ok := common.TenantIDFromContext(ctx)
	if !ok {
		return nil, common.ErrForbidden
	}
	if !constants.IsValidDateRange(filters.DateRange) {
		return nil, fmt.Errorf("%w: date_range %q", common.ErrInvalidFilter, filters.DateRange)
	}

	job := &entity.Job{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Filters:   filters, // value copy: later settings changes never touch this job
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// The row is already durable; startup re-enqueue will pick it up
		// even if the in-memory queue refused it.
		s.logger.Warn("enqueue after create failed", "job_id", job.ID, "error", err)
	}
	s.collector.RecordSubmitted()
	s.logger.Info("export.submit.ok", "job_id", job.ID, "tenant_id", tenantID,
		"date_range", filters.DateRange, "include_files", filters.IncludeFiles, "include_pii", filters.IncludePII)

	view := job.View()
	return &view, nil
}

// List returns every job for the tenant, newest first.
func (s *Service) List(ctx context.Context) ([]entity.JobView, error) {
	tenantID, ok := common.TenantIDFromContext(ctx)
	if !ok {
		return nil, common.ErrForbidden
	}
	jobs, err := s.jobs.ListForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	views := make([]entity.JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, j.View())
	}
	return views, nil
}

// Poll returns a single job snapshot. Jobs owned by other tenants are
// indistinguishable from missing ones.
func (s *Service) Poll(ctx context.Context, jobID uuid.UUID) (*entity.JobView, error) {
	tenantID, ok := common.TenantIDFromContext(ctx)
	if !ok {
		return nil, common.ErrForbidden
	}
	job, err := s.jobs.GetForTenant(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	view := job.View()
	return &view, nil
}

// DownloadInfo describes the stream handed back by Download.
type DownloadInfo struct {
	Filename  string
	SizeBytes int64
}

// Download opens the artifact stream for a READY, unexpired job. The
// caller owns closing the reader.
func (s *Service) Download(ctx context.Context, jobID uuid.UUID) (io.ReadSeekCloser, *DownloadInfo, error) {
	tenantID, ok := common.TenantIDFromContext(ctx)
	if !ok {
		return nil, nil, common.ErrForbidden
	}
	job, err := s.jobs.GetForTenant(ctx, tenantID, jobID)
	if err != nil {
		return nil, nil, err
	}

	if !job.Downloadable(time.Now()) {
		switch job.Status {
		case constants.JobStatusExpired:
			return nil, nil, common.ErrExpired
		case constants.JobStatusReady:
			// Reaper has not swept yet but the TTL has elapsed.
			return nil, nil, common.ErrExpired
		default:
			return nil, nil, fmt.Errorf("%w: status %s", common.ErrNotReady, job.Status)
		}
	}
	if job.ArtifactRef == nil {
		return nil, nil, fmt.Errorf("READY job %s has no artifact ref", job.ID)
	}

	rc, size, err := s.artifacts.Open(*job.ArtifactRef)
	if err != nil {
		s.logger.Error("artifact open failed", "job_id", jobID, "error", err)
		return nil, nil, common.WrapError(err, "open artifact")
	}
	s.collector.RecordDownload()

	stamp := job.CreatedAt.UTC()
	if job.CompletedAt != nil {
		stamp = job.CompletedAt.UTC()
	}
	info := &DownloadInfo{
		Filename:  fmt.Sprintf("backup-%s-%s.zip", stamp.Format("20060102"), shortID(job.ID)),
		SizeBytes: size,
	}
	return rc, info, nil
}

// Delete removes the job record in any state, then reclaims its artifact.
// Record removal is never blocked by artifact-delete failure; the reaper's
// orphan sweep retries storage reclamation independently.
func (s *Service) Delete(ctx context.Context, jobID uuid.UUID) error {
	tenantID, ok := common.TenantIDFromContext(ctx)
	if !ok {
		return common.ErrForbidden
	}
	ref, err := s.jobs.Delete(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if ref != nil {
		if err := s.artifacts.Delete(*ref); err != nil {
			s.logger.Warn("artifact delete deferred to orphan sweep", "job_id", jobID, "ref", *ref, "error", err)
		}
	}
	s.logger.Info("export.delete.ok", "job_id", jobID, "tenant_id", tenantID)
	return nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
