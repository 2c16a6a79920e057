package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/worksuite/exportd/constants"
	"github.com/worksuite/exportd/internal/common"
	"github.com/worksuite/exportd/internal/entity"
)

// JobRepository is the persistence surface for export job records. Every
// status mutation is a conditional update so that at most one actor ever
// owns a given transition.
type JobRepository interface {
	// Create persists a new QUEUED job unless the tenant already has an
	// active one; in that case it returns common.ErrConcurrencyLimit.
	Create(ctx context.Context, job *entity.Job) error
	GetForTenant(ctx context.Context, tenantID, jobID uuid.UUID) (*entity.Job, error)
	ListForTenant(ctx context.Context, tenantID uuid.UUID) ([]*entity.Job, error)
	// ListQueued returns ids of QUEUED rows, oldest first, for startup re-enqueue.
	ListQueued(ctx context.Context) ([]uuid.UUID, error)

	// Claim performs the QUEUED->PROCESSING compare-and-set. ok is false
	// when another worker won the claim or the row is gone.
	Claim(ctx context.Context, jobID uuid.UUID, workerID string) (job *entity.Job, ok bool, err error)
	// UpdateProgress advances progress/current module for the owning worker.
	// Progress never decreases; regressing writes are dropped.
	UpdateProgress(ctx context.Context, jobID uuid.UUID, workerID string, percent int, module string) error
	Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) error
	// MarkReady performs the PROCESSING->READY finalization in a single
	// durable update. ok is false when the record was deleted mid-flight;
	// the caller must then discard the artifact instead of publishing it.
	MarkReady(ctx context.Context, jobID uuid.UUID, workerID, artifactRef string, sizeBytes int64, completedAt, expiresAt time.Time) (ok bool, err error)
	MarkFailed(ctx context.Context, jobID uuid.UUID, workerID, message string) error

	// Expire performs the READY->EXPIRED compare-and-set.
	Expire(ctx context.Context, jobID uuid.UUID) (ok bool, err error)
	// FailStale transitions an abandoned PROCESSING row to FAILED. The
	// heartbeat cutoff is re-checked inside the update so a live worker is
	// never clobbered.
	FailStale(ctx context.Context, jobID uuid.UUID, cutoff time.Time, message string) (ok bool, err error)

	// Delete removes the record in any state and returns its artifact ref
	// (nil when none was written). Missing rows yield common.ErrNotFound.
	Delete(ctx context.Context, tenantID, jobID uuid.UUID) (artifactRef *string, err error)

	ListExpired(ctx context.Context, now time.Time) ([]*entity.Job, error)
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	// PurgeBefore removes long-terminal EXPIRED/FAILED records entirely.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// LiveArtifactRefs returns every artifact ref still referenced by a row.
	LiveArtifactRefs(ctx context.Context) (map[string]struct{}, error)
}

type jobRepo struct {
	db  *sql.DB
	log *slog.Logger
}

func NewJobRepository(db *sql.DB, log *slog.Logger) JobRepository {
	return &jobRepo{db: db, log: log}
}

const jobColumns = `id, tenant_id, status, date_range, include_files, include_pii,
	progress_percent, current_module, artifact_ref, file_size_bytes, error_message,
	claimed_by, heartbeat_at, created_at, completed_at, expires_at`

func (r *jobRepo) Create(ctx context.Context, job *entity.Job) error {
	// Insert-unless-active: the concurrency cap check and the insert are a
	// single statement, so two racing submits cannot both slip through.
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO export_jobs (id, tenant_id, status, date_range, include_files, include_pii, progress_percent, created_at)
		SELECT ?, ?, ?, ?, ?, ?, 0, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM export_jobs
			WHERE tenant_id = ? AND status IN (?, ?)
		)`,
		job.ID.String(), job.TenantID.String(), string(constants.JobStatusQueued),
		string(job.Filters.DateRange), boolToInt(job.Filters.IncludeFiles), boolToInt(job.Filters.IncludePII),
		job.CreatedAt.UnixMilli(),
		job.TenantID.String(), string(constants.JobStatusQueued), string(constants.JobStatusProcessing),
	)
	if err != nil {
		r.log.Error("job create failed", "tenant_id", job.TenantID, "error", err)
		return common.WrapError(err, "create job")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return common.ErrConcurrencyLimit
	}
	job.Status = constants.JobStatusQueued
	r.log.Info("job created", "job_id", job.ID, "tenant_id", job.TenantID, "date_range", job.Filters.DateRange)
	return nil
}

func (r *jobRepo) GetForTenant(ctx context.Context, tenantID, jobID uuid.UUID) (*entity.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM export_jobs WHERE id = ? AND tenant_id = ?`,
		jobID.String(), tenantID.String(),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		r.log.Error("job get failed", "job_id", jobID, "error", err)
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) ListForTenant(ctx context.Context, tenantID uuid.UUID) ([]*entity.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM export_jobs WHERE tenant_id = ? ORDER BY created_at DESC, rowid DESC`,
		tenantID.String(),
	)
	if err != nil {
		r.log.Error("job list failed", "tenant_id", tenantID, "error", err)
		return nil, err
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepo) ListQueued(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM export_jobs WHERE status = ? ORDER BY created_at ASC, rowid ASC`,
		string(constants.JobStatusQueued),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *jobRepo) Claim(ctx context.Context, jobID uuid.UUID, workerID string) (*entity.Job, bool, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`UPDATE export_jobs SET status = ?, claimed_by = ?, heartbeat_at = ? WHERE id = ? AND status = ?`,
		string(constants.JobStatusProcessing), workerID, now.UnixMilli(),
		jobID.String(), string(constants.JobStatusQueued),
	)
	if err != nil {
		r.log.Error("job claim failed", "job_id", jobID, "worker_id", workerID, "error", err)
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 0 {
		return nil, false, nil
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE id = ?`, jobID.String())
	job, err := scanJob(row)
	if err != nil {
		return nil, false, err
	}
	r.log.Info("job claimed", "job_id", jobID, "worker_id", workerID)
	return job, true, nil
}

func (r *jobRepo) UpdateProgress(ctx context.Context, jobID uuid.UUID, workerID string, percent int, module string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE export_jobs SET progress_percent = ?, current_module = ?, heartbeat_at = ?
		 WHERE id = ? AND status = ? AND claimed_by = ? AND progress_percent <= ?`,
		percent, module, time.Now().UnixMilli(),
		jobID.String(), string(constants.JobStatusProcessing), workerID, percent,
	)
	if err != nil {
		r.log.Error("progress update failed", "job_id", jobID, "error", err)
	}
	return err
}

func (r *jobRepo) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE export_jobs SET heartbeat_at = ? WHERE id = ? AND status = ? AND claimed_by = ?`,
		time.Now().UnixMilli(), jobID.String(), string(constants.JobStatusProcessing), workerID,
	)
	return err
}

func (r *jobRepo) MarkReady(ctx context.Context, jobID uuid.UUID, workerID, artifactRef string, sizeBytes int64, completedAt, expiresAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE export_jobs SET status = ?, progress_percent = 100, current_module = '',
			artifact_ref = ?, file_size_bytes = ?, completed_at = ?, expires_at = ?
		 WHERE id = ? AND status = ? AND claimed_by = ?`,
		string(constants.JobStatusReady), artifactRef, sizeBytes,
		completedAt.UnixMilli(), expiresAt.UnixMilli(),
		jobID.String(), string(constants.JobStatusProcessing), workerID,
	)
	if err != nil {
		r.log.Error("mark ready failed", "job_id", jobID, "error", err)
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		r.log.Warn("mark ready found no owned row, output must be discarded", "job_id", jobID, "worker_id", workerID)
		return false, nil
	}
	r.log.Info("job ready", "job_id", jobID, "size_bytes", sizeBytes, "expires_at", expiresAt)
	return true, nil
}

func (r *jobRepo) MarkFailed(ctx context.Context, jobID uuid.UUID, workerID, message string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE export_jobs SET status = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND status = ? AND claimed_by = ?`,
		string(constants.JobStatusFailed), message, time.Now().UnixMilli(),
		jobID.String(), string(constants.JobStatusProcessing), workerID,
	)
	if err != nil {
		r.log.Error("mark failed errored", "job_id", jobID, "error", err)
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.log.Warn("job failed", "job_id", jobID, "error_message", message)
	}
	return nil
}

func (r *jobRepo) Expire(ctx context.Context, jobID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE export_jobs SET status = ?, artifact_ref = NULL WHERE id = ? AND status = ?`,
		string(constants.JobStatusExpired), jobID.String(), string(constants.JobStatusReady),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *jobRepo) FailStale(ctx context.Context, jobID uuid.UUID, cutoff time.Time, message string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE export_jobs SET status = ?, error_message = ?, completed_at = ?
		 WHERE id = ? AND status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)`,
		string(constants.JobStatusFailed), message, time.Now().UnixMilli(),
		jobID.String(), string(constants.JobStatusProcessing), cutoff.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *jobRepo) Delete(ctx context.Context, tenantID, jobID uuid.UUID) (*string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var ref sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT artifact_ref FROM export_jobs WHERE id = ? AND tenant_id = ?`,
		jobID.String(), tenantID.String(),
	).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM export_jobs WHERE id = ? AND tenant_id = ?`,
		jobID.String(), tenantID.String(),
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	r.log.Info("job deleted", "job_id", jobID, "tenant_id", tenantID)
	if ref.Valid {
		return &ref.String, nil
	}
	return nil, nil
}

func (r *jobRepo) ListExpired(ctx context.Context, now time.Time) ([]*entity.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM export_jobs WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(constants.JobStatusReady), now.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *jobRepo) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM export_jobs WHERE status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)`,
		string(constants.JobStatusProcessing), cutoff.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *jobRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM export_jobs WHERE status IN (?, ?) AND created_at < ?`,
		string(constants.JobStatusExpired), string(constants.JobStatusFailed), cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *jobRepo) LiveArtifactRefs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT artifact_ref FROM export_jobs WHERE artifact_ref IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := map[string]struct{}{}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs[ref] = struct{}{}
	}
	return refs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		idStr, tenantStr, status, dateRange, module string
		includeFiles, includePII, progress          int
		artifactRef, errorMessage, claimedBy        sql.NullString
		fileSize, heartbeatAt, completedAt, expires sql.NullInt64
		createdAt                                   int64
	)
	if err := row.Scan(
		&idStr, &tenantStr, &status, &dateRange, &includeFiles, &includePII,
		&progress, &module, &artifactRef, &fileSize, &errorMessage,
		&claimedBy, &heartbeatAt, &createdAt, &completedAt, &expires,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	tenantID, err := uuid.Parse(tenantStr)
	if err != nil {
		return nil, err
	}

	job := &entity.Job{
		ID:       id,
		TenantID: tenantID,
		Status:   constants.JobStatus(status),
		Filters: entity.ExportFilters{
			DateRange:    constants.DateRange(dateRange),
			IncludeFiles: includeFiles != 0,
			IncludePII:   includePII != 0,
		},
		ProgressPercent: progress,
		CurrentModule:   module,
		CreatedAt:       time.UnixMilli(createdAt),
	}
	if artifactRef.Valid {
		job.ArtifactRef = &artifactRef.String
	}
	if fileSize.Valid {
		job.FileSizeBytes = &fileSize.Int64
	}
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}
	if claimedBy.Valid {
		job.ClaimedBy = &claimedBy.String
	}
	if heartbeatAt.Valid {
		t := time.UnixMilli(heartbeatAt.Int64)
		job.HeartbeatAt = &t
	}
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64)
		job.CompletedAt = &t
	}
	if expires.Valid {
		t := time.UnixMilli(expires.Int64)
		job.ExpiresAt = &t
	}
	return job, nil
}

func scanIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
