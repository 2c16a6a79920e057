package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/worksuite/exportd/constants"
)

// ExportFilters is the immutable scope snapshot captured at submission.
// It is stored as a value copy on the job row; later changes to tenant
// settings never alter an in-flight export.
type ExportFilters struct {
	DateRange    constants.DateRange `json:"date_range"`
	IncludeFiles bool                `json:"include_files"`
	IncludePII   bool                `json:"include_pii"`
}

// Job represents an export job for data transfer between layers.
type Job struct {
	ID              uuid.UUID           `json:"id"`
	TenantID        uuid.UUID           `json:"tenant_id"`
	Status          constants.JobStatus `json:"status"`
	Filters         ExportFilters       `json:"filters"`
	ProgressPercent int                 `json:"progress_percent"`
	CurrentModule   string              `json:"current_module,omitempty"`
	ArtifactRef     *string             `json:"artifact_ref,omitempty"`
	FileSizeBytes   *int64              `json:"file_size_bytes,omitempty"`
	ErrorMessage    *string             `json:"error_message,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`

	// Worker-ownership bookkeeping. Internal only, never returned to clients.
	ClaimedBy   *string    `json:"-"`
	HeartbeatAt *time.Time `json:"-"`
}

// JobView is the caller-facing representation. Internal fields
// (artifact ref, raw filters, claim bookkeeping) are not exposed.
type JobView struct {
	ID              uuid.UUID           `json:"id"`
	Status          constants.JobStatus `json:"status"`
	ProgressPercent int                 `json:"progress_percent"`
	CurrentModule   string              `json:"current_module,omitempty"`
	FileSizeBytes   *int64              `json:"file_size_bytes,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`
	Error           *string             `json:"error,omitempty"`
}

// View projects the job onto its client representation.
func (j *Job) View() JobView {
	return JobView{
		ID:              j.ID,
		Status:          j.Status,
		ProgressPercent: j.ProgressPercent,
		CurrentModule:   j.CurrentModule,
		FileSizeBytes:   j.FileSizeBytes,
		CreatedAt:       j.CreatedAt,
		CompletedAt:     j.CompletedAt,
		ExpiresAt:       j.ExpiresAt,
		Error:           j.ErrorMessage,
	}
}

// Downloadable reports whether the artifact may be served at the given instant.
func (j *Job) Downloadable(now time.Time) bool {
	return j.Status == constants.JobStatusReady && j.ExpiresAt != nil && now.Before(*j.ExpiresAt)
}
