package constants

// JobStatus is the canonical status for rows in export_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued     JobStatus = "QUEUED"     // accepted, waiting for a worker
	JobStatusProcessing JobStatus = "PROCESSING" // claimed by exactly one worker
	JobStatusReady      JobStatus = "READY"      // artifact written, downloadable until expiry
	JobStatusFailed     JobStatus = "FAILED"     // terminal failure, never retried
	JobStatusExpired    JobStatus = "EXPIRED"    // TTL elapsed, artifact reclaimed
)

var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusProcessing: true,
	},
	JobStatusProcessing: {
		JobStatusReady:  true,
		JobStatusFailed: true,
	},
	JobStatusReady: {
		JobStatusExpired: true,
	},
	JobStatusFailed:  {},
	JobStatusExpired: {},
}

// IsValidTransition reports whether a job may move from one status to another.
// Terminal states never revert; FAILED and EXPIRED rows can only be deleted.
func IsValidTransition(from, to JobStatus) bool {
	nexts, ok := validTransitions[from]
	if !ok {
		return false
	}
	return nexts[to]
}

// IsTerminal reports whether no further transition is possible except deletion.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusReady || s == JobStatusFailed || s == JobStatusExpired
}

// IsActive reports whether the job counts against the per-tenant concurrency cap.
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}
