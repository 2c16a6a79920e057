package reaper

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksuite/exportd/constants"
	"github.com/worksuite/exportd/internal/artifact"
	"github.com/worksuite/exportd/internal/entity"
	"github.com/worksuite/exportd/internal/metrics"
	"github.com/worksuite/exportd/internal/repository"
)

type reaperFixture struct {
	jobs      repository.JobRepository
	artifacts *artifact.Store
	tenant    uuid.UUID
}

func newReaperFixture(t *testing.T) *reaperFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := repository.Open(context.Background(), repository.Config{
		Path: filepath.Join(t.TempDir(), "jobs.db"),
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := artifact.NewStore(t.TempDir(), log)
	require.NoError(t, err)

	return &reaperFixture{
		jobs:      repository.NewJobRepository(db, log),
		artifacts: store,
		tenant:    uuid.New(),
	}
}

func (f *reaperFixture) newReaper(cfg Config) *Reaper {
	return New(f.jobs, f.artifacts, metrics.NewCollector(prometheus.NewRegistry()), cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (f *reaperFixture) createJob(t *testing.T, createdAt time.Time) uuid.UUID {
	t.Helper()
	job := &entity.Job{
		ID:        uuid.New(),
		TenantID:  f.tenant,
		Filters:   entity.ExportFilters{DateRange: constants.DateRangeAll},
		CreatedAt: createdAt,
	}
	require.NoError(t, f.jobs.Create(context.Background(), job))
	return job.ID
}

func (f *reaperFixture) get(t *testing.T, jobID uuid.UUID) (*entity.Job, error) {
	t.Helper()
	return f.jobs.GetForTenant(context.Background(), f.tenant, jobID)
}

func (f *reaperFixture) makeReady(t *testing.T, jobID uuid.UUID, expiresAt time.Time) {
	t.Helper()
	ctx := context.Background()
	_, ok, err := f.jobs.Claim(ctx, jobID, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.artifacts.Put(jobID.String(), strings.NewReader("blob"))
	require.NoError(t, err)
	published, err := f.jobs.MarkReady(ctx, jobID, "w1", jobID.String(), 4, time.Now().UTC(), expiresAt)
	require.NoError(t, err)
	require.True(t, published)
}

func TestSweepExpiresPastTTL(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	stale := f.createJob(t, time.Now().UTC())
	f.makeReady(t, stale, time.Now().Add(-time.Minute))

	fresh := f.createJob(t, time.Now().UTC())
	f.makeReady(t, fresh, time.Now().Add(time.Hour))

	r := f.newReaper(Config{Interval: time.Hour, LivenessTimeout: 5 * time.Minute, RecordRetention: 30 * 24 * time.Hour})
	r.Sweep(ctx)

	// The expired record stays visible, its artifact is gone.
	got, err := f.get(t, stale)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusExpired, got.Status)
	assert.Nil(t, got.ArtifactRef)
	_, _, err = f.artifacts.Open(stale.String())
	require.Error(t, err)

	// The unexpired one is untouched.
	got, err = f.get(t, fresh)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusReady, got.Status)
	_, _, err = f.artifacts.Open(fresh.String())
	require.NoError(t, err)
}

func TestSweepFailsAbandonedWorkers(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	jobID := f.createJob(t, time.Now().UTC())
	_, ok, err := f.jobs.Claim(ctx, jobID, "w-dead")
	require.NoError(t, err)
	require.True(t, ok)

	// Liveness window so small the heartbeat written at claim is already stale.
	time.Sleep(5 * time.Millisecond)
	r := f.newReaper(Config{Interval: time.Hour, LivenessTimeout: time.Millisecond, RecordRetention: 30 * 24 * time.Hour})
	r.Sweep(ctx)

	got, err := f.get(t, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "worker lost", *got.ErrorMessage)
}

func TestSweepLeavesLiveWorkersAlone(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	jobID := f.createJob(t, time.Now().UTC())
	_, ok, err := f.jobs.Claim(ctx, jobID, "w-live")
	require.NoError(t, err)
	require.True(t, ok)

	r := f.newReaper(Config{Interval: time.Hour, LivenessTimeout: 5 * time.Minute, RecordRetention: 30 * 24 * time.Hour})
	r.Sweep(ctx)

	got, err := f.get(t, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusProcessing, got.Status)
}

func TestSweepReclaimsOrphanedArtifacts(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	// Blob with no job row, e.g. a crash between write and READY.
	_, err := f.artifacts.Put("orphan", strings.NewReader("blob"))
	require.NoError(t, err)

	// Blob still referenced by a row must survive.
	jobID := f.createJob(t, time.Now().UTC())
	f.makeReady(t, jobID, time.Now().Add(time.Hour))

	time.Sleep(5 * time.Millisecond)
	r := f.newReaper(Config{Interval: time.Hour, LivenessTimeout: time.Millisecond, RecordRetention: 30 * 24 * time.Hour})
	r.Sweep(ctx)

	_, _, err = f.artifacts.Open("orphan")
	require.Error(t, err, "orphan must be reclaimed")
	_, _, err = f.artifacts.Open(jobID.String())
	require.NoError(t, err, "referenced blob must survive")
}

func TestSweepSkipsFreshUnreferencedBlobs(t *testing.T) {
	f := newReaperFixture(t)

	// Just-written blob whose READY flip may still be in flight.
	_, err := f.artifacts.Put("in-flight", strings.NewReader("blob"))
	require.NoError(t, err)

	r := f.newReaper(Config{Interval: time.Hour, LivenessTimeout: 5 * time.Minute, RecordRetention: 30 * 24 * time.Hour})
	r.Sweep(context.Background())

	_, _, err = f.artifacts.Open("in-flight")
	require.NoError(t, err, "fresh blobs are not orphans yet")
}

func TestSweepPurgesOldTerminalRecords(t *testing.T) {
	f := newReaperFixture(t)
	ctx := context.Background()

	old := f.createJob(t, time.Now().UTC().Add(-60*24*time.Hour))
	_, ok, err := f.jobs.Claim(ctx, old, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.jobs.MarkFailed(ctx, old, "w1", "module employees failed"))

	recent := f.createJob(t, time.Now().UTC())

	r := f.newReaper(Config{Interval: time.Hour, LivenessTimeout: 5 * time.Minute, RecordRetention: 30 * 24 * time.Hour})
	r.Sweep(ctx)

	_, err = f.get(t, old)
	require.Error(t, err, "old FAILED record must be purged")
	_, err = f.get(t, recent)
	require.NoError(t, err, "active records are never purged")
}
