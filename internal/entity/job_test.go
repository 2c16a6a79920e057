package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksuite/exportd/constants"
)

func TestViewHidesInternalFields(t *testing.T) {
	ref := "some-ref"
	worker := "host-w1"
	job := &Job{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		Status:      constants.JobStatusReady,
		Filters:     ExportFilters{DateRange: constants.DateRangeLast7, IncludePII: true},
		ArtifactRef: &ref,
		ClaimedBy:   &worker,
		CreatedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(job.View())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "artifact_ref")
	assert.NotContains(t, m, "filters")
	assert.NotContains(t, m, "tenant_id")
	assert.NotContains(t, m, "claimed_by")
	assert.Equal(t, "READY", m["status"])
}

func TestDownloadable(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	job := &Job{Status: constants.JobStatusReady, ExpiresAt: &future}
	assert.True(t, job.Downloadable(now))

	job.ExpiresAt = &past
	assert.False(t, job.Downloadable(now))

	job.ExpiresAt = nil
	assert.False(t, job.Downloadable(now))

	job = &Job{Status: constants.JobStatusProcessing, ExpiresAt: &future}
	assert.False(t, job.Downloadable(now))
}
