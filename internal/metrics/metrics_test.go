package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewCollectorRegistersEverything(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	assert.NotNil(t, c.jobsSubmitted)
	assert.NotNil(t, c.jobsCompleted)
	assert.NotNil(t, c.jobsFailed)
	assert.NotNil(t, c.jobsExpired)
	assert.NotNil(t, c.downloads)
	assert.NotNil(t, c.jobDuration)
	assert.NotNil(t, c.jobsInFlight)

	// A second registration on the same registry must panic, which proves
	// everything above actually landed in reg.
	assert.Panics(t, func() { NewCollector(reg) })
}

func TestCounters(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordSubmitted()
	c.RecordSubmitted()
	c.RecordExpired()
	c.RecordDownload()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.downloads))
}

func TestInFlightGaugeTracksLifecycle(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordClaimed()
	c.RecordClaimed()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.jobsInFlight))

	c.RecordCompleted(1.5)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsCompleted))

	c.RecordFailed(0.2)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.jobsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsFailed))
}
