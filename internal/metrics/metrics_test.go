package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.JobHandled(OutcomeCompleted)
	m.JobHandled(OutcomeCompleted)
	m.JobHandled(OutcomeConflict)
	m.StepFinished("CPE Check", "Skipped")
	m.RunFinished(1500 * time.Millisecond)
	m.WebhookEvent("enqueued")
	m.QueueDepth("ready", 4)
	m.Concluded("root_cause")
	m.DeviceWentDown()
	m.LogsPruned(3)
	m.LogsPruned(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobs.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues(OutcomeConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("CPE Check", "Skipped")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verdicts.WithLabelValues("root_cause")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.statusFlips))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.logsPruned))

	n, err := testutil.GatherAndCount(reg, "netdoctor_diagnostic_run_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobHandled(OutcomeFaulted)
		m.StepFinished("x", "y")
		m.RunFinished(time.Second)
		m.WebhookEvent("rejected")
		m.QueueDepth("ready", 1)
		m.Concluded("healthy")
		m.DeviceWentDown()
		m.LogsPruned(2)
	})
}
