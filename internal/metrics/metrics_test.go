package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTurn("replied")
		m.RecordAdmission("analysis", false)
		m.RecordStaged()
		m.RecordStagingFailure()
		m.RecordTransition("approved", true)
		m.RecordMerge("applied")
		m.RecordAnalystDropped()
		m.SetAnalystQueueDepth(3)
		m.RecordRequest("/healthz", "200")
		m.ObserveDuration("/healthz", 0.1)
		m.RecordError("merge", "write")
	})
}

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordAdmission("conversational", true)
	m.RecordAdmission("conversational", false)
	m.RecordAdmission("conversational", false)
	m.RecordTransition("rejected", false)
	m.RecordStaged()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdmissionsTotal.WithLabelValues("conversational", "admitted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AdmissionsTotal.WithLabelValues("conversational", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("rejected", "refused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandidatesStaged))
}

func TestHandlerExposesCuratorMetrics(t *testing.T) {
	m := New()
	m.RecordMerge("applied")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `curator_merges_total{result="applied"} 1`)
}
