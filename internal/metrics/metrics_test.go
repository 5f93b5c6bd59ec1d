package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveTurn(nil)
	m.ObserveTurn(nil)
	m.ObserveTurn(errors.New("boom"))
	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)
	m.ObserveCacheLookup(false)
	m.SetKnowledgeBaseChunks(12)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues(StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues(StatusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.indexChunks))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTurn(nil)
		m.ObserveStage(StageRewrite, time.Now(), nil)
		m.ObserveIndexBuild(nil)
		m.ObserveCacheLookup(true)
		m.ObserveArchivePublish(nil)
		m.SetKnowledgeBaseChunks(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveStage(StageCompose, time.Now(), nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthq_stage_duration_seconds")
}
