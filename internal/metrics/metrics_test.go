package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.Posted("temperature")
	m.Posted("temperature")
	m.Dropped("humidity", "connection")
	m.SetConnected(true)
	m.ObservePost(20 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.posted.WithLabelValues("temperature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("humidity", "connection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))

	m.SetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connected))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Posted("temperature")
		m.Dropped("temperature", "other")
		m.SetConnected(true)
		m.ObservePost(time.Second)
	})
	assert.NotNil(t, m.Handler())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Posted("pressure")
	m.ObservePost(time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `chainpost_readings_posted_total{metric="pressure"} 1`)
	assert.Contains(t, string(body), "chainpost_post_duration_seconds_count 1")
	assert.Contains(t, string(body), "go_goroutines")
}
