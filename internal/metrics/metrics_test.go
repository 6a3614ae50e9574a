package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()
	m.ObserveSubmission("group", "success", "", time.Now())
	m.ObserveSubmission("group", "success", "", time.Now())
	m.ObserveSubmission("group", "failed", "NOT_FOUND", time.Now())
	m.AddCreated("label_class", 3)
	m.AddCreated("group", 0)
	m.AddSkippedColours(2)
	m.SideEffectFailed("search")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("group", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("group", "failed", "NOT_FOUND")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.created.WithLabelValues("label_class")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.skippedColours))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sideEffects.WithLabelValues("search")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.AddCreated("group", 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `labeller_taxonomy_created_total{kind="group"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
