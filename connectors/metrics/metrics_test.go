package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	r.JobFinished("daily", time.Now(), nil)
	r.JobFinished("daily", time.Now(), errors.New("boom"))
	r.EntriesFetched(120)
	r.SummariesUpserted(7)
	r.BaselinesComputed(3)
	r.AnomaliesDetected(2)
	r.APIRequest("200")
	r.APIRequest("200")
	r.APIRequest("429")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("daily", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("daily", "failed")))
	assert.Equal(t, 120.0, testutil.ToFloat64(r.entries))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.summaries))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.baselines))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.anomalies))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.requests.WithLabelValues("200")))
	assert.Greater(t, testutil.ToFloat64(r.lastSuccess.WithLabelValues("daily")), 0.0)
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.JobFinished("hourly", time.Now(), nil)
		r.EntriesFetched(1)
		r.AnomaliesDetected(1)
		r.APIRequest("error")
	})
	assert.NoError(t, r.Push(context.Background(), "http://unused", "job"))
	assert.Nil(t, r.Registry())
}

func TestPush(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		mu.Lock()
		path = req.URL.Path
		body = string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder()
	r.AnomaliesDetected(4)
	require.NoError(t, r.Push(context.Background(), srv.URL, "ke_billing_hourly"))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasSuffix(path, "/metrics/job/ke_billing_hourly"), path)
	assert.NotEmpty(t, body)
}

func TestPushSkippedWithoutURL(t *testing.T) {
	assert.NoError(t, NewRecorder().Push(context.Background(), "", "job"))
}

func TestPushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewRecorder().Push(context.Background(), srv.URL, "job")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push metrics")
}
