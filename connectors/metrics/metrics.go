// Package metrics records job counters on a private Prometheus registry and
// pushes them to a Pushgateway when the batch job finishes.
//
// Batch jobs are short lived, so nothing is scraped: the registry is pushed
// once per run under the configured job name.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "ke_billing"

// Recorder holds the job metrics. A nil *Recorder ignores every call.
type Recorder struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	entries     prometheus.Counter
	summaries   prometheus.Counter
	baselines   prometheus.Counter
	anomalies   prometheus.Counter
	requests    *prometheus.CounterVec
}

// NewRecorder registers the job metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		// outcome: success | failed
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job runs by job name and outcome.",
		}, []string{"job", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "End-to-end job duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"job"}),
		lastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"job"}),
		entries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_fetched_total",
			Help:      "Cost entries fetched from the billing API.",
		}),
		summaries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_summaries_upserted_total",
			Help:      "Daily summaries written to the store.",
		}),
		baselines: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "baselines_computed_total",
			Help:      "Baselines recomputed and stored.",
		}),
		anomalies: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Anomalies reported by the hourly detector.",
		}),
		// status: HTTP status code, or "error" when no response arrived
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing_api",
			Name:      "requests_total",
			Help:      "Billing API page requests by status.",
		}, []string{"status"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// JobFinished records the outcome and duration of a job run.
func (r *Recorder) JobFinished(job string, started time.Time, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failed"
	} else {
		r.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
	r.runs.WithLabelValues(job, outcome).Inc()
	r.duration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

func (r *Recorder) EntriesFetched(n int) {
	if r != nil {
		r.entries.Add(float64(n))
	}
}

func (r *Recorder) SummariesUpserted(n int) {
	if r != nil {
		r.summaries.Add(float64(n))
	}
}

func (r *Recorder) BaselinesComputed(n int) {
	if r != nil {
		r.baselines.Add(float64(n))
	}
}

func (r *Recorder) AnomaliesDetected(n int) {
	if r != nil {
		r.anomalies.Add(float64(n))
	}
}

// APIRequest counts one billing API page request.
func (r *Recorder) APIRequest(status string) {
	if r != nil {
		r.requests.WithLabelValues(status).Inc()
	}
}

// Push sends the registry to the Pushgateway at url. An empty url is a no-op.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if r == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
