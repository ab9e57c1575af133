package daily

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ke-billing/connectors/metrics"
	"ke-billing/connectors/store"
	"ke-billing/domain/billing"
)

type fakeFetcher struct {
	data     map[string]any
	err      error
	from, to string
}

func (f *fakeFetcher) Fetch(_ context.Context, from, to string) (map[string]any, error) {
	f.from, f.to = from, to
	return f.data, f.err
}

type fakeArchiver struct {
	date     string
	metadata map[string]any
	err      error
}

func (f *fakeArchiver) UploadJSON(_ context.Context, _ map[string]any, date string, metadata map[string]any) (string, error) {
	f.date, f.metadata = date, metadata
	if f.err != nil {
		return "", f.err
	}
	return "raw/" + date + ".json", nil
}

func entry(date, service string, amount float64) map[string]any {
	return map[string]any{
		"meteringDate": date,
		"domainId":     "d1",
		"domainName":   "acme",
		"projectId":    "p1",
		"projectName":  "shop",
		"serviceId":    service,
		"serviceName":  service + "-name",
		"expectAmount": amount,
		"pricingType":  "ON_DEMAND",
	}
}

func payload(items ...any) map[string]any {
	return map[string]any{"result": map[string]any{"content": items}}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "billing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newJob(f Fetcher, st Store, buf *bytes.Buffer) *Job {
	return &Job{
		Fetcher:     f,
		Store:       st,
		Logger:      slog.New(slog.NewTextHandler(buf, nil)),
		Metrics:     metrics.NewRecorder(),
		Concurrency: 2,
		now:         func() time.Time { return time.Date(2024, 1, 6, 0, 5, 0, 0, time.UTC) },
		newID:       func() string { return "job-1" },
	}
}

func TestDailyJob(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	var logs bytes.Buffer

	fetcher := &fakeFetcher{data: payload(
		entry("20240105", "vm", 700.25),
		entry("20240105", "vm", 300),
		entry("20240105", "disk", 1500),
		"not-an-object",
	)}
	archiver := &fakeArchiver{}
	job := newJob(fetcher, st, &logs)
	job.Archiver = archiver

	res, err := job.Run(ctx, "20240105")
	require.NoError(t, err)

	assert.Equal(t, "20240105", fetcher.from)
	assert.Equal(t, "20240105", fetcher.to)
	assert.Equal(t, "raw/20240105.json", res.ArchiveKey)
	assert.Equal(t, "job-1", archiver.metadata["jobId"])
	assert.Equal(t, "2024-01-06T00:05:00Z", archiver.metadata["fetchedAt"])
	assert.Equal(t, map[string]any{"from": "20240105", "to": "20240105"}, archiver.metadata["apiParams"])

	assert.Equal(t, 3, res.Entries)
	assert.Equal(t, 2, res.Summaries)
	assert.Equal(t, 2, res.Baselines)
	assert.InDelta(t, 2500.25, res.Total, 1e-9)

	rows, err := st.ListDaily(ctx, "20240105")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	vm := billing.EntityKey{DomainID: "d1", ProjectID: "p1", ServiceID: "vm"}
	base, err := st.GetBaseline(ctx, vm)
	require.NoError(t, err)
	assert.InDelta(t, 1000.25, base.Statistics.Mean, 1e-9)
	assert.Equal(t, 1, base.Statistics.SampleCount)
	assert.Equal(t, "vm-name", base.ServiceName)
	assert.Equal(t, []string{"ON_DEMAND"}, base.PricingTypes)

	assert.Contains(t, logs.String(), "[BILLING_DAILY_TOTAL] [2024-01-05] total cost is 2,500.25.")
}

func TestDailyJobNoData(t *testing.T) {
	st := openStore(t)
	var logs bytes.Buffer

	res, err := newJob(&fakeFetcher{data: payload()}, st, &logs).Run(context.Background(), "20240105")
	require.NoError(t, err)
	assert.Zero(t, res.Summaries)
	assert.Contains(t, logs.String(), "daily.no_data")
	assert.NotContains(t, logs.String(), "BILLING_DAILY_TOTAL")
}

func TestDailyJobArchiveFailureIsNotFatal(t *testing.T) {
	st := openStore(t)
	var logs bytes.Buffer

	job := newJob(&fakeFetcher{data: payload(entry("20240105", "vm", 10))}, st, &logs)
	job.Archiver = &fakeArchiver{err: errors.New("access denied")}

	res, err := job.Run(context.Background(), "20240105")
	require.NoError(t, err)
	assert.Empty(t, res.ArchiveKey)
	assert.Equal(t, 1, res.Summaries)
	assert.Contains(t, logs.String(), "daily.archive.error")
}

func TestDailyJobFetchError(t *testing.T) {
	st := openStore(t)
	var logs bytes.Buffer

	_, err := newJob(&fakeFetcher{err: errors.New("timeout")}, st, &logs).Run(context.Background(), "20240105")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch 20240105")
}

func TestEntityRefs(t *testing.T) {
	summaries := []billing.DailySummary{
		{MeteringDate: "20240104", DomainID: "d", ProjectID: "p", ServiceID: "vm", ServiceName: "VM"},
		{MeteringDate: "20240105", DomainID: "d", ProjectID: "p", ServiceID: "vm", ServiceName: ""},
		{MeteringDate: "20240105", DomainID: "d", ProjectID: "p", ServiceID: "lb"},
	}
	refs := entityRefs(summaries)
	require.Len(t, refs, 2)
	assert.Equal(t, "vm", refs[0].ServiceID)
	assert.Equal(t, "VM", refs[0].ServiceName)
	assert.Equal(t, "", refs[1].ServiceName)
}
