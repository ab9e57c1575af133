package hourly

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	lo "github.com/samber/lo"

	"ke-billing/command/bootstrap"
	"ke-billing/connectors/billingapi"
	"ke-billing/connectors/metrics"
	"ke-billing/connectors/notify"
	"ke-billing/domain/billing"
)

// Fetcher returns the raw cost usage payload for a date range (YYYYMMDD, inclusive).
type Fetcher interface {
	Fetch(ctx context.Context, from, to string) (map[string]any, error)
}

// Store loads baselines and records verdicts.
type Store interface {
	BaselinesFor(ctx context.Context, keys []billing.EntityKey) (billing.BaselineMap, error)
	UpsertAnomaly(ctx context.Context, a billing.AnomalyRecord) (int64, error)
	MarkDayAnomalous(ctx context.Context, date string, key billing.EntityKey) error
}

// Alerter delivers one anomaly.
type Alerter interface {
	Alert(ctx context.Context, a billing.AnomalyRecord) error
}

// Job checks today's accumulated spend against the stored baselines.
type Job struct {
	Fetcher    Fetcher
	Store      Store
	Alerter    Alerter
	Thresholds billing.Thresholds
	Logger     *slog.Logger
	Metrics    *metrics.Recorder

	newID func() string
}

// Result describes a finished hourly run.
type Result struct {
	JobID     string
	Date      string
	Hour      int
	Summaries int
	Baselines int
	Anomalies []billing.AnomalyRecord
}

// Run evaluates date (YYYYMMDD) as of the end of hour (0-23). Every anomaly is
// stored and flagged on its day; a storage failure of one anomaly does not
// stop the others and alert delivery failures are only logged.
func (j *Job) Run(ctx context.Context, date string, hour int) (Result, error) {
	if j.newID == nil {
		j.newID = uuid.NewString
	}
	res := Result{JobID: j.newID(), Date: date, Hour: hour, Anomalies: []billing.AnomalyRecord{}}
	logger := j.logger().With("jobId", res.JobID, "date", date, "hour", hour)
	logger.Info("hourly.start", "zThreshold", j.Thresholds.Z, "ratioThreshold", j.Thresholds.Ratio)

	data, err := j.Fetcher.Fetch(ctx, date, date)
	if err != nil {
		return res, fmt.Errorf("hourly: fetch %s: %w", date, err)
	}
	entries := billing.DecodeEntries(billing.ExtractEntries(data))
	j.Metrics.EntriesFetched(len(entries))
	if len(entries) == 0 {
		logger.Warn("hourly.no_data")
		return res, nil
	}

	summaries := billing.Aggregate(entries)
	res.Summaries = len(summaries)
	keys := lo.Uniq(lo.Map(summaries, func(s billing.DailySummary, _ int) billing.EntityKey { return s.Entity() }))
	baselines, err := j.Store.BaselinesFor(ctx, keys)
	if err != nil {
		return res, fmt.Errorf("hourly: load baselines: %w", err)
	}
	res.Baselines = len(baselines)
	logger.Info("hourly.baselines.loaded", "summaries", len(summaries), "baselines", len(baselines))

	res.Anomalies = billing.Detect(summaries, baselines, date, hour, j.Thresholds)
	j.Metrics.AnomaliesDetected(len(res.Anomalies))
	if len(res.Anomalies) == 0 {
		logger.Info("hourly.done", "anomalies", 0)
		return res, nil
	}

	var errs *multierror.Error
	for _, a := range res.Anomalies {
		if _, err := j.Store.UpsertAnomaly(ctx, a); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := j.Store.MarkDayAnomalous(ctx, a.Date, a.Entity()); err != nil {
			errs = multierror.Append(errs, err)
		}
		if j.Alerter != nil {
			if err := j.Alerter.Alert(ctx, a); err != nil {
				logger.Warn("hourly.alert.error", "entity", a.Entity().String(), "error", err)
			}
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return res, fmt.Errorf("hourly: store anomalies: %w", err)
	}
	logger.Info("hourly.done", "anomalies", len(res.Anomalies))
	return res, nil
}

func (j *Job) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// Run executes the hourly command.
//
// Usage:
//
//	ke-billing hourly [-config ./config.yml] [-date YYYYMMDD] [-hour 0-23]
//
// Without flags the job evaluates today at the current hour in detection.timezone.
func Run(args []string) error {
	fs := flag.NewFlagSet("hourly", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "config file (default $CONFIG_PATH or ./config.yml)")
	date := fs.String("date", "", "metering date YYYYMMDD (default today)")
	hour := fs.Int("hour", -1, "hour of day 0-23 (default current hour)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *date != "" && !billing.ValidDate(*date) {
		return fmt.Errorf("hourly: invalid -date %q, want YYYYMMDD", *date)
	}
	if *hour > 23 {
		return fmt.Errorf("hourly: invalid -hour %d", *hour)
	}

	env, err := bootstrap.Load(*configPath, true)
	if err != nil {
		return err
	}
	defer env.Close()
	cfg := env.Config

	loc, err := env.Location()
	if err != nil {
		return err
	}
	now := time.Now().In(loc)
	if *date == "" {
		*date = billing.TargetDate(now, loc, 0)
	}
	if *hour < 0 {
		*hour = now.Hour()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := env.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := env.Logger.With("job", "hourly")
	rec := metrics.NewRecorder()
	job := &Job{
		Fetcher:    billingapi.NewClient(cfg.BillingAPI).WithObserver(rec),
		Store:      st,
		Alerter:    notify.NewDispatcher(notify.NewSlack(cfg.Alert.SlackWebhookURL, cfg.Alert.Timeout), logger),
		Thresholds: cfg.Detection.Thresholds(),
		Logger:     logger,
		Metrics:    rec,
	}

	started := time.Now()
	_, err = job.Run(ctx, *date, *hour)
	rec.JobFinished("hourly", started, err)
	env.PushMetrics(rec, "hourly")
	return err
}
