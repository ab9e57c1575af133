package daily

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	lo "github.com/samber/lo"

	"ke-billing/command/bootstrap"
	"ke-billing/command/calculate"
	"ke-billing/connectors/billingapi"
	"ke-billing/connectors/metrics"
	"ke-billing/connectors/notify"
	"ke-billing/connectors/objectstorage"
	"ke-billing/connectors/store"
	"ke-billing/domain/billing"
)

// Fetcher returns the raw cost usage payload for a date range (YYYYMMDD, inclusive).
type Fetcher interface {
	Fetch(ctx context.Context, from, to string) (map[string]any, error)
}

// Archiver keeps the raw payload of a metering date.
type Archiver interface {
	UploadJSON(ctx context.Context, data map[string]any, date string, metadata map[string]any) (string, error)
}

// Store persists the summaries and the baselines derived from them.
type Store interface {
	calculate.BaselineStore
	UpsertDailySummaries(ctx context.Context, summaries []billing.DailySummary) (int, error)
}

// Job ingests one metering day: fetch, archive, aggregate, store and refresh
// the baselines of the entities seen that day.
type Job struct {
	Fetcher     Fetcher
	Archiver    Archiver // optional
	Store       Store
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
	Concurrency int

	now   func() time.Time
	newID func() string
}

// Result describes a finished daily run.
type Result struct {
	JobID      string
	Date       string
	Entries    int
	Summaries  int
	Baselines  int
	Total      float64
	ArchiveKey string
}

// Run processes date (YYYYMMDD).
func (j *Job) Run(ctx context.Context, date string) (Result, error) {
	if j.now == nil {
		j.now = time.Now
	}
	if j.newID == nil {
		j.newID = uuid.NewString
	}
	res := Result{JobID: j.newID(), Date: date}
	logger := j.logger().With("jobId", res.JobID, "date", date)
	logger.Info("daily.start")

	fetchedAt := j.now()
	data, err := j.Fetcher.Fetch(ctx, date, date)
	if err != nil {
		return res, fmt.Errorf("daily: fetch %s: %w", date, err)
	}

	if j.Archiver != nil {
		key, err := j.Archiver.UploadJSON(ctx, data, date, map[string]any{
			"fetchedAt": fetchedAt.UTC().Format(time.RFC3339),
			"jobId":     res.JobID,
			"apiParams": map[string]any{"from": date, "to": date},
		})
		if err != nil {
			logger.Warn("daily.archive.error", "error", err)
		} else {
			res.ArchiveKey = key
			logger.Info("daily.archive.done", "key", key)
		}
	}

	entries := billing.DecodeEntries(billing.ExtractEntries(data))
	res.Entries = len(entries)
	j.Metrics.EntriesFetched(len(entries))
	logger.Info("daily.fetch.done", "entries", len(entries))
	if len(entries) == 0 {
		logger.Warn("daily.no_data")
		return res, nil
	}

	summaries := billing.Aggregate(entries)
	n, err := j.Store.UpsertDailySummaries(ctx, summaries)
	if err != nil {
		return res, fmt.Errorf("daily: store summaries: %w", err)
	}
	res.Summaries = n
	j.Metrics.SummariesUpserted(n)
	logger.Info("daily.summaries.saved", "count", n)

	refs := entityRefs(summaries)
	res.Baselines, err = calculate.Recompute(ctx, j.Store, refs, j.Concurrency, logger)
	j.Metrics.BaselinesComputed(res.Baselines)
	if err != nil {
		return res, fmt.Errorf("daily: baselines: %w", err)
	}
	logger.Info("daily.baselines.saved", "count", res.Baselines, "entities", len(refs))

	res.Total = lo.SumBy(summaries, func(s billing.DailySummary) float64 { return s.ExpectAmount })
	logger.Info(notify.DailyTotalMessage(date, res.Total), "event", "daily.total", "total", res.Total)
	return res, nil
}

func (j *Job) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// entityRefs lists the distinct entities of summaries with the last non-empty
// service name seen for each.
func entityRefs(summaries []billing.DailySummary) []store.EntityRef {
	names := map[billing.EntityKey]string{}
	for _, s := range summaries {
		if s.ServiceName != "" {
			names[s.Entity()] = s.ServiceName
		}
	}
	uniq := lo.UniqBy(summaries, func(s billing.DailySummary) billing.EntityKey { return s.Entity() })
	return lo.Map(uniq, func(s billing.DailySummary, _ int) store.EntityRef {
		return store.EntityRef{EntityKey: s.Entity(), ServiceName: names[s.Entity()]}
	})
}

// Run executes the daily command.
//
// Usage:
//
//	ke-billing daily [-config ./config.yml] [-date YYYYMMDD | -today]
//
// Without -date the job processes yesterday in detection.timezone.
func Run(args []string) error {
	fs := flag.NewFlagSet("daily", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "config file (default $CONFIG_PATH or ./config.yml)")
	date := fs.String("date", "", "metering date YYYYMMDD (default yesterday)")
	today := fs.Bool("today", false, "process today instead of yesterday")
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := bootstrap.Load(*configPath, true)
	if err != nil {
		return err
	}
	defer env.Close()
	cfg := env.Config

	target, err := resolveDate(*date, *today, env)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := env.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	rec := metrics.NewRecorder()
	job := &Job{
		Fetcher:     billingapi.NewClient(cfg.BillingAPI).WithObserver(rec),
		Store:       st,
		Logger:      env.Logger.With("job", "daily"),
		Metrics:     rec,
		Concurrency: cfg.Detection.Concurrency,
	}
	if cfg.ObjectStorage.Bucket != "" {
		archive, err := objectstorage.New(cfg.ObjectStorage)
		if err != nil {
			return err
		}
		switch ok, err := archive.BucketExists(ctx); {
		case err != nil:
			env.Logger.Warn("daily.archive.check.error", "bucket", cfg.ObjectStorage.Bucket, "error", err)
			job.Archiver = archive
		case !ok:
			env.Logger.Warn("daily.archive.skip", "reason", "bucket not found", "bucket", cfg.ObjectStorage.Bucket)
		default:
			job.Archiver = archive
		}
	} else {
		env.Logger.Info("daily.archive.skip", "reason", "objectStorage.bucket not set")
	}

	started := time.Now()
	_, err = job.Run(ctx, target)
	rec.JobFinished("daily", started, err)
	env.PushMetrics(rec, "daily")
	return err
}

func resolveDate(date string, today bool, env *bootstrap.Env) (string, error) {
	if date != "" {
		if !billing.ValidDate(date) {
			return "", fmt.Errorf("daily: invalid -date %q, want YYYYMMDD", date)
		}
		if today {
			return "", errors.New("daily: -date and -today are exclusive")
		}
		return date, nil
	}
	loc, err := env.Location()
	if err != nil {
		return "", err
	}
	offset := -1
	if today {
		offset = 0
	}
	return billing.TargetDate(time.Now(), loc, offset), nil
}
