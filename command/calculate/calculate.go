package calculate

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"ke-billing/command/bootstrap"
	"ke-billing/connectors/metrics"
	"ke-billing/connectors/store"
	"ke-billing/domain/billing"
)

// BaselineStore is the persistence a baseline recomputation needs.
type BaselineStore interface {
	HistoryAmounts(ctx context.Context, key billing.EntityKey) ([]float64, []string, error)
	UpsertBaseline(ctx context.Context, rec store.BaselineRecord) error
}

// Recompute rebuilds the baseline of each entity from its stored history, at
// most concurrency at a time. Entities with no usable history are skipped.
// It returns the number of baselines written; failures of single entities are
// collected and do not stop the others.
func Recompute(ctx context.Context, st BaselineStore, refs []store.EntityRef, concurrency int, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		errs    *multierror.Error
		written atomic.Int64
	)
	g.SetLimit(concurrency)

	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := recomputeOne(ctx, st, ref)
			if err != nil {
				logger.Warn("baseline.update.error", "entity", ref.String(), "error", err)
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
				return nil
			}
			if ok {
				written.Add(1)
			} else {
				logger.Debug("baseline.skip", "entity", ref.String(), "reason", "no history")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(written.Load()), err
	}
	return int(written.Load()), errs.ErrorOrNil()
}

func recomputeOne(ctx context.Context, st BaselineStore, ref store.EntityRef) (bool, error) {
	amounts, pricingTypes, err := st.HistoryAmounts(ctx, ref.EntityKey)
	if err != nil {
		return false, err
	}
	stats, ok := billing.ComputeBaseline(amounts)
	if !ok {
		return false, nil
	}
	err = st.UpsertBaseline(ctx, store.BaselineRecord{
		EntityKey:    ref.EntityKey,
		ServiceName:  ref.ServiceName,
		Statistics:   stats,
		PricingTypes: pricingTypes,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Run executes the calculate command: recompute the baseline of every entity
// in the store.
//
// Usage:
//
//	ke-billing calculate [-config ./config.yml] [-concurrency 4]
func Run(args []string) error {
	fs := flag.NewFlagSet("calculate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "config file (default $CONFIG_PATH or ./config.yml)")
	concurrency := fs.Int("concurrency", 0, "parallel baseline updates (default detection.concurrency)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return errors.New("calculate: no positional arguments expected")
	}

	env, err := bootstrap.Load(*configPath, false)
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.Logger.With("job", "calculate")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := env.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if *concurrency <= 0 {
		*concurrency = env.Config.Detection.Concurrency
	}

	rec := metrics.NewRecorder()
	started := time.Now()
	n, err := recomputeAll(ctx, st, *concurrency, logger)
	rec.BaselinesComputed(n)
	rec.JobFinished("calculate", started, err)
	env.PushMetrics(rec, "calculate")
	return err
}

type entityLister interface {
	BaselineStore
	ListEntities(ctx context.Context) ([]store.EntityRef, error)
}

func recomputeAll(ctx context.Context, st entityLister, concurrency int, logger *slog.Logger) (int, error) {
	refs, err := st.ListEntities(ctx)
	if err != nil {
		return 0, err
	}
	logger.Info("calculate.start", "entities", len(refs), "concurrency", concurrency)
	n, err := Recompute(ctx, st, refs, concurrency, logger)
	if err != nil {
		logger.Error("calculate.error", "updated", n, "error", err)
		return n, fmt.Errorf("calculate: %w", err)
	}
	logger.Info("calculate.done", "updated", n, "skipped", len(refs)-n)
	return n, nil
}
