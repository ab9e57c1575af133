package export

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ke-billing/command/bootstrap"
	ccsv "ke-billing/connectors/csv"
	"ke-billing/connectors/store"
	"ke-billing/domain/billing"
)

// Source is the store surface an export reads.
type Source interface {
	ListDaily(ctx context.Context, date string) ([]store.DailyRecord, error)
	ListBaselines(ctx context.Context) ([]store.BaselineRecord, error)
	ListAnomalies(ctx context.Context, f store.AnomalyFilter) ([]store.StoredAnomaly, error)
}

// Snapshot reads the summaries and anomalies of date and every baseline.
func Snapshot(ctx context.Context, src Source, date string) (ccsv.Export, error) {
	e := ccsv.Export{Date: date}
	var err error
	if e.Daily, err = src.ListDaily(ctx, date); err != nil {
		return e, err
	}
	if e.Baselines, err = src.ListBaselines(ctx); err != nil {
		return e, err
	}
	if e.Anomalies, err = src.ListAnomalies(ctx, store.AnomalyFilter{Date: date}); err != nil {
		return e, err
	}
	return e, nil
}

// Run executes the export command: dump one day of the store as CSV files.
//
// Usage:
//
//	ke-billing export [-config ./config.yml] [-date YYYYMMDD] [-out ./data]
func Run(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "config file (default $CONFIG_PATH or ./config.yml)")
	date := fs.String("date", "", "metering date YYYYMMDD (default yesterday)")
	out := fs.String("out", "data", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *date != "" && !billing.ValidDate(*date) {
		return fmt.Errorf("export: invalid -date %q, want YYYYMMDD", *date)
	}

	env, err := bootstrap.Load(*configPath, false)
	if err != nil {
		return err
	}
	defer env.Close()

	if *date == "" {
		loc, err := env.Location()
		if err != nil {
			return err
		}
		*date = billing.TargetDate(time.Now(), loc, -1)
	}

	ctx := context.Background()
	st, err := env.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := Snapshot(ctx, st, *date)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	paths, err := ccsv.WriteAll(*out, snap)
	if err != nil {
		env.Logger.Error("export.csv.write.error", "error", err)
		return err
	}
	env.Logger.Info("export.done", "date", *date, "daily", len(snap.Daily),
		"baselines", len(snap.Baselines), "anomalies", len(snap.Anomalies), "files", paths)
	return nil
}
