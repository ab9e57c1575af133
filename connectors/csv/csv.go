package csv

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ke-billing/connectors/store"
)

// Export is one snapshot of the store written by WriteAll.
type Export struct {
	Date      string
	Daily     []store.DailyRecord
	Baselines []store.BaselineRecord
	Anomalies []store.StoredAnomaly
}

// WriteAll writes the export into dir and returns the written paths:
// billing_daily_<date>.csv, billing_anomalies_<date>.csv and billing_baseline.csv.
func WriteAll(dir string, e Export) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	daily := filepath.Join(dir, "billing_daily_"+e.Date+".csv")
	if err := WriteDailyCSV(daily, e.Daily); err != nil {
		return nil, err
	}
	anomalies := filepath.Join(dir, "billing_anomalies_"+e.Date+".csv")
	if err := WriteAnomalyCSV(anomalies, e.Anomalies); err != nil {
		return nil, err
	}
	baselines := filepath.Join(dir, "billing_baseline.csv")
	if err := WriteBaselineCSV(baselines, e.Baselines); err != nil {
		return nil, err
	}
	return []string{daily, anomalies, baselines}, nil
}

func WriteDailyCSV(path string, rows []store.DailyRecord) error {
	headers := []string{"date", "domain_id", "domain_name", "project_id", "project_name", "service_id", "service_name",
		"usage_time", "usage_size", "general_amount", "discount_amount", "expect_amount", "pricing_types", "regions", "is_anomaly"}
	return writeCSV(path, headers, len(rows), func(i int) []string {
		d := rows[i]
		return []string{
			d.MeteringDate,
			d.DomainID,
			d.DomainName,
			d.ProjectID,
			d.ProjectName,
			d.ServiceID,
			d.ServiceName,
			num(d.UsageTime),
			num(d.UsageSize),
			num(d.GeneralAmount),
			num(d.DiscountAmount),
			num(d.ExpectAmount),
			strings.Join(d.PricingTypes, ";"),
			strings.Join(d.Regions, ";"),
			strconv.FormatBool(d.IsAnomaly),
		}
	})
}

func WriteBaselineCSV(path string, rows []store.BaselineRecord) error {
	headers := []string{"domain_id", "project_id", "service_id", "service_name",
		"mean", "std", "min", "max", "p50", "p95", "sample_count", "pricing_types", "last_updated"}
	return writeCSV(path, headers, len(rows), func(i int) []string {
		b := rows[i]
		st := b.Statistics
		return []string{
			b.DomainID,
			b.ProjectID,
			b.ServiceID,
			b.ServiceName,
			num(st.Mean),
			num(st.Std),
			num(st.Min),
			num(st.Max),
			num(st.P50),
			num(st.P95),
			strconv.Itoa(st.SampleCount),
			strings.Join(b.PricingTypes, ";"),
			timestamp(b.LastUpdated),
		}
	})
}

func WriteAnomalyCSV(path string, rows []store.StoredAnomaly) error {
	headers := []string{"id", "date", "hour", "domain_id", "domain_name", "project_id", "project_name", "service_id", "service_name",
		"observed_amount", "baseline_mean", "baseline_std", "z_score", "deviation_ratio", "threshold_z", "threshold_ratio", "status", "created_at"}
	return writeCSV(path, headers, len(rows), func(i int) []string {
		a := rows[i]
		return []string{
			strconv.FormatInt(a.ID, 10),
			a.Date,
			strconv.Itoa(a.Hour),
			a.DomainID,
			a.DomainName,
			a.ProjectID,
			a.ProjectName,
			a.ServiceID,
			a.ServiceName,
			num(a.ObservedAmount),
			num(a.BaselineMean),
			num(a.BaselineStd),
			num(a.ZScore),
			num(a.DeviationRatio),
			num(a.ThresholdZ),
			num(a.ThresholdRatio),
			string(a.Status),
			timestamp(a.CreatedAt),
		}
	})
}

func writeCSV(path string, headers []string, n int, row func(i int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func num(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
