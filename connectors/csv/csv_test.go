package csv

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ke-billing/connectors/store"
	"ke-billing/domain/billing"
)

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	key := billing.EntityKey{DomainID: "d1", ProjectID: "p1", ServiceID: "vm"}

	paths, err := WriteAll(dir, Export{
		Date: "20240105",
		Daily: []store.DailyRecord{{
			DailySummary: billing.DailySummary{
				MeteringDate: "20240105", DomainID: "d1", ProjectID: "p1", ServiceID: "vm",
				ServiceName: "VM, large", ExpectAmount: 1234.5,
				PricingTypes: []string{"ON_DEMAND", "RESERVED"},
			},
			IsAnomaly: true,
		}},
		Baselines: []store.BaselineRecord{{
			EntityKey:   key,
			Statistics:  billing.Statistics{Mean: 100, Std: 0, SampleCount: 5},
			LastUpdated: time.Date(2024, 1, 6, 1, 0, 0, 0, time.UTC),
		}},
		Anomalies: []store.StoredAnomaly{{
			ID:            3,
			AnomalyRecord: billing.AnomalyRecord{Date: "20240105", Hour: 7, ServiceID: "vm", ZScore: math.Inf(1), DeviationRatio: 2.5},
			Status:        store.StatusResolved,
		}},
	})
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, filepath.Join(dir, "billing_daily_20240105.csv"), paths[0])

	daily := readAll(t, paths[0])
	require.Len(t, daily, 2)
	assert.Equal(t, "expect_amount", daily[0][11])
	assert.Equal(t, "VM, large", daily[1][6])
	assert.Equal(t, "1234.5", daily[1][11])
	assert.Equal(t, "ON_DEMAND;RESERVED", daily[1][12])
	assert.Equal(t, "true", daily[1][14])

	anomalies := readAll(t, paths[1])
	require.Len(t, anomalies, 2)
	assert.Equal(t, []string{"3", "20240105", "7"}, anomalies[1][:3])
	assert.Equal(t, "inf", anomalies[1][12])
	assert.Equal(t, "2.5", anomalies[1][13])
	assert.Equal(t, "RESOLVED", anomalies[1][16])
	assert.Equal(t, "", anomalies[1][17])

	baselines := readAll(t, paths[2])
	require.Len(t, baselines, 2)
	assert.Equal(t, "5", baselines[1][10])
	assert.Equal(t, "2024-01-06T01:00:00Z", baselines[1][12])
}

func TestWriteEmpty(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteAll(dir, Export{Date: "20240105"})
	require.NoError(t, err)
	for _, p := range paths {
		rows := readAll(t, p)
		assert.Len(t, rows, 1, p)
	}
}
