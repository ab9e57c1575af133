package export

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ccsv "ke-billing/connectors/csv"
	"ke-billing/connectors/store"
	"ke-billing/domain/billing"
)

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "billing.db"))
	require.NoError(t, err)
	defer st.Close()

	_, err = st.UpsertDailySummaries(ctx, []billing.DailySummary{
		{MeteringDate: "20240105", DomainID: "d", ProjectID: "p", ServiceID: "vm", ExpectAmount: 5},
		{MeteringDate: "20240104", DomainID: "d", ProjectID: "p", ServiceID: "vm", ExpectAmount: 4},
	})
	require.NoError(t, err)
	_, err = st.UpsertAnomaly(ctx, billing.AnomalyRecord{Date: "20240105", Hour: 3, DomainID: "d", ProjectID: "p", ServiceID: "vm"})
	require.NoError(t, err)
	_, err = st.UpsertAnomaly(ctx, billing.AnomalyRecord{Date: "20240104", Hour: 3, DomainID: "d", ProjectID: "p", ServiceID: "vm"})
	require.NoError(t, err)

	snap, err := Snapshot(ctx, st, "20240105")
	require.NoError(t, err)
	assert.Equal(t, "20240105", snap.Date)
	assert.Len(t, snap.Daily, 1)
	assert.Len(t, snap.Anomalies, 1)
	assert.Empty(t, snap.Baselines)

	paths, err := ccsv.WriteAll(t.TempDir(), snap)
	require.NoError(t, err)
	assert.Len(t, paths, 3)
}
