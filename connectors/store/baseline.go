package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lo "github.com/samber/lo"

	"ke-billing/domain/billing"
)

// BaselineRecord is the stored baseline of one entity.
type BaselineRecord struct {
	billing.EntityKey
	ServiceName  string             `json:"serviceName"`
	Statistics   billing.Statistics `json:"statistics"`
	PricingTypes []string           `json:"pricingTypes"`
	LastUpdated  time.Time          `json:"lastUpdated"`
}

type baselineRow struct {
	DomainID     string  `db:"domain_id"`
	ProjectID    string  `db:"project_id"`
	ServiceID    string  `db:"service_id"`
	ServiceName  string  `db:"service_name"`
	Mean         float64 `db:"mean"`
	Std          float64 `db:"std"`
	Min          float64 `db:"min"`
	Max          float64 `db:"max"`
	P50          float64 `db:"p50"`
	P95          float64 `db:"p95"`
	SampleCount  int     `db:"sample_count"`
	PricingTypes string  `db:"pricing_types"`
	LastUpdated  string  `db:"last_updated"`
}

func (r baselineRow) record() BaselineRecord {
	return BaselineRecord{
		EntityKey:   billing.EntityKey{DomainID: r.DomainID, ProjectID: r.ProjectID, ServiceID: r.ServiceID},
		ServiceName: r.ServiceName,
		Statistics: billing.Statistics{
			Mean: r.Mean, Std: r.Std, Min: r.Min, Max: r.Max,
			P50: r.P50, P95: r.P95, SampleCount: r.SampleCount,
		},
		PricingTypes: decodeTags(r.PricingTypes),
		LastUpdated:  parseTime(r.LastUpdated),
	}
}

// UpsertBaseline replaces the entity's baseline.
func (s *Store) UpsertBaseline(ctx context.Context, rec BaselineRecord) error {
	pricing, err := encodeTags(rec.PricingTypes)
	if err != nil {
		return err
	}
	st := rec.Statistics
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO billing_baseline (domain_id, project_id, service_id, service_name,
			mean, std, min, max, p50, p95, sample_count, pricing_types, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain_id, project_id, service_id) DO UPDATE SET
			service_name = excluded.service_name,
			mean = excluded.mean,
			std = excluded.std,
			min = excluded.min,
			max = excluded.max,
			p50 = excluded.p50,
			p95 = excluded.p95,
			sample_count = excluded.sample_count,
			pricing_types = excluded.pricing_types,
			last_updated = excluded.last_updated`,
		rec.DomainID, rec.ProjectID, rec.ServiceID, rec.ServiceName,
		st.Mean, st.Std, st.Min, st.Max, st.P50, st.P95, st.SampleCount, pricing, s.timestamp())
	if err != nil {
		return fmt.Errorf("upsert baseline %s: %w", rec.EntityKey, err)
	}
	return nil
}

// GetBaseline returns the baseline of key or ErrNotFound.
func (s *Store) GetBaseline(ctx context.Context, key billing.EntityKey) (BaselineRecord, error) {
	var row baselineRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM billing_baseline WHERE domain_id = ? AND project_id = ? AND service_id = ?`,
		key.DomainID, key.ProjectID, key.ServiceID)
	if errors.Is(err, sql.ErrNoRows) {
		return BaselineRecord{}, fmt.Errorf("baseline %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return BaselineRecord{}, fmt.Errorf("get baseline %s: %w", key, err)
	}
	return row.record(), nil
}

// BaselinesFor loads the baselines of keys. Keys without a baseline are absent
// from the map.
func (s *Store) BaselinesFor(ctx context.Context, keys []billing.EntityKey) (billing.BaselineMap, error) {
	out := make(billing.BaselineMap, len(keys))
	for _, key := range lo.Uniq(keys) {
		rec, err := s.GetBaseline(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = rec.Statistics
	}
	return out, nil
}

// ListBaselines returns every stored baseline.
func (s *Store) ListBaselines(ctx context.Context) ([]BaselineRecord, error) {
	var rows []baselineRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM billing_baseline ORDER BY domain_id, project_id, service_id`)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	return lo.Map(rows, func(r baselineRow, _ int) BaselineRecord { return r.record() }), nil
}
