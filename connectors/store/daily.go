package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	lo "github.com/samber/lo"

	"ke-billing/domain/billing"
)

// DailyRecord is a stored daily summary.
type DailyRecord struct {
	billing.DailySummary
	IsAnomaly bool      `json:"isAnomaly"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EntityRef is an entity seen in the daily table with its latest non-empty service name.
type EntityRef struct {
	billing.EntityKey
	ServiceName string `db:"service_name" json:"serviceName"`
}

type dailyRow struct {
	Date           string  `db:"date"`
	DomainID       string  `db:"domain_id"`
	DomainName     string  `db:"domain_name"`
	ProjectID      string  `db:"project_id"`
	ProjectName    string  `db:"project_name"`
	ServiceID      string  `db:"service_id"`
	ServiceName    string  `db:"service_name"`
	UsageTime      float64 `db:"usage_time"`
	UsageSize      float64 `db:"usage_size"`
	GeneralAmount  float64 `db:"general_amount"`
	DiscountAmount float64 `db:"discount_amount"`
	ExpectAmount   float64 `db:"expect_amount"`
	PricingTypes   string  `db:"pricing_types"`
	Regions        string  `db:"regions"`
	IsAnomaly      bool    `db:"is_anomaly"`
	CreatedAt      string  `db:"created_at"`
	UpdatedAt      string  `db:"updated_at"`
}

func (r dailyRow) record() DailyRecord {
	return DailyRecord{
		DailySummary: billing.DailySummary{
			MeteringDate:   r.Date,
			DomainID:       r.DomainID,
			DomainName:     r.DomainName,
			ProjectID:      r.ProjectID,
			ProjectName:    r.ProjectName,
			ServiceID:      r.ServiceID,
			ServiceName:    r.ServiceName,
			UsageTime:      r.UsageTime,
			UsageSize:      r.UsageSize,
			GeneralAmount:  r.GeneralAmount,
			DiscountAmount: r.DiscountAmount,
			ExpectAmount:   r.ExpectAmount,
			PricingTypes:   decodeTags(r.PricingTypes),
			Regions:        decodeTags(r.Regions),
		},
		IsAnomaly: r.IsAnomaly,
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
	}
}

const upsertDailyQuery = `
	INSERT INTO billing_daily (date, domain_id, domain_name, project_id, project_name, service_id, service_name,
		usage_time, usage_size, general_amount, discount_amount, expect_amount, pricing_types, regions,
		created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (date, domain_id, project_id, service_id) DO UPDATE SET
		domain_name = excluded.domain_name,
		project_name = excluded.project_name,
		service_name = excluded.service_name,
		usage_time = excluded.usage_time,
		usage_size = excluded.usage_size,
		general_amount = excluded.general_amount,
		discount_amount = excluded.discount_amount,
		expect_amount = excluded.expect_amount,
		pricing_types = excluded.pricing_types,
		regions = excluded.regions,
		updated_at = excluded.updated_at
`

// UpsertDailySummaries writes the summaries in one transaction, replacing the
// figures of existing rows while keeping their anomaly flag and creation time.
func (s *Store) UpsertDailySummaries(ctx context.Context, summaries []billing.DailySummary) (int, error) {
	if len(summaries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, upsertDailyQuery)
	if err != nil {
		return 0, fmt.Errorf("prepare daily upsert: %w", err)
	}
	defer stmt.Close()

	ts := s.timestamp()
	for _, d := range summaries {
		pricing, err := encodeTags(d.PricingTypes)
		if err != nil {
			return 0, err
		}
		regions, err := encodeTags(d.Regions)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx,
			d.MeteringDate, d.DomainID, d.DomainName, d.ProjectID, d.ProjectName, d.ServiceID, d.ServiceName,
			d.UsageTime, d.UsageSize, d.GeneralAmount, d.DiscountAmount, d.ExpectAmount, pricing, regions,
			ts, ts,
		); err != nil {
			return 0, fmt.Errorf("upsert daily %s %s: %w", d.MeteringDate, d.Entity(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(summaries), nil
}

// HistoryAmounts returns the entity's daily expect amounts in date order,
// skipping days flagged anomalous, and the union of their pricing types.
func (s *Store) HistoryAmounts(ctx context.Context, key billing.EntityKey) ([]float64, []string, error) {
	var rows []struct {
		ExpectAmount float64 `db:"expect_amount"`
		PricingTypes string  `db:"pricing_types"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT expect_amount, pricing_types FROM billing_daily
		WHERE domain_id = ? AND project_id = ? AND service_id = ? AND is_anomaly = 0
		ORDER BY date`,
		key.DomainID, key.ProjectID, key.ServiceID)
	if err != nil {
		return nil, nil, fmt.Errorf("history %s: %w", key, err)
	}

	amounts := make([]float64, 0, len(rows))
	var types []string
	for _, r := range rows {
		amounts = append(amounts, r.ExpectAmount)
		types = append(types, decodeTags(r.PricingTypes)...)
	}
	types = lo.Uniq(types)
	sort.Strings(types)
	return amounts, types, nil
}

// MarkDayAnomalous flags the entity's row for date, creating an empty row when
// the day has not been ingested yet.
func (s *Store) MarkDayAnomalous(ctx context.Context, date string, key billing.EntityKey) error {
	ts := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO billing_daily (date, domain_id, project_id, service_id, is_anomaly, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (date, domain_id, project_id, service_id) DO UPDATE SET
			is_anomaly = 1,
			updated_at = excluded.updated_at`,
		date, key.DomainID, key.ProjectID, key.ServiceID, ts, ts)
	if err != nil {
		return fmt.Errorf("mark anomalous %s %s: %w", date, key, err)
	}
	return nil
}

// ListDaily returns the stored summaries of date ordered by names.
func (s *Store) ListDaily(ctx context.Context, date string) ([]DailyRecord, error) {
	var rows []dailyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM billing_daily WHERE date = ?
		ORDER BY domain_name, project_name, service_name, domain_id, project_id, service_id`, date)
	if err != nil {
		return nil, fmt.Errorf("list daily %s: %w", date, err)
	}
	return lo.Map(rows, func(r dailyRow, _ int) DailyRecord { return r.record() }), nil
}

// ListEntities returns every entity in the daily table.
func (s *Store) ListEntities(ctx context.Context) ([]EntityRef, error) {
	var refs []EntityRef
	err := s.db.SelectContext(ctx, &refs, `
		SELECT d.domain_id, d.project_id, d.service_id,
			COALESCE((
				SELECT n.service_name FROM billing_daily n
				WHERE n.domain_id = d.domain_id AND n.project_id = d.project_id
					AND n.service_id = d.service_id AND n.service_name <> ''
				ORDER BY n.date DESC LIMIT 1
			), '') AS service_name
		FROM billing_daily d
		GROUP BY d.domain_id, d.project_id, d.service_id
		ORDER BY d.domain_id, d.project_id, d.service_id`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return refs, nil
}
