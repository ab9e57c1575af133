package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	lo "github.com/samber/lo"

	"ke-billing/domain/billing"
)

// AnomalyStatus tracks operator handling of a stored anomaly.
type AnomalyStatus string

const (
	StatusNew          AnomalyStatus = "NEW"
	StatusAcknowledged AnomalyStatus = "ACKNOWLEDGED"
	StatusResolved     AnomalyStatus = "RESOLVED"
)

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (AnomalyStatus, error) {
	switch st := AnomalyStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusNew, StatusAcknowledged, StatusResolved:
		return st, nil
	default:
		return "", fmt.Errorf("unknown anomaly status %q", s)
	}
}

// StoredAnomaly is an anomaly record with its row id and handling status.
type StoredAnomaly struct {
	ID int64 `json:"id"`
	billing.AnomalyRecord
	Status    AnomalyStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// AnomalyFilter narrows ListAnomalies. Zero fields match everything.
type AnomalyFilter struct {
	Date   string
	Status AnomalyStatus
	Limit  int
}

type anomalyRow struct {
	ID             int64           `db:"id"`
	Date           string          `db:"date"`
	Hour           int             `db:"hour"`
	DomainID       string          `db:"domain_id"`
	DomainName     string          `db:"domain_name"`
	ProjectID      string          `db:"project_id"`
	ProjectName    string          `db:"project_name"`
	ServiceID      string          `db:"service_id"`
	ServiceName    string          `db:"service_name"`
	ObservedAmount float64         `db:"observed_amount"`
	BaselineMean   float64         `db:"baseline_mean"`
	BaselineStd    float64         `db:"baseline_std"`
	ZScore         sql.NullFloat64 `db:"z_score"`
	DeviationRatio sql.NullFloat64 `db:"deviation_ratio"`
	ThresholdZ     float64         `db:"threshold_z"`
	ThresholdRatio float64         `db:"threshold_ratio"`
	Status         string          `db:"status"`
	CreatedAt      string          `db:"created_at"`
	UpdatedAt      string          `db:"updated_at"`
}

func (r anomalyRow) record() StoredAnomaly {
	return StoredAnomaly{
		ID: r.ID,
		AnomalyRecord: billing.AnomalyRecord{
			Date:           r.Date,
			Hour:           r.Hour,
			DomainID:       r.DomainID,
			DomainName:     r.DomainName,
			ProjectID:      r.ProjectID,
			ProjectName:    r.ProjectName,
			ServiceID:      r.ServiceID,
			ServiceName:    r.ServiceName,
			ObservedAmount: r.ObservedAmount,
			BaselineMean:   r.BaselineMean,
			BaselineStd:    r.BaselineStd,
			ZScore:         orInf(r.ZScore),
			DeviationRatio: orInf(r.DeviationRatio),
			ThresholdZ:     r.ThresholdZ,
			ThresholdRatio: r.ThresholdRatio,
		},
		Status:    AnomalyStatus(r.Status),
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
	}
}

// UpsertAnomaly stores a verdict keyed by (date, hour, entity) and returns its id.
// A repeated run for the same hour refreshes the figures and keeps the status.
func (s *Store) UpsertAnomaly(ctx context.Context, a billing.AnomalyRecord) (int64, error) {
	ts := s.timestamp()
	var id int64
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO billing_anomalies (date, hour, domain_id, domain_name, project_id, project_name,
			service_id, service_name, observed_amount, baseline_mean, baseline_std, z_score, deviation_ratio,
			threshold_z, threshold_ratio, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date, hour, domain_id, project_id, service_id) DO UPDATE SET
			domain_name = excluded.domain_name,
			project_name = excluded.project_name,
			service_name = excluded.service_name,
			observed_amount = excluded.observed_amount,
			baseline_mean = excluded.baseline_mean,
			baseline_std = excluded.baseline_std,
			z_score = excluded.z_score,
			deviation_ratio = excluded.deviation_ratio,
			threshold_z = excluded.threshold_z,
			threshold_ratio = excluded.threshold_ratio,
			updated_at = excluded.updated_at
		RETURNING id`,
		a.Date, a.Hour, a.DomainID, a.DomainName, a.ProjectID, a.ProjectName,
		a.ServiceID, a.ServiceName, a.ObservedAmount, a.BaselineMean, a.BaselineStd,
		finite(a.ZScore), finite(a.DeviationRatio), a.ThresholdZ, a.ThresholdRatio,
		string(StatusNew), ts, ts)
	if err != nil {
		return 0, fmt.Errorf("upsert anomaly %s %02d %s: %w", a.Date, a.Hour, a.Entity(), err)
	}
	return id, nil
}

// ListAnomalies returns matching anomalies, newest first.
func (s *Store) ListAnomalies(ctx context.Context, f AnomalyFilter) ([]StoredAnomaly, error) {
	var (
		where []string
		args  []any
	)
	if f.Date != "" {
		where = append(where, "date = ?")
		args = append(args, f.Date)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	q := "SELECT * FROM billing_anomalies"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY date DESC, hour DESC, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var rows []anomalyRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	return lo.Map(rows, func(r anomalyRow, _ int) StoredAnomaly { return r.record() }), nil
}

// SetAnomalyStatus updates the status of anomaly id, or returns ErrNotFound.
func (s *Store) SetAnomalyStatus(ctx context.Context, id int64, status AnomalyStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE billing_anomalies SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("set anomaly %d status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("anomaly %d: %w", id, ErrNotFound)
	}
	return nil
}
