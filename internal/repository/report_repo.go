package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/imagegen/internal/models"
)

const reportColumns = `id, week_start, week_end, stats, anomalies, anomaly_score, severity_level, baseline_periods, created_at`

type ReportRepo struct {
	pool *pgxpool.Pool
}

func NewReportRepo(pool *pgxpool.Pool) *ReportRepo {
	return &ReportRepo{pool: pool}
}

func scanReport(row pgx.Row) (*models.Report, error) {
	var (
		rep       models.Report
		stats     []byte
		anomalies []byte
	)
	err := row.Scan(&rep.ID, &rep.WeekStart, &rep.WeekEnd, &stats, &anomalies, &rep.AnomalyScore, &rep.SeverityLevel, &rep.BaselinePeriods, &rep.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stats, &rep.Stats); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(anomalies, &rep.Anomalies); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Insert stores the report unless one already exists for its week.
// Returns false when the week was already reported.
func (r *ReportRepo) Insert(ctx context.Context, rep *models.Report) (bool, error) {
	stats, err := json.Marshal(rep.Stats)
	if err != nil {
		return false, err
	}
	if rep.Anomalies == nil {
		rep.Anomalies = []models.Anomaly{}
	}
	anomalies, err := json.Marshal(rep.Anomalies)
	if err != nil {
		return false, err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO reports (id, week_start, week_end, stats, anomalies, anomaly_score, severity_level, baseline_periods)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (week_start) DO NOTHING
		RETURNING created_at
	`, rep.ID, rep.WeekStart, rep.WeekEnd, stats, anomalies, rep.AnomalyScore, rep.SeverityLevel, rep.BaselinePeriods).Scan(&rep.CreatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ReportRepo) GetByWeekStart(ctx context.Context, weekStart time.Time) (*models.Report, error) {
	return scanReport(r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE week_start = $1`, weekStart))
}

// Latest returns the most recent report, or pgx.ErrNoRows.
func (r *ReportRepo) Latest(ctx context.Context) (*models.Report, error) {
	return scanReport(r.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY week_start DESC LIMIT 1`))
}

// ListBefore returns up to limit reports for weeks before weekStart, newest first.
func (r *ReportRepo) ListBefore(ctx context.Context, weekStart time.Time, limit int) ([]*models.Report, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reportColumns+` FROM reports
		WHERE week_start < $1 ORDER BY week_start DESC LIMIT $2
	`, weekStart, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rep)
	}
	return list, rows.Err()
}
