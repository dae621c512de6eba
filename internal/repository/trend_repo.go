package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLiteTrendRepository implements TrendRepository.
type SQLiteTrendRepository struct {
	db *sql.DB
}

func NewSQLiteTrendRepository(db *sql.DB) *SQLiteTrendRepository {
	return &SQLiteTrendRepository{db: db}
}

func (r *SQLiteTrendRepository) Insert(ctx context.Context, snap *models.TrendSnapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_trend_snapshots (
			id, period, period_start, total_traffic, traffic_change_pct, avg_health_score,
			health_score_distribution, top_declining_pages, top_improving_pages,
			broken_links_count, new_broken_links, meta_issues_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.ID, string(snap.Period), snap.PeriodStart, snap.TotalTraffic, snap.TrafficChangePct,
		snap.AvgHealthScore, toJSON(snap.HealthScoreDistribution), toJSON(snap.TopDecliningPages),
		toJSON(snap.TopImprovingPages), snap.BrokenLinksCount, snap.NewBrokenLinks, snap.MetaIssuesCount,
		snap.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert trend snapshot: %w", err)
	}
	return nil
}

func (r *SQLiteTrendRepository) Latest(ctx context.Context, period models.TrendPeriod) (*models.TrendSnapshot, error) {
	row := r.db.QueryRowContext(ctx, trendSelectColumns+` FROM thyme_trend_snapshots WHERE period = ? ORDER BY period_start DESC LIMIT 1`, string(period))
	s, err := scanTrendSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest trend snapshot: %w", err)
	}
	return s, nil
}

func (r *SQLiteTrendRepository) ListByPeriod(ctx context.Context, period models.TrendPeriod, limit int) ([]*models.TrendSnapshot, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := r.db.QueryContext(ctx, trendSelectColumns+` FROM thyme_trend_snapshots WHERE period = ? ORDER BY period_start DESC LIMIT ?`, string(period), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trend snapshots: %w", err)
	}
	defer rows.Close()

	var out []*models.TrendSnapshot
	for rows.Next() {
		s, err := scanTrendSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const trendSelectColumns = `SELECT
	id, period, period_start, total_traffic, traffic_change_pct, avg_health_score,
	health_score_distribution, top_declining_pages, top_improving_pages,
	broken_links_count, new_broken_links, meta_issues_count, created_at`

func scanTrendSnapshot(row scannable) (*models.TrendSnapshot, error) {
	var s models.TrendSnapshot
	var period, distribution, declining, improving, created string

	err := row.Scan(&s.ID, &period, &s.PeriodStart, &s.TotalTraffic, &s.TrafficChangePct, &s.AvgHealthScore,
		&distribution, &declining, &improving, &s.BrokenLinksCount, &s.NewBrokenLinks, &s.MetaIssuesCount, &created)
	if err != nil {
		return nil, err
	}

	s.Period = models.TrendPeriod(period)
	s.HealthScoreDistribution = fromJSON(distribution, [5]int{})
	s.TopDecliningPages = fromJSON(declining, []models.PageDelta{})
	s.TopImprovingPages = fromJSON(improving, []models.PageDelta{})
	s.CreatedAt, _ = time.Parse(time.RFC3339, created)

	return &s, nil
}
