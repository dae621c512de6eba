package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLiteSpeedRepository implements SpeedRepository; speed scores are
// append-only, one row per (page, test_date, strategy) run.
type SQLiteSpeedRepository struct {
	db *sql.DB
}

func NewSQLiteSpeedRepository(db *sql.DB) *SQLiteSpeedRepository {
	return &SQLiteSpeedRepository{db: db}
}

func (r *SQLiteSpeedRepository) Insert(ctx context.Context, s *models.SpeedScore) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_speed_scores (
			id, page_url, test_date, strategy, performance_score, accessibility_score,
			seo_score, best_practices_score, lcp_ms, fid_ms, cls, inp_ms, opportunities, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.PageURL, s.TestDate, string(s.Strategy), s.PerformanceScore, s.AccessibilityScore,
		s.SEOScore, s.BestPracticesScore, s.LCPMs, s.FIDMs, s.CLS, s.INPMs, toJSON(s.Opportunities),
		now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert speed score: %w", err)
	}
	return nil
}

// LatestByURL returns the most recent speed score per page URL, across
// strategies, preferring the row with the latest test_date.
func (r *SQLiteSpeedRepository) LatestByURL(ctx context.Context) (map[string]*models.SpeedScore, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.page_url, s.test_date, s.strategy, s.performance_score, s.accessibility_score,
			s.seo_score, s.best_practices_score, s.lcp_ms, s.fid_ms, s.cls, s.inp_ms, s.opportunities, s.created_at
		FROM thyme_speed_scores s
		WHERE s.test_date = (
			SELECT MAX(test_date) FROM thyme_speed_scores WHERE page_url = s.page_url
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest speed scores: %w", err)
	}
	defer rows.Close()

	out := map[string]*models.SpeedScore{}
	for rows.Next() {
		s, err := scanSpeedScore(rows)
		if err != nil {
			return nil, err
		}
		out[s.PageURL] = s
	}
	return out, rows.Err()
}

// UntestedPages filters the candidate URLs down to those with no speed
// score row at all, used for the "never-tested" priority bucket.
func (r *SQLiteSpeedRepository) UntestedPages(ctx context.Context, pageURLs []string) ([]string, error) {
	var untested []string
	for _, url := range pageURLs {
		var count int
		if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM thyme_speed_scores WHERE page_url = ?`, url).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to check speed history for %s: %w", url, err)
		}
		if count == 0 {
			untested = append(untested, url)
		}
	}
	return untested, nil
}

func scanSpeedScore(rows *sql.Rows) (*models.SpeedScore, error) {
	var s models.SpeedScore
	var strategy, opportunities, created string
	if err := rows.Scan(&s.ID, &s.PageURL, &s.TestDate, &strategy, &s.PerformanceScore,
		&s.AccessibilityScore, &s.SEOScore, &s.BestPracticesScore, &s.LCPMs, &s.FIDMs, &s.CLS,
		&s.INPMs, &opportunities, &created); err != nil {
		return nil, err
	}
	s.Strategy = models.Strategy(strategy)
	s.Opportunities = fromJSON(opportunities, []models.Opportunity{})
	s.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &s, nil
}
