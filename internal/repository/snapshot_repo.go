package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLiteSnapshotRepository implements SnapshotRepository using libsql.
// Both families upsert in caller-provided chunks of ≤100 rows, per the
// snapshot upsert parallelism cap; chunking itself is the orchestrator's
// job, this type just executes whatever slice it's handed inside one
// transaction.
type SQLiteSnapshotRepository struct {
	db *sql.DB
}

func NewSQLiteSnapshotRepository(db *sql.DB) *SQLiteSnapshotRepository {
	return &SQLiteSnapshotRepository{db: db}
}

func (r *SQLiteSnapshotRepository) UpsertAnalytics(ctx context.Context, snapshots []*models.AnalyticsSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO thyme_analytics_snapshots (
			page_url, snapshot_date, active_users, sessions, page_views, bounce_rate,
			avg_session_duration, users_previous_period, sessions_previous_period,
			traffic_change_pct, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(page_url, snapshot_date) DO UPDATE SET
			active_users = excluded.active_users,
			sessions = excluded.sessions,
			page_views = excluded.page_views,
			bounce_rate = excluded.bounce_rate,
			avg_session_duration = excluded.avg_session_duration,
			users_previous_period = excluded.users_previous_period,
			sessions_previous_period = excluded.sessions_previous_period,
			traffic_change_pct = excluded.traffic_change_pct
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, s := range snapshots {
		if _, err := stmt.ExecContext(ctx,
			s.PageURL, s.SnapshotDate, s.ActiveUsers, s.Sessions, s.PageViews, s.BounceRate,
			s.AvgSessionDuration, s.UsersPreviousPeriod, s.SessionsPreviousPeriod,
			s.TrafficChangePct, now,
		); err != nil {
			return fmt.Errorf("failed to upsert analytics snapshot for %s: %w", s.PageURL, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteSnapshotRepository) UpsertSearch(ctx context.Context, snapshots []*models.SearchSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO thyme_search_snapshots (
			page_url, snapshot_date, total_clicks, total_impressions, avg_ctr, avg_position,
			previous_clicks, previous_impressions, previous_ctr, previous_position,
			position_change, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(page_url, snapshot_date) DO UPDATE SET
			total_clicks = excluded.total_clicks,
			total_impressions = excluded.total_impressions,
			avg_ctr = excluded.avg_ctr,
			avg_position = excluded.avg_position,
			previous_clicks = excluded.previous_clicks,
			previous_impressions = excluded.previous_impressions,
			previous_ctr = excluded.previous_ctr,
			previous_position = excluded.previous_position,
			position_change = excluded.position_change
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, s := range snapshots {
		if _, err := stmt.ExecContext(ctx,
			s.PageURL, s.SnapshotDate, s.TotalClicks, s.TotalImpressions, s.AvgCTR, s.AvgPosition,
			s.PreviousClicks, s.PreviousImpressions, s.PreviousCTR, s.PreviousPosition,
			s.PositionChange, now,
		); err != nil {
			return fmt.Errorf("failed to upsert search snapshot for %s: %w", s.PageURL, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteSnapshotRepository) LatestAnalyticsByPath(ctx context.Context, date string) (map[string]*models.AnalyticsSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT page_url, snapshot_date, active_users, sessions, page_views, bounce_rate,
			avg_session_duration, users_previous_period, sessions_previous_period,
			traffic_change_pct, created_at
		FROM thyme_analytics_snapshots WHERE snapshot_date = ?
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics snapshots: %w", err)
	}
	defer rows.Close()

	out := map[string]*models.AnalyticsSnapshot{}
	for rows.Next() {
		var s models.AnalyticsSnapshot
		var created string
		if err := rows.Scan(&s.PageURL, &s.SnapshotDate, &s.ActiveUsers, &s.Sessions, &s.PageViews,
			&s.BounceRate, &s.AvgSessionDuration, &s.UsersPreviousPeriod, &s.SessionsPreviousPeriod,
			&s.TrafficChangePct, &created); err != nil {
			return nil, err
		}
		s.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out[s.PageURL] = &s
	}
	return out, rows.Err()
}

func (r *SQLiteSnapshotRepository) LatestSearchByURL(ctx context.Context, date string) (map[string]*models.SearchSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT page_url, snapshot_date, total_clicks, total_impressions, avg_ctr, avg_position,
			previous_clicks, previous_impressions, previous_ctr, previous_position,
			position_change, created_at
		FROM thyme_search_snapshots WHERE snapshot_date = ?
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query search snapshots: %w", err)
	}
	defer rows.Close()

	out := map[string]*models.SearchSnapshot{}
	for rows.Next() {
		var s models.SearchSnapshot
		var created string
		if err := rows.Scan(&s.PageURL, &s.SnapshotDate, &s.TotalClicks, &s.TotalImpressions,
			&s.AvgCTR, &s.AvgPosition, &s.PreviousClicks, &s.PreviousImpressions, &s.PreviousCTR,
			&s.PreviousPosition, &s.PositionChange, &created); err != nil {
			return nil, err
		}
		s.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out[s.PageURL] = &s
	}
	return out, rows.Err()
}

func (r *SQLiteSnapshotRepository) AnalyticsHistory(ctx context.Context, pageURL string, since time.Time) ([]*models.AnalyticsSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT page_url, snapshot_date, active_users, sessions, page_views, bounce_rate,
			avg_session_duration, users_previous_period, sessions_previous_period,
			traffic_change_pct, created_at
		FROM thyme_analytics_snapshots WHERE page_url = ? AND snapshot_date >= ? ORDER BY snapshot_date ASC
	`, pageURL, since.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics history: %w", err)
	}
	defer rows.Close()

	var out []*models.AnalyticsSnapshot
	for rows.Next() {
		var s models.AnalyticsSnapshot
		var created string
		if err := rows.Scan(&s.PageURL, &s.SnapshotDate, &s.ActiveUsers, &s.Sessions, &s.PageViews,
			&s.BounceRate, &s.AvgSessionDuration, &s.UsersPreviousPeriod, &s.SessionsPreviousPeriod,
			&s.TrafficChangePct, &created); err != nil {
			return nil, err
		}
		s.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *SQLiteSnapshotRepository) SearchHistory(ctx context.Context, pageURL string, since time.Time) ([]*models.SearchSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT page_url, snapshot_date, total_clicks, total_impressions, avg_ctr, avg_position,
			previous_clicks, previous_impressions, previous_ctr, previous_position,
			position_change, created_at
		FROM thyme_search_snapshots WHERE page_url = ? AND snapshot_date >= ? ORDER BY snapshot_date ASC
	`, pageURL, since.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query search history: %w", err)
	}
	defer rows.Close()

	var out []*models.SearchSnapshot
	for rows.Next() {
		var s models.SearchSnapshot
		var created string
		if err := rows.Scan(&s.PageURL, &s.SnapshotDate, &s.TotalClicks, &s.TotalImpressions,
			&s.AvgCTR, &s.AvgPosition, &s.PreviousClicks, &s.PreviousImpressions, &s.PreviousCTR,
			&s.PreviousPosition, &s.PositionChange, &created); err != nil {
			return nil, err
		}
		s.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &s)
	}
	return out, rows.Err()
}
