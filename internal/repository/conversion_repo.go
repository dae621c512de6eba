package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLiteConversionAuditRepository implements ConversionAuditRepository.
type SQLiteConversionAuditRepository struct {
	db *sql.DB
}

func NewSQLiteConversionAuditRepository(db *sql.DB) *SQLiteConversionAuditRepository {
	return &SQLiteConversionAuditRepository{db: db}
}

func (r *SQLiteConversionAuditRepository) Insert(ctx context.Context, a *models.ConversionAudit) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_conversion_audits (
			id, run_date, tracking_health, configured_event_count, form_count,
			total_form_submissions, gap_count, recommendations, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.RunDate, string(a.TrackingHealth), a.ConfiguredEventCount, a.FormCount,
		a.TotalFormSubmissions, a.GapCount, toJSON(a.Recommendations), a.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert conversion audit: %w", err)
	}
	return nil
}

func (r *SQLiteConversionAuditRepository) Latest(ctx context.Context) (*models.ConversionAudit, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, run_date, tracking_health, configured_event_count, form_count,
			total_form_submissions, gap_count, recommendations, created_at
		FROM thyme_conversion_audits ORDER BY run_date DESC LIMIT 1
	`)
	var a models.ConversionAudit
	var trackingHealth, recommendations, created string
	err := row.Scan(&a.ID, &a.RunDate, &trackingHealth, &a.ConfiguredEventCount, &a.FormCount,
		&a.TotalFormSubmissions, &a.GapCount, &recommendations, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest conversion audit: %w", err)
	}
	a.TrackingHealth = models.TrackingHealth(trackingHealth)
	a.Recommendations = fromJSON(recommendations, []models.ConversionRecommendation{})
	a.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &a, nil
}
