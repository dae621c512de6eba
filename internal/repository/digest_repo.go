package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLiteWeeklyDigestRepository implements WeeklyDigestRepository.
type SQLiteWeeklyDigestRepository struct {
	db *sql.DB
}

func NewSQLiteWeeklyDigestRepository(db *sql.DB) *SQLiteWeeklyDigestRepository {
	return &SQLiteWeeklyDigestRepository{db: db}
}

func (r *SQLiteWeeklyDigestRepository) Insert(ctx context.Context, d *models.WeeklyDigest) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_weekly_digests (id, week_start, narrative, figures, generated_by, archive_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.WeekStart, d.Narrative, toJSON(d.Figures), string(d.GeneratedBy), nullStringPtr(d.ArchiveURL), d.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert weekly digest: %w", err)
	}
	return nil
}

func (r *SQLiteWeeklyDigestRepository) Latest(ctx context.Context) (*models.WeeklyDigest, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, week_start, narrative, figures, generated_by, archive_url, created_at
		FROM thyme_weekly_digests ORDER BY week_start DESC LIMIT 1
	`)
	var d models.WeeklyDigest
	var figures, generatedBy, created string
	var archiveURL sql.NullString
	err := row.Scan(&d.ID, &d.WeekStart, &d.Narrative, &figures, &generatedBy, &archiveURL, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest weekly digest: %w", err)
	}
	d.Figures = fromJSON(figures, map[string]any{})
	d.GeneratedBy = models.DigestSource(generatedBy)
	d.ArchiveURL = stringPtrFromNull(archiveURL)
	d.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &d, nil
}
