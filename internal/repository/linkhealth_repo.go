package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLiteLinkHealthRepository implements LinkHealthRepository, keyed by
// (source_page_url, target_url). For sitemap-driven sweeps the two keys
// are equal, so the table doubles as a URL-health table in that mode.
type SQLiteLinkHealthRepository struct {
	db *sql.DB
}

func NewSQLiteLinkHealthRepository(db *sql.DB) *SQLiteLinkHealthRepository {
	return &SQLiteLinkHealthRepository{db: db}
}

func (r *SQLiteLinkHealthRepository) Upsert(ctx context.Context, rec *models.LinkHealthRecord) error {
	now := time.Now().UTC()
	if rec.FirstDetectedAt.IsZero() {
		rec.FirstDetectedAt = now
	}
	rec.LastCheckedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_link_health (
			source_page_url, target_url, link_type, http_status, is_broken, is_redirect,
			redirect_chain, redirect_count, error_message, first_detected_at, last_checked_at,
			is_resolved, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_page_url, target_url) DO UPDATE SET
			link_type = excluded.link_type,
			http_status = excluded.http_status,
			is_broken = excluded.is_broken,
			is_redirect = excluded.is_redirect,
			redirect_chain = excluded.redirect_chain,
			redirect_count = excluded.redirect_count,
			error_message = excluded.error_message,
			last_checked_at = excluded.last_checked_at,
			is_resolved = excluded.is_resolved,
			resolved_at = excluded.resolved_at
	`,
		rec.SourcePageURL, rec.TargetURL, string(rec.LinkType), nullIntPtr(rec.HTTPStatus),
		boolToInt(rec.IsBroken), boolToInt(rec.IsRedirect), toJSON(rec.RedirectChain), rec.RedirectCount,
		rec.ErrorMessage, rec.FirstDetectedAt.Format(time.RFC3339), rec.LastCheckedAt.Format(time.RFC3339),
		boolToInt(rec.IsResolved), nullTime(rec.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert link health record: %w", err)
	}
	return nil
}

func (r *SQLiteLinkHealthRepository) PreviouslyBroken(ctx context.Context, limit int) ([]*models.LinkHealthRecord, error) {
	rows, err := r.db.QueryContext(ctx, linkHealthSelectColumns+` FROM thyme_link_health WHERE is_broken = 1 AND is_resolved = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query previously-broken links: %w", err)
	}
	defer rows.Close()
	return scanLinkHealthRecords(rows)
}

func (r *SQLiteLinkHealthRepository) BrokenCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM thyme_link_health WHERE is_broken = 1 AND is_resolved = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count broken links: %w", err)
	}
	return count, nil
}

func (r *SQLiteLinkHealthRepository) NewlyBrokenSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM thyme_link_health WHERE is_broken = 1 AND first_detected_at >= ?
	`, since.UTC().Format(time.RFC3339)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count newly broken links: %w", err)
	}
	return count, nil
}

func (r *SQLiteLinkHealthRepository) MarkResolved(ctx context.Context, sourcePageURL, targetURL string, resolvedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE thyme_link_health SET is_broken = 0, is_resolved = 1, resolved_at = ?, last_checked_at = ?
		WHERE source_page_url = ? AND target_url = ?
	`, resolvedAt.UTC().Format(time.RFC3339), resolvedAt.UTC().Format(time.RFC3339), sourcePageURL, targetURL)
	if err != nil {
		return fmt.Errorf("failed to mark link resolved: %w", err)
	}
	return nil
}

func (r *SQLiteLinkHealthRepository) All(ctx context.Context) ([]*models.LinkHealthRecord, error) {
	rows, err := r.db.QueryContext(ctx, linkHealthSelectColumns+` FROM thyme_link_health`)
	if err != nil {
		return nil, fmt.Errorf("failed to list link health records: %w", err)
	}
	defer rows.Close()
	return scanLinkHealthRecords(rows)
}

const linkHealthSelectColumns = `SELECT
	source_page_url, target_url, link_type, http_status, is_broken, is_redirect,
	redirect_chain, redirect_count, error_message, first_detected_at, last_checked_at,
	is_resolved, resolved_at`

func scanLinkHealthRecords(rows *sql.Rows) ([]*models.LinkHealthRecord, error) {
	var out []*models.LinkHealthRecord
	for rows.Next() {
		var rec models.LinkHealthRecord
		var linkType string
		var httpStatus sql.NullInt64
		var isBroken, isRedirect, isResolved int
		var redirectChain, firstDetected, lastChecked string
		var resolvedAt sql.NullString

		if err := rows.Scan(&rec.SourcePageURL, &rec.TargetURL, &linkType, &httpStatus, &isBroken,
			&isRedirect, &redirectChain, &rec.RedirectCount, &rec.ErrorMessage, &firstDetected,
			&lastChecked, &isResolved, &resolvedAt); err != nil {
			return nil, err
		}

		rec.LinkType = models.LinkType(linkType)
		rec.IsBroken = isBroken != 0
		rec.IsRedirect = isRedirect != 0
		rec.IsResolved = isResolved != 0
		rec.RedirectChain = fromJSON(redirectChain, []string{})
		rec.HTTPStatus = intPtrFromNull(httpStatus)
		rec.FirstDetectedAt, _ = time.Parse(time.RFC3339, firstDetected)
		rec.LastCheckedAt, _ = time.Parse(time.RFC3339, lastChecked)
		rec.ResolvedAt = timePtrFromNull(resolvedAt)

		out = append(out, &rec)
	}
	return out, rows.Err()
}
