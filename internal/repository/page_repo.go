package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLitePageRepository implements PageRepository using libsql.
type SQLitePageRepository struct {
	db *sql.DB
}

func NewSQLitePageRepository(db *sql.DB) *SQLitePageRepository {
	return &SQLitePageRepository{db: db}
}

func (r *SQLitePageRepository) Upsert(ctx context.Context, p *models.Page) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_pages (
			id, url, slug, title, meta_description, page_type, cms_page_id,
			has_form, form_ids, has_cta, cta_ids, published_at, last_updated_at,
			content_age_days, is_indexed, is_active, title_length, meta_description_length,
			meta_issues, has_broken_links, broken_link_count, health_score,
			health_score_breakdown, last_health_check_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			slug = excluded.slug,
			title = excluded.title,
			meta_description = excluded.meta_description,
			page_type = excluded.page_type,
			cms_page_id = excluded.cms_page_id,
			has_form = excluded.has_form,
			form_ids = excluded.form_ids,
			has_cta = excluded.has_cta,
			cta_ids = excluded.cta_ids,
			published_at = excluded.published_at,
			last_updated_at = excluded.last_updated_at,
			content_age_days = excluded.content_age_days,
			is_indexed = excluded.is_indexed,
			is_active = excluded.is_active,
			title_length = excluded.title_length,
			meta_description_length = excluded.meta_description_length,
			updated_at = excluded.updated_at
	`,
		p.ID, p.URL, p.Slug, p.Title, p.MetaDescription, string(p.PageType), p.CMSPageID,
		boolToInt(p.HasForm), toJSON(p.FormIDs), boolToInt(p.HasCTA), toJSON(p.CTAIDs),
		nullTime(p.PublishedAt), nullTime(p.LastUpdatedAt), nullIntPtr(p.ContentAgeDays),
		boolToInt(p.IsIndexed), boolToInt(p.IsActive), p.TitleLength, p.MetaDescriptionLength,
		toJSON(p.MetaIssues), boolToInt(p.HasBrokenLinks), p.BrokenLinkCount, p.HealthScore,
		toJSON(p.HealthScoreBreakdown), nullTime(p.LastHealthCheckAt),
		p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert page: %w", err)
	}
	return nil
}

// UpsertBatch commits page updates in the caller's desired chunking; the
// orchestrator is responsible for splitting into ≤100-row groups per the
// CMS sync protocol. Returns counts for the idempotence test.
func (r *SQLitePageRepository) UpsertBatch(ctx context.Context, pages []*models.Page) (int, int, error) {
	var inserted, updated int
	for _, p := range pages {
		existing, err := r.GetByURL(ctx, p.URL)
		if err != nil {
			return inserted, updated, err
		}
		if existing == nil {
			inserted++
		} else {
			updated++
		}
		if err := r.Upsert(ctx, p); err != nil {
			return inserted, updated, err
		}
	}
	return inserted, updated, nil
}

func (r *SQLitePageRepository) GetByURL(ctx context.Context, url string) (*models.Page, error) {
	row := r.db.QueryRowContext(ctx, pageSelectColumns+` FROM thyme_pages WHERE url = ?`, url)
	p, err := scanPage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return p, nil
}

func (r *SQLitePageRepository) ListActive(ctx context.Context) ([]*models.Page, error) {
	rows, err := r.db.QueryContext(ctx, pageSelectColumns+` FROM thyme_pages WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active pages: %w", err)
	}
	defer rows.Close()
	return scanPages(rows)
}

func (r *SQLitePageRepository) List(ctx context.Context, filter PageFilter) ([]*models.Page, int, error) {
	where := []string{"is_active = 1"}
	var args []any

	if filter.PageType != nil {
		where = append(where, "page_type = ?")
		args = append(args, string(*filter.PageType))
	}
	if filter.FlaggedOnly {
		where = append(where, "health_score < 50")
	}
	if filter.Search != "" {
		where = append(where, "(url LIKE ? OR title LIKE ?)")
		like := "%" + filter.Search + "%"
		args = append(args, like, like)
	}

	whereClause := "WHERE " + strings.Join(where, " AND ")

	var total int
	countArgs := append([]any{}, args...)
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM thyme_pages "+whereClause, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count pages: %w", err)
	}

	sortCol := "health_score"
	switch filter.SortBy {
	case "url", "last_updated_at":
		sortCol = filter.SortBy
	}
	dir := "ASC"
	if filter.SortDesc {
		dir = "DESC"
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := fmt.Sprintf("%s FROM thyme_pages %s ORDER BY %s %s LIMIT ? OFFSET ?", pageSelectColumns, whereClause, sortCol, dir)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	pages, err := scanPages(rows)
	return pages, total, err
}

func (r *SQLitePageRepository) UpdateHealthScore(ctx context.Context, url string, score int, breakdown models.ScoreBreakdown, checkedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE thyme_pages SET health_score = ?, health_score_breakdown = ?, last_health_check_at = ?, updated_at = ?
		WHERE url = ?
	`, score, toJSON(breakdown), checkedAt.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), url)
	if err != nil {
		return fmt.Errorf("failed to update health score: %w", err)
	}
	return nil
}

// UpdateMetaIssuesBatch applies the meta auditor's per-page issue sets.
// Callers are expected to chunk the map into groups of ≤50 keys per the
// concurrency cap; this method issues one statement per page either way,
// so the caller's batching only bounds concurrent callers, not statements.
func (r *SQLitePageRepository) UpdateMetaIssuesBatch(ctx context.Context, updates map[string][]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE thyme_pages SET meta_issues = ?, has_broken_links = has_broken_links, updated_at = ? WHERE url = ?
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for url, issues := range updates {
		if _, err := stmt.ExecContext(ctx, toJSON(issues), now, url); err != nil {
			return fmt.Errorf("failed to update meta issues for %s: %w", url, err)
		}
	}
	return tx.Commit()
}

func (r *SQLitePageRepository) UpdateFormDetected(ctx context.Context, url string, hasForm bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE thyme_pages SET has_form = ?, updated_at = ? WHERE url = ?
	`, boolToInt(hasForm), time.Now().UTC().Format(time.RFC3339), url)
	if err != nil {
		return fmt.Errorf("failed to update form detection: %w", err)
	}
	return nil
}

const pageSelectColumns = `SELECT
	id, url, slug, title, meta_description, page_type, cms_page_id,
	has_form, form_ids, has_cta, cta_ids, published_at, last_updated_at,
	content_age_days, is_indexed, is_active, title_length, meta_description_length,
	meta_issues, has_broken_links, broken_link_count, health_score,
	health_score_breakdown, last_health_check_at, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanPage(row scannable) (*models.Page, error) {
	var p models.Page
	var publishedAt, lastUpdatedAt, lastHealthCheckAt sql.NullString
	var contentAgeDays sql.NullInt64
	var hasForm, hasCTA, isIndexed, isActive, hasBrokenLinks int
	var formIDs, ctaIDs, metaIssues, breakdown string
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID, &p.URL, &p.Slug, &p.Title, &p.MetaDescription, &p.PageType, &p.CMSPageID,
		&hasForm, &formIDs, &hasCTA, &ctaIDs, &publishedAt, &lastUpdatedAt,
		&contentAgeDays, &isIndexed, &isActive, &p.TitleLength, &p.MetaDescriptionLength,
		&metaIssues, &hasBrokenLinks, &p.BrokenLinkCount, &p.HealthScore,
		&breakdown, &lastHealthCheckAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.HasForm = hasForm != 0
	p.HasCTA = hasCTA != 0
	p.IsIndexed = isIndexed != 0
	p.IsActive = isActive != 0
	p.HasBrokenLinks = hasBrokenLinks != 0
	p.FormIDs = fromJSON(formIDs, []string{})
	p.CTAIDs = fromJSON(ctaIDs, []string{})
	p.MetaIssues = fromJSON(metaIssues, []string{})
	p.HealthScoreBreakdown = fromJSON(breakdown, models.ScoreBreakdown{})
	p.PublishedAt = timePtrFromNull(publishedAt)
	p.LastUpdatedAt = timePtrFromNull(lastUpdatedAt)
	p.LastHealthCheckAt = timePtrFromNull(lastHealthCheckAt)
	if contentAgeDays.Valid {
		v := int(contentAgeDays.Int64)
		p.ContentAgeDays = &v
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &p, nil
}

func scanPages(rows *sql.Rows) ([]*models.Page, error) {
	var pages []*models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
