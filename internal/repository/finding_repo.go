package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLiteFindingRepository implements FindingRepository.
type SQLiteFindingRepository struct {
	db *sql.DB
}

func NewSQLiteFindingRepository(db *sql.DB) *SQLiteFindingRepository {
	return &SQLiteFindingRepository{db: db}
}

func (r *SQLiteFindingRepository) Create(ctx context.Context, f *models.Finding) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_findings (
			id, page_url, finding_type, severity, title, description, business_impact,
			agent_loop_iterations, tools_used, investigation_summary, status, skip_reason,
			expires_at, health_score_at_detection, health_score_at_resolution, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, nullStringPtr(f.PageURL), f.FindingType, string(f.Severity), f.Title, f.Description,
		f.BusinessImpact, f.AgentLoopIterations, toJSON(f.ToolsUsed), f.InvestigationSummary,
		string(f.Status), f.SkipReason, nullTime(f.ExpiresAt), nullIntPtr(f.HealthScoreAtDetection),
		nullIntPtr(f.HealthScoreAtResolution), f.CreatedAt.Format(time.RFC3339), f.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create finding: %w", err)
	}
	return nil
}

func (r *SQLiteFindingRepository) GetByID(ctx context.Context, id string) (*models.Finding, error) {
	row := r.db.QueryRowContext(ctx, findingSelectColumns+` FROM thyme_findings WHERE id = ?`, id)
	f, err := scanFinding(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get finding: %w", err)
	}
	return f, nil
}

// FindActiveByPageURL is the dedup pre-check the agent loop runs before
// investigating a flagged page.
func (r *SQLiteFindingRepository) FindActiveByPageURL(ctx context.Context, pageURL string, statuses []models.FindingStatus) (*models.Finding, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	args = append(args, pageURL)
	for i, s := range statuses {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	query := findingSelectColumns + fmt.Sprintf(` FROM thyme_findings WHERE page_url = ? AND status IN (%s) ORDER BY created_at DESC LIMIT 1`, strings.Join(placeholders, ","))
	row := r.db.QueryRowContext(ctx, query, args...)
	f, err := scanFinding(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active finding: %w", err)
	}
	return f, nil
}

func (r *SQLiteFindingRepository) UpdateStatus(ctx context.Context, id string, status models.FindingStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE thyme_findings SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update finding status: %w", err)
	}
	return nil
}

func (r *SQLiteFindingRepository) List(ctx context.Context, filter FindingFilter) ([]*models.Finding, int, error) {
	where := []string{"1=1"}
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Severity != nil {
		where = append(where, "severity = ?")
		args = append(args, string(*filter.Severity))
	}
	if filter.PageURL != "" {
		where = append(where, "page_url = ?")
		args = append(args, filter.PageURL)
	}

	whereClause := "WHERE " + strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM thyme_findings "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count findings: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := findingSelectColumns + " FROM thyme_findings " + whereClause + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var out []*models.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}

// ExpireOverdue transitions findings still in new or recommendation_drafted
// status whose expires_at has passed into FindingStatusExpired, for the
// auto-resolution sweep. Approved and skipped findings are left as they are.
func (r *SQLiteFindingRepository) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE thyme_findings SET status = ?, updated_at = ?
		WHERE status IN (?, ?) AND expires_at IS NOT NULL AND expires_at < ?
	`, string(models.FindingStatusExpired), now.UTC().Format(time.RFC3339),
		string(models.FindingStatusNew), string(models.FindingStatusRecommendationDraft),
		now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue findings: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

const findingSelectColumns = `SELECT
	id, page_url, finding_type, severity, title, description, business_impact,
	agent_loop_iterations, tools_used, investigation_summary, status, skip_reason,
	expires_at, health_score_at_detection, health_score_at_resolution, created_at, updated_at`

func scanFinding(row scannable) (*models.Finding, error) {
	var f models.Finding
	var pageURL, expiresAt sql.NullString
	var severity, status, toolsUsed string
	var healthAtDetection, healthAtResolution sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(
		&f.ID, &pageURL, &f.FindingType, &severity, &f.Title, &f.Description, &f.BusinessImpact,
		&f.AgentLoopIterations, &toolsUsed, &f.InvestigationSummary, &status, &f.SkipReason,
		&expiresAt, &healthAtDetection, &healthAtResolution, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.Severity = models.FindingSeverity(severity)
	f.Status = models.FindingStatus(status)
	f.ToolsUsed = fromJSON(toolsUsed, []string{})
	f.PageURL = stringPtrFromNull(pageURL)
	f.ExpiresAt = timePtrFromNull(expiresAt)
	f.HealthScoreAtDetection = intPtrFromNull(healthAtDetection)
	f.HealthScoreAtResolution = intPtrFromNull(healthAtResolution)
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	f.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &f, nil
}
