package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLiteDecisionQueueRepository implements DecisionQueueRepository.
type SQLiteDecisionQueueRepository struct {
	db *sql.DB
}

func NewSQLiteDecisionQueueRepository(db *sql.DB) *SQLiteDecisionQueueRepository {
	return &SQLiteDecisionQueueRepository{db: db}
}

func (r *SQLiteDecisionQueueRepository) Create(ctx context.Context, item *models.DecisionQueueItem) error {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_decision_queue (
			id, finding_id, action_type, action_summary, action_detail, severity, confidence,
			risk_level, priority, status, reviewer, reviewed_at, review_notes, expires_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, nullStringPtr(item.FindingID), item.ActionType, item.ActionSummary, toJSON(item.ActionDetail),
		string(item.Severity), item.Confidence, string(item.RiskLevel), item.Priority, string(item.Status),
		item.Reviewer, nullTime(item.ReviewedAt), item.ReviewNotes, item.ExpiresAt.Format(time.RFC3339),
		item.CreatedAt.Format(time.RFC3339), item.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create decision queue item: %w", err)
	}
	return nil
}

func (r *SQLiteDecisionQueueRepository) GetByID(ctx context.Context, id string) (*models.DecisionQueueItem, error) {
	row := r.db.QueryRowContext(ctx, queueSelectColumns+` FROM thyme_decision_queue WHERE id = ?`, id)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision queue item: %w", err)
	}
	return item, nil
}

// UpdateStatus transitions a queue item out of pending. The caller (the
// review service) is responsible for first checking the item is pending;
// this method does not re-check, since the review endpoint's
// transactional guarantee is enforced one layer up across multiple stores.
func (r *SQLiteDecisionQueueRepository) UpdateStatus(ctx context.Context, id string, status models.QueueStatus, reviewer, notes string, reviewedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE thyme_decision_queue SET status = ?, reviewer = ?, review_notes = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ?
	`, string(status), reviewer, notes, reviewedAt.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update decision queue item: %w", err)
	}
	return nil
}

func (r *SQLiteDecisionQueueRepository) ListPending(ctx context.Context) ([]*models.DecisionQueueItem, error) {
	rows, err := r.db.QueryContext(ctx, queueSelectColumns+` FROM thyme_decision_queue WHERE status = ? ORDER BY priority DESC, created_at ASC`, string(models.QueueStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending decision queue items: %w", err)
	}
	defer rows.Close()

	var out []*models.DecisionQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

const queueSelectColumns = `SELECT
	id, finding_id, action_type, action_summary, action_detail, severity, confidence,
	risk_level, priority, status, reviewer, reviewed_at, review_notes, expires_at,
	created_at, updated_at`

func scanQueueItem(row scannable) (*models.DecisionQueueItem, error) {
	var item models.DecisionQueueItem
	var findingID, reviewedAt sql.NullString
	var actionDetail, severity, riskLevel, status string
	var expiresAt, createdAt, updatedAt string

	err := row.Scan(
		&item.ID, &findingID, &item.ActionType, &item.ActionSummary, &actionDetail, &severity,
		&item.Confidence, &riskLevel, &item.Priority, &status, &item.Reviewer, &reviewedAt,
		&item.ReviewNotes, &expiresAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.FindingID = stringPtrFromNull(findingID)
	item.ActionDetail = fromJSON(actionDetail, map[string]any{})
	item.Severity = models.FindingSeverity(severity)
	item.RiskLevel = models.RiskLevel(riskLevel)
	item.Status = models.QueueStatus(status)
	item.ReviewedAt = timePtrFromNull(reviewedAt)
	item.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	item.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &item, nil
}
