package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLiteChangeLogRepository implements ChangeLogRepository.
type SQLiteChangeLogRepository struct {
	db *sql.DB
}

func NewSQLiteChangeLogRepository(db *sql.DB) *SQLiteChangeLogRepository {
	return &SQLiteChangeLogRepository{db: db}
}

func (r *SQLiteChangeLogRepository) Append(ctx context.Context, entry *models.ChangeLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_change_log (id, action_type, entity_type, entity_id, outcome, detail, executed_at, executed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.ActionType, entry.EntityType, entry.EntityID, string(entry.Outcome), toJSON(entry.Detail),
		nullTime(entry.ExecutedAt), entry.ExecutedBy, entry.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append change log entry: %w", err)
	}
	return nil
}

func (r *SQLiteChangeLogRepository) Recent(ctx context.Context, limit int) ([]*models.ChangeLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action_type, entity_type, entity_id, outcome, detail, executed_at, executed_by, created_at
		FROM thyme_change_log ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer rows.Close()

	var out []*models.ChangeLogEntry
	for rows.Next() {
		var e models.ChangeLogEntry
		var outcome, detail, created string
		var executedAt sql.NullString
		if err := rows.Scan(&e.ID, &e.ActionType, &e.EntityType, &e.EntityID, &outcome, &detail, &executedAt, &e.ExecutedBy, &created); err != nil {
			return nil, err
		}
		e.Outcome = models.ChangeOutcome(outcome)
		e.Detail = fromJSON(detail, map[string]any{})
		e.ExecutedAt = timePtrFromNull(executedAt)
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &e)
	}
	return out, rows.Err()
}
