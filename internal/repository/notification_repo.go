package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLiteNotificationRepository implements NotificationRepository.
type SQLiteNotificationRepository struct {
	db *sql.DB
}

func NewSQLiteNotificationRepository(db *sql.DB) *SQLiteNotificationRepository {
	return &SQLiteNotificationRepository{db: db}
}

func (r *SQLiteNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_notifications (id, finding_id, severity, title, body, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, n.ID, nullStringPtr(n.FindingID), string(n.Severity), n.Title, n.Body, boolToInt(n.IsRead), n.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *SQLiteNotificationRepository) MarkRead(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE thyme_notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

func (r *SQLiteNotificationRepository) ListUnread(ctx context.Context, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, finding_id, severity, title, body, is_read, created_at
		FROM thyme_notifications WHERE is_read = 0 ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var findingID sql.NullString
		var severity string
		var isRead int
		var created string
		if err := rows.Scan(&n.ID, &findingID, &severity, &n.Title, &n.Body, &isRead, &created); err != nil {
			return nil, err
		}
		n.FindingID = stringPtrFromNull(findingID)
		n.Severity = models.FindingSeverity(severity)
		n.IsRead = isRead != 0
		n.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &n)
	}
	return out, rows.Err()
}
