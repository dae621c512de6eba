package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLiteSignalRepository implements SignalRepository: an append-only log
// that is best-effort on write, since the bus exists for cross-agent
// coordination and a dropped signal should never abort the caller's stage.
type SQLiteSignalRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteSignalRepository(db *sql.DB, logger *slog.Logger) *SQLiteSignalRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteSignalRepository{db: db, logger: logger}
}

func (r *SQLiteSignalRepository) Emit(ctx context.Context, signal *models.Signal) {
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_signals (id, source_agent, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, signal.ID, signal.SourceAgent, signal.EventType, toJSON(signal.Payload), signal.CreatedAt.Format(time.RFC3339))
	if err != nil {
		r.logger.Warn("signal emit failed", "event_type", signal.EventType, "error", err)
	}
}

func (r *SQLiteSignalRepository) Query(ctx context.Context, sourceAgent string, eventTypes []string, since time.Time, limit int) ([]*models.Signal, error) {
	where := []string{"created_at >= ?"}
	args := []any{since.UTC().Format(time.RFC3339)}

	if sourceAgent != "" {
		where = append(where, "source_agent = ?")
		args = append(args, sourceAgent)
	}
	if len(eventTypes) > 0 {
		placeholders := make([]string, len(eventTypes))
		for i, et := range eventTypes {
			placeholders[i] = "?"
			args = append(args, et)
		}
		where = append(where, "event_type IN ("+strings.Join(placeholders, ",")+")")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, source_agent, event_type, payload, created_at FROM thyme_signals WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var out []*models.Signal
	for rows.Next() {
		var s models.Signal
		var payload, created string
		if err := rows.Scan(&s.ID, &s.SourceAgent, &s.EventType, &payload, &created); err != nil {
			return nil, err
		}
		s.Payload = fromJSON(payload, map[string]any{})
		s.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, &s)
	}
	return out, rows.Err()
}
