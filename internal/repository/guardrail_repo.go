package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// SQLiteGuardrailRepository implements GuardrailRepository.
type SQLiteGuardrailRepository struct {
	db *sql.DB
}

func NewSQLiteGuardrailRepository(db *sql.DB) *SQLiteGuardrailRepository {
	return &SQLiteGuardrailRepository{db: db}
}

func (r *SQLiteGuardrailRepository) ListActive(ctx context.Context) ([]*models.Guardrail, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, rule_category, threshold, config, violation_action, is_active, created_at, updated_at
		FROM thyme_guardrails WHERE is_active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active guardrails: %w", err)
	}
	defer rows.Close()

	var out []*models.Guardrail
	for rows.Next() {
		var g models.Guardrail
		var threshold sql.NullFloat64
		var config, violationAction string
		var isActive int
		var created, updated string
		if err := rows.Scan(&g.ID, &g.Name, &g.RuleCategory, &threshold, &config, &violationAction, &isActive, &created, &updated); err != nil {
			return nil, err
		}
		g.Threshold = float64PtrFromNull(threshold)
		g.Config = fromJSON(config, map[string]any{})
		g.ViolationAction = models.ViolationAction(violationAction)
		g.IsActive = isActive != 0
		g.CreatedAt, _ = time.Parse(time.RFC3339, created)
		g.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (r *SQLiteGuardrailRepository) Upsert(ctx context.Context, g *models.Guardrail) error {
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	var threshold any
	if g.Threshold != nil {
		threshold = *g.Threshold
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_guardrails (id, name, rule_category, threshold, config, violation_action, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			rule_category = excluded.rule_category,
			threshold = excluded.threshold,
			config = excluded.config,
			violation_action = excluded.violation_action,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, g.ID, g.Name, g.RuleCategory, threshold, toJSON(g.Config), string(g.ViolationAction),
		boolToInt(g.IsActive), g.CreatedAt.Format(time.RFC3339), g.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert guardrail: %w", err)
	}
	return nil
}
