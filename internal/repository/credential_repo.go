package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteCredentialRepository implements CredentialRepository against the
// single-row thyme_credentials table. Token values are stored exactly as
// given; the token broker is responsible for encrypting/decrypting them.
type SQLiteCredentialRepository struct {
	db *sql.DB
}

func NewSQLiteCredentialRepository(db *sql.DB) *SQLiteCredentialRepository {
	return &SQLiteCredentialRepository{db: db}
}

func (r *SQLiteCredentialRepository) Get(ctx context.Context) (*CredentialRow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT access_token_enc, refresh_token_enc, expires_at, scopes, updated_at
		FROM thyme_credentials WHERE id = 1
	`)
	var c CredentialRow
	var expiresAt, scopes, updatedAt string
	err := row.Scan(&c.AccessTokenEnc, &c.RefreshTokenEnc, &expiresAt, &scopes, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential row: %w", err)
	}
	c.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	c.Scopes = fromJSON(scopes, []string{})
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &c, nil
}

func (r *SQLiteCredentialRepository) Save(ctx context.Context, row *CredentialRow) error {
	now := time.Now().UTC()
	row.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO thyme_credentials (id, access_token_enc, refresh_token_enc, expires_at, scopes, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token_enc = excluded.access_token_enc,
			refresh_token_enc = excluded.refresh_token_enc,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			updated_at = excluded.updated_at
	`, row.AccessTokenEnc, row.RefreshTokenEnc, row.ExpiresAt.UTC().Format(time.RFC3339), toJSON(row.Scopes), row.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save credential row: %w", err)
	}
	return nil
}
