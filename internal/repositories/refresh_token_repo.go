package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/aviary-social/aviary/internal/database"
	"github.com/aviary-social/aviary/internal/models"
	"github.com/jackc/pgx/v5"
)

const refreshTokenColumns = `id, account_id, token, created_at, expires_at, revoked, uses_cookies, application, scopes`

type RefreshTokenRepository struct {
	db *database.DB
}

func NewRefreshTokenRepository(db *database.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func scanRefreshTokenRow(scanner rowScanner) (*models.RefreshToken, error) {
	var token models.RefreshToken
	var application *string

	err := scanner.Scan(
		&token.ID, &token.AccountID, &token.Token,
		&token.CreatedAt, &token.ExpiresAt, &token.Revoked,
		&token.UsesCookies, &application, &token.Scopes,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if application != nil {
		token.Application = *application
	}

	return &token, nil
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, account_id, token, created_at, expires_at, revoked, uses_cookies, application, scopes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		token.ID, token.AccountID, token.Token,
		token.CreatedAt, token.ExpiresAt, token.Revoked,
		token.UsesCookies, nullIfEmpty(token.Application), token.Scopes,
	)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *RefreshTokenRepository) GetByToken(ctx context.Context, tokenString string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token = $1`

	return scanRefreshTokenRow(r.db.Pool.QueryRow(ctx, query, tokenString))
}

// Rotate revokes the old row and inserts the replacement in one transaction.
// A reused or concurrently rotated token fails the guarded update and the
// whole rotation rolls back.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID string, next *models.RefreshToken) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx,
			`UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1 AND revoked = FALSE`,
			oldID,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrTokenRevoked
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO refresh_tokens (id, account_id, token, created_at, expires_at, revoked, uses_cookies, application, scopes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			next.ID, next.AccountID, next.Token,
			next.CreatedAt, next.ExpiresAt, next.Revoked,
			next.UsesCookies, nullIfEmpty(next.Application), next.Scopes,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}

		return nil
	})
}

// Revoke marks a single token revoked. Revoking an already revoked token is
// a no-op, not an error.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string) error {
	query := `UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrTokenNotFound
	}

	return nil
}

// RevokeAllForAccount marks every live token for the account revoked.
func (r *RefreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID string) error {
	query := `UPDATE refresh_tokens SET revoked = TRUE WHERE account_id = $1 AND revoked = FALSE`

	_, err := r.db.Pool.Exec(ctx, query, accountID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

// ListActiveForAccount returns the live sessions for an account, newest first.
func (r *RefreshTokenRepository) ListActiveForAccount(ctx context.Context, accountID string) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE account_id = $1 AND revoked = FALSE AND expires_at > NOW()
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]*models.RefreshToken, 0)
	for rows.Next() {
		token, err := scanRefreshTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refresh tokens: %w", err)
	}

	return tokens, nil
}

// DeleteExpired removes rows whose expiry predates the cutoff. Returns the
// number of rows deleted for janitor logging.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`

	result, err := r.db.Pool.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
