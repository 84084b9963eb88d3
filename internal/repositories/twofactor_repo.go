package repositories

import (
	"context"

	"github.com/aviary-social/aviary/internal/database"
	"github.com/aviary-social/aviary/internal/models"
	"github.com/jackc/pgx/v5"
)

// TwoFactorRepository defines two-factor token persistence operations.
// Enable and DisableAndDelete also touch the owning account row; disable is
// transactional so the flag and the secret can never disagree. Backup codes
// live in their own rows, and BurnBackupCode is guarded by used_at IS NULL so
// concurrent consumers of the same code cannot both succeed.
type TwoFactorRepository interface {
	Create(ctx context.Context, token *models.TwoFactorToken) error
	GetByAccountID(ctx context.Context, accountID string) (*models.TwoFactorToken, error)
	ReplaceBackupCodes(ctx context.Context, accountID string, codes []models.BackupCode) error
	BurnBackupCode(ctx context.Context, codeID string) error
	Enable(ctx context.Context, accountID string) error
	DisableAndDelete(ctx context.Context, accountID string) error
}

type twoFactorRepoImpl struct {
	db *database.DB
}

// NewTwoFactorRepository creates a new two-factor repository
func NewTwoFactorRepository(db *database.DB) TwoFactorRepository {
	return &twoFactorRepoImpl{db: db}
}

// Create inserts the account's two-factor token and its backup codes in one
// transaction. At most one token row per account; a second insert surfaces
// ErrConflict.
func (r *twoFactorRepoImpl) Create(ctx context.Context, token *models.TwoFactorToken) error {
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO two_factor_tokens (account_id, secret_encrypted, secret_nonce)
			VALUES ($1, $2, $3)
			RETURNING created_at
		`

		err := tx.QueryRow(ctx, query,
			token.AccountID,
			token.SecretEncrypted,
			token.SecretNonce,
		).Scan(&token.CreatedAt)
		if err != nil {
			return database.MapPostgresError(err)
		}

		return insertBackupCodesTx(ctx, tx, token.AccountID, token.BackupCodes)
	})
	if err != nil {
		return err
	}

	return nil
}

// GetByAccountID retrieves the account's two-factor token with its backup
// codes, unused and used alike.
func (r *twoFactorRepoImpl) GetByAccountID(ctx context.Context, accountID string) (*models.TwoFactorToken, error) {
	token := &models.TwoFactorToken{}

	query := `
		SELECT account_id, secret_encrypted, secret_nonce, created_at
		FROM two_factor_tokens
		WHERE account_id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, accountID).Scan(
		&token.AccountID,
		&token.SecretEncrypted,
		&token.SecretNonce,
		&token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	codesQuery := `
		SELECT id, account_id, code_hash, used_at, created_at
		FROM two_factor_backup_codes
		WHERE account_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.Pool.Query(ctx, codesQuery, accountID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var code models.BackupCode
		if err := rows.Scan(&code.ID, &code.AccountID, &code.CodeHash, &code.UsedAt, &code.CreatedAt); err != nil {
			return nil, database.MapPostgresError(err)
		}
		token.BackupCodes = append(token.BackupCodes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return token, nil
}

// ReplaceBackupCodes swaps the full backup code set in one transaction, used
// when codes are regenerated. Burning an individual code goes through
// BurnBackupCode instead.
func (r *twoFactorRepoImpl) ReplaceBackupCodes(ctx context.Context, accountID string, codes []models.BackupCode) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var exists bool
		err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM two_factor_tokens WHERE account_id = $1)`, accountID).Scan(&exists)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if !exists {
			return models.ErrTwoFactorNotFound
		}

		if _, err := tx.Exec(ctx, `DELETE FROM two_factor_backup_codes WHERE account_id = $1`, accountID); err != nil {
			return database.MapPostgresError(err)
		}

		return insertBackupCodesTx(ctx, tx, accountID, codes)
	})
}

// BurnBackupCode marks a single code used. The used_at IS NULL guard makes
// consumption atomic: of two racing callers, exactly one sees a row update
// and the other gets ErrNotFound.
func (r *twoFactorRepoImpl) BurnBackupCode(ctx context.Context, codeID string) error {
	query := `
		UPDATE two_factor_backup_codes
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL
	`

	result, err := r.db.Pool.Exec(ctx, query, codeID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// Enable flips the account's two-factor flag on. The token row must already
// exist; the flag is only authoritative once a code has been validated.
func (r *twoFactorRepoImpl) Enable(ctx context.Context, accountID string) error {
	query := `UPDATE accounts SET two_factor_enabled = TRUE, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, accountID)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// DisableAndDelete removes the token row and clears the account flag in one
// transaction. No interleaving can observe the flag set with no secret, or
// the secret gone with the flag still on. Backup code rows go with the token
// via the foreign key cascade.
func (r *twoFactorRepoImpl) DisableAndDelete(ctx context.Context, accountID string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `DELETE FROM two_factor_tokens WHERE account_id = $1`, accountID)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrTwoFactorNotFound
		}

		return setTwoFactorEnabledTx(ctx, tx, accountID, false)
	})
}

func insertBackupCodesTx(ctx context.Context, tx pgx.Tx, accountID string, codes []models.BackupCode) error {
	query := `
		INSERT INTO two_factor_backup_codes (account_id, code_hash)
		VALUES ($1, $2)
		RETURNING id, account_id, used_at, created_at
	`

	for i := range codes {
		err := tx.QueryRow(ctx, query, accountID, codes[i].CodeHash).Scan(
			&codes[i].ID,
			&codes[i].AccountID,
			&codes[i].UsedAt,
			&codes[i].CreatedAt,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}
	}

	return nil
}
