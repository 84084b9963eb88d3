package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/aviary-social/aviary/internal/database"
	"github.com/aviary-social/aviary/internal/models"
	"github.com/jackc/pgx/v5"
)

type AccountRepository struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAccountRow handles nullable fields and populates an Account model from a database row
func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	var passwordHash *string
	var lastLoginAt *time.Time

	err := scanner.Scan(
		&account.ID, &account.Username, &account.Email, &passwordHash,
		&account.Blocked, &account.Approved, &account.TwoFactorEnabled, &account.Roles,
		&lastLoginAt, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		account.PasswordHash = *passwordHash
	}
	account.LastLoginAt = lastLoginAt

	return &account, nil
}

const accountColumns = `id, username, email, password_hash, blocked, approved, two_factor_enabled, roles, last_login_at, created_at, updated_at`

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByIdentifier resolves a login identifier. Identifiers containing "@" are
// matched against email, otherwise against username; both case-insensitively.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(username) = LOWER($1)`
	if isEmail(identifier) {
		query = `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`
	}

	return scanAccountRow(r.db.Pool.QueryRow(ctx, query, identifier))
}

// UpdateLastLogin records a successful authentication timestamp.
func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE accounts SET last_login_at = $1, updated_at = $1 WHERE id = $2`

	result, err := r.db.Pool.Exec(ctx, query, at, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// SetTwoFactorEnabled flips the account's two-factor flag.
func (r *AccountRepository) SetTwoFactorEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE accounts SET two_factor_enabled = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.db.Pool.Exec(ctx, query, enabled, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// setTwoFactorEnabledTx is the transactional variant used when the flag flip
// must commit together with a two-factor token mutation.
func setTwoFactorEnabledTx(ctx context.Context, tx pgx.Tx, id string, enabled bool) error {
	query := `UPDATE accounts SET two_factor_enabled = $1, updated_at = NOW() WHERE id = $2`

	result, err := tx.Exec(ctx, query, enabled, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func isEmail(identifier string) bool {
	return strings.Contains(identifier, "@")
}
