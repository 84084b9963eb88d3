package repositories

import (
	"context"
	"time"

	"github.com/aviary-social/aviary/internal/database"
	"github.com/aviary-social/aviary/internal/models"
)

const oauthRequestColumns = `id, client_id, account_id, csrf_token, nonce, scope, redirect_uri, state, code, code_generated_at, authorized_at, consumed_at, created_at`

type OAuthRequestRepository struct {
	db *database.DB
}

func NewOAuthRequestRepository(db *database.DB) *OAuthRequestRepository {
	return &OAuthRequestRepository{db: db}
}

func scanOAuthRequestRow(scanner rowScanner) (*models.OAuthRequest, error) {
	var request models.OAuthRequest
	var state, code *string

	err := scanner.Scan(
		&request.ID, &request.ClientID, &request.AccountID,
		&request.CSRFToken, &request.Nonce, &request.Scope,
		&request.RedirectURI, &state, &code,
		&request.CodeGeneratedAt, &request.AuthorizedAt, &request.ConsumedAt,
		&request.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if state != nil {
		request.State = *state
	}
	if code != nil {
		request.Code = *code
	}

	return &request, nil
}

func (r *OAuthRequestRepository) Create(ctx context.Context, request *models.OAuthRequest) error {
	query := `
		INSERT INTO oauth_requests (id, client_id, account_id, csrf_token, nonce, scope, redirect_uri, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		request.ID, request.ClientID, request.AccountID,
		request.CSRFToken, request.Nonce, request.Scope,
		request.RedirectURI, nullIfEmpty(request.State),
	).Scan(&request.CreatedAt)

	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *OAuthRequestRepository) GetByID(ctx context.Context, id string) (*models.OAuthRequest, error) {
	query := `SELECT ` + oauthRequestColumns + ` FROM oauth_requests WHERE id = $1`

	return scanOAuthRequestRow(r.db.Pool.QueryRow(ctx, query, id))
}

// StampCode records consent: the authorization code and both timestamps land
// in one guarded update. A request that was already stamped or consumed is
// not stamped again.
func (r *OAuthRequestRepository) StampCode(ctx context.Context, id, code string, at time.Time) error {
	query := `
		UPDATE oauth_requests
		SET code = $1, code_generated_at = $2, authorized_at = $2
		WHERE id = $3 AND code IS NULL AND consumed_at IS NULL
	`

	result, err := r.db.Pool.Exec(ctx, query, code, at, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// ConsumeByCode atomically claims an authorization code. The guarded update
// means exactly one of any number of concurrent exchanges wins; the rest see
// ErrNotFound.
func (r *OAuthRequestRepository) ConsumeByCode(ctx context.Context, code string, at time.Time) (*models.OAuthRequest, error) {
	query := `
		UPDATE oauth_requests
		SET consumed_at = $1
		WHERE code = $2 AND consumed_at IS NULL
		RETURNING ` + oauthRequestColumns

	return scanOAuthRequestRow(r.db.Pool.QueryRow(ctx, query, at, code))
}

// Delete removes a pending request, used when consent is denied or the CSRF
// check fails.
func (r *OAuthRequestRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM oauth_requests WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// DeleteStale removes consumed requests and abandoned ones older than the
// cutoff. Returns the number of rows deleted for janitor logging.
func (r *OAuthRequestRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM oauth_requests WHERE consumed_at IS NOT NULL OR created_at < $1`

	result, err := r.db.Pool.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
