package repositories

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/aviary-social/aviary/internal/database"
	"github.com/aviary-social/aviary/internal/models"
)

const oauthClientColumns = `id, name, secret, redirect_uris, response_types, grant_types, scopes, account_id, created_at`

type OAuthClientRepository struct {
	db *database.DB
}

func NewOAuthClientRepository(db *database.DB) *OAuthClientRepository {
	return &OAuthClientRepository{db: db}
}

func scanOAuthClientRow(scanner rowScanner) (*models.OAuthClient, error) {
	var client models.OAuthClient
	var secret, accountID *string

	err := scanner.Scan(
		&client.ID, &client.Name, &secret,
		pq.Array(&client.RedirectURIs), pq.Array(&client.ResponseTypes), pq.Array(&client.GrantTypes),
		pq.Array(&client.Scopes), &accountID, &client.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if secret != nil {
		client.Secret = *secret
	}
	if accountID != nil {
		client.AccountID = *accountID
	}

	return &client, nil
}

// Create registers a client. The ID is database-assigned; callers present it
// back as the client_id wire parameter.
func (r *OAuthClientRepository) Create(ctx context.Context, client *models.OAuthClient) error {
	query := `
		INSERT INTO oauth_clients (name, secret, redirect_uris, response_types, grant_types, scopes, account_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		client.Name, nullIfEmpty(client.Secret),
		pq.Array(client.RedirectURIs), pq.Array(client.ResponseTypes), pq.Array(client.GrantTypes),
		pq.Array(client.Scopes), nullIfEmpty(client.AccountID),
	).Scan(&client.ID, &client.CreatedAt)

	if err != nil {
		return database.MapPostgresError(err)
	}

	return nil
}

func (r *OAuthClientRepository) GetByID(ctx context.Context, id int64) (*models.OAuthClient, error) {
	query := `SELECT ` + oauthClientColumns + ` FROM oauth_clients WHERE id = $1`

	return scanOAuthClientRow(r.db.Pool.QueryRow(ctx, query, id))
}

// ListByAccountID returns clients registered by the given account.
func (r *OAuthClientRepository) ListByAccountID(ctx context.Context, accountID string) ([]*models.OAuthClient, error) {
	query := `SELECT ` + oauthClientColumns + ` FROM oauth_clients WHERE account_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query oauth clients: %w", err)
	}
	defer rows.Close()

	clients := make([]*models.OAuthClient, 0)
	for rows.Next() {
		client, err := scanOAuthClientRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan oauth client: %w", err)
		}
		clients = append(clients, client)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating oauth clients: %w", err)
	}

	return clients, nil
}

func (r *OAuthClientRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM oauth_clients WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
