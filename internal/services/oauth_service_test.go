package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aviary-social/aviary/internal/auth"
	"github.com/aviary-social/aviary/internal/models"
	pkglogger "github.com/aviary-social/aviary/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOAuthService(clients *MockOAuthClientStore, requests *MockOAuthRequestStore, accounts *MockAccountRepository, issuer *MockTokenIssuer) *OAuthService {
	logger := slog.Default()
	return NewOAuthService(clients, requests, accounts, issuer, logger, pkglogger.NewAuditLogger(logger))
}

func newTestClient() *models.OAuthClient {
	return &models.OAuthClient{
		ID:            42,
		Name:          "Aviary for Android",
		Secret:        "client-secret",
		RedirectURIs:  []string{"https://app.example.com/callback"},
		ResponseTypes: []string{"code"},
		GrantTypes:    []string{"authorization_code", "client_credentials", "refresh_token"},
		Scopes:        []string{"read", "write"},
		AccountID:     "acc1",
		CreatedAt:     time.Now(),
	}
}

func oauthErr(t *testing.T, err error) *models.OAuthError {
	t.Helper()
	var oerr *models.OAuthError
	require.True(t, errors.As(err, &oerr), "expected *models.OAuthError, got %v", err)
	return oerr
}

// ----------------------------------------------------------------------------
// RegisterClient
// ----------------------------------------------------------------------------

func TestOAuthService_RegisterClient_Defaults(t *testing.T) {
	var created *models.OAuthClient
	clients := &MockOAuthClientStore{
		CreateFunc: func(ctx context.Context, client *models.OAuthClient) error {
			client.ID = 7
			created = client
			return nil
		},
	}

	svc := newOAuthService(clients, &MockOAuthRequestStore{}, &MockAccountRepository{}, &MockTokenIssuer{})
	client, err := svc.RegisterClient(context.Background(), models.DefaultSettings(), RegisterClientParams{
		Name:         "Aviary for Android",
		RedirectURIs: []string{"https://app.example.com/callback"},
		AccountID:    "acc1",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(7), client.ID)
	assert.Equal(t, []string{"read"}, created.Scopes)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, created.GrantTypes)
	assert.Equal(t, []string{"code"}, created.ResponseTypes)
	assert.Empty(t, client.Secret, "public client gets no secret")
}

func TestOAuthService_RegisterClient_ConfidentialGetsSecret(t *testing.T) {
	svc := newOAuthService(&MockOAuthClientStore{}, &MockOAuthRequestStore{}, &MockAccountRepository{}, &MockTokenIssuer{})

	client, err := svc.RegisterClient(context.Background(), models.DefaultSettings(), RegisterClientParams{
		Name:         "Backend Worker",
		RedirectURIs: []string{"https://worker.example.com/callback"},
		Confidential: true,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, client.Secret)
}

func TestOAuthService_RegisterClient_ScopeOutsideAllowList(t *testing.T) {
	svc := newOAuthService(&MockOAuthClientStore{}, &MockOAuthRequestStore{}, &MockAccountRepository{}, &MockTokenIssuer{})

	settings := models.DefaultSettings()
	settings.AllowedScopes = []string{"read"}

	_, err := svc.RegisterClient(context.Background(), settings, RegisterClientParams{
		Name:         "Greedy App",
		RedirectURIs: []string{"https://greedy.example.com/callback"},
		Scopes:       []string{"read", "push"},
	})

	assert.Equal(t, models.ErrBadRequest, err)
}

// ----------------------------------------------------------------------------
// Authorize
// ----------------------------------------------------------------------------

func authorizeFixture(client *models.OAuthClient) (*MockOAuthClientStore, *MockOAuthRequestStore) {
	clients := &MockOAuthClientStore{
		GetByIDFunc: func(ctx context.Context, id int64) (*models.OAuthClient, error) {
			if id == client.ID {
				return client, nil
			}
			return nil, models.ErrNotFound
		},
	}
	return clients, &MockOAuthRequestStore{}
}

func TestOAuthService_Authorize_Success(t *testing.T) {
	client := newTestClient()
	clients, requests := authorizeFixture(client)

	var stored *models.OAuthRequest
	requests.CreateFunc = func(ctx context.Context, request *models.OAuthRequest) error {
		stored = request
		return nil
	}

	svc := newOAuthService(clients, requests, &MockAccountRepository{}, &MockTokenIssuer{})
	account := NewTestAccount("acc1", "finch", "finch@example.com")

	result, err := svc.Authorize(context.Background(), models.DefaultSettings(), account, AuthorizeParams{
		ClientID:     "42",
		ResponseType: "code",
		RedirectURI:  "https://app.example.com/callback",
		Scope:        "read write",
		State:        "xyz",
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, result.Scopes)
	require.NotNil(t, stored)
	assert.NotEmpty(t, stored.CSRFToken)
	assert.NotEmpty(t, stored.Nonce)
	assert.Equal(t, "xyz", stored.State)
	assert.Empty(t, stored.Code, "no code before consent")
}

func TestOAuthService_Authorize_ValidationOrder(t *testing.T) {
	client := newTestClient()
	clients, requests := authorizeFixture(client)
	svc := newOAuthService(clients, requests, &MockAccountRepository{}, &MockTokenIssuer{})
	account := NewTestAccount("acc1", "finch", "finch@example.com")
	settings := models.DefaultSettings()

	// Unknown client wins over everything else.
	_, err := svc.Authorize(context.Background(), settings, account, AuthorizeParams{
		ClientID: "99", ResponseType: "token", RedirectURI: "https://evil.example.com", State: "s",
	})
	assert.Equal(t, models.OAuthErrInvalidClient, oauthErr(t, err).Code)

	// Unregistered redirect URI beats the bad response type.
	_, err = svc.Authorize(context.Background(), settings, account, AuthorizeParams{
		ClientID: "42", ResponseType: "token", RedirectURI: "https://evil.example.com", State: "s",
	})
	assert.Equal(t, models.OAuthErrInvalidRequest, oauthErr(t, err).Code)

	// Bad response type beats the bad scope.
	_, err = svc.Authorize(context.Background(), settings, account, AuthorizeParams{
		ClientID: "42", ResponseType: "token", RedirectURI: "https://app.example.com/callback", Scope: "push", State: "s",
	})
	assert.Equal(t, models.OAuthErrUnsupportedResponseType, oauthErr(t, err).Code)

	// Scope outside the client registration.
	_, err = svc.Authorize(context.Background(), settings, account, AuthorizeParams{
		ClientID: "42", ResponseType: "code", RedirectURI: "https://app.example.com/callback", Scope: "push", State: "s",
	})
	assert.Equal(t, models.OAuthErrInvalidScope, oauthErr(t, err).Code)
}

func TestOAuthService_Authorize_EchoesState(t *testing.T) {
	client := newTestClient()
	clients, requests := authorizeFixture(client)
	svc := newOAuthService(clients, requests, &MockAccountRepository{}, &MockTokenIssuer{})
	account := NewTestAccount("acc1", "finch", "finch@example.com")

	_, err := svc.Authorize(context.Background(), models.DefaultSettings(), account, AuthorizeParams{
		ClientID: "99", State: "correlate-me",
	})
	assert.Equal(t, "correlate-me", oauthErr(t, err).State)
}

// ----------------------------------------------------------------------------
// Consent
// ----------------------------------------------------------------------------

const pendingRequestID = "5b0c4a52-0d2a-4a2f-9f6e-1c63a1f1b2d3"

func pendingRequest() *models.OAuthRequest {
	return &models.OAuthRequest{
		ID:          pendingRequestID,
		ClientID:    42,
		AccountID:   "acc1",
		CSRFToken:   "csrf-secret",
		Nonce:       "nonce",
		Scope:       "read",
		RedirectURI: "https://app.example.com/callback",
		State:       "xyz",
		CreatedAt:   time.Now(),
	}
}

func TestOAuthService_Consent_ApproveStampsCode(t *testing.T) {
	request := pendingRequest()

	var stampedCode string
	requests := &MockOAuthRequestStore{
		GetByIDFunc: func(ctx context.Context, id string) (*models.OAuthRequest, error) {
			return request, nil
		},
		StampCodeFunc: func(ctx context.Context, id, code string, at time.Time) error {
			stampedCode = code
			return nil
		},
	}

	svc := newOAuthService(&MockOAuthClientStore{}, requests, &MockAccountRepository{}, &MockTokenIssuer{})
	account := NewTestAccount("acc1", "finch", "finch@example.com")

	result, err := svc.Consent(context.Background(), account, pendingRequestID, "csrf-secret", "xyz", true)
	require.NoError(t, err)
	assert.Equal(t, request.RedirectURI, result.RedirectURI)
	assert.Equal(t, stampedCode, result.Code)
	assert.Equal(t, "xyz", result.State)
}

func TestOAuthService_Consent_CSRFMismatchBurnsRequest(t *testing.T) {
	request := pendingRequest()

	var deleted string
	requests := &MockOAuthRequestStore{
		GetByIDFunc: func(ctx context.Context, id string) (*models.OAuthRequest, error) {
			return request, nil
		},
		DeleteFunc: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
		StampCodeFunc: func(ctx context.Context, id, code string, at time.Time) error {
			t.Fatal("no code may be stamped after a csrf mismatch")
			return nil
		},
	}

	svc := newOAuthService(&MockOAuthClientStore{}, requests, &MockAccountRepository{}, &MockTokenIssuer{})
	account := NewTestAccount("acc1", "finch", "finch@example.com")

	_, err := svc.Consent(context.Background(), account, pendingRequestID, "forged", "xyz", true)
	assert.Equal(t, models.OAuthErrAccessDenied, oauthErr(t, err).Code)
	assert.Equal(t, pendingRequestID, deleted, "the pending request is single use")
}

func TestOAuthService_Consent_DenyDeletesRequest(t *testing.T) {
	request := pendingRequest()

	var deleted string
	requests := &MockOAuthRequestStore{
		GetByIDFunc: func(ctx context.Context, id string) (*models.OAuthRequest, error) {
			return request, nil
		},
		DeleteFunc: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}

	svc := newOAuthService(&MockOAuthClientStore{}, requests, &MockAccountRepository{}, &MockTokenIssuer{})
	account := NewTestAccount("acc1", "finch", "finch@example.com")

	_, err := svc.Consent(context.Background(), account, pendingRequestID, "csrf-secret", "xyz", false)
	assert.Equal(t, models.OAuthErrAccessDenied, oauthErr(t, err).Code)
	assert.Equal(t, pendingRequestID, deleted)
}

func TestOAuthService_Consent_WrongAccount(t *testing.T) {
	request := pendingRequest()
	requests := &MockOAuthRequestStore{
		GetByIDFunc: func(ctx context.Context, id string) (*models.OAuthRequest, error) {
			return request, nil
		},
	}

	svc := newOAuthService(&MockOAuthClientStore{}, requests, &MockAccountRepository{}, &MockTokenIssuer{})
	other := NewTestAccount("acc2", "sparrow", "sparrow@example.com")

	_, err := svc.Consent(context.Background(), other, pendingRequestID, "csrf-secret", "xyz", true)
	assert.Equal(t, models.OAuthErrAccessDenied, oauthErr(t, err).Code)
}

func TestOAuthService_Consent_UnknownRequest(t *testing.T) {
	svc := newOAuthService(&MockOAuthClientStore{}, &MockOAuthRequestStore{}, &MockAccountRepository{}, &MockTokenIssuer{})
	account := NewTestAccount("acc1", "finch", "finch@example.com")

	_, err := svc.Consent(context.Background(), account, uuid.NewString(), "csrf", "correlate-me", true)
	oerr := oauthErr(t, err)
	assert.Equal(t, models.OAuthErrInvalidRequest, oerr.Code)
	assert.Equal(t, "correlate-me", oerr.State)
}

func TestOAuthService_Consent_MalformedRequestID(t *testing.T) {
	// A non-UUID id never reaches the store; it is a protocol error carrying
	// the caller's state, not a database fault.
	requests := &MockOAuthRequestStore{
		GetByIDFunc: func(ctx context.Context, id string) (*models.OAuthRequest, error) {
			t.Fatal("malformed ids must be rejected before lookup")
			return nil, nil
		},
	}

	svc := newOAuthService(&MockOAuthClientStore{}, requests, &MockAccountRepository{}, &MockTokenIssuer{})
	account := NewTestAccount("acc1", "finch", "finch@example.com")

	_, err := svc.Consent(context.Background(), account, "not-a-uuid", "csrf", "correlate-me", true)
	oerr := oauthErr(t, err)
	assert.Equal(t, models.OAuthErrInvalidRequest, oerr.Code)
	assert.Equal(t, "correlate-me", oerr.State)
}

// ----------------------------------------------------------------------------
// Token: authorization_code
// ----------------------------------------------------------------------------

func approvedRequest(now time.Time) *models.OAuthRequest {
	request := pendingRequest()
	request.Code = "the-code"
	request.CodeGeneratedAt = &now
	request.AuthorizedAt = &now
	return request
}

func tokenFixture(client *models.OAuthClient, request *models.OAuthRequest, account *models.Account) (*MockOAuthClientStore, *MockOAuthRequestStore, *MockAccountRepository) {
	clients := &MockOAuthClientStore{
		GetByIDFunc: func(ctx context.Context, id int64) (*models.OAuthClient, error) {
			if id == client.ID {
				return client, nil
			}
			return nil, models.ErrNotFound
		},
	}
	requests := &MockOAuthRequestStore{
		ConsumeByCodeFunc: func(ctx context.Context, code string, at time.Time) (*models.OAuthRequest, error) {
			if request != nil && request.Code == code && request.ConsumedAt == nil {
				consumed := at
				request.ConsumedAt = &consumed
				return request, nil
			}
			return nil, models.ErrNotFound
		},
	}
	accounts := &MockAccountRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Account, error) {
			if account != nil && account.ID == id {
				return account, nil
			}
			return nil, models.ErrNotFound
		},
	}
	return clients, requests, accounts
}

func TestOAuthService_Token_AuthorizationCode_Success(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient()
	account := NewTestAccount("acc1", "finch", "finch@example.com")
	request := approvedRequest(base)

	var issuedOpts auth.IssueOptions
	issuer := &MockTokenIssuer{
		CreateAccessTokensFunc: func(ctx context.Context, acc *models.Account, opts auth.IssueOptions) (*models.SessionTokens, error) {
			issuedOpts = opts
			return &models.SessionTokens{
				AccessToken:     "signed-jwt",
				AccessExpiresAt: base.Add(24 * time.Hour),
				RefreshToken:    "refresh-secret",
			}, nil
		},
	}

	clients, requests, accounts := tokenFixture(client, request, account)
	svc := newOAuthService(clients, requests, accounts, issuer)
	svc.SetClock(func() time.Time { return base.Add(30 * time.Second) })

	resp, err := svc.Token(context.Background(), TokenParams{
		GrantType:    "authorization_code",
		Code:         "the-code",
		RedirectURI:  "https://app.example.com/callback",
		ClientID:     "42",
		ClientSecret: "client-secret",
	})

	require.NoError(t, err)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.Equal(t, "signed-jwt", resp.AccessToken)
	assert.Equal(t, "refresh-secret", resp.RefreshToken)
	assert.Equal(t, "read", resp.Scope)
	assert.True(t, issuedOpts.LongLived)
	assert.Equal(t, client.Name, issuedOpts.Application)
	assert.Equal(t, []string{"read"}, issuedOpts.Scopes)
}

func TestOAuthService_Token_AuthorizationCode_SingleUse(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient()
	account := NewTestAccount("acc1", "finch", "finch@example.com")
	request := approvedRequest(base)

	clients, requests, accounts := tokenFixture(client, request, account)
	svc := newOAuthService(clients, requests, accounts, &MockTokenIssuer{})
	svc.SetClock(func() time.Time { return base.Add(time.Second) })

	params := TokenParams{
		GrantType:    "authorization_code",
		Code:         "the-code",
		RedirectURI:  "https://app.example.com/callback",
		ClientID:     "42",
		ClientSecret: "client-secret",
	}

	_, err := svc.Token(context.Background(), params)
	require.NoError(t, err)

	_, err = svc.Token(context.Background(), params)
	assert.Equal(t, models.OAuthErrInvalidGrant, oauthErr(t, err).Code)
}

func TestOAuthService_Token_AuthorizationCode_Expired(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient()
	account := NewTestAccount("acc1", "finch", "finch@example.com")
	request := approvedRequest(base)

	clients, requests, accounts := tokenFixture(client, request, account)
	svc := newOAuthService(clients, requests, accounts, &MockTokenIssuer{})
	svc.SetClock(func() time.Time { return base.Add(models.AuthorizationCodeTTL) })

	_, err := svc.Token(context.Background(), TokenParams{
		GrantType:    "authorization_code",
		Code:         "the-code",
		RedirectURI:  "https://app.example.com/callback",
		ClientID:     "42",
		ClientSecret: "client-secret",
	})

	oerr := oauthErr(t, err)
	assert.Equal(t, models.OAuthErrInvalidGrant, oerr.Code)
	assert.Contains(t, oerr.Description, "expired")
}

func TestOAuthService_Token_AuthorizationCode_WrongClient(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient()
	account := NewTestAccount("acc1", "finch", "finch@example.com")
	request := approvedRequest(base)
	request.ClientID = 7 // issued to someone else

	clients, requests, accounts := tokenFixture(client, request, account)
	svc := newOAuthService(clients, requests, accounts, &MockTokenIssuer{})
	svc.SetClock(func() time.Time { return base.Add(time.Second) })

	_, err := svc.Token(context.Background(), TokenParams{
		GrantType:    "authorization_code",
		Code:         "the-code",
		RedirectURI:  "https://app.example.com/callback",
		ClientID:     "42",
		ClientSecret: "client-secret",
	})

	assert.Equal(t, models.OAuthErrInvalidGrant, oauthErr(t, err).Code)
}

func TestOAuthService_Token_AuthorizationCode_RedirectMismatch(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient()
	account := NewTestAccount("acc1", "finch", "finch@example.com")
	request := approvedRequest(base)

	clients, requests, accounts := tokenFixture(client, request, account)
	svc := newOAuthService(clients, requests, accounts, &MockTokenIssuer{})
	svc.SetClock(func() time.Time { return base.Add(time.Second) })

	_, err := svc.Token(context.Background(), TokenParams{
		GrantType:    "authorization_code",
		Code:         "the-code",
		RedirectURI:  "https://other.example.com/callback",
		ClientID:     "42",
		ClientSecret: "client-secret",
	})

	assert.Equal(t, models.OAuthErrInvalidGrant, oauthErr(t, err).Code)
}

func TestOAuthService_Token_AuthorizationCode_WrongSecret(t *testing.T) {
	client := newTestClient()
	clients, requests, accounts := tokenFixture(client, nil, nil)
	svc := newOAuthService(clients, requests, accounts, &MockTokenIssuer{})

	_, err := svc.Token(context.Background(), TokenParams{
		GrantType:    "authorization_code",
		Code:         "the-code",
		ClientID:     "42",
		ClientSecret: "wrong",
	})

	assert.Equal(t, models.OAuthErrInvalidClient, oauthErr(t, err).Code)
}

func TestOAuthService_Token_UnsupportedGrant(t *testing.T) {
	svc := newOAuthService(&MockOAuthClientStore{}, &MockOAuthRequestStore{}, &MockAccountRepository{}, &MockTokenIssuer{})

	_, err := svc.Token(context.Background(), TokenParams{GrantType: "password", ClientID: "42"})
	assert.Equal(t, models.OAuthErrUnsupportedGrantType, oauthErr(t, err).Code)
}

func TestOAuthService_Token_GrantNotRegistered(t *testing.T) {
	client := newTestClient()
	client.GrantTypes = []string{"authorization_code"}

	clients, requests, accounts := tokenFixture(client, nil, nil)
	svc := newOAuthService(clients, requests, accounts, &MockTokenIssuer{})

	_, err := svc.Token(context.Background(), TokenParams{
		GrantType:    "client_credentials",
		ClientID:     "42",
		ClientSecret: "client-secret",
	})

	assert.Equal(t, models.OAuthErrUnsupportedGrantType, oauthErr(t, err).Code)
}

// ----------------------------------------------------------------------------
// Token: client_credentials
// ----------------------------------------------------------------------------

func TestOAuthService_Token_ClientCredentials_Success(t *testing.T) {
	client := newTestClient()
	account := NewTestAccount("acc1", "finch", "finch@example.com")

	issuer := &MockTokenIssuer{
		IssueAccessOnlyFunc: func(acc *models.Account, opts auth.IssueOptions) (*models.SessionTokens, error) {
			assert.Equal(t, client.Scopes, opts.Scopes)
			return &models.SessionTokens{AccessToken: "machine-jwt", AccessExpiresAt: time.Now().Add(24 * time.Hour)}, nil
		},
		CreateAccessTokensFunc: func(ctx context.Context, acc *models.Account, opts auth.IssueOptions) (*models.SessionTokens, error) {
			t.Fatal("client credentials must not mint a refresh token")
			return nil, nil
		},
	}

	clients, requests, accounts := tokenFixture(client, nil, account)
	svc := newOAuthService(clients, requests, accounts, issuer)

	resp, err := svc.Token(context.Background(), TokenParams{
		GrantType:    "client_credentials",
		ClientID:     "42",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example.com/callback",
	})

	require.NoError(t, err)
	assert.Equal(t, "machine-jwt", resp.AccessToken)
	assert.Empty(t, resp.RefreshToken, "access-only token carries no refresh secret")
	assert.Equal(t, "read write", resp.Scope)
}

func TestOAuthService_Token_ClientCredentials_RedirectURIRequired(t *testing.T) {
	client := newTestClient()
	account := NewTestAccount("acc1", "finch", "finch@example.com")

	clients, requests, accounts := tokenFixture(client, nil, account)
	svc := newOAuthService(clients, requests, accounts, &MockTokenIssuer{})

	// Absent and unregistered values are both rejected.
	for _, redirectURI := range []string{"", "https://elsewhere.example.com/cb"} {
		_, err := svc.Token(context.Background(), TokenParams{
			GrantType:    "client_credentials",
			ClientID:     "42",
			ClientSecret: "client-secret",
			RedirectURI:  redirectURI,
		})
		assert.Equal(t, models.OAuthErrInvalidRequest, oauthErr(t, err).Code, "redirect_uri %q", redirectURI)
	}
}

func TestOAuthService_Token_ClientCredentials_PublicClient(t *testing.T) {
	client := newTestClient()
	client.Secret = ""

	clients, requests, accounts := tokenFixture(client, nil, nil)
	svc := newOAuthService(clients, requests, accounts, &MockTokenIssuer{})

	_, err := svc.Token(context.Background(), TokenParams{
		GrantType: "client_credentials",
		ClientID:  "42",
	})

	assert.Equal(t, models.OAuthErrInvalidClient, oauthErr(t, err).Code)
}

func TestOAuthService_Token_ClientCredentials_NoBoundAccount(t *testing.T) {
	client := newTestClient()
	client.AccountID = ""

	clients, requests, accounts := tokenFixture(client, nil, nil)
	svc := newOAuthService(clients, requests, accounts, &MockTokenIssuer{})

	_, err := svc.Token(context.Background(), TokenParams{
		GrantType:    "client_credentials",
		ClientID:     "42",
		ClientSecret: "client-secret",
	})

	assert.Equal(t, models.OAuthErrInvalidClient, oauthErr(t, err).Code)
}

// ----------------------------------------------------------------------------
// Token: refresh_token
// ----------------------------------------------------------------------------

func TestOAuthService_Token_RefreshGrant_Success(t *testing.T) {
	client := newTestClient()
	account := NewTestAccount("acc1", "finch", "finch@example.com")
	refresh := &models.RefreshToken{
		ID:          "rt1",
		AccountID:   "acc1",
		Token:       "refresh-secret",
		Application: client.Name,
		Scopes:      []string{"read"},
	}

	issuer := &MockTokenIssuer{
		ValidateRefreshTokenFunc: func(ctx context.Context, token string) (*models.RefreshToken, error) {
			if token == refresh.Token {
				return refresh, nil
			}
			return nil, models.ErrTokenNotFound
		},
		UpdateAccessTokensFunc: func(ctx context.Context, acc *models.Account, rt *models.RefreshToken, rotate bool, opts auth.IssueOptions) (*models.SessionTokens, error) {
			assert.True(t, rotate)
			return &models.SessionTokens{AccessToken: "fresh-jwt", RefreshToken: "next-secret"}, nil
		},
	}

	clients, requests, accounts := tokenFixture(client, nil, account)
	svc := newOAuthService(clients, requests, accounts, issuer)

	resp, err := svc.Token(context.Background(), TokenParams{
		GrantType:    "refresh_token",
		RefreshToken: "refresh-secret",
		ClientID:     "42",
		ClientSecret: "client-secret",
	})

	require.NoError(t, err)
	assert.Equal(t, "fresh-jwt", resp.AccessToken)
	assert.Equal(t, "next-secret", resp.RefreshToken)
}

func TestOAuthService_Token_RefreshGrant_OtherClientsToken(t *testing.T) {
	client := newTestClient()
	refresh := &models.RefreshToken{
		ID:          "rt1",
		AccountID:   "acc1",
		Token:       "refresh-secret",
		Application: "Some Other App",
	}

	issuer := &MockTokenIssuer{
		ValidateRefreshTokenFunc: func(ctx context.Context, token string) (*models.RefreshToken, error) {
			return refresh, nil
		},
	}

	clients, requests, accounts := tokenFixture(client, nil, nil)
	svc := newOAuthService(clients, requests, accounts, issuer)

	_, err := svc.Token(context.Background(), TokenParams{
		GrantType:    "refresh_token",
		RefreshToken: "refresh-secret",
		ClientID:     "42",
		ClientSecret: "client-secret",
	})

	assert.Equal(t, models.OAuthErrInvalidGrant, oauthErr(t, err).Code)
}

func TestOAuthService_Token_RefreshGrant_RejectedToken(t *testing.T) {
	client := newTestClient()

	for _, sentinel := range []error{models.ErrTokenNotFound, models.ErrTokenRevoked, models.ErrTokenExpired, models.ErrAccountBlocked} {
		issuer := &MockTokenIssuer{
			ValidateRefreshTokenFunc: func(ctx context.Context, token string) (*models.RefreshToken, error) {
				return nil, sentinel
			},
		}

		clients, requests, accounts := tokenFixture(client, nil, nil)
		svc := newOAuthService(clients, requests, accounts, issuer)

		_, err := svc.Token(context.Background(), TokenParams{
			GrantType:    "refresh_token",
			RefreshToken: "whatever",
			ClientID:     "42",
			ClientSecret: "client-secret",
		})

		assert.Equal(t, models.OAuthErrInvalidGrant, oauthErr(t, err).Code)
	}
}
