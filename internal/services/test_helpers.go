package services

import (
	"context"
	"time"

	"github.com/aviary-social/aviary/internal/auth"
	"github.com/aviary-social/aviary/internal/models"
)

// MockAccountRepository implements AccountRepository for testing
type MockAccountRepository struct {
	GetByIDFunc         func(ctx context.Context, id string) (*models.Account, error)
	GetByIdentifierFunc func(ctx context.Context, identifier string) (*models.Account, error)
	UpdateLastLoginFunc func(ctx context.Context, id string, at time.Time) error
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error) {
	if m.GetByIdentifierFunc != nil {
		return m.GetByIdentifierFunc(ctx, identifier)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if m.UpdateLastLoginFunc != nil {
		return m.UpdateLastLoginFunc(ctx, id, at)
	}
	return nil
}

// MockTokenIssuer implements TokenIssuer for testing
type MockTokenIssuer struct {
	CreateAccessTokensFunc     func(ctx context.Context, account *models.Account, opts auth.IssueOptions) (*models.SessionTokens, error)
	UpdateAccessTokensFunc     func(ctx context.Context, account *models.Account, refresh *models.RefreshToken, rotate bool, opts auth.IssueOptions) (*models.SessionTokens, error)
	IssueAccessOnlyFunc        func(account *models.Account, opts auth.IssueOptions) (*models.SessionTokens, error)
	ValidateRefreshTokenFunc   func(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshTokenFunc     func(ctx context.Context, id string) error
	RevokeAllRefreshTokensFunc func(ctx context.Context, accountID string) error
	ValidateAccessTokenFunc    func(token string) (*models.AccessTokenClaims, error)
}

func (m *MockTokenIssuer) CreateAccessTokens(ctx context.Context, account *models.Account, opts auth.IssueOptions) (*models.SessionTokens, error) {
	if m.CreateAccessTokensFunc != nil {
		return m.CreateAccessTokensFunc(ctx, account, opts)
	}
	return &models.SessionTokens{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (m *MockTokenIssuer) UpdateAccessTokens(ctx context.Context, account *models.Account, refresh *models.RefreshToken, rotate bool, opts auth.IssueOptions) (*models.SessionTokens, error) {
	if m.UpdateAccessTokensFunc != nil {
		return m.UpdateAccessTokensFunc(ctx, account, refresh, rotate, opts)
	}
	return &models.SessionTokens{AccessToken: "access", RefreshToken: "rotated"}, nil
}

func (m *MockTokenIssuer) IssueAccessOnly(account *models.Account, opts auth.IssueOptions) (*models.SessionTokens, error) {
	if m.IssueAccessOnlyFunc != nil {
		return m.IssueAccessOnlyFunc(account, opts)
	}
	return &models.SessionTokens{AccessToken: "access"}, nil
}

func (m *MockTokenIssuer) ValidateRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if m.ValidateRefreshTokenFunc != nil {
		return m.ValidateRefreshTokenFunc(ctx, token)
	}
	return nil, models.ErrTokenNotFound
}

func (m *MockTokenIssuer) RevokeRefreshToken(ctx context.Context, id string) error {
	if m.RevokeRefreshTokenFunc != nil {
		return m.RevokeRefreshTokenFunc(ctx, id)
	}
	return nil
}

func (m *MockTokenIssuer) RevokeAllRefreshTokens(ctx context.Context, accountID string) error {
	if m.RevokeAllRefreshTokensFunc != nil {
		return m.RevokeAllRefreshTokensFunc(ctx, accountID)
	}
	return nil
}

func (m *MockTokenIssuer) ValidateAccessToken(token string) (*models.AccessTokenClaims, error) {
	if m.ValidateAccessTokenFunc != nil {
		return m.ValidateAccessTokenFunc(token)
	}
	return nil, models.ErrUnauthorized
}

// MockSecondFactorVerifier implements SecondFactorVerifier for testing
type MockSecondFactorVerifier struct {
	ValidateFunc func(ctx context.Context, accountID, code string, allowBackupCode bool) error
}

func (m *MockSecondFactorVerifier) Validate(ctx context.Context, accountID, code string, allowBackupCode bool) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, accountID, code, allowBackupCode)
	}
	return nil
}

// MockTwoFactorRepository implements repositories.TwoFactorRepository for testing
type MockTwoFactorRepository struct {
	CreateFunc             func(ctx context.Context, token *models.TwoFactorToken) error
	GetByAccountIDFunc     func(ctx context.Context, accountID string) (*models.TwoFactorToken, error)
	ReplaceBackupCodesFunc func(ctx context.Context, accountID string, codes []models.BackupCode) error
	BurnBackupCodeFunc     func(ctx context.Context, codeID string) error
	EnableFunc             func(ctx context.Context, accountID string) error
	DisableAndDeleteFunc   func(ctx context.Context, accountID string) error
}

func (m *MockTwoFactorRepository) Create(ctx context.Context, token *models.TwoFactorToken) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, token)
	}
	return nil
}

func (m *MockTwoFactorRepository) GetByAccountID(ctx context.Context, accountID string) (*models.TwoFactorToken, error) {
	if m.GetByAccountIDFunc != nil {
		return m.GetByAccountIDFunc(ctx, accountID)
	}
	return nil, models.ErrNotFound
}

func (m *MockTwoFactorRepository) ReplaceBackupCodes(ctx context.Context, accountID string, codes []models.BackupCode) error {
	if m.ReplaceBackupCodesFunc != nil {
		return m.ReplaceBackupCodesFunc(ctx, accountID, codes)
	}
	return nil
}

func (m *MockTwoFactorRepository) BurnBackupCode(ctx context.Context, codeID string) error {
	if m.BurnBackupCodeFunc != nil {
		return m.BurnBackupCodeFunc(ctx, codeID)
	}
	return nil
}

func (m *MockTwoFactorRepository) Enable(ctx context.Context, accountID string) error {
	if m.EnableFunc != nil {
		return m.EnableFunc(ctx, accountID)
	}
	return nil
}

func (m *MockTwoFactorRepository) DisableAndDelete(ctx context.Context, accountID string) error {
	if m.DisableAndDeleteFunc != nil {
		return m.DisableAndDeleteFunc(ctx, accountID)
	}
	return nil
}

// MockOAuthClientStore implements OAuthClientStore for testing
type MockOAuthClientStore struct {
	CreateFunc  func(ctx context.Context, client *models.OAuthClient) error
	GetByIDFunc func(ctx context.Context, id int64) (*models.OAuthClient, error)
}

func (m *MockOAuthClientStore) Create(ctx context.Context, client *models.OAuthClient) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, client)
	}
	client.ID = 1
	return nil
}

func (m *MockOAuthClientStore) GetByID(ctx context.Context, id int64) (*models.OAuthClient, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// MockOAuthRequestStore implements OAuthRequestStore for testing
type MockOAuthRequestStore struct {
	CreateFunc        func(ctx context.Context, request *models.OAuthRequest) error
	GetByIDFunc       func(ctx context.Context, id string) (*models.OAuthRequest, error)
	StampCodeFunc     func(ctx context.Context, id, code string, at time.Time) error
	ConsumeByCodeFunc func(ctx context.Context, code string, at time.Time) (*models.OAuthRequest, error)
	DeleteFunc        func(ctx context.Context, id string) error
}

func (m *MockOAuthRequestStore) Create(ctx context.Context, request *models.OAuthRequest) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, request)
	}
	return nil
}

func (m *MockOAuthRequestStore) GetByID(ctx context.Context, id string) (*models.OAuthRequest, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockOAuthRequestStore) StampCode(ctx context.Context, id, code string, at time.Time) error {
	if m.StampCodeFunc != nil {
		return m.StampCodeFunc(ctx, id, code, at)
	}
	return nil
}

func (m *MockOAuthRequestStore) ConsumeByCode(ctx context.Context, code string, at time.Time) (*models.OAuthRequest, error) {
	if m.ConsumeByCodeFunc != nil {
		return m.ConsumeByCodeFunc(ctx, code, at)
	}
	return nil, models.ErrNotFound
}

func (m *MockOAuthRequestStore) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

// NewTestAccount builds an unblocked, approved account for tests.
func NewTestAccount(id, username, email string) *models.Account {
	return &models.Account{
		ID:        id,
		Username:  username,
		Email:     email,
		Approved:  true,
		Roles:     []string{"user"},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}
