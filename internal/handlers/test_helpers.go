package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aviary-social/aviary/internal/auth"
	"github.com/aviary-social/aviary/internal/config"
	"github.com/aviary-social/aviary/internal/models"
	"github.com/aviary-social/aviary/internal/services"
)

// Mock implementations for handler tests.

// MockCredentialService is a mock implementation of CredentialServiceInterface
type MockCredentialService struct {
	LoginFunc             func(ctx context.Context, settings *models.Settings, params services.LoginParams) (*services.LoginResult, error)
	RefreshFunc           func(ctx context.Context, refreshToken string, delivery models.SessionDelivery) (*services.LoginResult, error)
	RevokeTokenFunc       func(ctx context.Context, refreshToken string) error
	RevokeAllSessionsFunc func(ctx context.Context, accountID string) error
}

func (m *MockCredentialService) Login(ctx context.Context, settings *models.Settings, params services.LoginParams) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, settings, params)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockCredentialService) Refresh(ctx context.Context, refreshToken string, delivery models.SessionDelivery) (*services.LoginResult, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken, delivery)
	}
	return nil, models.ErrTokenNotFound
}

func (m *MockCredentialService) RevokeToken(ctx context.Context, refreshToken string) error {
	if m.RevokeTokenFunc != nil {
		return m.RevokeTokenFunc(ctx, refreshToken)
	}
	return nil
}

func (m *MockCredentialService) RevokeAllSessions(ctx context.Context, accountID string) error {
	if m.RevokeAllSessionsFunc != nil {
		return m.RevokeAllSessionsFunc(ctx, accountID)
	}
	return nil
}

// MockTwoFactorService is a mock implementation of TwoFactorServiceInterface
type MockTwoFactorService struct {
	SetupFunc                 func(ctx context.Context, account *models.Account) (*models.TwoFactorSetup, error)
	EnableFunc                func(ctx context.Context, account *models.Account, code string) error
	DisableFunc               func(ctx context.Context, accountID string) error
	ValidateFunc              func(ctx context.Context, accountID, code string, allowBackupCode bool) error
	RegenerateBackupCodesFunc func(ctx context.Context, accountID string) ([]string, error)
}

func (m *MockTwoFactorService) Setup(ctx context.Context, account *models.Account) (*models.TwoFactorSetup, error) {
	if m.SetupFunc != nil {
		return m.SetupFunc(ctx, account)
	}
	return &models.TwoFactorSetup{Secret: "JBSWY3DPEHPK3PXP"}, nil
}

func (m *MockTwoFactorService) Enable(ctx context.Context, account *models.Account, code string) error {
	if m.EnableFunc != nil {
		return m.EnableFunc(ctx, account, code)
	}
	return nil
}

func (m *MockTwoFactorService) Disable(ctx context.Context, accountID string) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, accountID)
	}
	return nil
}

func (m *MockTwoFactorService) Validate(ctx context.Context, accountID, code string, allowBackupCode bool) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, accountID, code, allowBackupCode)
	}
	return nil
}

func (m *MockTwoFactorService) RegenerateBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	if m.RegenerateBackupCodesFunc != nil {
		return m.RegenerateBackupCodesFunc(ctx, accountID)
	}
	return []string{"AAAAAAAA"}, nil
}

// MockOAuthService is a mock implementation of OAuthServiceInterface
type MockOAuthService struct {
	RegisterClientFunc func(ctx context.Context, settings *models.Settings, params services.RegisterClientParams) (*models.OAuthClient, error)
	AuthorizeFunc      func(ctx context.Context, settings *models.Settings, account *models.Account, params services.AuthorizeParams) (*services.AuthorizeResult, error)
	ConsentFunc        func(ctx context.Context, account *models.Account, requestID, csrfToken, state string, approve bool) (*services.ConsentResult, error)
	TokenFunc          func(ctx context.Context, params services.TokenParams) (*services.TokenResponse, error)
}

func (m *MockOAuthService) RegisterClient(ctx context.Context, settings *models.Settings, params services.RegisterClientParams) (*models.OAuthClient, error) {
	if m.RegisterClientFunc != nil {
		return m.RegisterClientFunc(ctx, settings, params)
	}
	return nil, models.ErrBadRequest
}

func (m *MockOAuthService) Authorize(ctx context.Context, settings *models.Settings, account *models.Account, params services.AuthorizeParams) (*services.AuthorizeResult, error) {
	if m.AuthorizeFunc != nil {
		return m.AuthorizeFunc(ctx, settings, account, params)
	}
	return nil, models.NewOAuthError(models.OAuthErrInvalidRequest, "not configured", "")
}

func (m *MockOAuthService) Consent(ctx context.Context, account *models.Account, requestID, csrfToken, state string, approve bool) (*services.ConsentResult, error) {
	if m.ConsentFunc != nil {
		return m.ConsentFunc(ctx, account, requestID, csrfToken, state, approve)
	}
	return nil, models.NewOAuthError(models.OAuthErrInvalidRequest, "not configured", "")
}

func (m *MockOAuthService) Token(ctx context.Context, params services.TokenParams) (*services.TokenResponse, error) {
	if m.TokenFunc != nil {
		return m.TokenFunc(ctx, params)
	}
	return nil, models.NewOAuthError(models.OAuthErrInvalidGrant, "not configured", "")
}

// MockAccountLookup is a mock implementation of AccountLookup
type MockAccountLookup struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.Account, error)
}

func (m *MockAccountLookup) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// Test fixtures and helpers.

// NewTestSettings builds a settings source with defaults suitable for tests.
func NewTestSettings() *config.SettingsSource {
	return config.NewSettingsSource(&config.AuthConfig{
		TrustedMachineExpiry: 30 * 24 * time.Hour,
	})
}

// WithClaims injects validated access token claims, as the auth middleware
// would after verifying a token.
func WithClaims(r *http.Request, accountID string) *http.Request {
	claims := &models.AccessTokenClaims{AccountID: accountID}
	return r.WithContext(context.WithValue(r.Context(), auth.ClaimsContextKey, claims))
}

// NewSessionResult builds a LoginResult for the given account.
func NewSessionResult(account *models.Account) *services.LoginResult {
	now := time.Now()
	return &services.LoginResult{
		Account: account,
		Tokens: &models.SessionTokens{
			AccessToken:      "access-jwt",
			AccessExpiresAt:  now.Add(time.Hour),
			RefreshToken:     "refresh-secret",
			RefreshExpiresAt: now.Add(30 * 24 * time.Hour),
		},
	}
}
