package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aviary-social/aviary/internal/auth"
	"github.com/aviary-social/aviary/internal/models"
	pkgauth "github.com/aviary-social/aviary/pkg/auth"
	pkglogger "github.com/aviary-social/aviary/pkg/logger"
)

// AccountRepository defines the account lookups and mutations this core needs.
// The wider account directory owns everything else.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.Account, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// TokenIssuer defines the issuance operations services depend on.
type TokenIssuer interface {
	CreateAccessTokens(ctx context.Context, account *models.Account, opts auth.IssueOptions) (*models.SessionTokens, error)
	UpdateAccessTokens(ctx context.Context, account *models.Account, refresh *models.RefreshToken, rotate bool, opts auth.IssueOptions) (*models.SessionTokens, error)
	IssueAccessOnly(account *models.Account, opts auth.IssueOptions) (*models.SessionTokens, error)
	ValidateRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) error
	RevokeAllRefreshTokens(ctx context.Context, accountID string) error
	ValidateAccessToken(token string) (*models.AccessTokenClaims, error)
}

// SecondFactorVerifier checks a presented one-time or backup code.
type SecondFactorVerifier interface {
	Validate(ctx context.Context, accountID, code string, allowBackupCode bool) error
}

// dummyPasswordHash is compared against when no account matches, so a missing
// account and a wrong password cost the same wall time.
const dummyPasswordHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// CredentialService verifies primary credentials and drives token issuance
// for first-party sessions.
type CredentialService struct {
	accounts    AccountRepository
	twoFactor   SecondFactorVerifier
	issuer      TokenIssuer
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewCredentialService creates a new CredentialService
func NewCredentialService(accounts AccountRepository, twoFactor SecondFactorVerifier, issuer TokenIssuer, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *CredentialService {
	return &CredentialService{
		accounts:    accounts,
		twoFactor:   twoFactor,
		issuer:      issuer,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// LoginParams carries everything a login attempt presents.
type LoginParams struct {
	Identifier     string
	Password       string
	TwoFactorCode  string // from the X-Aviary-OTP header, empty when absent
	TrustedMachine bool
	Delivery       models.SessionDelivery
	RememberDevice bool // request to mark this machine trusted on success
	IPAddress      string
	UserAgent      string
}

// LoginResult is the outcome of a successful credential verification.
type LoginResult struct {
	Account        *models.Account
	Tokens         *models.SessionTokens
	TrustedMachine bool // caller should (re)write the trusted-machine cookie
}

// Login verifies an identifier/password pair and mints session tokens.
// An absent account and a wrong password both return ErrInvalidCredentials.
// When the account has two-factor enabled and the machine is not trusted,
// the presented code is verified before any tokens exist; a missing code is
// reported distinctly so clients know to prompt for it.
func (s *CredentialService) Login(ctx context.Context, settings *models.Settings, params LoginParams) (*LoginResult, error) {
	identifier := strings.TrimSpace(params.Identifier)
	if identifier == "" || params.Password == "" {
		return nil, models.ErrInvalidCredentials
	}

	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = pkgauth.ComparePassword(dummyPasswordHash, params.Password)
			s.logger.Info("login failed: invalid credentials")
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				IPAddress:     params.IPAddress,
				UserAgent:     params.UserAgent,
				FailureReason: "invalid_credentials",
				Success:       false,
			})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get account by identifier", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.validateAccountState(account, settings, params); err != nil {
		return nil, err
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, params.Password); err != nil {
		s.logger.Info("login failed: invalid credentials")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			AccountID:     account.ID,
			IPAddress:     params.IPAddress,
			UserAgent:     params.UserAgent,
			FailureReason: "invalid_credentials",
			Success:       false,
		})
		return nil, models.ErrInvalidCredentials
	}

	if account.TwoFactorEnabled && !params.TrustedMachine {
		if err := s.verifySecondFactor(ctx, account, params); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	if err := s.accounts.UpdateLastLogin(ctx, account.ID, now); err != nil {
		s.logger.Error("failed to update last login", slog.String("account_id", account.ID), slog.Any("error", err))
	}

	tokens, err := s.issuer.CreateAccessTokens(ctx, account, auth.IssueOptions{
		Delivery: params.Delivery,
	})
	if err != nil {
		s.logger.Error("failed to issue session tokens", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("account logged in", slog.String("account_id", account.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		AccountID: account.ID,
		IPAddress: params.IPAddress,
		UserAgent: params.UserAgent,
		Success:   true,
	})

	return &LoginResult{
		Account:        account,
		Tokens:         tokens,
		TrustedMachine: params.RememberDevice || params.TrustedMachine,
	}, nil
}

// Refresh exchanges a live refresh token for a fresh pair, rotating the
// refresh token row.
func (s *CredentialService) Refresh(ctx context.Context, refreshToken string, delivery models.SessionDelivery) (*LoginResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, models.ErrTokenNotFound
	}

	refresh, err := s.issuer.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		s.logger.Info("refresh token rejected", slog.Any("error", err))
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, refresh.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenNotFound
		}
		s.logger.Error("failed to get account for refresh", slog.String("account_id", refresh.AccountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	tokens, err := s.issuer.UpdateAccessTokens(ctx, account, refresh, true, auth.IssueOptions{
		Delivery:    delivery,
		Application: refresh.Application,
		Scopes:      refresh.Scopes,
	})
	if err != nil {
		if errors.Is(err, models.ErrTokenRevoked) {
			return nil, models.ErrTokenRevoked
		}
		s.logger.Error("failed to rotate session tokens", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("session refreshed", slog.String("account_id", account.ID))

	return &LoginResult{Account: account, Tokens: tokens}, nil
}

// RevokeToken revokes the presented refresh token. Logout does not call this;
// revocation is an explicit, separate action. An unknown or already revoked
// token is not an error.
func (s *CredentialService) RevokeToken(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	refresh, err := s.issuer.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, models.ErrTokenNotFound) || errors.Is(err, models.ErrTokenRevoked) || errors.Is(err, models.ErrTokenExpired) {
			return nil
		}
		if errors.Is(err, models.ErrAccountBlocked) {
			return nil
		}
		return models.ErrInternalServer
	}

	if err := s.issuer.RevokeRefreshToken(ctx, refresh.ID); err != nil {
		s.logger.Error("failed to revoke refresh token", slog.String("token_id", refresh.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("refresh token revoked", slog.String("account_id", refresh.AccountID))
	s.auditLogger.LogAccountAction("token_revoked", refresh.AccountID, "", nil)
	return nil
}

// RevokeAllSessions signs the account out everywhere.
func (s *CredentialService) RevokeAllSessions(ctx context.Context, accountID string) error {
	if err := s.issuer.RevokeAllRefreshTokens(ctx, accountID); err != nil {
		s.logger.Error("failed to revoke account sessions", slog.String("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("all sessions revoked", slog.String("account_id", accountID))
	s.auditLogger.LogAccountAction("sessions_revoked", accountID, "", nil)
	return nil
}

func (s *CredentialService) validateAccountState(account *models.Account, settings *models.Settings, params LoginParams) error {
	if account.Blocked {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			AccountID:     account.ID,
			IPAddress:     params.IPAddress,
			FailureReason: "account_blocked",
			Success:       false,
		})
		return models.ErrAccountBlocked
	}

	if settings.RequireApproval && !account.Approved {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			AccountID:     account.ID,
			IPAddress:     params.IPAddress,
			FailureReason: "account_not_approved",
			Success:       false,
		})
		return models.ErrAccountNotApproved
	}

	return nil
}

func (s *CredentialService) verifySecondFactor(ctx context.Context, account *models.Account, params LoginParams) error {
	err := s.twoFactor.Validate(ctx, account.ID, params.TwoFactorCode, true)
	if err == nil {
		return nil
	}

	reason := "second_factor_invalid"
	if errors.Is(err, models.ErrTwoFactorHeaderMissing) {
		reason = "second_factor_missing"
		err = models.ErrTwoFactorRequired
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		AccountID:     account.ID,
		IPAddress:     params.IPAddress,
		FailureReason: reason,
		Success:       false,
	})
	return err
}
