package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aviary-social/aviary/internal/models"
	pkgauth "github.com/aviary-social/aviary/pkg/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RefreshTokenStore defines the persistence operations the issuer needs.
// Rotate must revoke the old row and insert the new one in one transaction.
type RefreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, oldID string, next *models.RefreshToken) error
	Revoke(ctx context.Context, id string) error
	RevokeAllForAccount(ctx context.Context, accountID string) error
}

// AccountFetcher looks up the owning account at validation time. A blocked
// account invalidates its tokens even before they expire.
type AccountFetcher interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// IssueOptions tag a token issuance.
type IssueOptions struct {
	Delivery    models.SessionDelivery
	LongLived   bool // extended access expiry for machine-to-machine OAuth sessions
	Application string
	Scopes      []string
}

// Issuer mints, rotates, and revokes the session tokens every other
// component builds on.
type Issuer struct {
	secret            string
	accessExpiry      time.Duration
	longAccessExpiry  time.Duration
	refreshExpiry     time.Duration
	tokens            RefreshTokenStore
	accounts          AccountFetcher
	now               func() time.Time
}

// NewIssuer creates a token issuer.
func NewIssuer(secret string, accessExpiry, longAccessExpiry, refreshExpiry time.Duration, tokens RefreshTokenStore, accounts AccountFetcher) *Issuer {
	return &Issuer{
		secret:           secret,
		accessExpiry:     accessExpiry,
		longAccessExpiry: longAccessExpiry,
		refreshExpiry:    refreshExpiry,
		tokens:           tokens,
		accounts:         accounts,
		now:              time.Now,
	}
}

// SetClock overrides the wall clock used for expiry math. Tests only.
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

// CreateAccessTokens mints a new refresh token row and derives a fresh
// access token. Cookie delivery also mints an XSRF token for the
// double-submit check on state-changing calls.
func (i *Issuer) CreateAccessTokens(ctx context.Context, account *models.Account, opts IssueOptions) (*models.SessionTokens, error) {
	now := i.now()

	secret, err := pkgauth.GenerateSecret(pkgauth.SessionKeyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	refresh := &models.RefreshToken{
		ID:          uuid.New().String(),
		AccountID:   account.ID,
		Token:       secret,
		CreatedAt:   now,
		ExpiresAt:   now.Add(i.refreshExpiry),
		UsesCookies: opts.Delivery.UsesCookies(),
		Application: opts.Application,
		Scopes:      opts.Scopes,
	}

	if err := i.tokens.Create(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return i.assemble(account, refresh, opts)
}

// UpdateAccessTokens issues a new access token against an already-validated
// refresh token. When rotate is true the old row is revoked and a new one
// minted in the same transaction; otherwise the row stays valid unchanged.
func (i *Issuer) UpdateAccessTokens(ctx context.Context, account *models.Account, refresh *models.RefreshToken, rotate bool, opts IssueOptions) (*models.SessionTokens, error) {
	if !rotate {
		return i.assemble(account, refresh, opts)
	}

	now := i.now()

	secret, err := pkgauth.GenerateSecret(pkgauth.SessionKeyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	next := &models.RefreshToken{
		ID:          uuid.New().String(),
		AccountID:   account.ID,
		Token:       secret,
		CreatedAt:   now,
		ExpiresAt:   now.Add(i.refreshExpiry),
		UsesCookies: opts.Delivery.UsesCookies(),
		Application: opts.Application,
		Scopes:      opts.Scopes,
	}

	if err := i.tokens.Rotate(ctx, refresh.ID, next); err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return i.assemble(account, next, opts)
}

// IssueAccessOnly signs an access token with no backing refresh row. Used by
// the client-credentials grant, where there is no session to refresh.
func (i *Issuer) IssueAccessOnly(account *models.Account, opts IssueOptions) (*models.SessionTokens, error) {
	accessToken, accessExpiresAt, err := i.signAccessToken(account, opts)
	if err != nil {
		return nil, err
	}

	return &models.SessionTokens{
		AccessToken:     accessToken,
		AccessExpiresAt: accessExpiresAt,
	}, nil
}

// ValidateRefreshToken resolves a presented refresh token string. Lookups are
// read-then-branch with no retries: a revoked or expired token is a final
// answer, never a transient one.
func (i *Issuer) ValidateRefreshToken(ctx context.Context, tokenString string) (*models.RefreshToken, error) {
	refresh, err := i.tokens.GetByToken(ctx, tokenString)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenNotFound
		}
		return nil, err
	}

	if refresh.Revoked {
		return nil, models.ErrTokenRevoked
	}

	if !i.now().Before(refresh.ExpiresAt) {
		return nil, models.ErrTokenExpired
	}

	// Account state is checked at validation time, not only at mint time.
	account, err := i.accounts.GetByID(ctx, refresh.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenNotFound
		}
		return nil, err
	}
	if account.Blocked {
		return nil, models.ErrAccountBlocked
	}

	return refresh, nil
}

// RevokeAllRefreshTokens marks every live refresh token for the account
// revoked. Idempotent; used for "sign out everywhere" and password changes.
func (i *Issuer) RevokeAllRefreshTokens(ctx context.Context, accountID string) error {
	return i.tokens.RevokeAllForAccount(ctx, accountID)
}

// RevokeRefreshToken marks a single row revoked.
func (i *Issuer) RevokeRefreshToken(ctx context.Context, id string) error {
	return i.tokens.Revoke(ctx, id)
}

// ValidateAccessToken verifies a signed access token and returns its claims.
func (i *Issuer) ValidateAccessToken(tokenString string) (*models.AccessTokenClaims, error) {
	claims := &models.AccessTokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(i.secret), nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now() }))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.AccountID == "" {
		return nil, fmt.Errorf("invalid token: missing account id")
	}

	return claims, nil
}

// assemble signs the access token and, for cookie delivery, mints the XSRF
// token that must accompany future state-changing calls.
func (i *Issuer) assemble(account *models.Account, refresh *models.RefreshToken, opts IssueOptions) (*models.SessionTokens, error) {
	accessToken, accessExpiresAt, err := i.signAccessToken(account, opts)
	if err != nil {
		return nil, err
	}

	out := &models.SessionTokens{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
	}

	if opts.Delivery.UsesCookies() {
		xsrf, err := pkgauth.GenerateSecret(pkgauth.SessionKeyLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate xsrf token: %w", err)
		}
		out.XSRFToken = xsrf
	}

	return out, nil
}

func (i *Issuer) signAccessToken(account *models.Account, opts IssueOptions) (string, time.Time, error) {
	now := i.now()

	expiry := i.accessExpiry
	if opts.LongLived {
		expiry = i.longAccessExpiry
	}
	expiresAt := now.Add(expiry)

	claims := &models.AccessTokenClaims{
		AccountID:   account.ID,
		Roles:       account.Roles,
		Scopes:      opts.Scopes,
		Application: opts.Application,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, expiresAt, nil
}
