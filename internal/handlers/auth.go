package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aviary-social/aviary/internal/auth"
	"github.com/aviary-social/aviary/internal/config"
	"github.com/aviary-social/aviary/internal/models"
	"github.com/aviary-social/aviary/internal/services"
	pkghttp "github.com/aviary-social/aviary/pkg/http"
)

// TwoFactorCodeHeader carries a submitted one-time or backup code.
const TwoFactorCodeHeader = "X-Aviary-OTP"

// CredentialServiceInterface defines the credential business logic handlers depend on
type CredentialServiceInterface interface {
	Login(ctx context.Context, settings *models.Settings, params services.LoginParams) (*services.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, delivery models.SessionDelivery) (*services.LoginResult, error)
	RevokeToken(ctx context.Context, refreshToken string) error
	RevokeAllSessions(ctx context.Context, accountID string) error
}

// LoginNotifier dispatches fire-and-forget security mail. May be nil.
type LoginNotifier interface {
	NotifyNewLogin(email, ipAddress string, at time.Time)
}

// AuthHandler handles session-related HTTP requests
type AuthHandler struct {
	service      CredentialServiceInterface
	settings     *config.SettingsSource
	notifier     LoginNotifier
	cookieConfig auth.CookieConfig
	ipConfig     *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service CredentialServiceInterface, settings *config.SettingsSource, notifier LoginNotifier, cookieConfig auth.CookieConfig, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:      service,
		settings:     settings,
		notifier:     notifier,
		cookieConfig: cookieConfig,
		ipConfig:     ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Identifier     string `json:"identifier" validate:"required"`
	Password       string `json:"password" validate:"required"`
	Delivery       string `json:"delivery" validate:"omitempty,oneof=bearer cookie"`
	RememberDevice bool   `json:"remember_device"`
}

// RefreshRequest represents the request body for token refresh. The token may
// instead arrive as the refresh_token cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AccountResponse represents an account in session responses
type AccountResponse struct {
	ID               string   `json:"id"`
	Username         string   `json:"username"`
	Email            string   `json:"email"`
	TwoFactorEnabled bool     `json:"two_factor_enabled"`
	Roles            []string `json:"roles"`
}

// SessionResponse represents the response from session operations
type SessionResponse struct {
	AccessToken      string           `json:"access_token"`
	AccessExpiresAt  time.Time        `json:"access_expires_at"`
	RefreshToken     string           `json:"refresh_token"`
	RefreshExpiresAt time.Time        `json:"refresh_expires_at"`
	XSRFToken        string           `json:"xsrf_token,omitempty"`
	Account          *AccountResponse `json:"account"`
}

// Login verifies credentials (and second factor where enabled) and starts a
// session. Cookie delivery additionally sets the three session cookies and,
// when the device is remembered, the trusted-machine cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	delivery := models.DeliveryBearer
	if req.Delivery == "cookie" {
		delivery = models.DeliveryCookie
	}

	settings := h.settings.Snapshot()
	ipAddress := h.ipConfig.ClientIP(r)

	result, err := h.service.Login(r.Context(), settings, services.LoginParams{
		Identifier:     req.Identifier,
		Password:       req.Password,
		TwoFactorCode:  r.Header.Get(TwoFactorCodeHeader),
		TrustedMachine: auth.IsTrustedMachine(r),
		Delivery:       delivery,
		RememberDevice: req.RememberDevice,
		IPAddress:      ipAddress,
		UserAgent:      r.Header.Get("User-Agent"),
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCredentials):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		case errors.Is(err, models.ErrAccountBlocked):
			pkghttp.WriteForbidden(w, "Account is blocked")
		case errors.Is(err, models.ErrAccountNotApproved):
			pkghttp.WriteForbidden(w, "Account is awaiting approval")
		case errors.Is(err, models.ErrTwoFactorRequired):
			pkghttp.WriteError(w, http.StatusUnauthorized, "second_factor_required", "A two-factor code is required in the "+TwoFactorCodeHeader+" header")
		case errors.Is(err, models.ErrTwoFactorCodeInvalid):
			pkghttp.WriteError(w, http.StatusUnauthorized, "second_factor_invalid", "The two-factor code is not valid")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	if delivery.UsesCookies() {
		auth.WriteSessionCookies(w, result.Tokens, h.cookieConfig)
		if result.TrustedMachine {
			auth.WriteTrustedMachineCookie(w, settings.TrustedMachineWindow, h.cookieConfig)
		}
	}

	if h.notifier != nil {
		h.notifier.NotifyNewLogin(result.Account.Email, ipAddress, time.Now())
	}

	pkghttp.WriteJSON(w, http.StatusOK, sessionResponse(result))
}

// Refresh rotates the presented refresh token and returns a fresh pair. A
// body token gets a bearer response; a cookie token gets rewritten cookies.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	refreshToken := req.RefreshToken
	delivery := models.DeliveryBearer
	if refreshToken == "" {
		cookieToken, err := auth.ReadRefreshTokenCookie(r)
		if err != nil {
			pkghttp.WriteUnauthorized(w, "Missing refresh token")
			return
		}
		refreshToken = cookieToken
		delivery = models.DeliveryCookie
	}

	result, err := h.service.Refresh(r.Context(), refreshToken, delivery)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenNotFound),
			errors.Is(err, models.ErrTokenRevoked),
			errors.Is(err, models.ErrTokenExpired),
			errors.Is(err, models.ErrAccountBlocked):
			pkghttp.WriteUnauthorized(w, "Invalid refresh token")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	if delivery.UsesCookies() {
		auth.WriteSessionCookies(w, result.Tokens, h.cookieConfig)
	}

	pkghttp.WriteJSON(w, http.StatusOK, sessionResponse(result))
}

// Logout clears the four session cookies and nothing else. The refresh token
// stays valid until it expires or is explicitly revoked.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookies(w, h.cookieConfig)
	w.WriteHeader(http.StatusNoContent)
}

// Revoke invalidates the presented refresh token server-side. Always succeeds
// from the client's point of view when the token is unknown or already dead.
func (h *AuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	refreshToken := req.RefreshToken
	if refreshToken == "" {
		refreshToken, _ = auth.ReadRefreshTokenCookie(r)
	}

	if err := h.service.RevokeToken(r.Context(), refreshToken); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeSessions signs the account out everywhere.
func (h *AuthHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.RevokeAllSessions(r.Context(), claims.AccountID); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	auth.ClearSessionCookies(w, h.cookieConfig)
	w.WriteHeader(http.StatusNoContent)
}

func sessionResponse(result *services.LoginResult) *SessionResponse {
	return &SessionResponse{
		AccessToken:      result.Tokens.AccessToken,
		AccessExpiresAt:  result.Tokens.AccessExpiresAt,
		RefreshToken:     result.Tokens.RefreshToken,
		RefreshExpiresAt: result.Tokens.RefreshExpiresAt,
		XSRFToken:        result.Tokens.XSRFToken,
		Account: &AccountResponse{
			ID:               result.Account.ID,
			Username:         result.Account.Username,
			Email:            result.Account.Email,
			TwoFactorEnabled: result.Account.TwoFactorEnabled,
			Roles:            result.Account.Roles,
		},
	}
}
