package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/aviary-social/aviary/internal/auth"
	"github.com/aviary-social/aviary/internal/models"
	pkghttp "github.com/aviary-social/aviary/pkg/http"
	"github.com/go-chi/chi/v5"
)

// TwoFactorServiceInterface defines the two-factor business logic handlers depend on
type TwoFactorServiceInterface interface {
	Setup(ctx context.Context, account *models.Account) (*models.TwoFactorSetup, error)
	Enable(ctx context.Context, account *models.Account, code string) error
	Disable(ctx context.Context, accountID string) error
	Validate(ctx context.Context, accountID, code string, allowBackupCode bool) error
	RegenerateBackupCodes(ctx context.Context, accountID string) ([]string, error)
}

// AccountLookup fetches the acting account for handlers that need fresh flags.
type AccountLookup interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// TwoFactorNotifier dispatches fire-and-forget change alerts. May be nil.
type TwoFactorNotifier interface {
	NotifyTwoFactorChanged(email string, enabled bool)
}

// TwoFactorHandler handles second-factor setup and lifecycle requests
type TwoFactorHandler struct {
	service  TwoFactorServiceInterface
	accounts AccountLookup
	notifier TwoFactorNotifier
}

// NewTwoFactorHandler creates a new TwoFactorHandler
func NewTwoFactorHandler(service TwoFactorServiceInterface, accounts AccountLookup, notifier TwoFactorNotifier) *TwoFactorHandler {
	return &TwoFactorHandler{service: service, accounts: accounts, notifier: notifier}
}

// BackupCodesResponse represents regenerated backup codes
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// Setup returns the account's TOTP secret, provisioning QR, and a fresh set
// of backup codes. Get-or-create: repeat calls before enabling return the
// same secret.
func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	account := h.actingAccount(w, r)
	if account == nil {
		return
	}

	setup, err := h.service.Setup(r.Context(), account)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			pkghttp.WriteConflict(w, "Two-factor authentication is already enabled")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, setup)
}

// Enable turns two-factor on once the submitted code proves the
// authenticator app works.
func (h *TwoFactorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	account := h.actingAccount(w, r)
	if account == nil {
		return
	}

	code := r.Header.Get(TwoFactorCodeHeader)

	err := h.service.Enable(r.Context(), account, code)
	if err != nil {
		h.writeTwoFactorError(w, err)
		return
	}

	if h.notifier != nil {
		h.notifier.NotifyTwoFactorChanged(account.Email, true)
	}

	w.WriteHeader(http.StatusNoContent)
}

// Disable removes the account's second factor. Self-service requires a valid
// code (TOTP or backup); the admin override route skips that check.
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	account := h.actingAccount(w, r)
	if account == nil {
		return
	}

	code := r.Header.Get(TwoFactorCodeHeader)
	if err := h.service.Validate(r.Context(), account.ID, code, true); err != nil {
		h.writeTwoFactorError(w, err)
		return
	}

	if err := h.service.Disable(r.Context(), account.ID); err != nil {
		if errors.Is(err, models.ErrTwoFactorNotFound) {
			pkghttp.WriteNotFound(w, "Two-factor authentication is not configured")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if h.notifier != nil {
		h.notifier.NotifyTwoFactorChanged(account.Email, false)
	}

	w.WriteHeader(http.StatusNoContent)
}

// AdminDisable force-disables two-factor for another account. Mounted behind
// the admin role middleware; no code is required.
func (h *TwoFactorHandler) AdminDisable(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		pkghttp.WriteBadRequest(w, "account id is required")
		return
	}

	if err := h.service.Disable(r.Context(), accountID); err != nil {
		if errors.Is(err, models.ErrTwoFactorNotFound) {
			pkghttp.WriteNotFound(w, "Two-factor authentication is not configured")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RegenerateBackupCodes replaces the backup code set after a valid code.
func (h *TwoFactorHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	account := h.actingAccount(w, r)
	if account == nil {
		return
	}

	code := r.Header.Get(TwoFactorCodeHeader)
	if err := h.service.Validate(r.Context(), account.ID, code, false); err != nil {
		h.writeTwoFactorError(w, err)
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), account.ID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

func (h *TwoFactorHandler) actingAccount(w http.ResponseWriter, r *http.Request) *models.Account {
	claims := auth.GetClaimsFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return nil
	}

	account, err := h.accounts.GetByID(r.Context(), claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return nil
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return nil
	}

	return account
}

func (h *TwoFactorHandler) writeTwoFactorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrTwoFactorHeaderMissing):
		pkghttp.WriteError(w, http.StatusBadRequest, "second_factor_missing", "The "+TwoFactorCodeHeader+" header is required")
	case errors.Is(err, models.ErrTwoFactorCodeInvalid):
		pkghttp.WriteError(w, http.StatusUnauthorized, "second_factor_invalid", "The two-factor code is not valid")
	case errors.Is(err, models.ErrTwoFactorNotFound):
		pkghttp.WriteNotFound(w, "Two-factor authentication is not configured")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Two-factor authentication is already enabled")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
