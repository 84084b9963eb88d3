package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/aviary-social/aviary/internal/auth"
	"github.com/aviary-social/aviary/internal/config"
	"github.com/aviary-social/aviary/internal/models"
	"github.com/aviary-social/aviary/internal/services"
	pkghttp "github.com/aviary-social/aviary/pkg/http"
)

// OAuthServiceInterface defines the authorization-server logic handlers depend on
type OAuthServiceInterface interface {
	RegisterClient(ctx context.Context, settings *models.Settings, params services.RegisterClientParams) (*models.OAuthClient, error)
	Authorize(ctx context.Context, settings *models.Settings, account *models.Account, params services.AuthorizeParams) (*services.AuthorizeResult, error)
	Consent(ctx context.Context, account *models.Account, requestID, csrfToken, state string, approve bool) (*services.ConsentResult, error)
	Token(ctx context.Context, params services.TokenParams) (*services.TokenResponse, error)
}

// OAuthHandler handles the authorization-server wire surface
type OAuthHandler struct {
	service  OAuthServiceInterface
	accounts AccountLookup
	settings *config.SettingsSource
}

// NewOAuthHandler creates a new OAuthHandler
func NewOAuthHandler(service OAuthServiceInterface, accounts AccountLookup, settings *config.SettingsSource) *OAuthHandler {
	return &OAuthHandler{service: service, accounts: accounts, settings: settings}
}

// RegisterClientRequest represents the request body for client registration
type RegisterClientRequest struct {
	Name         string   `json:"name" validate:"required,min=1,max=100"`
	RedirectURIs []string `json:"redirect_uris" validate:"required,min=1,dive,url"`
	Scopes       []string `json:"scopes"`
	GrantTypes   []string `json:"grant_types" validate:"omitempty,dive,oneof=authorization_code client_credentials refresh_token"`
	Confidential bool     `json:"confidential"`
}

// ClientResponse represents a registered client. The secret appears exactly
// once, in the registration response.
type ClientResponse struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Name         string   `json:"name"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
	Scopes       []string `json:"scopes"`
}

// ConsentViewResponse carries everything the consent page needs to render.
type ConsentViewResponse struct {
	ID         string   `json:"id"`
	CSRFToken  string   `json:"csrfToken"`
	ClientName string   `json:"client_name"`
	Scopes     []string `json:"scopes"`
	State      string   `json:"state,omitempty"`
}

// ConsentRequest represents the consent decision body.
type ConsentRequest struct {
	ID        string `json:"id" validate:"required"`
	CSRFToken string `json:"csrfToken" validate:"required"`
	State     string `json:"state"`
	Deny      bool   `json:"deny"`
}

// RegisterClient stores a new application registration bound to the acting
// account.
func (h *OAuthHandler) RegisterClient(w http.ResponseWriter, r *http.Request) {
	account := h.actingAccount(w, r)
	if account == nil {
		return
	}

	var req RegisterClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	client, err := h.service.RegisterClient(r.Context(), h.settings.Snapshot(), services.RegisterClientParams{
		Name:         req.Name,
		RedirectURIs: req.RedirectURIs,
		Scopes:       req.Scopes,
		GrantTypes:   req.GrantTypes,
		AccountID:    account.ID,
		Confidential: req.Confidential,
	})
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid client registration")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, &ClientResponse{
		ClientID:     strconv.FormatInt(client.ID, 10),
		ClientSecret: client.Secret,
		Name:         client.Name,
		RedirectURIs: client.RedirectURIs,
		GrantTypes:   client.GrantTypes,
		Scopes:       client.Scopes,
	})
}

// LoginPath is where unauthenticated authorization requests are sent. The
// original query parameters ride along so the flow can resume after sign-in.
const LoginPath = "/auth/sign_in"

// Authorize validates an authorization request for the signed-in account and
// returns the consent view data. Signed-out users are redirected to the
// interactive login instead of being rejected.
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	if auth.GetClaimsFromContext(r) == nil {
		h.redirectToLogin(w, r)
		return
	}

	account := h.actingAccount(w, r)
	if account == nil {
		return
	}

	q := r.URL.Query()
	result, err := h.service.Authorize(r.Context(), h.settings.Snapshot(), account, services.AuthorizeParams{
		ClientID:     q.Get("client_id"),
		ResponseType: q.Get("response_type"),
		RedirectURI:  q.Get("redirect_uri"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
	})
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, &ConsentViewResponse{
		ID:         result.Request.ID,
		CSRFToken:  result.Request.CSRFToken,
		ClientName: result.Client.Name,
		Scopes:     result.Scopes,
		State:      result.Request.State,
	})
}

// Consent applies the consent decision and redirects back to the client with
// the authorization code. Failures are structured bodies, not redirects.
func (h *OAuthHandler) Consent(w http.ResponseWriter, r *http.Request) {
	account := h.actingAccount(w, r)
	if account == nil {
		return
	}

	var req ConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Consent(r.Context(), account, req.ID, req.CSRFToken, req.State, !req.Deny)
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	target, err := url.Parse(result.RedirectURI)
	if err != nil {
		writeOAuthError(w, models.NewOAuthError(models.OAuthErrServerError, "registered redirect uri is malformed", result.State))
		return
	}

	query := target.Query()
	query.Set("code", result.Code)
	if result.State != "" {
		query.Set("state", result.State)
	}
	target.RawQuery = query.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

// Token is the grant exchange endpoint. Form-encoded, per the protocol.
func (h *OAuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, models.NewOAuthError(models.OAuthErrInvalidRequest, "malformed form body", ""))
		return
	}

	resp, err := h.service.Token(r.Context(), services.TokenParams{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
		RefreshToken: r.PostFormValue("refresh_token"),
	})
	if err != nil {
		writeOAuthError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// redirectToLogin sends the user to the interactive login, carrying the
// authorization parameters so nothing is lost across the sign-in.
func (h *OAuthHandler) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	carried := url.Values{}
	for _, key := range []string{"client_id", "redirect_uri", "response_type", "scope", "state", "nonce"} {
		if v := r.URL.Query().Get(key); v != "" {
			carried.Set(key, v)
		}
	}

	target := url.URL{Path: LoginPath, RawQuery: carried.Encode()}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (h *OAuthHandler) actingAccount(w http.ResponseWriter, r *http.Request) *models.Account {
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

// writeOAuthError serializes protocol failures as the uniform structured
// body, echoing state when the service attached one.
func writeOAuthError(w http.ResponseWriter, err error) {
	var oerr *models.OAuthError
	if !errors.As(err, &oerr) {
		oerr = models.NewOAuthError(models.OAuthErrServerError, "internal error", "")
	}

	status := http.StatusBadRequest
	switch oerr.Code {
	case models.OAuthErrInvalidClient:
		status = http.StatusUnauthorized
	case models.OAuthErrAccessDenied:
		status = http.StatusForbidden
	case models.OAuthErrServerError:
		status = http.StatusInternalServerError
	}

	pkghttp.WriteJSON(w, status, oerr)
}
