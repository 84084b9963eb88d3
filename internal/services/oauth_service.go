package services

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/aviary-social/aviary/internal/auth"
	"github.com/aviary-social/aviary/internal/models"
	pkgauth "github.com/aviary-social/aviary/pkg/auth"
	pkglogger "github.com/aviary-social/aviary/pkg/logger"
	"github.com/google/uuid"
)

// OAuthClientStore defines client registration persistence.
type OAuthClientStore interface {
	Create(ctx context.Context, client *models.OAuthClient) error
	GetByID(ctx context.Context, id int64) (*models.OAuthClient, error)
}

// OAuthRequestStore defines in-flight authorization request persistence.
// StampCode and ConsumeByCode are guarded updates; each succeeds at most once
// per request.
type OAuthRequestStore interface {
	Create(ctx context.Context, request *models.OAuthRequest) error
	GetByID(ctx context.Context, id string) (*models.OAuthRequest, error)
	StampCode(ctx context.Context, id, code string, at time.Time) error
	ConsumeByCode(ctx context.Context, code string, at time.Time) (*models.OAuthRequest, error)
	Delete(ctx context.Context, id string) error
}

// OAuthService implements the authorization-code, client-credentials, and
// refresh-token grants over registered clients.
type OAuthService struct {
	clients     OAuthClientStore
	requests    OAuthRequestStore
	accounts    AccountRepository
	issuer      TokenIssuer
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewOAuthService creates a new OAuthService
func NewOAuthService(clients OAuthClientStore, requests OAuthRequestStore, accounts AccountRepository, issuer TokenIssuer, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *OAuthService {
	return &OAuthService{
		clients:     clients,
		requests:    requests,
		accounts:    accounts,
		issuer:      issuer,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// SetClock overrides the wall clock used for code expiry. Tests only.
func (s *OAuthService) SetClock(now func() time.Time) {
	s.now = now
}

// RegisterClientParams describes a new application registration.
type RegisterClientParams struct {
	Name         string
	RedirectURIs []string
	Scopes       []string
	AccountID    string // bound account, enables the client-credentials grant
	Confidential bool   // mint a client secret
	GrantTypes   []string
}

// RegisterClient stores a client registration. Confidential clients get a
// generated secret, returned exactly once on the created model.
func (s *OAuthService) RegisterClient(ctx context.Context, settings *models.Settings, params RegisterClientParams) (*models.OAuthClient, error) {
	if params.Name == "" || len(params.RedirectURIs) == 0 {
		return nil, models.ErrBadRequest
	}

	scopes := params.Scopes
	if len(scopes) == 0 {
		scopes = []string{models.ScopeRead}
	}
	if !models.ScopesAllowed(scopes, settings.AllowedScopes) {
		return nil, models.ErrBadRequest
	}

	grantTypes := params.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{string(models.GrantAuthorizationCode), string(models.GrantRefreshToken)}
	}

	client := &models.OAuthClient{
		Name:          params.Name,
		RedirectURIs:  params.RedirectURIs,
		ResponseTypes: []string{"code"},
		GrantTypes:    grantTypes,
		Scopes:        scopes,
		AccountID:     params.AccountID,
	}

	if params.Confidential {
		secret, err := pkgauth.GenerateSecret(pkgauth.SessionKeyLength)
		if err != nil {
			s.logger.Error("failed to generate client secret", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		client.Secret = secret
	}

	if err := s.clients.Create(ctx, client); err != nil {
		s.logger.Error("failed to register oauth client", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("oauth client registered", slog.Int64("client_id", client.ID), slog.String("name", client.Name))
	return client, nil
}

// AuthorizeParams are the query parameters of an authorization request.
type AuthorizeParams struct {
	ClientID     string
	ResponseType string
	RedirectURI  string
	Scope        string
	State        string
}

// AuthorizeResult carries everything the consent view needs.
type AuthorizeResult struct {
	Request *models.OAuthRequest
	Client  *models.OAuthClient
	Scopes  []string
}

// Authorize validates an authorization request and creates the pending
// consent record. Validation order: client, redirect URI, response type,
// scopes. Failures are structured OAuth errors echoing the caller's state.
func (s *OAuthService) Authorize(ctx context.Context, settings *models.Settings, account *models.Account, params AuthorizeParams) (*AuthorizeResult, error) {
	client, oerr := s.lookupClient(ctx, params.ClientID, params.State)
	if oerr != nil {
		return nil, oerr
	}

	if params.RedirectURI == "" || !client.HasRedirectURI(params.RedirectURI) {
		return nil, models.NewOAuthError(models.OAuthErrInvalidRequest, "redirect_uri is not registered for this client", params.State)
	}

	if params.ResponseType != "code" || !client.HasResponseType(params.ResponseType) {
		return nil, models.NewOAuthError(models.OAuthErrUnsupportedResponseType, "only the code response type is supported", params.State)
	}

	scopes := models.ParseScopes(params.Scope)
	if len(scopes) == 0 {
		scopes = []string{models.ScopeRead}
	}
	if !models.ScopesAllowed(scopes, settings.AllowedScopes) || !models.ScopesAllowed(scopes, client.Scopes) {
		return nil, models.NewOAuthError(models.OAuthErrInvalidScope, "requested scope exceeds what the client may hold", params.State)
	}

	csrfToken, err := pkgauth.GenerateSecret(pkgauth.SessionKeyLength)
	if err != nil {
		return nil, s.serverError(err, params.State)
	}
	nonce, err := pkgauth.GenerateSecret(16)
	if err != nil {
		return nil, s.serverError(err, params.State)
	}

	request := &models.OAuthRequest{
		ID:          uuid.New().String(),
		ClientID:    client.ID,
		AccountID:   account.ID,
		CSRFToken:   csrfToken,
		Nonce:       nonce,
		Scope:       models.JoinScopes(scopes),
		RedirectURI: params.RedirectURI,
		State:       params.State,
	}

	if err := s.requests.Create(ctx, request); err != nil {
		return nil, s.serverError(err, params.State)
	}

	s.logger.Info("authorization request created",
		slog.String("request_id", request.ID),
		slog.Int64("client_id", client.ID),
		slog.String("account_id", account.ID))

	return &AuthorizeResult{Request: request, Client: client, Scopes: scopes}, nil
}

// ConsentResult is the redirect target after a consent decision.
type ConsentResult struct {
	RedirectURI string
	Code        string
	State       string
}

// Consent applies the user's decision to a pending authorization request.
// A CSRF mismatch invalidates the request outright; the client must start
// over. Approval stamps the single-use code and its generation time. The
// caller's state is echoed on errors raised before the stored request (and
// its own state) can be loaded.
func (s *OAuthService) Consent(ctx context.Context, account *models.Account, requestID, csrfToken, state string, approve bool) (*ConsentResult, error) {
	if _, err := uuid.Parse(requestID); err != nil {
		return nil, models.NewOAuthError(models.OAuthErrInvalidRequest, "malformed authorization request id", state)
	}

	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewOAuthError(models.OAuthErrInvalidRequest, "unknown authorization request", state)
		}
		return nil, s.serverError(err, state)
	}

	if request.AccountID != account.ID {
		return nil, models.NewOAuthError(models.OAuthErrAccessDenied, "authorization request belongs to another account", request.State)
	}

	if !pkgauth.ConstantTimeEquals(request.CSRFToken, csrfToken) {
		// Single use. The pending request is burned so the stale form
		// cannot be replayed against a fresh token.
		_ = s.requests.Delete(ctx, request.ID)
		s.auditLogger.LogConsent(pkglogger.AuditEvent{
			EventType:     "consent_rejected",
			AccountID:     account.ID,
			FailureReason: "csrf_mismatch",
			Success:       false,
		})
		return nil, models.NewOAuthError(models.OAuthErrAccessDenied, "csrf token mismatch", request.State)
	}

	if !approve {
		_ = s.requests.Delete(ctx, request.ID)
		s.auditLogger.LogConsent(pkglogger.AuditEvent{
			EventType:     "consent_denied",
			AccountID:     account.ID,
			Success:       false,
			FailureReason: "denied_by_user",
		})
		return nil, models.NewOAuthError(models.OAuthErrAccessDenied, "the resource owner denied the request", request.State)
	}

	code, err := pkgauth.GenerateSecret(pkgauth.SessionKeyLength)
	if err != nil {
		return nil, s.serverError(err, request.State)
	}

	if err := s.requests.StampCode(ctx, request.ID, code, s.now()); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewOAuthError(models.OAuthErrInvalidRequest, "authorization request already completed", request.State)
		}
		return nil, s.serverError(err, request.State)
	}

	s.auditLogger.LogConsent(pkglogger.AuditEvent{
		EventType: "consent_granted",
		AccountID: account.ID,
		Success:   true,
		Metadata:  map[string]string{"request_id": request.ID},
	})

	return &ConsentResult{
		RedirectURI: request.RedirectURI,
		Code:        code,
		State:       request.State,
	}, nil
}

// TokenParams are the form parameters of a token request.
type TokenParams struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// TokenResponse is the uniform success body of the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

// Token dispatches over the closed grant-type enum. Every failure is a
// structured OAuth error; internal faults surface as server_error, never a
// bare 500.
func (s *OAuthService) Token(ctx context.Context, params TokenParams) (*TokenResponse, error) {
	grantType, ok := models.ParseGrantType(params.GrantType)
	if !ok {
		return nil, models.NewOAuthError(models.OAuthErrUnsupportedGrantType, "unsupported grant_type", "")
	}

	client, oerr := s.lookupClient(ctx, params.ClientID, "")
	if oerr != nil {
		return nil, oerr
	}

	if !client.HasGrantType(grantType) {
		return nil, models.NewOAuthError(models.OAuthErrUnsupportedGrantType, "client is not registered for this grant", "")
	}

	switch grantType {
	case models.GrantAuthorizationCode:
		return s.exchangeAuthorizationCode(ctx, client, params)
	case models.GrantClientCredentials:
		return s.clientCredentials(ctx, client, params)
	case models.GrantRefreshToken:
		return s.refreshGrant(ctx, client, params)
	}

	return nil, models.NewOAuthError(models.OAuthErrUnsupportedGrantType, "unsupported grant_type", "")
}

func (s *OAuthService) exchangeAuthorizationCode(ctx context.Context, client *models.OAuthClient, params TokenParams) (*TokenResponse, error) {
	if oerr := s.checkClientSecret(client, params.ClientSecret); oerr != nil {
		return nil, oerr
	}

	if params.Code == "" {
		return nil, models.NewOAuthError(models.OAuthErrInvalidRequest, "code is required", "")
	}

	now := s.now()

	// Claiming the code is atomic; concurrent exchanges race for one row.
	request, err := s.requests.ConsumeByCode(ctx, params.Code, now)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewOAuthError(models.OAuthErrInvalidGrant, "authorization code is unknown or already used", "")
		}
		return nil, s.serverError(err, "")
	}

	if request.ClientID != client.ID {
		return nil, models.NewOAuthError(models.OAuthErrInvalidGrant, "authorization code was issued to another client", request.State)
	}

	if request.AuthorizedAt == nil {
		return nil, models.NewOAuthError(models.OAuthErrAccessDenied, "authorization request was never approved", request.State)
	}

	if request.CodeExpired(now) {
		return nil, models.NewOAuthError(models.OAuthErrInvalidGrant, "authorization code expired", request.State)
	}

	if params.RedirectURI == "" || params.RedirectURI != request.RedirectURI {
		return nil, models.NewOAuthError(models.OAuthErrInvalidGrant, "redirect_uri does not match the authorization request", request.State)
	}

	account, oerr := s.lookupAccount(ctx, request.AccountID, request.State)
	if oerr != nil {
		return nil, oerr
	}

	scopes := models.ParseScopes(request.Scope)
	tokens, err := s.issuer.CreateAccessTokens(ctx, account, auth.IssueOptions{
		Delivery:    models.DeliveryBearer,
		LongLived:   true,
		Application: client.Name,
		Scopes:      scopes,
	})
	if err != nil {
		return nil, s.serverError(err, request.State)
	}

	s.auditLogger.LogConsent(pkglogger.AuditEvent{
		EventType:   "code_exchanged",
		AccountID:   account.ID,
		Application: client.Name,
		Success:     true,
	})

	return s.tokenResponse(tokens, request.Scope), nil
}

func (s *OAuthService) clientCredentials(ctx context.Context, client *models.OAuthClient, params TokenParams) (*TokenResponse, error) {
	if client.Public() {
		return nil, models.NewOAuthError(models.OAuthErrInvalidClient, "public clients cannot use the client_credentials grant", "")
	}
	if oerr := s.checkClientSecret(client, params.ClientSecret); oerr != nil {
		return nil, oerr
	}

	if client.AccountID == "" {
		return nil, models.NewOAuthError(models.OAuthErrInvalidClient, "client has no bound account", "")
	}

	if !client.HasRedirectURI(params.RedirectURI) {
		return nil, models.NewOAuthError(models.OAuthErrInvalidRequest, "redirect_uri must be one registered for this client", "")
	}

	account, oerr := s.lookupAccount(ctx, client.AccountID, "")
	if oerr != nil {
		return nil, oerr
	}

	// Machine sessions get an access token only; there is nothing to refresh.
	tokens, err := s.issuer.IssueAccessOnly(account, auth.IssueOptions{
		Delivery:    models.DeliveryBearer,
		LongLived:   true,
		Application: client.Name,
		Scopes:      client.Scopes,
	})
	if err != nil {
		return nil, s.serverError(err, "")
	}

	return s.tokenResponse(tokens, models.JoinScopes(client.Scopes)), nil
}

func (s *OAuthService) refreshGrant(ctx context.Context, client *models.OAuthClient, params TokenParams) (*TokenResponse, error) {
	if oerr := s.checkClientSecret(client, params.ClientSecret); oerr != nil {
		return nil, oerr
	}

	if params.RefreshToken == "" {
		return nil, models.NewOAuthError(models.OAuthErrInvalidRequest, "refresh_token is required", "")
	}

	refresh, err := s.issuer.ValidateRefreshToken(ctx, params.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrTokenNotFound),
			errors.Is(err, models.ErrTokenRevoked),
			errors.Is(err, models.ErrTokenExpired),
			errors.Is(err, models.ErrAccountBlocked):
			return nil, models.NewOAuthError(models.OAuthErrInvalidGrant, "refresh token is not valid", "")
		}
		return nil, s.serverError(err, "")
	}

	if refresh.Application != client.Name {
		return nil, models.NewOAuthError(models.OAuthErrInvalidGrant, "refresh token was issued to another client", "")
	}

	account, oerr := s.lookupAccount(ctx, refresh.AccountID, "")
	if oerr != nil {
		return nil, oerr
	}

	tokens, err := s.issuer.UpdateAccessTokens(ctx, account, refresh, true, auth.IssueOptions{
		Delivery:    models.DeliveryBearer,
		LongLived:   true,
		Application: client.Name,
		Scopes:      refresh.Scopes,
	})
	if err != nil {
		if errors.Is(err, models.ErrTokenRevoked) {
			return nil, models.NewOAuthError(models.OAuthErrInvalidGrant, "refresh token is not valid", "")
		}
		return nil, s.serverError(err, "")
	}

	return s.tokenResponse(tokens, models.JoinScopes(refresh.Scopes)), nil
}

func (s *OAuthService) lookupClient(ctx context.Context, clientID, state string) (*models.OAuthClient, *models.OAuthError) {
	id, err := strconv.ParseInt(clientID, 10, 64)
	if err != nil {
		return nil, models.NewOAuthError(models.OAuthErrInvalidClient, "client_id must be numeric", state)
	}

	client, err := s.clients.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewOAuthError(models.OAuthErrInvalidClient, "unknown client", state)
		}
		return nil, s.serverError(err, state)
	}

	return client, nil
}

func (s *OAuthService) lookupAccount(ctx context.Context, accountID, state string) (*models.Account, *models.OAuthError) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewOAuthError(models.OAuthErrInvalidGrant, "account no longer exists", state)
		}
		return nil, s.serverError(err, state)
	}

	if account.Blocked {
		return nil, models.NewOAuthError(models.OAuthErrInvalidGrant, "account is blocked", state)
	}

	return account, nil
}

func (s *OAuthService) checkClientSecret(client *models.OAuthClient, presented string) *models.OAuthError {
	if client.Public() {
		return nil
	}
	if !pkgauth.ConstantTimeEquals(client.Secret, presented) {
		return models.NewOAuthError(models.OAuthErrInvalidClient, "client authentication failed", "")
	}
	return nil
}

func (s *OAuthService) tokenResponse(tokens *models.SessionTokens, scope string) *TokenResponse {
	now := s.now()
	return &TokenResponse{
		AccessToken:  tokens.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(tokens.AccessExpiresAt.Sub(now).Seconds()),
		RefreshToken: tokens.RefreshToken,
		Scope:        scope,
		CreatedAt:    now.Unix(),
	}
}

func (s *OAuthService) serverError(err error, state string) *models.OAuthError {
	s.logger.Error("oauth internal error", slog.Any("error", err))
	return models.NewOAuthError(models.OAuthErrServerError, "internal error", state)
}
