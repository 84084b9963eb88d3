package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/aviary-social/aviary/internal/models"
	"github.com/aviary-social/aviary/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOAuthHandler(service *MockOAuthService, account *models.Account) *OAuthHandler {
	return NewOAuthHandler(service, lookupFor(account), NewTestSettings())
}

func TestOAuthHandler_RegisterClient(t *testing.T) {
	account := testAccount()
	service := &MockOAuthService{
		RegisterClientFunc: func(ctx context.Context, settings *models.Settings, params services.RegisterClientParams) (*models.OAuthClient, error) {
			assert.Equal(t, account.ID, params.AccountID)
			assert.True(t, params.Confidential)
			return &models.OAuthClient{
				ID:           42,
				Name:         params.Name,
				Secret:       "minted-secret",
				RedirectURIs: params.RedirectURIs,
				GrantTypes:   []string{"authorization_code", "refresh_token"},
				Scopes:       []string{"read"},
			}, nil
		},
	}
	handler := newOAuthHandler(service, account)

	r := WithClaims(postJSON(t, "/oauth/clients", map[string]any{
		"name":          "Aviary for Android",
		"redirect_uris": []string{"https://app.example.com/callback"},
		"confidential":  true,
	}), account.ID)
	recorder := httptest.NewRecorder()
	handler.RegisterClient(recorder, r)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	var resp ClientResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "42", resp.ClientID)
	assert.Equal(t, "minted-secret", resp.ClientSecret)
}

func TestOAuthHandler_RegisterClient_Validation(t *testing.T) {
	account := testAccount()
	handler := newOAuthHandler(&MockOAuthService{
		RegisterClientFunc: func(ctx context.Context, settings *models.Settings, params services.RegisterClientParams) (*models.OAuthClient, error) {
			t.Fatal("service must not be called on a failed validation")
			return nil, nil
		},
	}, account)

	// No redirect URIs.
	r := WithClaims(postJSON(t, "/oauth/clients", map[string]any{"name": "Broken"}), account.ID)
	recorder := httptest.NewRecorder()
	handler.RegisterClient(recorder, r)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	// Unknown grant type.
	r = WithClaims(postJSON(t, "/oauth/clients", map[string]any{
		"name":          "Broken",
		"redirect_uris": []string{"https://app.example.com/callback"},
		"grant_types":   []string{"password"},
	}), account.ID)
	recorder = httptest.NewRecorder()
	handler.RegisterClient(recorder, r)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestOAuthHandler_Authorize(t *testing.T) {
	account := testAccount()
	service := &MockOAuthService{
		AuthorizeFunc: func(ctx context.Context, settings *models.Settings, got *models.Account, params services.AuthorizeParams) (*services.AuthorizeResult, error) {
			assert.Equal(t, "42", params.ClientID)
			assert.Equal(t, "code", params.ResponseType)
			assert.Equal(t, "xyz", params.State)
			return &services.AuthorizeResult{
				Request: &models.OAuthRequest{ID: "req1", CSRFToken: "csrf-secret", State: "xyz"},
				Client:  &models.OAuthClient{ID: 42, Name: "Aviary for Android"},
				Scopes:  []string{"read"},
			}, nil
		},
	}
	handler := newOAuthHandler(service, account)

	target := "/oauth/authorize?client_id=42&response_type=code&redirect_uri=https%3A%2F%2Fapp.example.com%2Fcallback&scope=read&state=xyz"
	r := WithClaims(httptest.NewRequest(http.MethodGet, target, nil), account.ID)
	recorder := httptest.NewRecorder()
	handler.Authorize(recorder, r)

	assert.Equal(t, http.StatusOK, recorder.Code)
	var resp ConsentViewResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "req1", resp.ID)
	assert.Equal(t, "csrf-secret", resp.CSRFToken)
	assert.Equal(t, "Aviary for Android", resp.ClientName)
	assert.Equal(t, "xyz", resp.State)
}

func TestOAuthHandler_Authorize_SignedOutRedirectsToLogin(t *testing.T) {
	account := testAccount()
	service := &MockOAuthService{
		AuthorizeFunc: func(ctx context.Context, settings *models.Settings, got *models.Account, params services.AuthorizeParams) (*services.AuthorizeResult, error) {
			t.Fatal("signed-out requests must not reach the service")
			return nil, nil
		},
	}
	handler := newOAuthHandler(service, account)

	// No claims on the request: the user is sent to login with every
	// authorization parameter intact so the flow can resume.
	target := "/oauth/authorize?client_id=42&response_type=code&redirect_uri=https%3A%2F%2Fapp.example.com%2Fcallback&scope=read&state=xyz"
	r := httptest.NewRequest(http.MethodGet, target, nil)
	recorder := httptest.NewRecorder()
	handler.Authorize(recorder, r)

	assert.Equal(t, http.StatusFound, recorder.Code)
	location, err := url.Parse(recorder.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, LoginPath, location.Path)
	assert.Equal(t, "42", location.Query().Get("client_id"))
	assert.Equal(t, "code", location.Query().Get("response_type"))
	assert.Equal(t, "https://app.example.com/callback", location.Query().Get("redirect_uri"))
	assert.Equal(t, "read", location.Query().Get("scope"))
	assert.Equal(t, "xyz", location.Query().Get("state"))
}

func TestOAuthHandler_Authorize_ProtocolError(t *testing.T) {
	account := testAccount()
	handler := newOAuthHandler(&MockOAuthService{
		AuthorizeFunc: func(ctx context.Context, settings *models.Settings, got *models.Account, params services.AuthorizeParams) (*services.AuthorizeResult, error) {
			return nil, models.NewOAuthError(models.OAuthErrInvalidScope, "scope outside the client registration", "xyz")
		},
	}, account)

	r := WithClaims(httptest.NewRequest(http.MethodGet, "/oauth/authorize?client_id=42", nil), account.ID)
	recorder := httptest.NewRecorder()
	handler.Authorize(recorder, r)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	assert.Equal(t, "invalid_scope", body["error"])
	assert.Equal(t, "xyz", body["state"])
}

func TestOAuthHandler_Consent_Redirect(t *testing.T) {
	account := testAccount()
	service := &MockOAuthService{
		ConsentFunc: func(ctx context.Context, got *models.Account, requestID, csrfToken, state string, approve bool) (*services.ConsentResult, error) {
			assert.Equal(t, "req1", requestID)
			assert.Equal(t, "csrf-secret", csrfToken)
			assert.Equal(t, "xyz", state)
			assert.True(t, approve)
			return &services.ConsentResult{
				RedirectURI: "https://app.example.com/callback",
				Code:        "the-code",
				State:       "xyz",
			}, nil
		},
	}
	handler := newOAuthHandler(service, account)

	r := WithClaims(postJSON(t, "/oauth/consent", map[string]any{
		"id":        "req1",
		"csrfToken": "csrf-secret",
		"state":     "xyz",
	}), account.ID)
	recorder := httptest.NewRecorder()
	handler.Consent(recorder, r)

	assert.Equal(t, http.StatusFound, recorder.Code)
	location, err := url.Parse(recorder.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", location.Host)
	assert.Equal(t, "the-code", location.Query().Get("code"))
	assert.Equal(t, "xyz", location.Query().Get("state"))
}

func TestOAuthHandler_Consent_Denied(t *testing.T) {
	account := testAccount()
	service := &MockOAuthService{
		ConsentFunc: func(ctx context.Context, got *models.Account, requestID, csrfToken, state string, approve bool) (*services.ConsentResult, error) {
			assert.False(t, approve)
			return nil, models.NewOAuthError(models.OAuthErrAccessDenied, "the resource owner denied the request", "xyz")
		},
	}
	handler := newOAuthHandler(service, account)

	r := WithClaims(postJSON(t, "/oauth/consent", map[string]any{
		"id":        "req1",
		"csrfToken": "csrf-secret",
		"deny":      true,
	}), account.ID)
	recorder := httptest.NewRecorder()
	handler.Consent(recorder, r)

	// Denial is a structured body, not a redirect.
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	assert.Equal(t, "access_denied", body["error"])
}

func TestOAuthHandler_Token(t *testing.T) {
	account := testAccount()
	service := &MockOAuthService{
		TokenFunc: func(ctx context.Context, params services.TokenParams) (*services.TokenResponse, error) {
			assert.Equal(t, "authorization_code", params.GrantType)
			assert.Equal(t, "the-code", params.Code)
			assert.Equal(t, "42", params.ClientID)
			return &services.TokenResponse{
				AccessToken: "access-jwt",
				TokenType:   "bearer",
				ExpiresIn:   86400,
				Scope:       "read",
			}, nil
		},
	}
	handler := newOAuthHandler(service, account)

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {"the-code"},
		"redirect_uri": {"https://app.example.com/callback"},
		"client_id":    {"42"},
	}
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()
	handler.Token(recorder, r)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "no-store", recorder.Header().Get("Cache-Control"))

	var resp services.TokenResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "access-jwt", resp.AccessToken)
	assert.Equal(t, "bearer", resp.TokenType)
}

func TestOAuthHandler_Token_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		code       string
		wantStatus int
	}{
		{models.OAuthErrInvalidRequest, http.StatusBadRequest},
		{models.OAuthErrInvalidClient, http.StatusUnauthorized},
		{models.OAuthErrInvalidGrant, http.StatusBadRequest},
		{models.OAuthErrUnsupportedGrantType, http.StatusBadRequest},
		{models.OAuthErrAccessDenied, http.StatusForbidden},
		{models.OAuthErrServerError, http.StatusInternalServerError},
	}

	account := testAccount()
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			handler := newOAuthHandler(&MockOAuthService{
				TokenFunc: func(ctx context.Context, params services.TokenParams) (*services.TokenResponse, error) {
					return nil, models.NewOAuthError(tt.code, "nope", "")
				},
			}, account)

			form := url.Values{"grant_type": {"authorization_code"}}
			r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			recorder := httptest.NewRecorder()
			handler.Token(recorder, r)

			assert.Equal(t, tt.wantStatus, recorder.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
			assert.Equal(t, tt.code, body["error"])
		})
	}
}

func TestOAuthHandler_Token_UnstructuredFailureBecomesServerError(t *testing.T) {
	account := testAccount()
	handler := newOAuthHandler(&MockOAuthService{
		TokenFunc: func(ctx context.Context, params services.TokenParams) (*services.TokenResponse, error) {
			return nil, context.DeadlineExceeded
		},
	}, account)

	form := url.Values{"grant_type": {"authorization_code"}}
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	recorder := httptest.NewRecorder()
	handler.Token(recorder, r)

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&body))
	assert.Equal(t, "server_error", body["error"])
}
