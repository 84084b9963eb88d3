package models

import (
	"time"
)

// AuthorizationCodeTTL is the hard validity window for authorization codes,
// measured at consumption time.
const AuthorizationCodeTTL = 60 * time.Second

// GrantType is the closed set of supported OAuth grants. Anything else is
// rejected at the boundary with an unsupported_grant_type error.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantRefreshToken      GrantType = "refresh_token"
)

// ParseGrantType maps a wire value onto the closed grant enum.
func ParseGrantType(s string) (GrantType, bool) {
	switch GrantType(s) {
	case GrantAuthorizationCode, GrantClientCredentials, GrantRefreshToken:
		return GrantType(s), true
	}
	return "", false
}

// OAuthClient is a registered third-party application. A client without a
// secret is a public client and cannot use the client-credentials grant.
type OAuthClient struct {
	ID            int64
	Name          string
	Secret        string // empty = public client
	RedirectURIs  []string
	ResponseTypes []string
	GrantTypes    []string
	Scopes        []string
	AccountID     string // bound account for client-credentials, empty otherwise
	CreatedAt     time.Time
}

// HasRedirectURI reports whether uri exactly matches a registered URI.
func (c *OAuthClient) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// HasResponseType reports whether rt is a registered response type.
func (c *OAuthClient) HasResponseType(rt string) bool {
	for _, t := range c.ResponseTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// HasGrantType reports whether the client registered the given grant.
func (c *OAuthClient) HasGrantType(gt GrantType) bool {
	for _, g := range c.GrantTypes {
		if g == string(gt) {
			return true
		}
	}
	return false
}

// HasScope reports whether scope is in the client's registration.
func (c *OAuthClient) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Public reports whether the client registered without a secret.
func (c *OAuthClient) Public() bool {
	return c.Secret == ""
}

// OAuthRequest is one in-flight authorization attempt. It is created when an
// authenticated user reaches the authorize step, stamped once on consent, and
// consumed at most once on token exchange.
type OAuthRequest struct {
	ID              string
	ClientID        int64
	AccountID       string
	CSRFToken       string
	Nonce           string
	Scope           string // requested scope string as supplied by the client
	RedirectURI     string
	State           string // caller-supplied opaque correlation value
	Code            string // empty until consent
	CodeGeneratedAt *time.Time
	AuthorizedAt    *time.Time
	ConsumedAt      *time.Time
	CreatedAt       time.Time
}

// CodeExpired reports whether the issued code is past its validity window.
func (r *OAuthRequest) CodeExpired(now time.Time) bool {
	return r.CodeGeneratedAt == nil || now.Sub(*r.CodeGeneratedAt) >= AuthorizationCodeTTL
}

// OAuth error codes surfaced on the wire. These are a public API contract:
// protocol failures always serialize to a structured body, never a bare 500.
const (
	OAuthErrInvalidRequest          = "invalid_request"
	OAuthErrInvalidClient           = "invalid_client"
	OAuthErrInvalidGrant            = "invalid_grant"
	OAuthErrInvalidScope            = "invalid_scope"
	OAuthErrAccessDenied            = "access_denied"
	OAuthErrUnsupportedResponseType = "unsupported_response_type"
	OAuthErrUnsupportedGrantType    = "unsupported_grant_type"
	OAuthErrServerError             = "server_error"
)

// OAuthError is the uniform structured failure body for OAuth endpoints,
// echoing the caller's state for correlation when available.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	State       string `json:"state,omitempty"`
}

func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// NewOAuthError builds a structured OAuth error.
func NewOAuthError(code, description, state string) *OAuthError {
	return &OAuthError{Code: code, Description: description, State: state}
}
