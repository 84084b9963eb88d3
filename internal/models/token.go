package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionDelivery selects how issued tokens travel back to the client.
type SessionDelivery int

const (
	// DeliveryBearer returns tokens in the response body only.
	DeliveryBearer SessionDelivery = iota
	// DeliveryCookie additionally writes tokens as scoped cookies and
	// requires an XSRF token on state-changing calls.
	DeliveryCookie
)

// UsesCookies reports whether the session travels as cookies.
func (d SessionDelivery) UsesCookies() bool {
	return d == DeliveryCookie
}

// RefreshToken is the persisted session secret. Access tokens are always
// derived from a live row and never stored themselves.
type RefreshToken struct {
	ID          string
	AccountID   string
	Token       string // opaque random secret
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Revoked     bool
	UsesCookies bool
	Application string   // bound OAuth application name, empty for first-party sessions
	Scopes      []string // bound OAuth scopes, nil for first-party sessions
}

// Live reports whether the token is neither revoked nor expired at now.
func (t *RefreshToken) Live(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// AccessTokenClaims are the JWT claims of a short-lived access token.
type AccessTokenClaims struct {
	AccountID   string   `json:"account_id"`
	Roles       []string `json:"roles,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
	Application string   `json:"application,omitempty"`
	jwt.RegisteredClaims
}

// SessionTokens is the full output of a token issuance or refresh.
type SessionTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	XSRFToken        string // set only for cookie delivery
}
