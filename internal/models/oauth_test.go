package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseGrantType(t *testing.T) {
	tests := []struct {
		input string
		want  GrantType
		ok    bool
	}{
		{"authorization_code", GrantAuthorizationCode, true},
		{"client_credentials", GrantClientCredentials, true},
		{"refresh_token", GrantRefreshToken, true},
		{"password", "", false},
		{"implicit", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseGrantType(tt.input)
		assert.Equal(t, tt.ok, ok, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestOAuthRequest_CodeExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// No code stamped yet counts as expired.
	blank := &OAuthRequest{}
	assert.True(t, blank.CodeExpired(now))

	stamped := now.Add(-AuthorizationCodeTTL + time.Second)
	fresh := &OAuthRequest{Code: "the-code", CodeGeneratedAt: &stamped}
	assert.False(t, fresh.CodeExpired(now))

	// The window is closed at exactly the TTL.
	boundary := now.Add(-AuthorizationCodeTTL)
	atLimit := &OAuthRequest{Code: "the-code", CodeGeneratedAt: &boundary}
	assert.True(t, atLimit.CodeExpired(now))
}

func TestOAuthClient_Helpers(t *testing.T) {
	client := &OAuthClient{
		Secret:        "client-secret",
		RedirectURIs:  []string{"https://app.example.com/callback"},
		ResponseTypes: []string{"code"},
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		Scopes:        []string{"read", "write"},
	}

	assert.True(t, client.HasRedirectURI("https://app.example.com/callback"))
	assert.False(t, client.HasRedirectURI("https://app.example.com/callback/"), "matching is exact")
	assert.True(t, client.HasResponseType("code"))
	assert.False(t, client.HasResponseType("token"))
	assert.True(t, client.HasGrantType(GrantAuthorizationCode))
	assert.False(t, client.HasGrantType(GrantClientCredentials))
	assert.True(t, client.HasScope("write"))
	assert.False(t, client.HasScope("follow"))
	assert.False(t, client.Public())

	public := &OAuthClient{}
	assert.True(t, public.Public())
}

func TestOAuthError_Error(t *testing.T) {
	assert.Equal(t, "invalid_grant", NewOAuthError(OAuthErrInvalidGrant, "", "").Error())
	assert.Equal(t, "invalid_grant: code already used", NewOAuthError(OAuthErrInvalidGrant, "code already used", "").Error())
}
