package auth

import (
	"net/http"
	"time"

	"github.com/aviary-social/aviary/internal/models"
)

// Session cookie names. Three travel with every cookie-delivered session;
// the fourth records the owner's "trust this machine" choice.
const (
	AccessTokenCookie    = "access_token"
	RefreshTokenCookie   = "refresh_token"
	XSRFTokenCookie      = "xsrf_token"
	TrustedMachineCookie = "trusted_machine"
)

// XSRFTokenHeader carries the double-submit value on state-changing calls.
const XSRFTokenHeader = "X-XSRF-Token"

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain string // Empty string = current host only
	Secure bool   // HTTPS only; disabled for local development
}

// WriteSessionCookies writes the access, refresh, and XSRF cookies with
// expirations matching the issued tokens.
func WriteSessionCookies(w http.ResponseWriter, tokens *models.SessionTokens, config CookieConfig) {
	now := time.Now()
	setCookie(w, AccessTokenCookie, tokens.AccessToken, tokens.AccessExpiresAt, int(tokens.AccessExpiresAt.Sub(now).Seconds()), config)
	setCookie(w, RefreshTokenCookie, tokens.RefreshToken, tokens.RefreshExpiresAt, int(tokens.RefreshExpiresAt.Sub(now).Seconds()), config)
	setCookie(w, XSRFTokenCookie, tokens.XSRFToken, tokens.RefreshExpiresAt, int(tokens.RefreshExpiresAt.Sub(now).Seconds()), config)
}

// WriteTrustedMachineCookie records the trusted-machine flag. Its presence
// at login time lets the device skip the second-factor challenge.
func WriteTrustedMachineCookie(w http.ResponseWriter, window time.Duration, config CookieConfig) {
	setCookie(w, TrustedMachineCookie, "1", time.Now().Add(window), int(window.Seconds()), config)
}

// ClearSessionCookies clears all four session cookies regardless of prior
// values. Clearing performs no server-side revocation; that is a separate,
// explicit action.
func ClearSessionCookies(w http.ResponseWriter, config CookieConfig) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, XSRFTokenCookie, TrustedMachineCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   config.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   config.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// ReadAccessTokenCookie retrieves the access token from cookies.
func ReadAccessTokenCookie(r *http.Request) (string, error) {
	return readCookie(r, AccessTokenCookie)
}

// ReadRefreshTokenCookie retrieves the refresh token from cookies.
func ReadRefreshTokenCookie(r *http.Request) (string, error) {
	return readCookie(r, RefreshTokenCookie)
}

// ReadXSRFTokenCookie retrieves the XSRF token from cookies.
func ReadXSRFTokenCookie(r *http.Request) (string, error) {
	return readCookie(r, XSRFTokenCookie)
}

// IsTrustedMachine reports whether the request carries the trusted-machine
// cookie.
func IsTrustedMachine(r *http.Request) bool {
	_, err := r.Cookie(TrustedMachineCookie)
	return err == nil
}

func setCookie(w http.ResponseWriter, name, value string, expires time.Time, maxAge int, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true, // tokens are never readable from page scripts
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func readCookie(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}
