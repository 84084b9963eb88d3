package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aviary-social/aviary/internal/models"
	pkgauth "github.com/aviary-social/aviary/pkg/auth"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ClaimsContextKey is the key for storing access token claims in context
	ClaimsContextKey contextKey = "claims"
)

// Middleware validates the access token and injects its claims into the
// request context. Tokens arrive either as an Authorization bearer header or
// as the access_token cookie; cookie sessions must echo their XSRF token in
// the X-XSRF-Token header on state-changing verbs.
func Middleware(issuer *Issuer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, fromCookie := extractAccessToken(r)
			if tokenString == "" {
				http.Error(w, "missing access token", http.StatusUnauthorized)
				return
			}

			claims, err := issuer.ValidateAccessToken(tokenString)
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			if fromCookie && stateChanging(r.Method) {
				if err := checkXSRF(r); err != nil {
					http.Error(w, "xsrf token mismatch", http.StatusForbidden)
					return
				}
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalMiddleware injects claims when a valid access token is present but
// lets anonymous requests through with no claims, leaving the authenticated-
// or-not decision to the handler. The authorize endpoint uses this to send
// signed-out users to login instead of failing the request outright. Cookie
// sessions still get the XSRF check on state-changing verbs.
func OptionalMiddleware(issuer *Issuer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, fromCookie := extractAccessToken(r)
			if tokenString == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := issuer.ValidateAccessToken(tokenString)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if fromCookie && stateChanging(r.Method) {
				if err := checkXSRF(r); err != nil {
					http.Error(w, "xsrf token mismatch", http.StatusForbidden)
					return
				}
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole enforces role-based access. The account is re-fetched so role
// revocations take effect before the access token expires.
func RequireRole(accounts AccountFetcher, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r)
			if claims == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			account, err := accounts.GetByID(r.Context(), claims.AccountID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			if account.Blocked || !account.HasRole(role) {
				http.Error(w, "forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireScope enforces OAuth scope on a route. First-party sessions carry no
// scopes and pass every check; scoped tokens must hold the named scope.
func RequireScope(scope string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r)
			if claims == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if len(claims.Scopes) > 0 && !models.HasScope(claims.Scopes, scope) {
				http.Error(w, "forbidden: missing scope "+scope, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetClaimsFromContext retrieves validated access token claims, or nil.
func GetClaimsFromContext(r *http.Request) *models.AccessTokenClaims {
	claims, _ := r.Context().Value(ClaimsContextKey).(*models.AccessTokenClaims)
	return claims
}

// extractAccessToken returns the token and whether it came from a cookie.
// A bearer header wins when both are present.
func extractAccessToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1], false
		}
		return "", false
	}

	token, err := ReadAccessTokenCookie(r)
	if err != nil {
		return "", false
	}
	return token, true
}

// checkXSRF performs the double-submit comparison between the xsrf cookie and
// the request header.
func checkXSRF(r *http.Request) error {
	cookieValue, err := ReadXSRFTokenCookie(r)
	if err != nil {
		return err
	}

	headerValue := r.Header.Get(XSRFTokenHeader)
	if headerValue == "" || !pkgauth.ConstantTimeEquals(cookieValue, headerValue) {
		return models.ErrForbidden
	}

	return nil
}

func stateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
