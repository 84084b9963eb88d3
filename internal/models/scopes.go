package models

import "strings"

// Scope constants define the capabilities a client can hold over an
// account's data.
const (
	ScopeRead   = "read"
	ScopeWrite  = "write"
	ScopeFollow = "follow"
	ScopePush   = "push"
)

// DefaultAllowedScopes is the server-wide allow-list used when settings
// carry no override.
var DefaultAllowedScopes = []string{ScopeRead, ScopeWrite, ScopeFollow, ScopePush}

// ParseScopes splits a space-separated scope string, dropping empties.
func ParseScopes(scope string) []string {
	return strings.Fields(scope)
}

// JoinScopes renders a scope list back to its wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ScopesAllowed checks that every requested scope appears in allowed.
// Validation is a subset check in both directions: callers run this once
// against the global allow-list and once against the client registration.
func ScopesAllowed(requested, allowed []string) bool {
	set := make(map[string]bool, len(allowed))
	for _, s := range allowed {
		set[s] = true
	}
	for _, s := range requested {
		if !set[s] {
			return false
		}
	}
	return true
}

// HasScope checks if a scope list contains the required scope.
func HasScope(scopes []string, required string) bool {
	for _, s := range scopes {
		if s == required {
			return true
		}
	}
	return false
}
