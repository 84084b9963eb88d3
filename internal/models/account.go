package models

import (
	"time"
)

// Account is owned by the account directory; this core reads its auth-relevant
// flags and mutates only last-login and the two-factor flag.
type Account struct {
	ID               string
	Username         string
	Email            string
	PasswordHash     string
	Blocked          bool
	Approved         bool
	TwoFactorEnabled bool
	Roles            []string // e.g., "user", "admin", "moderator"
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasRole reports whether the account carries the given role.
func (a *Account) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the account may perform privileged overrides,
// such as disabling another account's two-factor authentication.
func (a *Account) IsAdmin() bool {
	return a.HasRole("admin")
}
