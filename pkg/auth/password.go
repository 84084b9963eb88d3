package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost       = 12
	SessionKeyLength = 32 // 256 bits
)

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// GenerateSecret returns a URL-safe random secret of n bytes of entropy.
// Used for refresh tokens, CSRF tokens, nonces, authorization codes, and
// XSRF tokens.
func GenerateSecret(n int) (string, error) {
	if n <= 0 {
		n = SessionKeyLength
	}
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// ConstantTimeEquals compares two secrets without leaking length-prefix
// timing. Used for client secrets and XSRF double-submit checks.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
