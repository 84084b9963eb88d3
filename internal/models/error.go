package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential errors. A missing account and a wrong password are
	// deliberately indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountBlocked     = errors.New("account is blocked")
	ErrAccountNotApproved = errors.New("account is awaiting approval")

	// Token lifecycle errors
	ErrTokenNotFound = errors.New("refresh token not found")
	ErrTokenRevoked  = errors.New("refresh token has been revoked")
	ErrTokenExpired  = errors.New("refresh token has expired")

	// Two-factor errors
	ErrTwoFactorHeaderMissing = errors.New("two-factor code header missing")
	ErrTwoFactorCodeInvalid   = errors.New("two-factor code invalid")
	ErrTwoFactorNotFound      = errors.New("two-factor token not found")
	ErrTwoFactorRequired      = errors.New("second factor required")
)
