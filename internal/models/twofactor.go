package models

import (
	"time"
)

// TwoFactorToken holds an account's TOTP secret and backup codes. Exactly one
// row per account; the secret is never regenerated once issued, because doing
// so would orphan the user's configured authenticator app.
type TwoFactorToken struct {
	AccountID       string
	SecretEncrypted []byte // AES-256-GCM encrypted base32 TOTP secret
	SecretNonce     []byte // GCM nonce (12 bytes)
	BackupCodes     []BackupCode
	CreatedAt       time.Time
}

// BackupCode is a single-use recovery code. Each code is its own row so that
// burning one is a guarded update on that row alone.
type BackupCode struct {
	ID        string
	AccountID string
	CodeHash  string     // bcrypt hash
	UsedAt    *time.Time // nil = unused
	CreatedAt time.Time
}

// TwoFactorSetup is returned when an account requests its token for the
// first time (or again before enabling).
type TwoFactorSetup struct {
	Secret          string   `json:"secret"`           // base32, for manual entry
	ProvisioningURI string   `json:"provisioning_uri"` // otpauth:// URI
	QRCode          string   `json:"qr_code"`          // data URL, PNG
	BackupCodes     []string `json:"backup_codes"`
}
