package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

// TwoFactorManager handles TOTP secret generation, encryption, and validation
type TwoFactorManager struct {
	encryptionKey []byte // 32-byte AES-256 key
	issuer        string // Issuer name for provisioning URIs
	now           func() time.Time
}

// NewTwoFactorManager creates a new two-factor manager.
// encryptionKey must be exactly 32 bytes for AES-256.
func NewTwoFactorManager(encryptionKey []byte, issuer string) (*TwoFactorManager, error) {
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(encryptionKey))
	}

	return &TwoFactorManager{
		encryptionKey: encryptionKey,
		issuer:        issuer,
		now:           time.Now,
	}, nil
}

// SetClock overrides the wall clock used for TOTP windows. Tests only.
func (tm *TwoFactorManager) SetClock(now func() time.Time) {
	tm.now = now
}

// GenerateSecret creates a new TOTP key bound to the account identifier.
// Returns the base32 secret and the otpauth:// provisioning URI.
func (tm *TwoFactorManager) GenerateSecret(accountName string) (secret, provisioningURI string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  32,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	return key.Secret(), key.URL(), nil
}

// ProvisioningURI rebuilds the otpauth:// URI for an already-issued secret,
// matching the parameters GenerateSecret uses.
func (tm *TwoFactorManager) ProvisioningURI(accountName, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", tm.issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", "6")
	v.Set("period", "30")

	return "otpauth://totp/" + url.PathEscape(tm.issuer+":"+accountName) + "?" + v.Encode()
}

// RenderQRCode renders a provisioning URI as a PNG data URL for authenticator
// app enrollment.
func (tm *TwoFactorManager) RenderQRCode(provisioningURI string) (string, error) {
	qr, err := qrcode.New(provisioningURI, qrcode.Highest)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage), nil
}

// EncryptSecret encrypts a TOTP secret using AES-256-GCM.
// Returns: (encryptedBytes, nonce, error)
func (tm *TwoFactorManager) EncryptSecret(secret string) ([]byte, []byte, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(secret), nil)

	return ciphertext, nonce, nil
}

// DecryptSecret decrypts an encrypted TOTP secret.
func (tm *TwoFactorManager) DecryptSecret(encryptedBytes, nonce []byte) (string, error) {
	block, err := aes.NewCipher(tm.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, encryptedBytes, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}

	return string(plaintext), nil
}

// ValidateCode validates a TOTP code against a base32 secret.
// Allows ±1 time step for clock drift.
func (tm *TwoFactorManager) ValidateCode(secret, code string) (bool, error) {
	valid, err := totp.ValidateCustom(code, secret, tm.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}

	return valid, nil
}

// GenerateBackupCodes generates N random single-use backup codes.
// Format: 8 characters from an alphabet that avoids ambiguous glyphs.
func (tm *TwoFactorManager) GenerateBackupCodes(count int) ([]string, error) {
	const charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

	// Rejection sampling keeps every character equally likely; a plain
	// modulo over 256 byte values would skew toward the low end of the
	// alphabet.
	limit := byte(256 - 256%len(charset))

	codes := make([]string, count)
	buf := make([]byte, 16)
	for i := 0; i < count; i++ {
		code := make([]byte, 0, 8)
		for len(code) < 8 {
			if _, err := rand.Read(buf); err != nil {
				return nil, fmt.Errorf("failed to generate backup code: %w", err)
			}
			for _, b := range buf {
				if b >= limit {
					continue
				}
				code = append(code, charset[b%byte(len(charset))])
				if len(code) == 8 {
					break
				}
			}
		}
		codes[i] = string(code)
	}

	return codes, nil
}
