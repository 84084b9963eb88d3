package auth

import (
	"bytes"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *TwoFactorManager {
	t.Helper()
	manager, err := NewTwoFactorManager(bytes.Repeat([]byte{0x0f}, 32), "Aviary")
	require.NoError(t, err)
	return manager
}

func TestNewTwoFactorManager_KeyLength(t *testing.T) {
	_, err := NewTwoFactorManager([]byte("too short"), "Aviary")
	assert.Error(t, err)

	_, err = NewTwoFactorManager(bytes.Repeat([]byte{0x01}, 32), "Aviary")
	assert.NoError(t, err)
}

func TestTwoFactorManager_GenerateSecret(t *testing.T) {
	manager := testManager(t)

	secret, uri, err := manager.GenerateSecret("finch")
	require.NoError(t, err)

	assert.NotEmpty(t, secret)
	assert.True(t, strings.HasPrefix(uri, "otpauth://totp/"))
	assert.Contains(t, uri, "Aviary")
}

func TestTwoFactorManager_EncryptDecryptRoundTrip(t *testing.T) {
	manager := testManager(t)

	secret, _, err := manager.GenerateSecret("finch")
	require.NoError(t, err)

	encrypted, nonce, err := manager.EncryptSecret(secret)
	require.NoError(t, err)
	assert.NotEqual(t, []byte(secret), encrypted)
	assert.Len(t, nonce, 12)

	decrypted, err := manager.DecryptSecret(encrypted, nonce)
	require.NoError(t, err)
	assert.Equal(t, secret, decrypted)
}

func TestTwoFactorManager_DecryptSecret_WrongKey(t *testing.T) {
	manager := testManager(t)

	encrypted, nonce, err := manager.EncryptSecret("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	other, err := NewTwoFactorManager(bytes.Repeat([]byte{0xAA}, 32), "Aviary")
	require.NoError(t, err)

	_, err = other.DecryptSecret(encrypted, nonce)
	assert.Error(t, err)
}

func TestTwoFactorManager_ValidateCode(t *testing.T) {
	manager := testManager(t)

	secret, _, err := manager.GenerateSecret("finch")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	manager.SetClock(func() time.Time { return now })

	code, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)

	valid, err := manager.ValidateCode(secret, code)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = manager.ValidateCode(secret, "000000")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTwoFactorManager_ValidateCode_ClockSkew(t *testing.T) {
	manager := testManager(t)

	secret, _, err := manager.GenerateSecret("finch")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 15, 0, time.UTC)
	manager.SetClock(func() time.Time { return now })

	// Codes from the adjacent steps pass; two steps away does not.
	previous, err := totp.GenerateCode(secret, now.Add(-30*time.Second))
	require.NoError(t, err)
	valid, err := manager.ValidateCode(secret, previous)
	require.NoError(t, err)
	assert.True(t, valid)

	stale, err := totp.GenerateCode(secret, now.Add(-90*time.Second))
	require.NoError(t, err)
	valid, err = manager.ValidateCode(secret, stale)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestTwoFactorManager_ProvisioningURI(t *testing.T) {
	manager := testManager(t)

	uri := manager.ProvisioningURI("finch", "JBSWY3DPEHPK3PXP")

	parsed, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "otpauth", parsed.Scheme)
	assert.Equal(t, "totp", parsed.Host)

	q := parsed.Query()
	assert.Equal(t, "JBSWY3DPEHPK3PXP", q.Get("secret"))
	assert.Equal(t, "Aviary", q.Get("issuer"))
	assert.Equal(t, "SHA1", q.Get("algorithm"))
	assert.Equal(t, "6", q.Get("digits"))
	assert.Equal(t, "30", q.Get("period"))
}

func TestTwoFactorManager_RenderQRCode(t *testing.T) {
	manager := testManager(t)

	_, uri, err := manager.GenerateSecret("finch")
	require.NoError(t, err)

	qr, err := manager.RenderQRCode(uri)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(qr, "data:image/png;base64,"))
}

func TestTwoFactorManager_GenerateBackupCodes(t *testing.T) {
	manager := testManager(t)

	codes, err := manager.GenerateBackupCodes(8)
	require.NoError(t, err)
	require.Len(t, codes, 8)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Len(t, code, 8)
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "L")
		seen[code] = true
	}
	assert.Len(t, seen, 8, "codes must be distinct")
}

func TestTwoFactorManager_GenerateBackupCodes_UniformAlphabet(t *testing.T) {
	manager := testManager(t)

	// A byte reduced modulo 31 would favor the first 8 characters of the
	// alphabet (9/256 each instead of 1/31). Sample enough characters that
	// the skew would be unmistakable and check the low group's share.
	const rounds = 500
	counts := make(map[rune]int)
	total := 0
	for i := 0; i < rounds; i++ {
		codes, err := manager.GenerateBackupCodes(8)
		require.NoError(t, err)
		for _, code := range codes {
			for _, ch := range code {
				counts[ch]++
				total++
			}
		}
	}

	lowGroup := 0
	for _, ch := range "23456789" {
		lowGroup += counts[ch]
	}

	// Uniform sampling puts 8/31 (~25.8%) of characters in the low group;
	// the skewed distribution would put 72/256 (~28.1%) there.
	fraction := float64(lowGroup) / float64(total)
	assert.Less(t, fraction, 0.27, "digit characters are overrepresented")
	assert.Greater(t, fraction, 0.24)
}
