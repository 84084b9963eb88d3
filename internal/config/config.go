package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	CookieDomain   string
	TrustedProxies []string
}

type AuthConfig struct {
	JWTSecret             string
	TOTPEncryptionKey     []byte // 32 bytes, AES-256
	TOTPIssuer            string
	AccessTokenExpiry     time.Duration
	LongAccessTokenExpiry time.Duration
	RefreshTokenExpiry    time.Duration
	TrustedMachineExpiry  time.Duration
	BackupCodeCount       int
	CleanupInterval       time.Duration
	RequireApproval       bool
	AllowedScopes         []string
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	BaseURL     string
	QueueSize   int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	totpKey, err := loadTOTPKey(env)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "aviary"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			CookieDomain:   getEnv("COOKIE_DOMAIN", ""),
			TrustedProxies: parseCommaList(getEnv("TRUSTED_PROXIES", "")),
		},
		Auth: AuthConfig{
			JWTSecret:             jwtSecret,
			TOTPEncryptionKey:     totpKey,
			TOTPIssuer:            getEnv("TOTP_ISSUER", "Aviary"),
			AccessTokenExpiry:     getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
			LongAccessTokenExpiry: getEnvAsDuration("LONG_ACCESS_TOKEN_EXPIRY", 24*time.Hour),
			RefreshTokenExpiry:    getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 30*24*time.Hour),
			TrustedMachineExpiry:  getEnvAsDuration("TRUSTED_MACHINE_EXPIRY", 30*24*time.Hour),
			BackupCodeCount:       getEnvAsInt("BACKUP_CODE_COUNT", 8),
			CleanupInterval:       getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
			RequireApproval:       getEnvAsBool("REQUIRE_APPROVAL", false),
			AllowedScopes:         parseCommaList(getEnv("ALLOWED_SCOPES", "")),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@aviary.social"),
			BaseURL:     getEnv("EMAIL_BASE_URL", "http://localhost:8080"),
			QueueSize:   getEnvAsInt("EMAIL_QUEUE_SIZE", 256),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadTOTPKey reads the 32-byte hex-encoded AES key for TOTP secret storage.
// Development falls back to a fixed key so local setups work out of the box.
func loadTOTPKey(env string) ([]byte, error) {
	raw := getEnv("TOTP_ENCRYPTION_KEY", "")
	if raw == "" {
		if env == "production" {
			return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required in production")
		}
		raw = strings.Repeat("0f", 32)
	}

	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseCommaList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	scopes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			scopes = append(scopes, p)
		}
	}
	return scopes
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
