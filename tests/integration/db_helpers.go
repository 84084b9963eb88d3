package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aviary-social/aviary/internal/database"
	"github.com/aviary-social/aviary/internal/models"
	"github.com/aviary-social/aviary/internal/repositories"
	pkgauth "github.com/aviary-social/aviary/pkg/auth"
)

// TestDB manages the PostgreSQL testcontainer and database handles.
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase starts a PostgreSQL container, runs migrations, and
// returns the handles.
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("aviary"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         &database.DB{Pool: pool},
	}, nil
}

// runMigrations executes all goose migrations against the container.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	// Goose needs a stdlib DB connection
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool.
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation.
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"oauth_requests",
		"oauth_clients",
		"two_factor_backup_codes",
		"two_factor_tokens",
		"refresh_tokens",
		"accounts",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// InitializeRepositories creates all repository instances from the wrapper.
func InitializeRepositories(db *database.DB) (
	*repositories.AccountRepository,
	*repositories.RefreshTokenRepository,
	repositories.TwoFactorRepository,
	*repositories.OAuthClientRepository,
	*repositories.OAuthRequestRepository,
) {
	return repositories.NewAccountRepository(db),
		repositories.NewRefreshTokenRepository(db),
		repositories.NewTwoFactorRepository(db),
		repositories.NewOAuthClientRepository(db),
		repositories.NewOAuthRequestRepository(db)
}

// SeedAccount inserts a test account with a hashed password.
func SeedAccount(ctx context.Context, pool *pgxpool.Pool, username, email, password string) (*models.Account, error) {
	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO accounts (username, email, password_hash, approved, roles)
		VALUES ($1, $2, $3, TRUE, '{user}')
		RETURNING id, username, email, password_hash, blocked, approved, two_factor_enabled, roles, created_at, updated_at
	`

	var account models.Account
	err = pool.QueryRow(ctx, query, username, email, hashedPassword).Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.PasswordHash,
		&account.Blocked,
		&account.Approved,
		&account.TwoFactorEnabled,
		&account.Roles,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	return &account, nil
}
