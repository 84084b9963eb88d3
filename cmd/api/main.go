package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aviary-social/aviary/internal/auth"
	"github.com/aviary-social/aviary/internal/background"
	"github.com/aviary-social/aviary/internal/config"
	"github.com/aviary-social/aviary/internal/database"
	"github.com/aviary-social/aviary/internal/handlers"
	middlewareCustom "github.com/aviary-social/aviary/internal/middleware"
	"github.com/aviary-social/aviary/internal/repositories"
	"github.com/aviary-social/aviary/internal/routes"
	"github.com/aviary-social/aviary/internal/services"
	pkghttp "github.com/aviary-social/aviary/pkg/http"
	pkglogger "github.com/aviary-social/aviary/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Repositories
	accountRepo := repositories.NewAccountRepository(db)
	refreshTokenRepo := repositories.NewRefreshTokenRepository(db)
	twoFactorRepo := repositories.NewTwoFactorRepository(db)
	oauthClientRepo := repositories.NewOAuthClientRepository(db)
	oauthRequestRepo := repositories.NewOAuthRequestRepository(db)

	// Core managers
	auditLogger := pkglogger.NewAuditLogger(logger)
	settings := config.NewSettingsSource(&cfg.Auth)

	issuer := auth.NewIssuer(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.LongAccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		refreshTokenRepo,
		accountRepo,
	)

	twoFactorManager, err := auth.NewTwoFactorManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize two-factor manager", slog.Any("error", err))
		os.Exit(1)
	}

	// AWS SES mail behind the background queue
	mailService, err := services.NewAWSSESMailService(
		cfg.Email.AWSRegion,
		cfg.Email.FromAddress,
		cfg.Email.BaseURL,
		logger,
	)
	if err != nil {
		logger.Error("failed to initialize mail service", slog.Any("error", err))
		os.Exit(1)
	}
	mailQueue := background.NewMailQueue(mailService, logger, cfg.Email.QueueSize)

	// Services
	twoFactorService := services.NewTwoFactorService(twoFactorRepo, twoFactorManager, logger, auditLogger, cfg.Auth.BackupCodeCount)
	credentialService := services.NewCredentialService(accountRepo, twoFactorService, issuer, logger, auditLogger)
	oauthService := services.NewOAuthService(oauthClientRepo, oauthRequestRepo, accountRepo, issuer, logger, auditLogger)

	// Handlers
	cookieConfig := auth.CookieConfig{
		Domain: cfg.Server.CookieDomain,
		Secure: cfg.Server.Env != "development",
	}
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)

	authHandler := handlers.NewAuthHandler(credentialService, settings, mailQueue, cookieConfig, ipConfig)
	twoFactorHandler := handlers.NewTwoFactorHandler(twoFactorService, accountRepo, mailQueue)
	oauthHandler := handlers.NewOAuthHandler(oauthService, accountRepo, settings)

	// CORS
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.Env)
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	// Router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, twoFactorHandler, oauthHandler, issuer, accountRepo)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	janitor := background.NewJanitor(refreshTokenRepo, oauthRequestRepo, logger, cfg.Auth.CleanupInterval)
	go janitor.Start(workerCtx)
	go mailQueue.Start(workerCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	workerCancel()
	janitor.Stop()
	mailQueue.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
