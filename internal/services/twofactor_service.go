package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/aviary-social/aviary/internal/auth"
	"github.com/aviary-social/aviary/internal/models"
	"github.com/aviary-social/aviary/internal/repositories"
	pkgauth "github.com/aviary-social/aviary/pkg/auth"
	pkglogger "github.com/aviary-social/aviary/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// TwoFactorService manages the full second-factor lifecycle: setup,
// validation during login, enable, and disable.
type TwoFactorService struct {
	repo            repositories.TwoFactorRepository
	manager         *auth.TwoFactorManager
	logger          *slog.Logger
	auditLogger     *pkglogger.AuditLogger
	backupCodeCount int
}

// NewTwoFactorService creates a new TwoFactorService
func NewTwoFactorService(repo repositories.TwoFactorRepository, manager *auth.TwoFactorManager, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, backupCodeCount int) *TwoFactorService {
	return &TwoFactorService{
		repo:            repo,
		manager:         manager,
		logger:          logger,
		auditLogger:     auditLogger,
		backupCodeCount: backupCodeCount,
	}
}

// Setup is get-or-create. An existing secret is returned unchanged so the
// user's already-configured authenticator app stays valid; only the backup
// codes are reissued, because their plaintext is shown exactly once.
// Accounts with two-factor already enabled must disable first.
func (s *TwoFactorService) Setup(ctx context.Context, account *models.Account) (*models.TwoFactorSetup, error) {
	if account.TwoFactorEnabled {
		return nil, models.ErrConflict
	}

	existing, err := s.repo.GetByAccountID(ctx, account.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to load two-factor token", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if existing != nil {
		return s.reissue(ctx, account, existing)
	}

	secret, provisioningURI, err := s.manager.GenerateSecret(account.Username)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	encrypted, nonce, err := s.manager.EncryptSecret(secret)
	if err != nil {
		s.logger.Error("failed to encrypt TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	codes, entries, err := s.mintBackupCodes()
	if err != nil {
		return nil, err
	}

	token := &models.TwoFactorToken{
		AccountID:       account.ID,
		SecretEncrypted: encrypted,
		SecretNonce:     nonce,
		BackupCodes:     entries,
	}

	if err := s.repo.Create(ctx, token); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Lost a setup race; serve the row the winner created.
			if winner, getErr := s.repo.GetByAccountID(ctx, account.ID); getErr == nil {
				return s.reissue(ctx, account, winner)
			}
		}
		s.logger.Error("failed to create two-factor token", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	qr, err := s.manager.RenderQRCode(provisioningURI)
	if err != nil {
		s.logger.Error("failed to render QR code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("two-factor setup initiated", slog.String("account_id", account.ID))

	return &models.TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: provisioningURI,
		QRCode:          qr,
		BackupCodes:     codes,
	}, nil
}

// Validate checks a presented code against the account's TOTP secret and,
// when allowed, its backup codes. An empty code is reported distinctly from
// a wrong one so transports can prompt instead of rejecting.
func (s *TwoFactorService) Validate(ctx context.Context, accountID, code string, allowBackupCode bool) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.ErrTwoFactorHeaderMissing
	}

	token, err := s.repo.GetByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrTwoFactorNotFound) {
			return models.ErrTwoFactorNotFound
		}
		s.logger.Error("failed to load two-factor token", slog.String("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	secret, err := s.manager.DecryptSecret(token.SecretEncrypted, token.SecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret", slog.String("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	valid, err := s.manager.ValidateCode(secret, code)
	if err == nil && valid {
		return nil
	}

	if allowBackupCode {
		if used, err := s.consumeBackupCode(ctx, token, code); err != nil {
			return err
		} else if used {
			return nil
		}
	}

	s.logger.Warn("invalid two-factor code", slog.String("account_id", accountID))
	return models.ErrTwoFactorCodeInvalid
}

// Enable turns the account flag on after a just-validated TOTP code. Backup
// codes are not accepted here; enabling proves the authenticator works.
func (s *TwoFactorService) Enable(ctx context.Context, account *models.Account, code string) error {
	if account.TwoFactorEnabled {
		return models.ErrConflict
	}

	if err := s.Validate(ctx, account.ID, code, false); err != nil {
		return err
	}

	if err := s.repo.Enable(ctx, account.ID); err != nil {
		s.logger.Error("failed to enable two-factor", slog.String("account_id", account.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("two-factor enabled", slog.String("account_id", account.ID))
	s.auditLogger.LogAccountAction("two_factor_enabled", account.ID, "", nil)
	return nil
}

// Disable removes the secret and clears the account flag in one transaction.
// Authorization (self with a valid code, or a privileged override) is the
// caller's responsibility.
func (s *TwoFactorService) Disable(ctx context.Context, accountID string) error {
	if err := s.repo.DisableAndDelete(ctx, accountID); err != nil {
		if errors.Is(err, models.ErrTwoFactorNotFound) {
			return models.ErrTwoFactorNotFound
		}
		s.logger.Error("failed to disable two-factor", slog.String("account_id", accountID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("two-factor disabled", slog.String("account_id", accountID))
	s.auditLogger.LogAccountAction("two_factor_disabled", accountID, "", nil)
	return nil
}

// RegenerateBackupCodes replaces the full backup code set and returns the new
// plaintext codes.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	if _, err := s.repo.GetByAccountID(ctx, accountID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTwoFactorNotFound
		}
		return nil, models.ErrInternalServer
	}

	codes, entries, err := s.mintBackupCodes()
	if err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceBackupCodes(ctx, accountID, entries); err != nil {
		s.logger.Error("failed to store backup codes", slog.String("account_id", accountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("backup_codes_regenerated", accountID, "", nil)
	return codes, nil
}

func (s *TwoFactorService) reissue(ctx context.Context, account *models.Account, token *models.TwoFactorToken) (*models.TwoFactorSetup, error) {
	secret, err := s.manager.DecryptSecret(token.SecretEncrypted, token.SecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	codes, entries, err := s.mintBackupCodes()
	if err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceBackupCodes(ctx, account.ID, entries); err != nil {
		s.logger.Error("failed to store backup codes", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	provisioningURI := s.manager.ProvisioningURI(account.Username, secret)
	qr, err := s.manager.RenderQRCode(provisioningURI)
	if err != nil {
		s.logger.Error("failed to render QR code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &models.TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: provisioningURI,
		QRCode:          qr,
		BackupCodes:     codes,
	}, nil
}

func (s *TwoFactorService) mintBackupCodes() ([]string, []models.BackupCode, error) {
	codes, err := s.manager.GenerateBackupCodes(s.backupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	entries := make([]models.BackupCode, len(codes))
	for i, code := range codes {
		hash, err := pkgauth.HashPassword(code)
		if err != nil {
			s.logger.Error("failed to hash backup code", slog.Any("error", err))
			return nil, nil, models.ErrInternalServer
		}
		entries[i] = models.BackupCode{CodeHash: hash}
	}

	return codes, entries, nil
}

// consumeBackupCode burns a matching unused backup code. Returns whether a
// code matched; the burn is persisted before success is reported. The burn is
// a guarded single-row update, so a caller that loses the race for the last
// matching code is treated as having presented no match at all.
func (s *TwoFactorService) consumeBackupCode(ctx context.Context, token *models.TwoFactorToken, code string) (bool, error) {
	code = strings.ToUpper(code)

	for _, entry := range token.BackupCodes {
		if entry.UsedAt != nil {
			continue
		}

		if bcrypt.CompareHashAndPassword([]byte(entry.CodeHash), []byte(code)) != nil {
			continue
		}

		if err := s.repo.BurnBackupCode(ctx, entry.ID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				// Another request burned this code first.
				continue
			}
			s.logger.Error("failed to burn backup code", slog.String("account_id", token.AccountID), slog.Any("error", err))
			return false, models.ErrInternalServer
		}

		s.logger.Info("backup code used", slog.String("account_id", token.AccountID))
		s.auditLogger.LogAccountAction("backup_code_used", token.AccountID, "", nil)
		return true, nil
	}

	return false, nil
}
