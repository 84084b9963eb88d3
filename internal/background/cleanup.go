package background

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredRowStore defines the deletions the janitor performs. Expiry is
// always enforced at use time; this loop is cleanliness only.
type ExpiredRowStore interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// StaleRequestStore removes consumed or abandoned authorization requests.
type StaleRequestStore interface {
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// Janitor periodically removes expired refresh tokens and stale OAuth
// authorization requests.
type Janitor struct {
	refreshTokens ExpiredRowStore
	oauthRequests StaleRequestStore
	logger        *slog.Logger
	interval      time.Duration
	stopCh        chan struct{}
}

// NewJanitor creates a new janitor
func NewJanitor(refreshTokens ExpiredRowStore, oauthRequests StaleRequestStore, logger *slog.Logger, interval time.Duration) *Janitor {
	return &Janitor{
		refreshTokens: refreshTokens,
		oauthRequests: oauthRequests,
		logger:        logger,
		interval:      interval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on startup
	j.run(ctx)

	for {
		select {
		case <-ticker.C:
			j.run(ctx)
		case <-j.stopCh:
			j.logger.Info("janitor stopped")
			return
		case <-ctx.Done():
			j.logger.Info("janitor context cancelled")
			return
		}
	}
}

// Stop signals the janitor to stop
func (j *Janitor) Stop() {
	close(j.stopCh)
}

func (j *Janitor) run(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now()

	tokensDeleted, err := j.refreshTokens.DeleteExpired(cleanupCtx, now.Add(-24*time.Hour))
	if err != nil {
		j.logger.Error("failed to delete expired refresh tokens", slog.Any("error", err))
	}

	// Authorization requests are short-lived; anything older than an hour
	// that was never consumed is abandoned.
	requestsDeleted, err := j.oauthRequests.DeleteStale(cleanupCtx, now.Add(-1*time.Hour))
	if err != nil {
		j.logger.Error("failed to delete stale oauth requests", slog.Any("error", err))
	}

	if tokensDeleted > 0 || requestsDeleted > 0 {
		j.logger.Info("cleanup completed",
			slog.Int64("refresh_tokens_deleted", tokensDeleted),
			slog.Int64("oauth_requests_deleted", requestsDeleted))
	}
}
