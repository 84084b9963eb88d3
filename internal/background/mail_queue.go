package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/aviary-social/aviary/internal/services"
)

// MailQueue dispatches outbound mail off the request path. Enqueue never
// blocks: when the buffer is full the job is dropped and logged, because a
// security notice is advisory and must not stall a login response.
type MailQueue struct {
	mailer services.MailService
	logger *slog.Logger
	jobs   chan func(ctx context.Context)
	stopCh chan struct{}
}

// NewMailQueue creates a mail queue with the given buffer size.
func NewMailQueue(mailer services.MailService, logger *slog.Logger, size int) *MailQueue {
	return &MailQueue{
		mailer: mailer,
		logger: logger,
		jobs:   make(chan func(ctx context.Context), size),
		stopCh: make(chan struct{}),
	}
}

// Start runs the dispatch loop until Stop or context cancellation.
func (q *MailQueue) Start(ctx context.Context) {
	for {
		select {
		case job := <-q.jobs:
			jobCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			job(jobCtx)
			cancel()
		case <-q.stopCh:
			q.logger.Info("mail queue stopped")
			return
		case <-ctx.Done():
			q.logger.Info("mail queue context cancelled")
			return
		}
	}
}

// Stop signals the queue to stop
func (q *MailQueue) Stop() {
	close(q.stopCh)
}

// NotifyNewLogin enqueues a new-login alert.
func (q *MailQueue) NotifyNewLogin(email, ipAddress string, at time.Time) {
	q.enqueue(func(ctx context.Context) {
		if err := q.mailer.SendNewLoginAlert(ctx, email, ipAddress, at); err != nil {
			q.logger.Error("failed to send new-login alert", slog.Any("error", err))
		}
	})
}

// NotifyTwoFactorChanged enqueues a two-factor change alert.
func (q *MailQueue) NotifyTwoFactorChanged(email string, enabled bool) {
	q.enqueue(func(ctx context.Context) {
		if err := q.mailer.SendTwoFactorChangedAlert(ctx, email, enabled); err != nil {
			q.logger.Error("failed to send two-factor alert", slog.Any("error", err))
		}
	})
}

func (q *MailQueue) enqueue(job func(ctx context.Context)) {
	select {
	case q.jobs <- job:
	default:
		q.logger.Warn("mail queue full, dropping job")
	}
}
