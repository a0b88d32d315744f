package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	subscriptiondomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/subscription/domain"
)

func (s *Scheduler) subscriptionBillingJob(ctx context.Context) (int, error) {
	result, err := s.subscription.ProcessPendingBilling(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		return result.Processed, err
	}
	for _, item := range result.Errors {
		s.log.Warn("billing item failed", zap.String("detail", item))
	}
	if result.Failed > 0 {
		return result.Processed, fmt.Errorf("billing sweep: %d of %d items failed", result.Failed, result.Processed+result.Failed)
	}
	return result.Processed, nil
}

func (s *Scheduler) konbiniCleanupJob(ctx context.Context) (int, error) {
	expired, err := s.payment.ExpireOverdueKonbini(ctx, s.clock.Now(), s.cfg.BatchSize)
	return int(expired), err
}

func (s *Scheduler) reminderDispatchJob(ctx context.Context) (int, error) {
	result, err := s.reminder.ProcessScheduled(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		return result.Sent, err
	}
	if result.Failed > 0 {
		return result.Sent, fmt.Errorf("reminder dispatch: %d of %d sends failed", result.Failed, result.Sent+result.Failed)
	}
	return result.Sent, nil
}

// retryCandidate is one failed-but-retriable subscription claimed for
// another charge attempt.
type retryCandidate struct {
	ID         snowflake.ID
	OrgID      snowflake.ID
	CustomerID snowflake.ID
}

// failedRetryJob re-attempts subscriptions with a recorded charge
// failure, bounded by the configured retry cap. Customers without a
// default stored method are skipped outright so the sweep does not burn
// attempts that cannot succeed.
func (s *Scheduler) failedRetryJob(ctx context.Context) (int, error) {
	now := s.clock.Now()
	maxRetries := s.billing.Get().Retry.MaxFailedRetries

	var candidates []retryCandidate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Raw(
			`SELECT id, org_id, customer_id
			 FROM subscriptions
			 WHERE status IN (?, ?)
			   AND failed_attempts > 0
			   AND failed_attempts < ?
			   AND next_billing_at <= ?
			 ORDER BY next_billing_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT ?`,
			subscriptiondomain.SubscriptionStatusPastDue,
			subscriptiondomain.SubscriptionStatusIncomplete,
			maxRetries,
			now,
			s.cfg.BatchSize,
		).Scan(&candidates).Error
	})
	if err != nil {
		return 0, err
	}

	processed := 0
	var jobErr error
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			jobErr = errors.Join(jobErr, ctx.Err())
			break
		}

		method, err := s.customerRepo.FindDefaultMethod(ctx, s.db, candidate.OrgID, candidate.CustomerID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if method == nil {
			s.log.Debug("retry skipped, no default method",
				zap.String("subscription_id", candidate.ID.String()),
			)
			continue
		}

		if err := s.subscription.ProcessSubscriptionPayment(ctx, candidate.ID); err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("subscription %s: %w", candidate.ID, err))
			continue
		}
		processed++
	}
	return processed, jobErr
}

func (s *Scheduler) dailyReportJob(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	dayEnd := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayStart := dayEnd.AddDate(0, 0, -1)
	return s.generateDailyReports(ctx, dayStart, dayEnd)
}
