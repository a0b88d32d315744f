package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/orgcontext"
	subscriptiondomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/subscription/domain"
)

// OnPaymentSucceeded settles an asynchronously confirmed charge (konbini,
// paypay) into the subscription. It only acts when a billing attempt is
// still open for the current period, which makes webhook replays harmless:
// after the period advances the key no longer matches.
func (s *Service) OnPaymentSucceeded(ctx context.Context, orgID, subscriptionID snowflake.ID, paidAt time.Time) error {
	subscription, err := s.repo.FindByID(ctx, s.db, orgID, subscriptionID)
	if err != nil {
		return err
	}
	if subscription == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	ctx = orgcontext.WithOrgID(ctx, orgID)

	attempt, err := s.repo.FindAttemptByKey(ctx, s.db, billingKey(subscriptionID, subscription.CurrentPeriodEnd))
	if err != nil {
		return err
	}
	if attempt == nil || attempt.Status == subscriptiondomain.AttemptStatusSucceeded {
		return nil
	}

	if err := s.repo.ResolveAttempt(ctx, s.db, attempt.ID,
		subscriptiondomain.AttemptStatusSucceeded, attempt.PaymentID, ""); err != nil {
		return err
	}

	s.log.Info("subscription payment settled",
		zap.String("subscription_id", subscriptionID.String()),
		zap.Time("paid_at", paidAt),
	)
	return s.advanceAfterCharge(ctx, subscription)
}

// OnPaymentFailed records a provider-side failure for the current period.
func (s *Service) OnPaymentFailed(ctx context.Context, orgID, subscriptionID snowflake.ID, reason string) error {
	subscription, err := s.repo.FindByID(ctx, s.db, orgID, subscriptionID)
	if err != nil {
		return err
	}
	if subscription == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	if !subscription.Billable() {
		return nil
	}

	ctx = orgcontext.WithOrgID(ctx, orgID)

	attempt, err := s.repo.FindAttemptByKey(ctx, s.db, billingKey(subscriptionID, subscription.CurrentPeriodEnd))
	if err != nil {
		return err
	}
	if attempt != nil && attempt.Status == subscriptiondomain.AttemptStatusPending {
		if err := s.repo.ResolveAttempt(ctx, s.db, attempt.ID,
			subscriptiondomain.AttemptStatusFailed, attempt.PaymentID, reason); err != nil {
			return err
		}
	}

	s.markFailure(ctx, subscription, reason)
	return nil
}
