package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/clock"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/config"
	customerdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/customer/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/orgcontext"
	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
	reminderdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/domain"
	subscriptiondomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/subscription/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Billing      *config.BillingConfigHolder
	Repo         subscriptiondomain.Repository
	CustomerRepo customerdomain.Repository
	Payments     paymentdomain.Service
	Reminders    reminderdomain.Service
	Audit        auditdomain.Service
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	billing      *config.BillingConfigHolder
	repo         subscriptiondomain.Repository
	customerRepo customerdomain.Repository
	payments     paymentdomain.Service
	reminders    reminderdomain.Service
	audit        auditdomain.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("subscription.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		billing:      p.Billing,
		repo:         p.Repo,
		customerRepo: p.CustomerRepo,
		payments:     p.Payments,
		reminders:    p.Reminders,
		audit:        p.Audit,
	}
}

func AsService(s *Service) subscriptiondomain.Service { return s }

// AsSettler exposes the service as the payment-side settlement hook.
func AsSettler(s *Service) paymentdomain.SubscriptionSettler { return s }

func validInterval(interval subscriptiondomain.BillingInterval) bool {
	switch interval {
	case subscriptiondomain.IntervalWeekly, subscriptiondomain.IntervalMonthly, subscriptiondomain.IntervalYearly:
		return true
	default:
		return false
	}
}

// advancePeriodEnd moves a period boundary forward by one billing cycle.
func advancePeriodEnd(from time.Time, interval subscriptiondomain.BillingInterval) time.Time {
	switch interval {
	case subscriptiondomain.IntervalWeekly:
		return from.AddDate(0, 0, 7)
	case subscriptiondomain.IntervalYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// periodDays approximates cycle length for proration. MONTHLY counts as 30.
func periodDays(interval subscriptiondomain.BillingInterval) int64 {
	switch interval {
	case subscriptiondomain.IntervalWeekly:
		return 7
	case subscriptiondomain.IntervalYearly:
		return 365
	default:
		return 30
	}
}

func billingKey(id snowflake.ID, periodEnd time.Time) string {
	return fmt.Sprintf("sub-%s-%s", id.String(), periodEnd.UTC().Format("20060102"))
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	if req.Amount <= 0 {
		return nil, subscriptiondomain.ErrInvalidAmount
	}
	if !validInterval(req.Interval) {
		return nil, subscriptiondomain.ErrInvalidInterval
	}
	if req.TrialDays < 0 {
		return nil, subscriptiondomain.ErrInvalidTrialDays
	}
	if req.DiscountRate < 0 || req.DiscountRate >= 1 {
		return nil, subscriptiondomain.ErrInvalidDiscountRate
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return nil, subscriptiondomain.ErrInvalidCustomer
	}
	customer, err := s.customerRepo.FindByID(ctx, s.db, orgID, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, subscriptiondomain.ErrInvalidCustomer
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "JPY"
	}

	now := s.clock.Now()
	subscription := subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		OrgID:              orgID,
		CustomerID:         customerID,
		PlanName:           strings.TrimSpace(req.PlanName),
		Amount:             req.Amount,
		Currency:           currency,
		Interval:           req.Interval,
		DiscountRate:       req.DiscountRate,
		CurrentPeriodStart: now,
		Metadata:           datatypes.JSONMap(req.Metadata),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if subscription.Metadata == nil {
		subscription.Metadata = datatypes.JSONMap{}
	}

	if req.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, req.TrialDays)
		subscription.Status = subscriptiondomain.SubscriptionStatusTrialing
		subscription.TrialEndAt = &trialEnd
		subscription.CurrentPeriodEnd = trialEnd
		subscription.NextBillingAt = trialEnd
	} else {
		// billed immediately below; the successful charge advances the
		// period, so the window starts zero-length
		subscription.Status = subscriptiondomain.SubscriptionStatusIncomplete
		subscription.CurrentPeriodEnd = now
		subscription.NextBillingAt = now
	}

	if err := s.repo.Insert(ctx, s.db, &subscription); err != nil {
		return nil, err
	}

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     auditdomain.ActionCreate,
		EntityType: auditdomain.EntitySubscription,
		EntityID:   subscription.ID.String(),
		After: map[string]any{
			"plan_name": subscription.PlanName,
			"amount":    subscription.Amount,
			"interval":  subscription.Interval,
			"status":    subscription.Status,
		},
	})

	if req.TrialDays > 0 {
		if _, err := s.reminders.ScheduleTrialEndingReminder(ctx, reminderdomain.ScheduleTrialEndingReminderRequest{
			SubscriptionID: subscription.ID,
			CustomerID:     customerID,
			PlanName:       subscription.PlanName,
			TrialEndAt:     *subscription.TrialEndAt,
		}); err != nil {
			s.log.Warn("trial reminder scheduling failed",
				zap.String("subscription_id", subscription.ID.String()),
				zap.Error(err),
			)
		}
		return &subscription, nil
	}

	if err := s.ProcessSubscriptionPayment(ctx, subscription.ID); err != nil {
		s.log.Warn("initial subscription charge failed",
			zap.String("subscription_id", subscription.ID.String()),
			zap.Error(err),
		)
	}

	return s.repo.FindByID(ctx, s.db, orgID, subscription.ID)
}

func (s *Service) Get(ctx context.Context, id string) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	subscriptionID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || subscriptionID == 0 {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	subscription, err := s.repo.FindByID(ctx, s.db, orgID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) List(ctx context.Context, req subscriptiondomain.ListSubscriptionRequest) (subscriptiondomain.ListSubscriptionResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.ListSubscriptionResponse{}, subscriptiondomain.ErrInvalidOrganization
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, orgID, subscriptiondomain.ListFilter{
		Status:     req.Status,
		CustomerID: req.CustomerID,
	}, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(subscription *subscriptiondomain.Subscription) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        subscription.ID.String(),
			CreatedAt: subscription.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	subscriptions := make([]subscriptiondomain.Subscription, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		subscriptions = append(subscriptions, *item)
	}

	resp := subscriptiondomain.ListSubscriptionResponse{Subscriptions: subscriptions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	subscriptionID, err := snowflake.ParseString(strings.TrimSpace(req.SubscriptionID))
	if err != nil || subscriptionID == 0 {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	subscription, err := s.repo.FindByID(ctx, s.db, orgID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if subscription.Status == subscriptiondomain.SubscriptionStatusCanceled {
		return nil, subscriptiondomain.ErrAlreadyCanceled
	}

	now := s.clock.Now()
	if req.AtPeriodEnd {
		// status unchanged; the next billing run finds the lapsed period
		// and cancels instead of charging
		if err := s.repo.SetCancel(ctx, s.db, subscriptionID, subscription.Status, true, nil); err != nil {
			return nil, err
		}
	} else {
		if err := s.cancelNow(ctx, subscription, now); err != nil {
			return nil, err
		}
	}

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     auditdomain.ActionCancel,
		EntityType: auditdomain.EntitySubscription,
		EntityID:   subscriptionID.String(),
		Before:     map[string]any{"status": subscription.Status},
		Metadata:   map[string]any{"at_period_end": req.AtPeriodEnd},
	})

	return s.repo.FindByID(ctx, s.db, orgID, subscriptionID)
}

func (s *Service) cancelNow(ctx context.Context, subscription *subscriptiondomain.Subscription, now time.Time) error {
	if err := s.repo.SetCancel(ctx, s.db, subscription.ID,
		subscriptiondomain.SubscriptionStatusCanceled, subscription.CancelAtPeriodEnd, &now); err != nil {
		return err
	}
	if _, err := s.reminders.CancelSubscriptionReminders(ctx, subscription.ID); err != nil {
		s.log.Warn("subscription reminder cancel failed",
			zap.String("subscription_id", subscription.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

func (s *Service) ChangePlan(ctx context.Context, req subscriptiondomain.ChangePlanRequest) (*subscriptiondomain.ChangePlanResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	if req.NewAmount <= 0 {
		return nil, subscriptiondomain.ErrInvalidAmount
	}
	mode := strings.ToLower(strings.TrimSpace(req.ProrationMode))
	if mode == "" {
		mode = subscriptiondomain.ProrationImmediate
	}
	if mode != subscriptiondomain.ProrationImmediate && mode != subscriptiondomain.ProrationNextCycle {
		return nil, subscriptiondomain.ErrInvalidProrationMode
	}

	subscriptionID, err := snowflake.ParseString(strings.TrimSpace(req.SubscriptionID))
	if err != nil || subscriptionID == 0 {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	subscription, err := s.repo.FindByID(ctx, s.db, orgID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if !subscription.Billable() {
		return nil, subscriptiondomain.ErrNotBillable
	}

	planName := strings.TrimSpace(req.PlanName)
	if planName == "" {
		planName = subscription.PlanName
	}

	resp := &subscriptiondomain.ChangePlanResponse{}

	if mode == subscriptiondomain.ProrationImmediate {
		now := s.clock.Now()
		remainingDays := int64(subscription.CurrentPeriodEnd.Sub(now).Hours() / 24)
		if remainingDays < 0 {
			remainingDays = 0
		}
		proration := (req.NewAmount - subscription.Amount) * remainingDays / periodDays(subscription.Interval)
		resp.ProrationAmount = proration

		// downgrades carry no credit; the lower amount simply applies
		// from the next cycle
		if proration > 0 {
			payment, err := s.payments.ChargeDefaultMethod(ctx, subscription.CustomerID, proration,
				fmt.Sprintf("plan change proration: %s", planName), &subscription.ID)
			if err != nil {
				return nil, err
			}
			resp.ProrationPayment = &payment.ID
		}
	}

	if err := s.repo.SetPlan(ctx, s.db, subscriptionID, planName, req.NewAmount); err != nil {
		return nil, err
	}

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     auditdomain.ActionUpdate,
		EntityType: auditdomain.EntitySubscription,
		EntityID:   subscriptionID.String(),
		Before:     map[string]any{"plan_name": subscription.PlanName, "amount": subscription.Amount},
		After:      map[string]any{"plan_name": planName, "amount": req.NewAmount},
		Metadata:   map[string]any{"proration_mode": mode, "proration_amount": resp.ProrationAmount},
	})

	updated, err := s.repo.FindByID(ctx, s.db, orgID, subscriptionID)
	if err != nil {
		return nil, err
	}
	resp.Subscription = *updated
	return resp, nil
}

// ProcessSubscriptionPayment charges one billing cycle. Calling it twice for
// the same period is a no-op: the attempt's idempotency key is unique per
// (subscription, period end).
func (s *Service) ProcessSubscriptionPayment(ctx context.Context, id snowflake.ID) error {
	subscription, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return err
	}
	if subscription == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	ctx = orgcontext.WithOrgID(ctx, subscription.OrgID)
	now := s.clock.Now()

	if subscription.CancelAtPeriodEnd && !now.Before(subscription.CurrentPeriodEnd) {
		if err := s.cancelNow(ctx, subscription, now); err != nil {
			return err
		}
		s.audit.Log(ctx, auditdomain.Entry{
			OrgID:      &subscription.OrgID,
			Action:     auditdomain.ActionCancel,
			EntityType: auditdomain.EntitySubscription,
			EntityID:   subscription.ID.String(),
			Metadata:   map[string]any{"at_period_end": true},
		})
		return nil
	}

	if !subscription.Billable() {
		return subscriptiondomain.ErrNotBillable
	}

	customer, err := s.customerRepo.FindByID(ctx, s.db, subscription.OrgID, subscription.CustomerID)
	if err != nil {
		return err
	}
	if customer == nil {
		return subscriptiondomain.ErrInvalidCustomer
	}

	billing, err := s.payments.CalculateBilling(ctx, subscription.Amount, subscription.DiscountRate, customer.Region)
	if err != nil {
		return err
	}

	attempt := subscriptiondomain.BillingAttempt{
		ID:             s.genID.Generate(),
		OrgID:          subscription.OrgID,
		SubscriptionID: subscription.ID,
		IdempotencyKey: billingKey(subscription.ID, subscription.CurrentPeriodEnd),
		Amount:         billing.TaxableAmount,
		Status:         subscriptiondomain.AttemptStatusPending,
		AttemptedAt:    now,
		CreatedAt:      now,
	}
	inserted, err := s.repo.InsertAttempt(ctx, s.db, &attempt)
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := s.repo.FindAttemptByKey(ctx, s.db, attempt.IdempotencyKey)
		if err != nil {
			return err
		}
		// pending and succeeded attempts own the period; only a failed one
		// may be retried
		if existing == nil || existing.Status != subscriptiondomain.AttemptStatusFailed {
			s.log.Debug("billing period already attempted",
				zap.String("subscription_id", subscription.ID.String()),
				zap.String("idempotency_key", attempt.IdempotencyKey),
			)
			return nil
		}
		attempt.ID = existing.ID
		if err := s.repo.ResolveAttempt(ctx, s.db, existing.ID,
			subscriptiondomain.AttemptStatusPending, nil, ""); err != nil {
			return err
		}
	}

	payment, err := s.payments.ChargeDefaultMethod(ctx, subscription.CustomerID, billing.TaxableAmount,
		fmt.Sprintf("subscription renewal: %s", subscription.PlanName), &subscription.ID)
	if err != nil {
		reason := "charge_failed"
		if errors.Is(err, paymentdomain.ErrNoDefaultMethod) {
			reason = "no_default_method"
		}
		if resolveErr := s.repo.ResolveAttempt(ctx, s.db, attempt.ID,
			subscriptiondomain.AttemptStatusFailed, nil, reason); resolveErr != nil {
			s.log.Error("billing attempt resolution failed", zap.Error(resolveErr))
		}
		s.markFailure(ctx, subscription, reason)
		return err
	}

	switch payment.Status {
	case paymentdomain.StatusSucceeded:
		if err := s.repo.ResolveAttempt(ctx, s.db, attempt.ID,
			subscriptiondomain.AttemptStatusSucceeded, &payment.ID, ""); err != nil {
			return err
		}
		return s.advanceAfterCharge(ctx, subscription)
	case paymentdomain.StatusFailed, paymentdomain.StatusCanceled:
		if err := s.repo.ResolveAttempt(ctx, s.db, attempt.ID,
			subscriptiondomain.AttemptStatusFailed, &payment.ID, "provider_declined"); err != nil {
			return err
		}
		s.markFailure(ctx, subscription, "provider_declined")
		return fmt.Errorf("subscription charge declined: payment %s", payment.ID.String())
	default:
		// async settlement; OnPaymentSucceeded advances the period when
		// the provider confirms
		return s.repo.ResolveAttempt(ctx, s.db, attempt.ID,
			subscriptiondomain.AttemptStatusPending, &payment.ID, "")
	}
}

func (s *Service) advanceAfterCharge(ctx context.Context, subscription *subscriptiondomain.Subscription) error {
	periodStart := subscription.CurrentPeriodEnd
	periodEnd := advancePeriodEnd(periodStart, subscription.Interval)

	if err := s.repo.AdvancePeriod(ctx, s.db, subscription.ID,
		periodStart, periodEnd, periodEnd, subscriptiondomain.SubscriptionStatusActive); err != nil {
		return err
	}

	if _, err := s.reminders.ScheduleRenewalReminder(ctx, reminderdomain.ScheduleRenewalReminderRequest{
		SubscriptionID: subscription.ID,
		CustomerID:     subscription.CustomerID,
		PlanName:       subscription.PlanName,
		Amount:         subscription.Amount,
		NextBillingAt:  periodEnd,
	}); err != nil {
		s.log.Warn("renewal reminder scheduling failed",
			zap.String("subscription_id", subscription.ID.String()),
			zap.Error(err),
		)
	}

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &subscription.OrgID,
		Action:     auditdomain.ActionStatusChange,
		EntityType: auditdomain.EntitySubscription,
		EntityID:   subscription.ID.String(),
		Before:     map[string]any{"status": subscription.Status},
		After: map[string]any{
			"status":          subscriptiondomain.SubscriptionStatusActive,
			"next_billing_at": periodEnd,
		},
	})

	return nil
}

// markFailure moves the subscription to its failure status and bumps the
// attempt counter. Repeated failures escalate: INCOMPLETE expires, PAST_DUE
// becomes UNPAID, once the configured attempt budget is spent.
func (s *Service) markFailure(ctx context.Context, subscription *subscriptiondomain.Subscription, reason string) {
	maxAttempts := s.billing.Get().Retry.MaxBillingAttempts
	next := subscription.FailedAttempts + 1

	status := subscriptiondomain.SubscriptionStatusPastDue
	switch subscription.Status {
	case subscriptiondomain.SubscriptionStatusIncomplete:
		status = subscriptiondomain.SubscriptionStatusIncomplete
		if next >= maxAttempts {
			status = subscriptiondomain.SubscriptionStatusIncompleteExpired
		}
	case subscriptiondomain.SubscriptionStatusPastDue:
		if next >= maxAttempts {
			status = subscriptiondomain.SubscriptionStatusUnpaid
		}
	}

	if err := s.repo.MarkBillingFailure(ctx, s.db, subscription.ID, status); err != nil {
		s.log.Error("subscription failure update failed",
			zap.String("subscription_id", subscription.ID.String()),
			zap.Error(err),
		)
		return
	}

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &subscription.OrgID,
		Action:     auditdomain.ActionPaymentFail,
		EntityType: auditdomain.EntitySubscription,
		EntityID:   subscription.ID.String(),
		Before:     map[string]any{"status": subscription.Status},
		After:      map[string]any{"status": status},
		Metadata:   map[string]any{"reason": reason, "failed_attempts": next},
	})
}

func (s *Service) ProcessPendingBilling(ctx context.Context, now time.Time, limit int) (subscriptiondomain.BatchResult, error) {
	if limit <= 0 {
		limit = 100
	}

	var due []subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		due, err = s.repo.ClaimDueBillable(ctx, tx, now, limit)
		return err
	})
	if err != nil {
		return subscriptiondomain.BatchResult{}, err
	}

	result := subscriptiondomain.BatchResult{}
	for _, subscription := range due {
		if err := s.ProcessSubscriptionPayment(ctx, subscription.ID); err != nil {
			result.Failed++
			result.Errors = append(result.Errors,
				fmt.Sprintf("subscription %s: %v", subscription.ID.String(), err))
			continue
		}
		result.Processed++
	}

	if result.Processed > 0 || result.Failed > 0 {
		s.log.Info("billing sweep finished",
			zap.Int("processed", result.Processed),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

func (s *Service) ChurnMetrics(ctx context.Context, from, to time.Time) (*subscriptiondomain.ChurnMetrics, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	rows, err := s.repo.ChurnRows(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	metrics := &subscriptiondomain.ChurnMetrics{}
	for _, row := range rows {
		switch row.Status {
		case subscriptiondomain.SubscriptionStatusActive:
			metrics.ActiveCount++
			metrics.MonthlyRecurringRevenue += monthlyAmount(row.Amount, row.Interval)
		case subscriptiondomain.SubscriptionStatusTrialing:
			metrics.TrialingCount++
		case subscriptiondomain.SubscriptionStatusPastDue:
			metrics.PastDueCount++
		case subscriptiondomain.SubscriptionStatusCanceled:
			if row.CanceledAt != nil && !row.CanceledAt.Before(from) && row.CanceledAt.Before(to) {
				metrics.CanceledInPeriod++
			}
		}
	}

	base := metrics.ActiveCount + metrics.TrialingCount + metrics.PastDueCount + metrics.CanceledInPeriod
	if base > 0 {
		metrics.ChurnRate = float64(metrics.CanceledInPeriod) / float64(base)
	}
	return metrics, nil
}

// monthlyAmount normalizes a per-period amount to a monthly figure for MRR.
func monthlyAmount(amount int64, interval subscriptiondomain.BillingInterval) int64 {
	switch interval {
	case subscriptiondomain.IntervalWeekly:
		return amount * 30 / 7
	case subscriptiondomain.IntervalYearly:
		return amount / 12
	default:
		return amount
	}
}
