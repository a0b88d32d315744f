package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/domain"
	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
)

// ProcessEvent applies one verified provider event exactly once. The event
// row's unique (provider, provider_event_id) index drives the dedupe: a
// duplicate that was fully processed is a silent no-op, a duplicate left
// unprocessed by a crash is resumed.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent, raw []byte) error {
	if event == nil || event.Provider == "" || event.ProviderEventID == "" || event.Type == "" {
		return paymentdomain.ErrInvalidEvent
	}

	payment, err := s.resolveEventPayment(ctx, event)
	if err != nil {
		return err
	}

	orgID := event.OrgID
	if payment != nil {
		orgID = payment.OrgID
	}

	now := s.clock.Now()
	record := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		OrgID:           orgID,
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         raw,
		ReceivedAt:      now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if existing == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if existing.ProcessedAt != nil {
			s.log.Debug("duplicate provider event",
				zap.String("provider", event.Provider),
				zap.String("provider_event_id", event.ProviderEventID),
			)
			return nil
		}
		record.ID = existing.ID
	}

	if payment == nil {
		// an event for a payment we never created: log and mark processed so
		// the provider stops retrying
		s.log.Warn("event for unknown payment",
			zap.String("provider", event.Provider),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("provider_payment_id", event.ProviderPaymentID),
			zap.String("type", event.Type),
		)
		return s.repo.MarkEventProcessed(ctx, s.db, record.ID, now)
	}

	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		err = s.applySucceeded(ctx, payment, event)
	case paymentdomain.EventTypePaymentFailed:
		err = s.applyFailed(ctx, payment, "provider_declined")
	case paymentdomain.EventTypePaymentExpired:
		err = s.applyFailed(ctx, payment, "payment_expired")
	case paymentdomain.EventTypeRefunded:
		err = s.applyRefunded(ctx, payment, event)
	default:
		s.log.Warn("unhandled event type",
			zap.String("provider", event.Provider),
			zap.String("type", event.Type),
		)
	}
	if err != nil {
		return err
	}

	return s.repo.MarkEventProcessed(ctx, s.db, record.ID, s.clock.Now())
}

// resolveEventPayment maps the provider's payment reference onto our row.
// Konbini events carry the payment code; card and wallet events carry the
// provider-side external id.
func (s *Service) resolveEventPayment(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.Payment, error) {
	if event.ProviderPaymentID == "" {
		return nil, nil
	}
	if event.Provider == paymentdomain.ProviderKonbini {
		leg, err := s.repo.FindKonbiniByCode(ctx, s.db, event.ProviderPaymentID)
		if err != nil {
			return nil, err
		}
		if leg == nil {
			return nil, nil
		}
		return s.repo.Find(ctx, s.db, leg.PaymentID)
	}
	return s.repo.FindByExternalID(ctx, s.db, event.Provider, event.ProviderPaymentID)
}

func (s *Service) applySucceeded(ctx context.Context, payment *paymentdomain.Payment, event *paymentdomain.PaymentEvent) error {
	paidAt := event.OccurredAt
	if paidAt.IsZero() {
		paidAt = s.clock.Now()
	}

	affected, err := s.repo.UpdateStatus(ctx, s.db, payment.ID, paymentdomain.StatusPending, paymentdomain.StatusSucceeded, &paidAt, nil)
	if err != nil {
		return err
	}
	if affected == 0 {
		affected, err = s.repo.UpdateStatus(ctx, s.db, payment.ID, paymentdomain.StatusProcessing, paymentdomain.StatusSucceeded, &paidAt, nil)
		if err != nil {
			return err
		}
	}
	if affected == 0 {
		s.log.Info("payment already settled",
			zap.String("payment_id", payment.ID.String()),
			zap.String("status", payment.Status),
		)
		return nil
	}

	if err := s.markLegsPaid(ctx, payment, paidAt); err != nil {
		return err
	}

	s.settleSucceeded(ctx, payment, paidAt)

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &payment.OrgID,
		Action:     auditdomain.ActionStatusChange,
		EntityType: auditdomain.EntityPayment,
		EntityID:   payment.ID.String(),
		Before:     map[string]any{"status": payment.Status},
		After:      map[string]any{"status": paymentdomain.StatusSucceeded},
	})
	return nil
}

func (s *Service) markLegsPaid(ctx context.Context, payment *paymentdomain.Payment, paidAt time.Time) error {
	switch payment.Provider {
	case paymentdomain.ProviderPayPay:
		leg, err := s.repo.FindPayPayByPayment(ctx, s.db, payment.ID)
		if err != nil {
			return err
		}
		if leg != nil {
			if _, err := s.repo.MarkPayPayPaid(ctx, s.db, leg.ID, paidAt); err != nil {
				return err
			}
		}
	case paymentdomain.ProviderKonbini:
		// konbini success arrives through ConfirmKonbiniPayment which marks
		// the leg itself; nothing to do here
	}
	return nil
}

// settleSucceeded pushes the settled payment into its invoice and
// subscription. Settler failures are logged, not propagated: the payment
// state is already correct and the cron reconciles the rest.
func (s *Service) settleSucceeded(ctx context.Context, payment *paymentdomain.Payment, paidAt time.Time) {
	if payment.InvoiceID != nil && s.invoiceSettler != nil {
		if err := s.invoiceSettler.MarkPaid(ctx, payment.OrgID, *payment.InvoiceID, paidAt); err != nil {
			s.log.Error("invoice settlement failed",
				zap.String("payment_id", payment.ID.String()),
				zap.String("invoice_id", payment.InvoiceID.String()),
				zap.Error(err),
			)
		}
	}
	if payment.SubscriptionID != nil && s.subscriptionSettler != nil {
		if err := s.subscriptionSettler.OnPaymentSucceeded(ctx, payment.OrgID, *payment.SubscriptionID, paidAt); err != nil {
			s.log.Error("subscription settlement failed",
				zap.String("payment_id", payment.ID.String()),
				zap.String("subscription_id", payment.SubscriptionID.String()),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) applyFailed(ctx context.Context, payment *paymentdomain.Payment, reason string) error {
	affected, err := s.repo.UpdateStatus(ctx, s.db, payment.ID, paymentdomain.StatusPending, paymentdomain.StatusFailed, nil, &reason)
	if err != nil {
		return err
	}
	if affected == 0 {
		affected, err = s.repo.UpdateStatus(ctx, s.db, payment.ID, paymentdomain.StatusProcessing, paymentdomain.StatusFailed, nil, &reason)
		if err != nil {
			return err
		}
	}
	if affected == 0 {
		s.log.Info("failure event for settled payment",
			zap.String("payment_id", payment.ID.String()),
			zap.String("status", payment.Status),
		)
		return nil
	}

	if payment.SubscriptionID != nil && s.subscriptionSettler != nil {
		if err := s.subscriptionSettler.OnPaymentFailed(ctx, payment.OrgID, *payment.SubscriptionID, reason); err != nil {
			s.log.Error("subscription failure propagation failed",
				zap.String("payment_id", payment.ID.String()),
				zap.String("subscription_id", payment.SubscriptionID.String()),
				zap.Error(err),
			)
		}
	}

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &payment.OrgID,
		Action:     auditdomain.ActionPaymentFail,
		EntityType: auditdomain.EntityPayment,
		EntityID:   payment.ID.String(),
		Before:     map[string]any{"status": payment.Status},
		After: map[string]any{
			"status": paymentdomain.StatusFailed,
			"reason": reason,
		},
	})
	return nil
}

func (s *Service) applyRefunded(ctx context.Context, payment *paymentdomain.Payment, event *paymentdomain.PaymentEvent) error {
	refunded, err := s.repo.SumRefunds(ctx, s.db, payment.ID)
	if err != nil {
		return err
	}

	amount := event.Amount
	if amount <= 0 {
		amount = payment.Amount - refunded
	}
	if amount <= 0 {
		return nil
	}

	processedAt := event.OccurredAt
	if processedAt.IsZero() {
		processedAt = s.clock.Now()
	}

	external := event.ProviderEventID
	refund := paymentdomain.PaymentRefund{
		ID:          s.genID.Generate(),
		OrgID:       payment.OrgID,
		PaymentID:   payment.ID,
		ExternalID:  &external,
		Amount:      amount,
		Reason:      "provider_reported",
		ProcessedAt: processedAt,
		CreatedAt:   s.clock.Now(),
	}

	newStatus := paymentdomain.StatusPartiallyRefunded
	if refunded+amount >= payment.Amount {
		newStatus = paymentdomain.StatusRefunded
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertRefund(ctx, tx, &refund); err != nil {
			return err
		}
		return s.repo.SetStatus(ctx, tx, payment.ID, newStatus, nil, nil)
	})
	if err != nil {
		return err
	}

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &payment.OrgID,
		Action:     auditdomain.ActionRefund,
		EntityType: auditdomain.EntityPayment,
		EntityID:   payment.ID.String(),
		Before:     map[string]any{"status": payment.Status},
		After: map[string]any{
			"status":        newStatus,
			"refund_amount": amount,
		},
	})
	return nil
}

// ConfirmKonbiniPayment settles a pending convenience-store payment by its
// payment code. Store clearing files replay, so every failure mode maps to
// a distinct sentinel the caller can act on.
func (s *Service) ConfirmKonbiniPayment(ctx context.Context, code string, paidAt time.Time) (*paymentdomain.Payment, error) {
	leg, err := s.repo.FindKonbiniByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if leg == nil {
		return nil, paymentdomain.ErrCodeNotFound
	}
	if leg.Status == paymentdomain.SubStatusPaid {
		return nil, paymentdomain.ErrAlreadyPaid
	}
	if leg.Status == paymentdomain.SubStatusExpired || paidAt.After(leg.ExpiresAt) {
		return nil, paymentdomain.ErrCodeExpired
	}

	payment, err := s.repo.Find(ctx, s.db, leg.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affected, err := s.repo.MarkKonbiniPaid(ctx, tx, leg.ID, paidAt)
		if err != nil {
			return err
		}
		if affected == 0 {
			return paymentdomain.ErrAlreadyPaid
		}
		if _, err := s.repo.UpdateStatus(ctx, tx, payment.ID, paymentdomain.StatusPending, paymentdomain.StatusSucceeded, &paidAt, nil); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.settleSucceeded(ctx, payment, paidAt)

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &payment.OrgID,
		Action:     auditdomain.ActionStatusChange,
		EntityType: auditdomain.EntityPayment,
		EntityID:   payment.ID.String(),
		Before:     map[string]any{"status": payment.Status},
		After: map[string]any{
			"status":       paymentdomain.StatusSucceeded,
			"payment_code": code,
		},
	})

	updated, err := s.repo.Find(ctx, s.db, payment.ID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ExpireOverdueKonbini fails every pending convenience-store payment whose
// code passed its deadline. The cron calls this in bounded batches.
func (s *Service) ExpireOverdueKonbini(ctx context.Context, now time.Time, limit int) (int64, error) {
	var paymentIDs []snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := s.repo.ExpireKonbiniOverdue(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		reason := "konbini_code_expired"
		for _, id := range ids {
			affected, err := s.repo.UpdateStatus(ctx, tx, id, paymentdomain.StatusPending, paymentdomain.StatusFailed, nil, &reason)
			if err != nil {
				return err
			}
			if affected > 0 {
				paymentIDs = append(paymentIDs, id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range paymentIDs {
		payment, err := s.repo.Find(ctx, s.db, id)
		if err != nil || payment == nil {
			continue
		}
		if payment.SubscriptionID != nil && s.subscriptionSettler != nil {
			if err := s.subscriptionSettler.OnPaymentFailed(ctx, payment.OrgID, *payment.SubscriptionID, "konbini_code_expired"); err != nil {
				s.log.Error("subscription failure propagation failed",
					zap.String("payment_id", id.String()),
					zap.Error(err),
				)
			}
		}
	}

	if len(paymentIDs) > 0 {
		s.log.Info("expired overdue konbini payments", zap.Int("count", len(paymentIDs)))
	}
	return int64(len(paymentIDs)), nil
}
