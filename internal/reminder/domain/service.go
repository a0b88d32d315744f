package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidSchedule     = errors.New("invalid_schedule")
	ErrInvalidChannel      = errors.New("invalid_channel")
)

// Channel is optional on every schedule request; an empty value books the
// reminder for email delivery.
type ScheduleInvoiceRemindersRequest struct {
	InvoiceID     snowflake.ID
	CustomerID    snowflake.ID
	InvoiceNumber string
	AmountDue     int64
	DueAt         time.Time
	Channel       string
}

type ScheduleRenewalReminderRequest struct {
	SubscriptionID snowflake.ID
	CustomerID     snowflake.ID
	PlanName       string
	Amount         int64
	NextBillingAt  time.Time
	Channel        string
}

type ScheduleTrialEndingReminderRequest struct {
	SubscriptionID snowflake.ID
	CustomerID     snowflake.ID
	PlanName       string
	TrialEndAt     time.Time
	Channel        string
}

// ProcessResult summarizes one dispatch sweep. Send failures never abort
// the sweep; they land in Failed.
type ProcessResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type Service interface {
	// ScheduleInvoiceReminders books the configured before-due reminders
	// (slots already in the past are skipped) and one overdue reminder
	// after the due date.
	ScheduleInvoiceReminders(ctx context.Context, req ScheduleInvoiceRemindersRequest) ([]PaymentReminder, error)
	CancelInvoiceReminders(ctx context.Context, invoiceID snowflake.ID) (int64, error)

	ScheduleRenewalReminder(ctx context.Context, req ScheduleRenewalReminderRequest) (*PaymentReminder, error)
	ScheduleTrialEndingReminder(ctx context.Context, req ScheduleTrialEndingReminderRequest) (*PaymentReminder, error)
	CancelSubscriptionReminders(ctx context.Context, subscriptionID snowflake.ID) (int64, error)

	// ProcessScheduled sends every reminder due by now, up to limit.
	ProcessScheduled(ctx context.Context, now time.Time, limit int) (ProcessResult, error)
}
