package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidCustomer      = errors.New("invalid_customer")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidInterval      = errors.New("invalid_billing_interval")
	ErrInvalidTrialDays     = errors.New("invalid_trial_days")
	ErrInvalidDiscountRate  = errors.New("invalid_discount_rate")
	ErrNotBillable          = errors.New("subscription_not_billable")
	ErrAlreadyCanceled      = errors.New("subscription_already_canceled")
	ErrInvalidProrationMode = errors.New("invalid_proration_mode")
)

// Proration modes for plan changes.
const (
	ProrationImmediate = "immediate"
	ProrationNextCycle = "next_cycle"
)

type CreateSubscriptionRequest struct {
	CustomerID   string          `json:"customer_id"`
	PlanName     string          `json:"plan_name"`
	Amount       int64           `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	Interval     BillingInterval `json:"interval"`
	TrialDays    int             `json:"trial_days,omitempty"`
	DiscountRate float64         `json:"discount_rate,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

type CancelSubscriptionRequest struct {
	SubscriptionID string `json:"subscription_id"`
	AtPeriodEnd    bool   `json:"at_period_end"`
}

type ChangePlanRequest struct {
	SubscriptionID string `json:"subscription_id"`
	PlanName       string `json:"plan_name"`
	NewAmount      int64  `json:"new_amount"`
	// ProrationMode is "immediate" (charge the difference now) or
	// "next_cycle" (the new amount applies from the next billing run).
	ProrationMode string `json:"proration_mode"`
}

type ChangePlanResponse struct {
	Subscription     Subscription  `json:"subscription"`
	ProrationAmount  int64         `json:"proration_amount"`
	ProrationPayment *snowflake.ID `json:"proration_payment_id,omitempty"`
}

type ListSubscriptionRequest struct {
	pagination.Pagination
	Status     *SubscriptionStatus
	CustomerID *snowflake.ID
}

type ListSubscriptionResponse struct {
	pagination.PageInfo
	Subscriptions []Subscription `json:"subscriptions"`
}

// BatchResult summarizes one billing sweep. Item failures are recorded, not
// propagated.
type BatchResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

type ChurnMetrics struct {
	ActiveCount      int64   `json:"active_count"`
	TrialingCount    int64   `json:"trialing_count"`
	PastDueCount     int64   `json:"past_due_count"`
	CanceledInPeriod int64   `json:"canceled_in_period"`
	ChurnRate        float64 `json:"churn_rate"`
	// MonthlyRecurringRevenue normalizes every active subscription's amount
	// to a monthly figure.
	MonthlyRecurringRevenue int64 `json:"monthly_recurring_revenue"`
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context, req ListSubscriptionRequest) (ListSubscriptionResponse, error)

	Cancel(ctx context.Context, req CancelSubscriptionRequest) (*Subscription, error)
	ChangePlan(ctx context.Context, req ChangePlanRequest) (*ChangePlanResponse, error)

	// ProcessSubscriptionPayment runs one billing cycle for one
	// subscription: charge the default method and advance the period.
	ProcessSubscriptionPayment(ctx context.Context, id snowflake.ID) error

	// ProcessPendingBilling claims due billable subscriptions and bills
	// each independently.
	ProcessPendingBilling(ctx context.Context, now time.Time, limit int) (BatchResult, error)

	ChurnMetrics(ctx context.Context, from, to time.Time) (*ChurnMetrics, error)
}
