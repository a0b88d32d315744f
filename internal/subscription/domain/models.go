// Package domain contains persistence models for subscription billing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive            SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue           SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled          SubscriptionStatus = "CANCELED"
	SubscriptionStatusIncomplete        SubscriptionStatus = "INCOMPLETE"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "INCOMPLETE_EXPIRED"
	SubscriptionStatusUnpaid            SubscriptionStatus = "UNPAID"
)

// BillingInterval is the cycle length of a subscription.
type BillingInterval string

const (
	IntervalWeekly  BillingInterval = "WEEKLY"
	IntervalMonthly BillingInterval = "MONTHLY"
	IntervalYearly  BillingInterval = "YEARLY"
)

// Subscription captures a customer's recurring billing agreement. Amount is
// the pre-tax, pre-discount price per period in minor units.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	OrgID              snowflake.ID       `gorm:"not null;index" json:"organization_id"`
	CustomerID         snowflake.ID       `gorm:"not null;index" json:"customer_id"`
	PlanName           string             `gorm:"column:plan_name;type:text;not null" json:"plan_name"`
	Amount             int64              `gorm:"not null" json:"amount"`
	Currency           string             `gorm:"type:text;not null;default:'JPY'" json:"currency"`
	Interval           BillingInterval    `gorm:"column:billing_interval;type:text;not null" json:"interval"`
	DiscountRate       float64            `gorm:"column:discount_rate;not null;default:0" json:"discount_rate"`
	Status             SubscriptionStatus `gorm:"type:text;not null;index" json:"status"`
	TrialEndAt         *time.Time         `gorm:"column:trial_end_at" json:"trial_end_at,omitempty"`
	CurrentPeriodStart time.Time          `gorm:"column:current_period_start;not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `gorm:"column:current_period_end;not null" json:"current_period_end"`
	NextBillingAt      time.Time          `gorm:"column:next_billing_at;not null;index" json:"next_billing_at"`
	CancelAtPeriodEnd  bool               `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	CanceledAt         *time.Time         `gorm:"column:canceled_at" json:"canceled_at,omitempty"`
	FailedAttempts     int                `gorm:"column:failed_attempts;not null;default:0" json:"failed_attempts"`
	Metadata           datatypes.JSONMap  `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Billable reports whether a billing attempt may charge this subscription.
func (s *Subscription) Billable() bool {
	switch s.Status {
	case SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusIncomplete:
		return true
	default:
		return false
	}
}

// AttemptStatus is the outcome of one billing attempt.
type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "PENDING"
	AttemptStatusSucceeded AttemptStatus = "SUCCEEDED"
	AttemptStatusFailed    AttemptStatus = "FAILED"
)

// BillingAttempt records one charge attempt for one billing period. The
// idempotency key is unique per (subscription, period end), so overlapping
// billing runs cannot double-charge a period.
type BillingAttempt struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID  `gorm:"not null;index" json:"organization_id"`
	SubscriptionID snowflake.ID  `gorm:"not null;index" json:"subscription_id"`
	PaymentID      *snowflake.ID `gorm:"column:payment_id" json:"payment_id,omitempty"`
	IdempotencyKey string        `gorm:"column:idempotency_key;type:text;not null;uniqueIndex" json:"idempotency_key"`
	Amount         int64         `gorm:"not null" json:"amount"`
	Status         AttemptStatus `gorm:"type:text;not null;default:'PENDING'" json:"status"`
	FailureReason  string        `gorm:"column:failure_reason;type:text" json:"failure_reason,omitempty"`
	AttemptedAt    time.Time     `gorm:"column:attempted_at;not null" json:"attempted_at"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (BillingAttempt) TableName() string { return "billing_attempts" }
