package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

type ListFilter struct {
	Status     *SubscriptionStatus
	CustomerID *snowflake.ID
}

// ChurnRow is the flat projection ChurnMetrics aggregates from.
type ChurnRow struct {
	Status     SubscriptionStatus `gorm:"column:status"`
	Interval   BillingInterval    `gorm:"column:billing_interval"`
	Amount     int64              `gorm:"column:amount"`
	CanceledAt *time.Time         `gorm:"column:canceled_at"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)
	// Find looks a subscription up without the org filter; billing sweeps
	// and payment settlement resolve the org from the row itself.
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*Subscription, error)

	// UpdateStatus transitions only from fromStatus; affected rows report
	// whether this call won.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, fromStatus, toStatus SubscriptionStatus) (int64, error)

	// AdvancePeriod moves the billing window forward and resets the failure
	// counter after a successful charge.
	AdvancePeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, periodStart, periodEnd, nextBillingAt time.Time, status SubscriptionStatus) error

	// MarkBillingFailure sets the status and increments failed_attempts.
	MarkBillingFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus) error

	SetCancel(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, cancelAtPeriodEnd bool, canceledAt *time.Time) error
	SetPlan(ctx context.Context, db *gorm.DB, id snowflake.ID, planName string, amount int64) error

	// ClaimDueBillable locks up to limit due billable subscriptions with
	// FOR UPDATE SKIP LOCKED; callers bill each inside the same transaction.
	ClaimDueBillable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)

	// InsertAttempt returns false without error when the idempotency key is
	// already recorded.
	InsertAttempt(ctx context.Context, db *gorm.DB, attempt *BillingAttempt) (bool, error)
	FindAttemptByKey(ctx context.Context, db *gorm.DB, key string) (*BillingAttempt, error)
	ResolveAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID, status AttemptStatus, paymentID *snowflake.ID, failureReason string) error

	ChurnRows(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]ChurnRow, error)
}
