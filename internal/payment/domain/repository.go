package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// DailyStats is one org's aggregate payment activity for a day.
type DailyStats struct {
	OrgID          snowflake.ID `gorm:"column:org_id"`
	TotalCount     int64        `gorm:"column:total_count"`
	SucceededCount int64        `gorm:"column:succeeded_count"`
	FailedCount    int64        `gorm:"column:failed_count"`
	Revenue        int64        `gorm:"column:revenue"`
	RefundTotal    int64        `gorm:"column:refund_total"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	// Find looks a payment up without the org filter; webhook processing
	// resolves the org from the row itself.
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, provider, externalID string) (*Payment, error)
	// UpdateStatus transitions status only when the row still holds
	// fromStatus; the affected-row count tells the caller whether the
	// transition happened here or elsewhere.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, fromStatus, toStatus string, paidAt *time.Time, failureReason *string) (int64, error)
	SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, paidAt *time.Time, failureReason *string) error
	SetExternalID(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string) error
	ListFailedRetryable(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]*Payment, error)
	DailyStatsByOrg(ctx context.Context, db *gorm.DB, dayStart, dayEnd time.Time) ([]DailyStats, error)

	InsertRefund(ctx context.Context, db *gorm.DB, refund *PaymentRefund) error
	SumRefunds(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error)

	InsertKonbini(ctx context.Context, db *gorm.DB, leg *KonbiniPayment) error
	FindKonbiniByCode(ctx context.Context, db *gorm.DB, code string) (*KonbiniPayment, error)
	// MarkKonbiniPaid flips the leg PENDING -> PAID; zero rows affected
	// means another caller got there first or the leg expired.
	MarkKonbiniPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time) (int64, error)
	// ExpireKonbiniOverdue claims and expires up to limit PENDING legs past
	// their deadline, returning the ids of the parent payments marked here.
	ExpireKonbiniOverdue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)

	InsertPayPay(ctx context.Context, db *gorm.DB, leg *PayPayPayment) error
	FindPayPayByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*PayPayPayment, error)
	MarkPayPayPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time) (int64, error)

	// InsertEvent returns false when the provider event id was already
	// recorded; the duplicate insert is not an error.
	InsertEvent(ctx context.Context, db *gorm.DB, record *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
