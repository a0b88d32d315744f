package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, reminder *PaymentReminder) error
	// ClaimDue locks and returns up to limit SCHEDULED reminders due by now.
	ClaimDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*PaymentReminder, error)
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, sentAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) error
	CancelByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) (int64, error)
	CancelBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (int64, error)
}
