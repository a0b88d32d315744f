package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, reminder *domain.PaymentReminder) error {
	return tx.WithContext(ctx).Create(reminder).Error
}

func (r *repo) ClaimDue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*domain.PaymentReminder, error) {
	var reminders []*domain.PaymentReminder
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM payment_reminders
		 WHERE status = ? AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		domain.StatusScheduled,
		now.UTC(),
		limit,
	).Scan(&reminders).Error
	if err != nil {
		return nil, err
	}
	return reminders, nil
}

func (r *repo) MarkSent(ctx context.Context, tx *gorm.DB, id snowflake.ID, sentAt time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE payment_reminders
		 SET status = ?, sent_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		domain.StatusSent,
		sentAt.UTC(),
		id,
		domain.StatusScheduled,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE payment_reminders
		 SET status = ?, failure_reason = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		domain.StatusFailed,
		reason,
		id,
		domain.StatusScheduled,
	).Error
}

func (r *repo) CancelByInvoice(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (int64, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE payment_reminders
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE invoice_id = ? AND status = ?`,
		domain.StatusCanceled,
		invoiceID,
		domain.StatusScheduled,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) CancelBySubscription(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) (int64, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE payment_reminders
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE subscription_id = ? AND status = ?`,
		domain.StatusCanceled,
		subscriptionID,
		domain.StatusScheduled,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
