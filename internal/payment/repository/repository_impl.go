package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	return tx.WithContext(ctx).Create(payment).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM payments WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) Find(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM payments WHERE id = ?`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindByExternalID(ctx context.Context, tx *gorm.DB, provider, externalID string) (*domain.Payment, error) {
	var payment domain.Payment
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM payments WHERE provider = ? AND external_id = ?`,
		provider,
		externalID,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) UpdateStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, fromStatus, toStatus string, paidAt *time.Time, failureReason *string) (int64, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?,
		     paid_at = COALESCE(paid_at, ?),
		     failure_reason = COALESCE(?, failure_reason),
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		toStatus,
		paidAt,
		failureReason,
		id,
		fromStatus,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) SetStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, status string, paidAt *time.Time, failureReason *string) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?,
		     paid_at = COALESCE(paid_at, ?),
		     failure_reason = COALESCE(?, failure_reason),
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status,
		paidAt,
		failureReason,
		id,
	).Error
}

func (r *repo) SetExternalID(ctx context.Context, tx *gorm.DB, id snowflake.ID, externalID string) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE payments SET external_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		externalID,
		id,
	).Error
}

func (r *repo) ListFailedRetryable(ctx context.Context, tx *gorm.DB, since time.Time, limit int) ([]*domain.Payment, error) {
	var payments []*domain.Payment
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM payments
		 WHERE status = ? AND created_at >= ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.StatusFailed,
		since.UTC(),
		limit,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) DailyStatsByOrg(ctx context.Context, tx *gorm.DB, dayStart, dayEnd time.Time) ([]domain.DailyStats, error) {
	var stats []domain.DailyStats
	err := tx.WithContext(ctx).Raw(
		`SELECT p.org_id,
		        COUNT(*) AS total_count,
		        SUM(CASE WHEN p.status IN (?, ?, ?) THEN 1 ELSE 0 END) AS succeeded_count,
		        SUM(CASE WHEN p.status = ? THEN 1 ELSE 0 END) AS failed_count,
		        SUM(CASE WHEN p.status IN (?, ?, ?) THEN p.amount ELSE 0 END) AS revenue,
		        COALESCE((
		            SELECT SUM(r.amount) FROM payment_refunds r
		            WHERE r.org_id = p.org_id
		              AND r.processed_at >= ? AND r.processed_at < ?
		        ), 0) AS refund_total
		 FROM payments p
		 WHERE p.created_at >= ? AND p.created_at < ?
		 GROUP BY p.org_id`,
		domain.StatusSucceeded, domain.StatusRefunded, domain.StatusPartiallyRefunded,
		domain.StatusFailed,
		domain.StatusSucceeded, domain.StatusRefunded, domain.StatusPartiallyRefunded,
		dayStart.UTC(), dayEnd.UTC(),
		dayStart.UTC(), dayEnd.UTC(),
	).Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *repo) InsertRefund(ctx context.Context, tx *gorm.DB, refund *domain.PaymentRefund) error {
	return tx.WithContext(ctx).Create(refund).Error
}

func (r *repo) SumRefunds(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM payment_refunds WHERE payment_id = ?`,
		paymentID,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) InsertKonbini(ctx context.Context, tx *gorm.DB, leg *domain.KonbiniPayment) error {
	return tx.WithContext(ctx).Create(leg).Error
}

func (r *repo) FindKonbiniByCode(ctx context.Context, tx *gorm.DB, code string) (*domain.KonbiniPayment, error) {
	var leg domain.KonbiniPayment
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM konbini_payments WHERE payment_code = ?`,
		code,
	).Scan(&leg).Error
	if err != nil {
		return nil, err
	}
	if leg.ID == 0 {
		return nil, nil
	}
	return &leg, nil
}

func (r *repo) MarkKonbiniPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, paidAt time.Time) (int64, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE konbini_payments
		 SET status = ?, paid_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		domain.SubStatusPaid,
		paidAt.UTC(),
		id,
		domain.SubStatusPending,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) ExpireKonbiniOverdue(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var claimed []struct {
		ID        snowflake.ID `gorm:"column:id"`
		PaymentID snowflake.ID `gorm:"column:payment_id"`
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT id, payment_id FROM konbini_payments
		 WHERE status = ? AND expires_at < ?
		 ORDER BY expires_at ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		domain.SubStatusPending,
		now.UTC(),
		limit,
	).Scan(&claimed).Error
	if err != nil {
		return nil, err
	}

	expired := make([]snowflake.ID, 0, len(claimed))
	for _, row := range claimed {
		result := tx.WithContext(ctx).Exec(
			`UPDATE konbini_payments
			 SET status = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND status = ?`,
			domain.SubStatusExpired,
			row.ID,
			domain.SubStatusPending,
		)
		if result.Error != nil {
			return expired, result.Error
		}
		if result.RowsAffected == 0 {
			continue
		}
		expired = append(expired, row.PaymentID)
	}
	return expired, nil
}

func (r *repo) InsertPayPay(ctx context.Context, tx *gorm.DB, leg *domain.PayPayPayment) error {
	return tx.WithContext(ctx).Create(leg).Error
}

func (r *repo) FindPayPayByPayment(ctx context.Context, tx *gorm.DB, paymentID snowflake.ID) (*domain.PayPayPayment, error) {
	var leg domain.PayPayPayment
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM paypay_payments WHERE payment_id = ?`,
		paymentID,
	).Scan(&leg).Error
	if err != nil {
		return nil, err
	}
	if leg.ID == 0 {
		return nil, nil
	}
	return &leg, nil
}

func (r *repo) MarkPayPayPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, paidAt time.Time) (int64, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE paypay_payments
		 SET status = ?, paid_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		domain.SubStatusPaid,
		paidAt.UTC(),
		id,
		domain.SubStatusPending,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) InsertEvent(ctx context.Context, tx *gorm.DB, record *domain.EventRecord) (bool, error) {
	err := tx.WithContext(ctx).Create(record).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repo) FindEvent(ctx context.Context, tx *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var record domain.EventRecord
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM payment_events WHERE provider = ? AND provider_event_id = ?`,
		provider,
		providerEventID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, tx *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = COALESCE(processed_at, ?)
		 WHERE id = ?`,
		processedAt.UTC(),
		id,
	).Error
}
