package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/subscription/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, subscription *domain.Subscription) error {
	return tx.WithContext(ctx).Create(subscription).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) Find(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var subscription domain.Subscription
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions WHERE id = ?`,
		id,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) List(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Subscription, error) {
	conditions := []string{"org_id = ?"}
	args := []any{orgID}

	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.CustomerID != nil {
		conditions = append(conditions, "customer_id = ?")
		args = append(args, *filter.CustomerID)
	}

	size := page.PageSize
	if size <= 0 {
		size = 50
	}

	query := `SELECT * FROM subscriptions WHERE ` + strings.Join(conditions, " AND ")

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339, cursor.CreatedAt)
		if err != nil {
			return nil, err
		}
		query += ` AND (created_at, id) < (?, ?)`
		args = append(args, ts, cursor.ID)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, size+1)

	var subscriptions []*domain.Subscription
	if err := tx.WithContext(ctx).Raw(query, args...).Scan(&subscriptions).Error; err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) UpdateStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, fromStatus, toStatus domain.SubscriptionStatus) (int64, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		toStatus,
		id,
		fromStatus,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) AdvancePeriod(ctx context.Context, tx *gorm.DB, id snowflake.ID, periodStart, periodEnd, nextBillingAt time.Time, status domain.SubscriptionStatus) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET current_period_start = ?,
		     current_period_end = ?,
		     next_billing_at = ?,
		     status = ?,
		     failed_attempts = 0,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		periodStart.UTC(),
		periodEnd.UTC(),
		nextBillingAt.UTC(),
		status,
		id,
	).Error
}

func (r *repo) MarkBillingFailure(ctx context.Context, tx *gorm.DB, id snowflake.ID, status domain.SubscriptionStatus) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?,
		     failed_attempts = failed_attempts + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status,
		id,
	).Error
}

func (r *repo) SetCancel(ctx context.Context, tx *gorm.DB, id snowflake.ID, status domain.SubscriptionStatus, cancelAtPeriodEnd bool, canceledAt *time.Time) error {
	var stamp any
	if canceledAt != nil {
		stamp = canceledAt.UTC()
	}
	return tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?,
		     cancel_at_period_end = ?,
		     canceled_at = COALESCE(canceled_at, ?),
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status,
		cancelAtPeriodEnd,
		stamp,
		id,
	).Error
}

func (r *repo) SetPlan(ctx context.Context, tx *gorm.DB, id snowflake.ID, planName string, amount int64) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET plan_name = ?, amount = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		planName,
		amount,
		id,
	).Error
}

func (r *repo) ClaimDueBillable(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]domain.Subscription, error) {
	var subscriptions []domain.Subscription
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM subscriptions
		 WHERE next_billing_at <= ?
		   AND status IN (?, ?, ?, ?)
		 ORDER BY next_billing_at ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		now.UTC(),
		domain.SubscriptionStatusTrialing,
		domain.SubscriptionStatusActive,
		domain.SubscriptionStatusPastDue,
		domain.SubscriptionStatusIncomplete,
		limit,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) InsertAttempt(ctx context.Context, tx *gorm.DB, attempt *domain.BillingAttempt) (bool, error) {
	if err := tx.WithContext(ctx).Create(attempt).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repo) FindAttemptByKey(ctx context.Context, tx *gorm.DB, key string) (*domain.BillingAttempt, error) {
	var attempt domain.BillingAttempt
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM billing_attempts WHERE idempotency_key = ?`,
		key,
	).Scan(&attempt).Error
	if err != nil {
		return nil, err
	}
	if attempt.ID == 0 {
		return nil, nil
	}
	return &attempt, nil
}

func (r *repo) ResolveAttempt(ctx context.Context, tx *gorm.DB, id snowflake.ID, status domain.AttemptStatus, paymentID *snowflake.ID, failureReason string) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE billing_attempts
		 SET status = ?, payment_id = ?, failure_reason = ?
		 WHERE id = ?`,
		status,
		paymentID,
		failureReason,
		id,
	).Error
}

func (r *repo) ChurnRows(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) ([]domain.ChurnRow, error) {
	var rows []domain.ChurnRow
	err := tx.WithContext(ctx).Raw(
		`SELECT status, billing_interval, amount, canceled_at
		 FROM subscriptions
		 WHERE org_id = ?`,
		orgID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
