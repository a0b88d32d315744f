package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// DailyReport is one organization's payment activity for one day.
type DailyReport struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id,string"`
	OrgID          snowflake.ID `gorm:"uniqueIndex:idx_daily_reports_org_date;not null" json:"org_id,string"`
	ReportDate     time.Time    `gorm:"uniqueIndex:idx_daily_reports_org_date;not null" json:"report_date"`
	PaymentCount   int64        `gorm:"not null;default:0" json:"payment_count"`
	SucceededCount int64        `gorm:"not null;default:0" json:"succeeded_count"`
	FailedCount    int64        `gorm:"not null;default:0" json:"failed_count"`
	SuccessRate    float64      `gorm:"not null;default:0" json:"success_rate"`
	Revenue        int64        `gorm:"not null;default:0" json:"revenue"`
	RefundCount    int64        `gorm:"not null;default:0" json:"refund_count"`
	RefundTotal    int64        `gorm:"not null;default:0" json:"refund_total"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (DailyReport) TableName() string { return "daily_reports" }

type paymentDayRow struct {
	OrgID          snowflake.ID
	PaymentCount   int64
	SucceededCount int64
	FailedCount    int64
	Revenue        int64
}

type refundDayRow struct {
	OrgID       snowflake.ID
	RefundCount int64
	RefundTotal int64
}

// generateDailyReports upserts one row per organization with payment
// activity inside [dayStart, dayEnd). Re-running the job for the same
// day overwrites rather than duplicates.
func (s *Scheduler) generateDailyReports(ctx context.Context, dayStart, dayEnd time.Time) (int, error) {
	var payments []paymentDayRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT org_id,
		        COUNT(*) AS payment_count,
		        SUM(CASE WHEN status = 'SUCCEEDED' THEN 1 ELSE 0 END) AS succeeded_count,
		        SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END) AS failed_count,
		        SUM(CASE WHEN status = 'SUCCEEDED' THEN amount ELSE 0 END) AS revenue
		 FROM payments
		 WHERE created_at >= ? AND created_at < ?
		 GROUP BY org_id`,
		dayStart,
		dayEnd,
	).Scan(&payments).Error
	if err != nil {
		return 0, err
	}

	var refunds []refundDayRow
	err = s.db.WithContext(ctx).Raw(
		`SELECT org_id,
		        COUNT(*) AS refund_count,
		        SUM(amount) AS refund_total
		 FROM payment_refunds
		 WHERE created_at >= ? AND created_at < ?
		 GROUP BY org_id`,
		dayStart,
		dayEnd,
	).Scan(&refunds).Error
	if err != nil {
		return 0, err
	}

	refundsByOrg := make(map[snowflake.ID]refundDayRow, len(refunds))
	for _, row := range refunds {
		refundsByOrg[row.OrgID] = row
	}

	now := s.clock.Now()
	written := 0
	var jobErr error
	for _, row := range payments {
		report := DailyReport{
			ID:             s.genID.Generate(),
			OrgID:          row.OrgID,
			ReportDate:     dayStart,
			PaymentCount:   row.PaymentCount,
			SucceededCount: row.SucceededCount,
			FailedCount:    row.FailedCount,
			Revenue:        row.Revenue,
			RefundCount:    refundsByOrg[row.OrgID].RefundCount,
			RefundTotal:    refundsByOrg[row.OrgID].RefundTotal,
		}
		if row.PaymentCount > 0 {
			report.SuccessRate = float64(row.SucceededCount) / float64(row.PaymentCount)
		}
		if err := s.upsertDailyReport(ctx, &report, now); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("daily report write failed",
				zap.String("org_id", row.OrgID.String()),
				zap.Error(err),
			)
			continue
		}
		written++
	}
	return written, jobErr
}

func (s *Scheduler) upsertDailyReport(ctx context.Context, report *DailyReport, now time.Time) error {
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO daily_reports
		   (id, org_id, report_date, payment_count, succeeded_count, failed_count,
		    success_rate, revenue, refund_count, refund_total, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, report_date)
		 DO UPDATE SET payment_count = EXCLUDED.payment_count,
		               succeeded_count = EXCLUDED.succeeded_count,
		               failed_count = EXCLUDED.failed_count,
		               success_rate = EXCLUDED.success_rate,
		               revenue = EXCLUDED.revenue,
		               refund_count = EXCLUDED.refund_count,
		               refund_total = EXCLUDED.refund_total,
		               updated_at = EXCLUDED.updated_at`,
		report.ID,
		report.OrgID,
		report.ReportDate,
		report.PaymentCount,
		report.SucceededCount,
		report.FailedCount,
		report.SuccessRate,
		report.Revenue,
		report.RefundCount,
		report.RefundTotal,
		now,
		now,
	).Error
}
