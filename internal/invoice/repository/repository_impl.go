package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/invoice/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice) error {
	return tx.WithContext(ctx).Create(invoice).Error
}

func (r *repo) InsertItem(ctx context.Context, tx *gorm.DB, item *domain.InvoiceItem) error {
	return tx.WithContext(ctx).Create(item).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM invoices WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) FindItems(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) ([]domain.InvoiceItem, error) {
	var items []domain.InvoiceItem
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM invoice_items WHERE invoice_id = ? ORDER BY id ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Invoice, error) {
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
	if filter.IssuedFrom != nil {
		conditions = append(conditions, "issued_at >= ?")
		args = append(args, filter.IssuedFrom.UTC())
	}
	if filter.IssuedTo != nil {
		conditions = append(conditions, "issued_at <= ?")
		args = append(args, filter.IssuedTo.UTC())
	}
	if filter.DueFrom != nil {
		conditions = append(conditions, "due_at >= ?")
		args = append(args, filter.DueFrom.UTC())
	}
	if filter.DueTo != nil {
		conditions = append(conditions, "due_at <= ?")
		args = append(args, filter.DueTo.UTC())
	}

	size := page.PageSize
	if size <= 0 {
		size = 20
	}

	query := `SELECT * FROM invoices WHERE ` + strings.Join(conditions, " AND ")

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

	var invoices []*domain.Invoice
	if err := tx.WithContext(ctx).Raw(query, args...).Scan(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) UpdateStatus(ctx context.Context, tx *gorm.DB, id snowflake.ID, fromStatus, toStatus domain.InvoiceStatus, paidAt *time.Time) (int64, error) {
	var stamp any
	if paidAt != nil {
		stamp = paidAt.UTC()
	}
	result := tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?,
		     paid_at = COALESCE(paid_at, ?),
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		toStatus,
		stamp,
		id,
		fromStatus,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) MarkPaid(ctx context.Context, tx *gorm.DB, id snowflake.ID, paidAt time.Time) (int64, error) {
	result := tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?,
		     paid_at = COALESCE(paid_at, ?),
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status IN (?, ?, ?)`,
		domain.InvoiceStatusPaid,
		paidAt.UTC(),
		id,
		domain.InvoiceStatusOpen,
		domain.InvoiceStatusOverdue,
		domain.InvoiceStatusPartial,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) SetPDF(ctx context.Context, tx *gorm.DB, id snowflake.ID, url string, generatedAt time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET pdf_url = ?, pdf_generated_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		url,
		generatedAt.UTC(),
		id,
	).Error
}

func (r *repo) AnalyticsRows(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]domain.AnalyticsRow, error) {
	var rows []domain.AnalyticsRow
	err := tx.WithContext(ctx).Raw(
		`SELECT customer_id, status, total, issued_at
		 FROM invoices
		 WHERE org_id = ? AND issued_at >= ? AND issued_at < ?`,
		orgID,
		from.UTC(),
		to.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
