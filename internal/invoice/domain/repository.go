package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

// AnalyticsRow is the flat projection the service aggregates from.
type AnalyticsRow struct {
	CustomerID snowflake.ID  `gorm:"column:customer_id"`
	Status     InvoiceStatus `gorm:"column:status"`
	Total      int64         `gorm:"column:total"`
	IssuedAt   time.Time     `gorm:"column:issued_at"`
}

type ListFilter struct {
	Status     *InvoiceStatus
	CustomerID *snowflake.ID
	IssuedFrom *time.Time
	IssuedTo   *time.Time
	DueFrom    *time.Time
	DueTo      *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertItem(ctx context.Context, db *gorm.DB, item *InvoiceItem) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	FindItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceItem, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*Invoice, error)

	// UpdateStatus transitions only from fromStatus; the affected-row count
	// reports whether this call won the transition.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, fromStatus, toStatus InvoiceStatus, paidAt *time.Time) (int64, error)
	// MarkPaid settles from any settleable status, idempotently.
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, paidAt time.Time) (int64, error)
	SetPDF(ctx context.Context, db *gorm.DB, id snowflake.ID, url string, generatedAt time.Time) error

	AnalyticsRows(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]AnalyticsRow, error)
}
