package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrCustomerNotFound    = errors.New("customer_not_found")
	ErrNoLineItems         = errors.New("no_line_items")
	ErrInvalidLineItem     = errors.New("invalid_line_item")
	ErrInvalidStatus       = errors.New("invalid_invoice_status")
	ErrInvalidTransition   = errors.New("invalid_status_transition")
	ErrNotSettleable       = errors.New("invoice_not_settleable")
)

type LineItemInput struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
	TaxCategory string `json:"tax_category,omitempty"`
}

type CreateInvoiceRequest struct {
	CustomerID     string
	SubscriptionID *snowflake.ID
	DueAt          *time.Time
	Notes          string
	Items          []LineItemInput
	// Open issues the invoice immediately instead of leaving it DRAFT.
	Open bool
}

type InvoiceWithItems struct {
	Invoice Invoice       `json:"invoice"`
	Items   []InvoiceItem `json:"items"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	Status     *InvoiceStatus
	CustomerID *snowflake.ID
	IssuedFrom *time.Time
	IssuedTo   *time.Time
	DueFrom    *time.Time
	DueTo      *time.Time
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

// Analytics aggregates, all within the requested issue window.
type MonthlyRevenue struct {
	Month        string `json:"month"` // YYYY-MM
	InvoiceCount int64  `json:"invoice_count"`
	Revenue      int64  `json:"revenue"` // paid totals only
}

type CustomerRevenue struct {
	CustomerID   snowflake.ID `json:"customer_id"`
	InvoiceCount int64        `json:"invoice_count"`
	Revenue      int64        `json:"revenue"`
}

type Analytics struct {
	StatusCounts map[InvoiceStatus]int64 `json:"status_counts"`
	StatusTotals map[InvoiceStatus]int64 `json:"status_totals"`
	MonthlyTrend []MonthlyRevenue        `json:"monthly_trend"`
	TopCustomers []CustomerRevenue       `json:"top_customers"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (*InvoiceWithItems, error)
	Get(ctx context.Context, id string) (*InvoiceWithItems, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)

	// UpdateStatus applies one lifecycle transition; anything outside the
	// allowed graph is ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, status InvoiceStatus) (*Invoice, error)

	GeneratePDF(ctx context.Context, id string) ([]byte, *Invoice, error)

	Analytics(ctx context.Context, from, to time.Time, topN int) (*Analytics, error)
}
