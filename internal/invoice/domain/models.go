// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "DRAFT"
	InvoiceStatusOpen    InvoiceStatus = "OPEN"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusVoid    InvoiceStatus = "VOID"
	InvoiceStatusOverdue InvoiceStatus = "OVERDUE"
	InvoiceStatusPartial InvoiceStatus = "PARTIAL"
)

// Invoice represents a generated invoice. Amounts are tax-inclusive minor
// units; InvoiceNumber is unique per organization.
type Invoice struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_invoice_number,priority:1" json:"organization_id"`
	CustomerID     snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	SubscriptionID *snowflake.ID     `gorm:"index" json:"subscription_id,omitempty"`
	InvoiceNumber  string            `gorm:"column:invoice_number;not null;uniqueIndex:ux_invoice_number,priority:2" json:"invoice_number"`
	Status         InvoiceStatus     `gorm:"type:text;not null;default:'DRAFT';index" json:"status"`
	Subtotal       int64             `gorm:"not null;default:0" json:"subtotal"`
	TaxAmount      int64             `gorm:"column:tax_amount;not null;default:0" json:"tax_amount"`
	Total          int64             `gorm:"not null;default:0" json:"total"`
	Currency       string            `gorm:"type:text;not null;default:'JPY'" json:"currency"`
	IssuedAt       time.Time         `gorm:"column:issued_at;not null" json:"issued_at"`
	DueAt          time.Time         `gorm:"column:due_at;not null" json:"due_at"`
	PaidAt         *time.Time        `gorm:"column:paid_at" json:"paid_at,omitempty"`
	PDFURL         *string           `gorm:"column:pdf_url" json:"pdf_url,omitempty"`
	PDFGeneratedAt *time.Time        `gorm:"column:pdf_generated_at" json:"pdf_generated_at,omitempty"`
	Notes          string            `gorm:"type:text" json:"notes,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Settleable reports whether a payment can still settle this invoice.
func (i *Invoice) Settleable() bool {
	switch i.Status {
	case InvoiceStatusOpen, InvoiceStatusOverdue, InvoiceStatusPartial:
		return true
	default:
		return false
	}
}

// InvoiceItem represents a line on an invoice.
type InvoiceItem struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	InvoiceID   snowflake.ID      `gorm:"not null;index" json:"invoice_id"`
	Description string            `gorm:"type:text" json:"description"`
	Quantity    int64             `gorm:"not null" json:"quantity"`
	UnitAmount  int64             `gorm:"column:unit_amount;not null" json:"unit_amount"`
	Amount      int64             `gorm:"not null" json:"amount"`
	TaxCategory string            `gorm:"column:tax_category;type:text;not null;default:'STANDARD'" json:"tax_category"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }
