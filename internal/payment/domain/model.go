package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Payment statuses. SUCCEEDED is the only status a refund can start from.
const (
	StatusPending           = "PENDING"
	StatusProcessing        = "PROCESSING"
	StatusSucceeded         = "SUCCEEDED"
	StatusFailed            = "FAILED"
	StatusCanceled          = "CANCELED"
	StatusRefunded          = "REFUNDED"
	StatusPartiallyRefunded = "PARTIALLY_REFUNDED"
)

// Providers known to the registry.
const (
	ProviderStripe  = "stripe"
	ProviderPayPay  = "paypay"
	ProviderKonbini = "konbini"
)

// Sub-record statuses for provider-specific payment legs.
const (
	SubStatusPending = "PENDING"
	SubStatusPaid    = "PAID"
	SubStatusExpired = "EXPIRED"
)

type Payment struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID          snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	CustomerID     snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	InvoiceID      *snowflake.ID     `gorm:"column:invoice_id;index" json:"invoice_id,omitempty"`
	SubscriptionID *snowflake.ID     `gorm:"column:subscription_id;index" json:"subscription_id,omitempty"`
	Provider       string            `gorm:"not null" json:"provider"`
	ExternalID     *string           `gorm:"column:external_id;index" json:"external_id,omitempty"`
	Amount         int64             `gorm:"not null" json:"amount"` // minor units, tax included
	TaxAmount      int64             `gorm:"column:tax_amount;not null;default:0" json:"tax_amount"`
	Currency       string            `gorm:"not null;default:'JPY'" json:"currency"`
	Status         string            `gorm:"not null;index" json:"status"`
	Description    string            `gorm:"type:text" json:"description,omitempty"`
	FailureReason  *string           `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	PaidAt         *time.Time        `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// Refundable reports whether refunds may be issued against this payment.
func (p *Payment) Refundable() bool {
	switch p.Status {
	case StatusSucceeded, StatusPartiallyRefunded:
		return true
	default:
		return false
	}
}

type PaymentRefund struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID `gorm:"not null;index" json:"organization_id"`
	PaymentID   snowflake.ID `gorm:"not null;index" json:"payment_id"`
	ExternalID  *string      `gorm:"column:external_id" json:"external_id,omitempty"`
	Amount      int64        `gorm:"not null" json:"amount"`
	Reason      string       `gorm:"type:text" json:"reason,omitempty"`
	ProcessedAt time.Time    `gorm:"column:processed_at;not null" json:"processed_at"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (PaymentRefund) TableName() string { return "payment_refunds" }

// KonbiniPayment is the store-code leg of a konbini payment, one row per
// parent Payment. The code is presented at the register; the row expires if
// unpaid past expires_at.
type KonbiniPayment struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	PaymentID   snowflake.ID `gorm:"not null;uniqueIndex" json:"payment_id"`
	PaymentCode string       `gorm:"column:payment_code;not null;uniqueIndex" json:"payment_code"`
	Barcode     string       `gorm:"type:text" json:"barcode,omitempty"`    // base64 PNG, Code128
	QRPayload   string       `gorm:"column:qr_payload;type:text" json:"qr_payload,omitempty"`
	StoreChain  string       `gorm:"column:store_chain" json:"store_chain,omitempty"`
	Status      string       `gorm:"not null;index" json:"status"`
	ExpiresAt   time.Time    `gorm:"column:expires_at;not null;index" json:"expires_at"`
	PaidAt      *time.Time   `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (KonbiniPayment) TableName() string { return "konbini_payments" }

// PayPayPayment is the QR-wallet leg, one row per parent Payment. QR codes
// expire 24 hours after creation.
type PayPayPayment struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	PaymentID  snowflake.ID `gorm:"not null;uniqueIndex" json:"payment_id"`
	ExternalID string       `gorm:"column:external_id;not null" json:"external_id"`
	QRCodeURL  string       `gorm:"column:qr_code_url;type:text" json:"qr_code_url,omitempty"`
	Deeplink   string       `gorm:"type:text" json:"deeplink,omitempty"`
	Status     string       `gorm:"not null;index" json:"status"`
	ExpiresAt  time.Time    `gorm:"column:expires_at;not null" json:"expires_at"`
	PaidAt     *time.Time   `gorm:"column:paid_at" json:"paid_at,omitempty"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (PayPayPayment) TableName() string { return "paypay_payments" }

// EventRecord stores every accepted webhook event for idempotent processing.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID           snowflake.ID   `json:"org_id" gorm:"not null;index"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypePaymentExpired   = "payment_expired"
	EventTypeRefunded         = "refunded"
)

// PaymentEvent is the canonical payment event parsed by adapters.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	ProviderPaymentID string
	Type              string
	OrgID             snowflake.ID
	Amount            int64
	Currency          string
	OccurredAt        time.Time
	RawPayload        []byte
}
