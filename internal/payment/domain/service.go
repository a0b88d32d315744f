package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"

	customerdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/customer/domain"
)

type CreatePaymentRequest struct {
	CustomerID     string
	Provider       string
	Amount         int64 // pre-tax, minor units
	Currency       string
	Description    string
	InvoiceID      *snowflake.ID
	SubscriptionID *snowflake.ID
	// MethodID selects a stored payment method; empty falls back to the
	// customer's default for card charges.
	MethodID string
	Metadata map[string]string
}

type CreatePaymentResponse struct {
	Payment Payment         `json:"payment"`
	Konbini *KonbiniPayment `json:"konbini,omitempty"`
	PayPay  *PayPayPayment  `json:"paypay,omitempty"`
}

type RefundPaymentRequest struct {
	PaymentID string
	Amount    int64
	Reason    string
}

type AddPaymentMethodRequest struct {
	CustomerID  string
	Type        string
	Provider    string
	ExternalID  string
	MaskedID    string
	Brand       string
	ExpiryMonth int
	ExpiryYear  int
	IsDefault   bool
}

// BillingCalculation is the outcome of CalculateBilling: the discount is
// applied before tax.
type BillingCalculation struct {
	BaseAmount     int64   `json:"base_amount"`
	DiscountAmount int64   `json:"discount_amount"`
	TaxableAmount  int64   `json:"taxable_amount"`
	TaxAmount      int64   `json:"tax_amount"`
	Total          int64   `json:"total"`
	TaxRate        float64 `json:"tax_rate"`
}

type Service interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResponse, error)
	RefundPayment(ctx context.Context, req RefundPaymentRequest) (*PaymentRefund, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)

	AddPaymentMethod(ctx context.Context, req AddPaymentMethodRequest) (*customerdomain.PaymentMethod, error)
	RemovePaymentMethod(ctx context.Context, methodID string) error
	ListPaymentMethods(ctx context.Context, customerID string) ([]*customerdomain.PaymentMethod, error)

	CalculateBilling(ctx context.Context, amount int64, discountRate float64, region string) (*BillingCalculation, error)

	ConfirmKonbiniPayment(ctx context.Context, code string, paidAt time.Time) (*Payment, error)
	ExpireOverdueKonbini(ctx context.Context, now time.Time, limit int) (int64, error)

	// ChargeDefaultMethod charges the customer's default stored method.
	// Absence of a default method is ErrNoDefaultMethod.
	ChargeDefaultMethod(ctx context.Context, customerID snowflake.ID, amount int64, description string, subscriptionID *snowflake.ID) (*Payment, error)

	// ProcessEvent applies a verified, parsed provider event. Events whose
	// external id maps to no Payment are logged and ignored.
	ProcessEvent(ctx context.Context, event *PaymentEvent, raw []byte) error
}

// InvoiceSettler lets a succeeded payment flow into the invoice that it
// settles, synchronously within the same call chain.
type InvoiceSettler interface {
	MarkPaid(ctx context.Context, orgID, invoiceID snowflake.ID, paidAt time.Time) error
}

// SubscriptionSettler lets payment outcomes flow into subscription state.
type SubscriptionSettler interface {
	OnPaymentSucceeded(ctx context.Context, orgID, subscriptionID snowflake.ID, paidAt time.Time) error
	OnPaymentFailed(ctx context.Context, orgID, subscriptionID snowflake.ID, reason string) error
}

// WebhookService ingests raw provider callbacks.
type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}
