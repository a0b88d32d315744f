package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
)

// AdapterConfig carries provider credentials and policy into an adapter.
type AdapterConfig struct {
	OrgID    snowflake.ID
	Provider string
	Config   map[string]any
}

// InitiateRequest asks a provider to start collecting one payment.
type InitiateRequest struct {
	PaymentID  snowflake.ID
	CustomerID snowflake.ID
	Amount     int64
	Currency   string
	// MethodExternalID is the provider-side id of a stored payment method.
	// When present, card providers auto-confirm the charge.
	MethodExternalID string
	Description      string
	Metadata         map[string]string
}

// InitiateResult is the provider's normalized answer.
type InitiateResult struct {
	ExternalID string
	Status     string // one of the Payment statuses
	Metadata   map[string]any
}

type RefundRequest struct {
	Payment *Payment
	Amount  int64
	Reason  string
}

type RefundResult struct {
	ExternalID  string
	Status      string
	ProcessedAt time.Time
}

// PaymentAdapter is the provider contract. Refund is optional: providers
// that cannot refund return ErrRefundUnsupported.
type PaymentAdapter interface {
	Provider() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	CheckStatus(ctx context.Context, externalID string) (string, error)
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}
