package domain

import "errors"

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrProviderNotFound     = errors.New("provider_not_found")
	ErrInvalidConfig        = errors.New("invalid_provider_config")
	ErrCustomerNotFound     = errors.New("customer_not_found")
	ErrPaymentNotFound      = errors.New("payment_not_found")
	ErrMethodNotFound       = errors.New("payment_method_not_found")
	ErrNoDefaultMethod      = errors.New("no_default_payment_method")
	ErrNotRefundable        = errors.New("payment_not_refundable")
	ErrRefundExceedsAmount  = errors.New("refund_exceeds_amount")
	ErrRefundUnsupported    = errors.New("refund_unsupported")
	ErrPartialRefundDenied  = errors.New("partial_refund_denied")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrInvalidEvent         = errors.New("invalid_event")
	ErrEventIgnored         = errors.New("event_ignored")
	ErrCodeNotFound         = errors.New("payment_code_not_found")
	ErrCodeExpired          = errors.New("payment_code_expired")
	ErrAlreadyPaid          = errors.New("already_paid")
	ErrInvalidDiscountRate  = errors.New("invalid_discount_rate")
	ErrProviderUnavailable  = errors.New("provider_unavailable")
)
