package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
)

const testSecret = "whsec_test"

func newTestAdapter(t *testing.T) paymentdomain.PaymentAdapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Provider: paymentdomain.ProviderStripe,
		Config: map[string]any{
			"api_key":        "sk_test_abc",
			"webhook_secret": testSecret,
		},
	})
	require.NoError(t, err)
	return adapter
}

func signPayload(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	ts := "1767225600"

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, signPayload(testSecret, ts, payload)))

	assert.NoError(t, adapter.Verify(context.Background(), payload, headers))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_1"}`)
	ts := "1767225600"

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, signPayload("whsec_other", ts, payload)))

	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, headers), paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	adapter := newTestAdapter(t)
	err := adapter.Verify(context.Background(), []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestVerifyAcceptsSecondSignature(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id":"evt_1"}`)
	ts := "1767225600"

	// key rolls produce multiple v1 entries; any valid one passes
	header := fmt.Sprintf("t=%s,v1=%s,v1=%s", ts,
		signPayload("whsec_old", ts, payload),
		signPayload(testSecret, ts, payload),
	)
	headers := http.Header{}
	headers.Set("Stripe-Signature", header)

	assert.NoError(t, adapter.Verify(context.Background(), payload, headers))
}

func TestParseSucceededIntent(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_100",
		"type": "payment_intent.succeeded",
		"created": 1767225600,
		"data": {"object": {"id": "pi_100", "amount": 5500, "currency": "jpy", "created": 1767225600}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.ProviderStripe, event.Provider)
	assert.Equal(t, "evt_100", event.ProviderEventID)
	assert.Equal(t, "pi_100", event.ProviderPaymentID)
	assert.Equal(t, paymentdomain.EventTypePaymentSucceeded, event.Type)
	assert.Equal(t, int64(5500), event.Amount)
	assert.Equal(t, "JPY", event.Currency)
	assert.Equal(t, int64(1767225600), event.OccurredAt.Unix())
}

func TestParseRefundUsesPaymentIntentReference(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{
		"id": "evt_200",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_200", "payment_intent": "pi_200", "amount_refunded": 400}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "pi_200", event.ProviderPaymentID)
	assert.Equal(t, paymentdomain.EventTypeRefunded, event.Type)
	assert.Equal(t, int64(400), event.Amount)
}

func TestParseIgnoresUnhandledTypes(t *testing.T) {
	adapter := newTestAdapter(t)
	payload := []byte(`{"id": "evt_300", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`)

	_, err := adapter.Parse(context.Background(), payload)
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
}

func TestParseRejectsGarbage(t *testing.T) {
	adapter := newTestAdapter(t)
	_, err := adapter.Parse(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestNewAdapterRequiresAPIKey(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Provider: paymentdomain.ProviderStripe,
		Config:   map[string]any{},
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}
