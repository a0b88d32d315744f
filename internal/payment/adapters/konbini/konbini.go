package konbini

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image/png"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/boombuler/barcode/qr"
	"github.com/bwmarrin/snowflake"

	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
)

const (
	codeDigits        = 12
	defaultExpiryDays = 7

	barcodeWidth  = 400
	barcodeHeight = 80
	qrSize        = 256
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderKonbini
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	expiryDays := defaultExpiryDays
	if raw, ok := cfg.Config["expiry_days"]; ok {
		switch cast := raw.(type) {
		case int:
			expiryDays = cast
		case float64:
			expiryDays = int(cast)
		}
	}
	if expiryDays <= 0 {
		return nil, paymentdomain.ErrInvalidConfig
	}

	webhookSecret, _ := cfg.Config["webhook_secret"].(string)

	return &Adapter{
		orgID:         cfg.OrgID,
		expiryDays:    expiryDays,
		webhookSecret: strings.TrimSpace(webhookSecret),
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Adapter issues store payment codes locally. There is no remote call at
// creation time; confirmation arrives asynchronously via webhook or an
// explicit confirmation call, and a background sweep expires stale codes.
type Adapter struct {
	orgID         snowflake.ID
	expiryDays    int
	webhookSecret string
	now           func() time.Time
}

func (a *Adapter) Provider() string {
	return paymentdomain.ProviderKonbini
}

func (a *Adapter) Initiate(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error) {
	code, err := generateCode()
	if err != nil {
		return nil, err
	}

	barcodeImage, err := renderCode128(code)
	if err != nil {
		return nil, err
	}

	qrPayload := fmt.Sprintf("KONBINI|%s|%d|%s", code, req.Amount, strings.ToUpper(req.Currency))
	qrImage, err := renderQR(qrPayload)
	if err != nil {
		return nil, err
	}

	expiresAt := a.now().AddDate(0, 0, a.expiryDays)

	return &paymentdomain.InitiateResult{
		ExternalID: code,
		Status:     paymentdomain.StatusPending,
		Metadata: map[string]any{
			"payment_code": code,
			"barcode":      barcodeImage,
			"qr_payload":   qrPayload,
			"qr_image":     qrImage,
			"expires_at":   expiresAt.Format(time.RFC3339),
		},
	}, nil
}

// Refund is not supported for store payments; cash handed over the counter
// cannot be pushed back through the network.
func (a *Adapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	return nil, paymentdomain.ErrRefundUnsupported
}

// CheckStatus has no remote endpoint to ask; the payment service resolves
// status from the stored leg.
func (a *Adapter) CheckStatus(ctx context.Context, externalID string) (string, error) {
	return paymentdomain.StatusPending, nil
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidConfig
	}

	signature := strings.TrimSpace(headers.Get("X-Konbini-Signature"))
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event storeNotification
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.PaymentCode) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	switch strings.ToLower(strings.TrimSpace(event.Status)) {
	case "paid":
		eventType = paymentdomain.EventTypePaymentSucceeded
	case "expired":
		eventType = paymentdomain.EventTypePaymentExpired
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	occurredAt := a.now()
	if event.PaidAt > 0 {
		occurredAt = time.Unix(event.PaidAt, 0).UTC()
	}

	return &paymentdomain.PaymentEvent{
		Provider:          paymentdomain.ProviderKonbini,
		ProviderEventID:   event.NotificationID,
		ProviderPaymentID: event.PaymentCode,
		Type:              eventType,
		OrgID:             a.orgID,
		Amount:            event.Amount,
		Currency:          "JPY",
		OccurredAt:        occurredAt,
		RawPayload:        payload,
	}, nil
}

type storeNotification struct {
	NotificationID string `json:"notification_id"`
	PaymentCode    string `json:"payment_code"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	StoreChain     string `json:"store_chain"`
	PaidAt         int64  `json:"paid_at"`
}

func generateCode() (string, error) {
	var sb strings.Builder
	sb.Grow(codeDigits)
	for i := 0; i < codeDigits; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}

func renderCode128(code string) (string, error) {
	encoded, err := code128.Encode(code)
	if err != nil {
		return "", err
	}
	scaled, err := barcode.Scale(encoded, barcodeWidth, barcodeHeight)
	if err != nil {
		return "", err
	}
	return encodePNG(scaled)
}

func renderQR(payload string) (string, error) {
	encoded, err := qr.Encode(payload, qr.M, qr.Auto)
	if err != nil {
		return "", err
	}
	scaled, err := barcode.Scale(encoded, qrSize, qrSize)
	if err != nil {
		return "", err
	}
	return encodePNG(scaled)
}

func encodePNG(img barcode.Barcode) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
