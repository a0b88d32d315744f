package paypay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
)

const (
	defaultAPIEndpoint = "https://api.paypay.ne.jp"
	defaultTimeout     = 12 * time.Second

	// QR codes are valid for 24 hours from creation.
	codeExpiry = 24 * time.Hour
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderPayPay
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	apiKey, _ := readString(cfg.Config, "api_key")
	apiSecret, _ := readString(cfg.Config, "api_secret")
	merchantID, _ := readString(cfg.Config, "merchant_id")
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(apiSecret) == "" || strings.TrimSpace(merchantID) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	endpoint, _ := readString(cfg.Config, "api_endpoint")
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = defaultAPIEndpoint
	}

	webhookSecret, _ := readString(cfg.Config, "webhook_secret")

	return &Adapter{
		orgID:         cfg.OrgID,
		apiKey:        strings.TrimSpace(apiKey),
		apiSecret:     strings.TrimSpace(apiSecret),
		merchantID:    strings.TrimSpace(merchantID),
		webhookSecret: strings.TrimSpace(webhookSecret),
		endpoint:      strings.TrimRight(endpoint, "/"),
		client:        &http.Client{Timeout: defaultTimeout},
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

type Adapter struct {
	orgID         snowflake.ID
	apiKey        string
	apiSecret     string
	merchantID    string
	webhookSecret string
	endpoint      string
	client        *http.Client
	now           func() time.Time
}

func (a *Adapter) Provider() string {
	return paymentdomain.ProviderPayPay
}

// Initiate requests a dynamic QR code. The wallet confirms asynchronously,
// so the normalized status is always PENDING here.
func (a *Adapter) Initiate(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error) {
	now := a.now()
	body := map[string]any{
		"merchantPaymentId": req.PaymentID.String(),
		"amount": map[string]any{
			"amount":   req.Amount,
			"currency": strings.ToUpper(req.Currency),
		},
		"codeType":         "ORDER_QR",
		"orderDescription": req.Description,
		"expiryDate":       now.Add(codeExpiry).Unix(),
	}

	respBody, status, err := a.doSigned(ctx, http.MethodPost, "/v2/codes", body)
	if err != nil {
		return nil, err
	}

	var resp codeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if status >= 400 || resp.ResultInfo.Code != "SUCCESS" {
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrProviderUnavailable, resp.ResultInfo.Message)
	}

	return &paymentdomain.InitiateResult{
		ExternalID: resp.Data.CodeID,
		Status:     paymentdomain.StatusPending,
		Metadata: map[string]any{
			"qr_code_url": resp.Data.URL,
			"deeplink":    resp.Data.Deeplink,
			"expires_at":  now.Add(codeExpiry).Format(time.RFC3339),
		},
	}, nil
}

// Refund is all-or-nothing: a partial amount is rejected before any remote
// call is made.
func (a *Adapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	if req.Payment == nil || req.Payment.ExternalID == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if req.Amount != req.Payment.Amount {
		return nil, paymentdomain.ErrPartialRefundDenied
	}

	body := map[string]any{
		"merchantRefundId": uuid.NewString(),
		"paymentId":        *req.Payment.ExternalID,
		"amount": map[string]any{
			"amount":   req.Amount,
			"currency": strings.ToUpper(req.Payment.Currency),
		},
		"reason": req.Reason,
	}

	respBody, status, err := a.doSigned(ctx, http.MethodPost, "/v2/refunds", body)
	if err != nil {
		return nil, err
	}

	var resp refundResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if status >= 400 || resp.ResultInfo.Code != "SUCCESS" {
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrProviderUnavailable, resp.ResultInfo.Message)
	}

	return &paymentdomain.RefundResult{
		ExternalID:  resp.Data.RefundID,
		Status:      paymentdomain.StatusRefunded,
		ProcessedAt: a.now(),
	}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, externalID string) (string, error) {
	respBody, status, err := a.doSigned(ctx, http.MethodGet, "/v2/codes/payments/"+externalID, nil)
	if err != nil {
		return "", err
	}

	var resp paymentDetailsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", paymentdomain.ErrInvalidPayload
	}
	if status >= 400 {
		return "", paymentdomain.ErrPaymentNotFound
	}
	return mapWalletState(resp.Data.Status), nil
}

// Verify checks the HMAC-SHA256 of the raw payload against the
// X-PayPay-Signature header.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidConfig
	}

	signature := strings.TrimSpace(headers.Get("X-PayPay-Signature"))
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
	var event walletNotification
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if event.NotificationType != "Transaction" {
		return nil, paymentdomain.ErrEventIgnored
	}
	if strings.TrimSpace(event.PaymentID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	switch strings.ToUpper(strings.TrimSpace(event.State)) {
	case "COMPLETED":
		eventType = paymentdomain.EventTypePaymentSucceeded
	case "FAILED":
		eventType = paymentdomain.EventTypePaymentFailed
	case "EXPIRED":
		eventType = paymentdomain.EventTypePaymentExpired
	case "REFUNDED":
		eventType = paymentdomain.EventTypeRefunded
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	occurredAt := a.now()
	if event.PaidAt > 0 {
		occurredAt = time.Unix(event.PaidAt, 0).UTC()
	}

	return &paymentdomain.PaymentEvent{
		Provider:          paymentdomain.ProviderPayPay,
		ProviderEventID:   event.NotificationID,
		ProviderPaymentID: event.PaymentID,
		Type:              eventType,
		OrgID:             a.orgID,
		Amount:            event.OrderAmount,
		Currency:          "JPY",
		OccurredAt:        occurredAt,
		RawPayload:        payload,
	}, nil
}

type resultInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type codeResponse struct {
	ResultInfo resultInfo `json:"resultInfo"`
	Data       struct {
		CodeID   string `json:"codeId"`
		URL      string `json:"url"`
		Deeplink string `json:"deeplink"`
	} `json:"data"`
}

type refundResponse struct {
	ResultInfo resultInfo `json:"resultInfo"`
	Data       struct {
		RefundID string `json:"refundId"`
		Status   string `json:"status"`
	} `json:"data"`
}

type paymentDetailsResponse struct {
	ResultInfo resultInfo `json:"resultInfo"`
	Data       struct {
		Status string `json:"status"`
	} `json:"data"`
}

type walletNotification struct {
	NotificationType string `json:"notification_type"`
	NotificationID   string `json:"notification_id"`
	PaymentID        string `json:"paymentId"`
	State            string `json:"state"`
	OrderAmount      int64  `json:"order_amount"`
	PaidAt           int64  `json:"paid_at"`
}

func mapWalletState(state string) string {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "COMPLETED":
		return paymentdomain.StatusSucceeded
	case "CREATED", "AUTHORIZED":
		return paymentdomain.StatusPending
	case "CANCELED":
		return paymentdomain.StatusCanceled
	case "REFUNDED":
		return paymentdomain.StatusRefunded
	default:
		return paymentdomain.StatusFailed
	}
}

// doSigned issues a request signed with HMAC-SHA256 over
// method + path + body digest + timestamp + nonce.
func (a *Adapter) doSigned(ctx context.Context, method, path string, body map[string]any) ([]byte, int, error) {
	var (
		reqBody  io.Reader
		bodyJSON []byte
		err      error
	)
	if body != nil {
		bodyJSON, err = json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reqBody = bytes.NewReader(bodyJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.endpoint+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}

	timestamp := fmt.Sprintf("%d", a.now().Unix())
	nonce := uuid.NewString()

	bodyDigest := "empty"
	if len(bodyJSON) > 0 {
		sum := sha256.Sum256(bodyJSON)
		bodyDigest = base64.StdEncoding.EncodeToString(sum[:])
		req.Header.Set("Content-Type", "application/json")
	}

	signedParts := strings.Join([]string{method, path, bodyDigest, timestamp, nonce}, "\n")
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	_, _ = mac.Write([]byte(signedParts))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("Authorization", fmt.Sprintf("hmac OPA-Auth:%s:%s:%s:%s:%s",
		a.apiKey, signature, nonce, timestamp, bodyDigest))
	req.Header.Set("X-ASSUME-MERCHANT", a.merchantID)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	return respBody, resp.StatusCode, nil
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}
