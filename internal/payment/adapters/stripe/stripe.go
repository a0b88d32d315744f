package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
)

const (
	defaultAPIBaseURL = "https://api.stripe.com"
	defaultTimeout    = 12 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return paymentdomain.ProviderStripe
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	apiKey, _ := readString(cfg.Config, "api_key")
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	secret, _ := readString(cfg.Config, "webhook_secret")
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	baseURL, _ := readString(cfg.Config, "api_base_url")
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}

	return &Adapter{
		orgID:         cfg.OrgID,
		apiKey:        apiKey,
		webhookSecret: secret,
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{Timeout: defaultTimeout},
	}, nil
}

type Adapter struct {
	orgID         snowflake.ID
	apiKey        string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

func (a *Adapter) Provider() string {
	return paymentdomain.ProviderStripe
}

// Initiate creates a payment intent. A stored payment method id makes the
// intent confirm immediately, off session.
func (a *Adapter) Initiate(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[payment_id]", req.PaymentID.String())
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	for key, value := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
	}
	if req.MethodExternalID != "" {
		form.Set("payment_method", req.MethodExternalID)
		form.Set("confirm", "true")
		form.Set("off_session", "true")
	}

	body, status, err := a.doForm(ctx, http.MethodPost, "/v1/payment_intents", form)
	if err != nil {
		return nil, err
	}

	var intent paymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if status >= 400 || intent.ID == "" {
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrProviderUnavailable, intent.Error.Message)
	}

	return &paymentdomain.InitiateResult{
		ExternalID: intent.ID,
		Status:     mapIntentStatus(intent.Status),
		Metadata: map[string]any{
			"client_secret": intent.ClientSecret,
			"intent_status": intent.Status,
		},
	}, nil
}

func (a *Adapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	if req.Payment == nil || req.Payment.ExternalID == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}

	form := url.Values{}
	form.Set("payment_intent", *req.Payment.ExternalID)
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}

	body, status, err := a.doForm(ctx, http.MethodPost, "/v1/refunds", form)
	if err != nil {
		return nil, err
	}

	var refund refundResponse
	if err := json.Unmarshal(body, &refund); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if status >= 400 || refund.ID == "" {
		return nil, fmt.Errorf("%w: %s", paymentdomain.ErrProviderUnavailable, refund.Error.Message)
	}

	processedAt := time.Now().UTC()
	if refund.Created > 0 {
		processedAt = time.Unix(refund.Created, 0).UTC()
	}
	return &paymentdomain.RefundResult{
		ExternalID:  refund.ID,
		Status:      paymentdomain.StatusRefunded,
		ProcessedAt: processedAt,
	}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, externalID string) (string, error) {
	body, status, err := a.doForm(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(externalID), nil)
	if err != nil {
		return "", err
	}

	var intent paymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return "", paymentdomain.ErrInvalidPayload
	}
	if status >= 400 || intent.ID == "" {
		return "", paymentdomain.ErrPaymentNotFound
	}
	return mapIntentStatus(intent.Status), nil
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		eventType = paymentdomain.EventTypePaymentSucceeded
	case "payment_intent.payment_failed":
		eventType = paymentdomain.EventTypePaymentFailed
	case "charge.refunded":
		eventType = paymentdomain.EventTypeRefunded
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	var intent paymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	externalID := intent.ID
	if eventType == paymentdomain.EventTypeRefunded && intent.PaymentIntent != "" {
		externalID = intent.PaymentIntent
	}
	if externalID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	occurredAt := time.Now().UTC()
	if intent.Created > 0 {
		occurredAt = time.Unix(intent.Created, 0).UTC()
	} else if event.Created > 0 {
		occurredAt = time.Unix(event.Created, 0).UTC()
	}

	amount := intent.AmountReceived
	if eventType == paymentdomain.EventTypeRefunded {
		amount = intent.AmountRefunded
	}
	if amount <= 0 {
		amount = intent.Amount
	}

	return &paymentdomain.PaymentEvent{
		Provider:          paymentdomain.ProviderStripe,
		ProviderEventID:   event.ID,
		ProviderPaymentID: externalID,
		Type:              eventType,
		OrgID:             a.orgID,
		Amount:            amount,
		Currency:          strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:        occurredAt,
		RawPayload:        payload,
	}, nil
}

type webhookEvent struct {
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Created int64       `json:"created"`
	Data    webhookData `json:"data"`
}

type webhookData struct {
	Object json.RawMessage `json:"object"`
}

type paymentIntent struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	Created        int64  `json:"created"`
	ClientSecret   string `json:"client_secret"`
	// set on charge objects inside refund events
	PaymentIntent string   `json:"payment_intent"`
	Error         apiError `json:"error"`
}

type refundResponse struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Created int64    `json:"created"`
	Error   apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
}

func mapIntentStatus(status string) string {
	switch strings.TrimSpace(status) {
	case "requires_payment_method", "requires_confirmation", "requires_action", "requires_capture":
		return paymentdomain.StatusPending
	case "processing":
		return paymentdomain.StatusProcessing
	case "succeeded":
		return paymentdomain.StatusSucceeded
	case "canceled":
		return paymentdomain.StatusCanceled
	default:
		return paymentdomain.StatusFailed
	}
}

func (a *Adapter) doForm(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: %v", paymentdomain.ErrProviderUnavailable, err)
	}
	return body, resp.StatusCode, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
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
