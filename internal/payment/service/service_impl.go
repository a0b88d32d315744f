package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/clock"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/config"
	customerdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/customer/domain"
	obsmetrics "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/observability/metrics"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/orgcontext"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/adapters"
	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
	taxdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/tax/domain"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Billing      *config.BillingConfigHolder
	Repo         paymentdomain.Repository
	CustomerRepo customerdomain.Repository
	Tax          taxdomain.Calculator
	Adapters     *adapters.Registry
	Audit        auditdomain.Service
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	cfg          config.Config
	billing      *config.BillingConfigHolder
	repo         paymentdomain.Repository
	customerRepo customerdomain.Repository
	tax          taxdomain.Calculator
	adapters     *adapters.Registry
	audit        auditdomain.Service

	invoiceSettler      paymentdomain.InvoiceSettler
	subscriptionSettler paymentdomain.SubscriptionSettler
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payment.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		cfg:          p.Cfg,
		billing:      p.Billing,
		repo:         p.Repo,
		customerRepo: p.CustomerRepo,
		tax:          p.Tax,
		adapters:     p.Adapters,
		audit:        p.Audit,
	}
}

// AsService exposes the concrete service under the domain interface.
func AsService(s *Service) paymentdomain.Service { return s }

// AttachSettlers wires the cross-entity callbacks after all services exist.
// Payment outcomes flow into invoices and subscriptions through these,
// never through a separate write path.
func (s *Service) AttachSettlers(invoice paymentdomain.InvoiceSettler, subscription paymentdomain.SubscriptionSettler) {
	s.invoiceSettler = invoice
	s.subscriptionSettler = subscription
}

// adapterConfig assembles provider credentials and policy for one adapter.
func (s *Service) adapterConfig(provider string, orgID snowflake.ID) paymentdomain.AdapterConfig {
	cfg := map[string]any{}
	switch provider {
	case paymentdomain.ProviderStripe:
		cfg["api_key"] = s.cfg.StripeAPIKey
		cfg["webhook_secret"] = s.cfg.StripeWebhookSecret
	case paymentdomain.ProviderPayPay:
		cfg["api_key"] = s.cfg.PayPayAPIKey
		cfg["api_secret"] = s.cfg.PayPayAPISecret
		cfg["merchant_id"] = s.cfg.PayPayMerchantID
		cfg["api_endpoint"] = s.cfg.PayPayAPIEndpoint
		cfg["webhook_secret"] = s.cfg.PayPayWebhookSecret
	case paymentdomain.ProviderKonbini:
		cfg["expiry_days"] = s.billing.Get().Konbini.ExpiryDays
		cfg["webhook_secret"] = s.cfg.KonbiniWebhookSecret
	}
	return paymentdomain.AdapterConfig{
		OrgID:    orgID,
		Provider: provider,
		Config:   cfg,
	}
}

func (s *Service) AdapterFor(provider string, orgID snowflake.ID) (paymentdomain.PaymentAdapter, error) {
	return s.adapters.NewAdapter(provider, s.adapterConfig(provider, orgID))
}

// CreatePayment validates the customer, computes tax, dispatches to the
// provider and persists the payment with its provider leg in one
// transaction. The provider call happens before the transaction opens so no
// row locks are held across network I/O; a dispatch failure leaves no
// partial Payment behind.
func (s *Service) CreatePayment(ctx context.Context, req paymentdomain.CreatePaymentRequest) (*paymentdomain.CreatePaymentResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if !s.adapters.ProviderExists(provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return nil, paymentdomain.ErrCustomerNotFound
	}
	customer, err := s.customerRepo.FindByID(ctx, s.db, orgID, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, paymentdomain.ErrCustomerNotFound
	}

	calc, err := s.tax.Calculate(ctx, req.Amount, customer.Region, taxdomain.Profile{
		TaxExempt:   customer.TaxExempt,
		ReducedRate: customer.ReducedRate,
	})
	if err != nil {
		return nil, err
	}
	total := req.Amount + calc.TaxAmount

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "JPY"
	}

	methodExternalID := ""
	if strings.TrimSpace(req.MethodID) != "" {
		methodID, err := snowflake.ParseString(strings.TrimSpace(req.MethodID))
		if err != nil || methodID == 0 {
			return nil, paymentdomain.ErrMethodNotFound
		}
		method, err := s.customerRepo.FindMethodByID(ctx, s.db, orgID, methodID)
		if err != nil {
			return nil, err
		}
		if method == nil || method.CustomerID != customerID {
			return nil, paymentdomain.ErrMethodNotFound
		}
		methodExternalID = method.ExternalID
	}

	now := s.clock.Now()
	paymentID := s.genID.Generate()
	metadata := requestMetadata(req.Metadata)

	adapter, err := s.AdapterFor(provider, orgID)
	if err != nil {
		return nil, err
	}
	result, err := adapter.Initiate(ctx, paymentdomain.InitiateRequest{
		PaymentID:        paymentID,
		CustomerID:       customerID,
		Amount:           total,
		Currency:         currency,
		MethodExternalID: methodExternalID,
		Description:      req.Description,
		Metadata:         req.Metadata,
	})
	if err != nil {
		s.log.Warn("provider dispatch failed",
			zap.String("provider", provider),
			zap.String("payment_id", paymentID.String()),
			zap.Error(err),
		)

		// a declined or unreachable provider still leaves a FAILED row;
		// retry sweeps and daily reports read it
		reason := err.Error()
		metadata["provider_error"] = reason
		failed := paymentdomain.Payment{
			ID:             paymentID,
			OrgID:          orgID,
			CustomerID:     customerID,
			InvoiceID:      req.InvoiceID,
			SubscriptionID: req.SubscriptionID,
			Provider:       provider,
			Amount:         total,
			TaxAmount:      calc.TaxAmount,
			Currency:       currency,
			Status:         paymentdomain.StatusFailed,
			Description:    req.Description,
			FailureReason:  &reason,
			Metadata:       metadata,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if insertErr := s.repo.Insert(ctx, s.db, &failed); insertErr != nil {
			s.log.Error("failed payment insert failed",
				zap.String("payment_id", paymentID.String()),
				zap.Error(insertErr),
			)
		}
		obsmetrics.Payments().RecordCharge(provider, paymentdomain.StatusFailed)
		s.audit.Log(ctx, auditdomain.Entry{
			OrgID:      &orgID,
			Action:     auditdomain.ActionCreate,
			EntityType: auditdomain.EntityPayment,
			EntityID:   paymentID.String(),
			After: map[string]any{
				"provider": provider,
				"amount":   total,
				"currency": currency,
				"status":   paymentdomain.StatusFailed,
			},
		})
		return nil, err
	}

	payment := paymentdomain.Payment{
		ID:             paymentID,
		OrgID:          orgID,
		CustomerID:     customerID,
		InvoiceID:      req.InvoiceID,
		SubscriptionID: req.SubscriptionID,
		Provider:       provider,
		Amount:         total,
		TaxAmount:      calc.TaxAmount,
		Currency:       currency,
		Status:         result.Status,
		Description:    req.Description,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if result.ExternalID != "" {
		external := result.ExternalID
		payment.ExternalID = &external
	}
	if result.Status == paymentdomain.StatusSucceeded {
		paidAt := now
		payment.PaidAt = &paidAt
	}

	resp := &paymentdomain.CreatePaymentResponse{}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &payment); err != nil {
			return err
		}
		switch provider {
		case paymentdomain.ProviderKonbini:
			leg, err := s.buildKonbiniLeg(paymentID, result, now)
			if err != nil {
				return err
			}
			if err := s.repo.InsertKonbini(ctx, tx, leg); err != nil {
				return err
			}
			resp.Konbini = leg
		case paymentdomain.ProviderPayPay:
			leg, err := s.buildPayPayLeg(paymentID, result, now)
			if err != nil {
				return err
			}
			if err := s.repo.InsertPayPay(ctx, tx, leg); err != nil {
				return err
			}
			resp.PayPay = leg
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp.Payment = payment
	obsmetrics.Payments().RecordCharge(provider, payment.Status)

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     auditdomain.ActionCreate,
		EntityType: auditdomain.EntityPayment,
		EntityID:   paymentID.String(),
		After: map[string]any{
			"provider":   provider,
			"amount":     total,
			"tax_amount": calc.TaxAmount,
			"currency":   currency,
			"status":     payment.Status,
		},
	})

	return resp, nil
}

// requestMetadata copies caller metadata into the stored JSON shape.
func requestMetadata(in map[string]string) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *Service) buildKonbiniLeg(paymentID snowflake.ID, result *paymentdomain.InitiateResult, now time.Time) (*paymentdomain.KonbiniPayment, error) {
	code, _ := result.Metadata["payment_code"].(string)
	if code == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	barcodeImage, _ := result.Metadata["barcode"].(string)
	qrPayload, _ := result.Metadata["qr_payload"].(string)

	// codes are issued locally, so our clock owns the deadline
	expiresAt := now.AddDate(0, 0, s.billing.Get().Konbini.ExpiryDays)

	return &paymentdomain.KonbiniPayment{
		ID:          s.genID.Generate(),
		PaymentID:   paymentID,
		PaymentCode: code,
		Barcode:     barcodeImage,
		QRPayload:   qrPayload,
		Status:      paymentdomain.SubStatusPending,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Service) buildPayPayLeg(paymentID snowflake.ID, result *paymentdomain.InitiateResult, now time.Time) (*paymentdomain.PayPayPayment, error) {
	if result.ExternalID == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	qrURL, _ := result.Metadata["qr_code_url"].(string)
	deeplink, _ := result.Metadata["deeplink"].(string)

	expiresAt := now.Add(24 * time.Hour)
	if raw, ok := result.Metadata["expires_at"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			expiresAt = parsed
		}
	}

	return &paymentdomain.PayPayPayment{
		ID:         s.genID.Generate(),
		PaymentID:  paymentID,
		ExternalID: result.ExternalID,
		QRCodeURL:  qrURL,
		Deeplink:   deeplink,
		Status:     paymentdomain.SubStatusPending,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *Service) RefundPayment(ctx context.Context, req paymentdomain.RefundPaymentRequest) (*paymentdomain.PaymentRefund, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	paymentID, err := snowflake.ParseString(strings.TrimSpace(req.PaymentID))
	if err != nil || paymentID == 0 {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	payment, err := s.repo.FindByID(ctx, s.db, orgID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	if !payment.Refundable() {
		return nil, paymentdomain.ErrNotRefundable
	}

	refunded, err := s.repo.SumRefunds(ctx, s.db, paymentID)
	if err != nil {
		return nil, err
	}
	if refunded+req.Amount > payment.Amount {
		return nil, paymentdomain.ErrRefundExceedsAmount
	}

	adapter, err := s.AdapterFor(payment.Provider, orgID)
	if err != nil {
		return nil, err
	}
	result, err := adapter.Refund(ctx, paymentdomain.RefundRequest{
		Payment: payment,
		Amount:  req.Amount,
		Reason:  req.Reason,
	})
	if err != nil {
		return nil, err
	}

	refund := paymentdomain.PaymentRefund{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		PaymentID:   paymentID,
		Amount:      req.Amount,
		Reason:      req.Reason,
		ProcessedAt: result.ProcessedAt,
		CreatedAt:   s.clock.Now(),
	}
	if result.ExternalID != "" {
		external := result.ExternalID
		refund.ExternalID = &external
	}

	newStatus := paymentdomain.StatusPartiallyRefunded
	if refunded+req.Amount >= payment.Amount {
		newStatus = paymentdomain.StatusRefunded
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertRefund(ctx, tx, &refund); err != nil {
			return err
		}
		return s.repo.SetStatus(ctx, tx, paymentID, newStatus, nil, nil)
	})
	if err != nil {
		return nil, err
	}

	obsmetrics.Payments().RecordRefund(payment.Provider)
	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     auditdomain.ActionRefund,
		EntityType: auditdomain.EntityPayment,
		EntityID:   paymentID.String(),
		Before:     map[string]any{"status": payment.Status},
		After: map[string]any{
			"status":        newStatus,
			"refund_amount": req.Amount,
			"reason":        req.Reason,
		},
	})

	return &refund, nil
}

func (s *Service) GetPayment(ctx context.Context, id string) (*paymentdomain.Payment, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}
	paymentID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || paymentID == 0 {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	payment, err := s.repo.FindByID(ctx, s.db, orgID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

// AddPaymentMethod stores a payment method. When the new method is default,
// the default flag moves off every other method in the same transaction so
// the customer always holds exactly one default.
func (s *Service) AddPaymentMethod(ctx context.Context, req paymentdomain.AddPaymentMethodRequest) (*customerdomain.PaymentMethod, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return nil, paymentdomain.ErrCustomerNotFound
	}
	customer, err := s.customerRepo.FindByID(ctx, s.db, orgID, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, paymentdomain.ErrCustomerNotFound
	}

	existing, err := s.customerRepo.ListMethods(ctx, s.db, orgID, customerID)
	if err != nil {
		return nil, err
	}
	// the first stored method becomes default regardless of the request
	isDefault := req.IsDefault || len(existing) == 0

	now := s.clock.Now()
	method := customerdomain.PaymentMethod{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		CustomerID:  customerID,
		Type:        strings.ToUpper(strings.TrimSpace(req.Type)),
		Provider:    strings.ToLower(strings.TrimSpace(req.Provider)),
		ExternalID:  strings.TrimSpace(req.ExternalID),
		MaskedID:    strings.TrimSpace(req.MaskedID),
		Brand:       strings.TrimSpace(req.Brand),
		ExpiryMonth: req.ExpiryMonth,
		ExpiryYear:  req.ExpiryYear,
		IsDefault:   isDefault,
		Metadata:    datatypes.JSONMap{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if isDefault {
			if err := s.customerRepo.ClearDefaultMethods(ctx, tx, orgID, customerID); err != nil {
				return err
			}
		}
		return s.customerRepo.InsertMethod(ctx, tx, &method)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     auditdomain.ActionMethodAdd,
		EntityType: auditdomain.EntityPaymentMethod,
		EntityID:   method.ID.String(),
		After: map[string]any{
			"customer_id": customerID.String(),
			"type":        method.Type,
			"provider":    method.Provider,
			"is_default":  isDefault,
		},
	})

	return &method, nil
}

func (s *Service) RemovePaymentMethod(ctx context.Context, methodID string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return paymentdomain.ErrInvalidOrganization
	}

	id, err := snowflake.ParseString(strings.TrimSpace(methodID))
	if err != nil || id == 0 {
		return paymentdomain.ErrMethodNotFound
	}
	method, err := s.customerRepo.FindMethodByID(ctx, s.db, orgID, id)
	if err != nil {
		return err
	}
	if method == nil {
		return paymentdomain.ErrMethodNotFound
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.customerRepo.DeleteMethod(ctx, tx, orgID, id); err != nil {
			return err
		}
		if !method.IsDefault {
			return nil
		}
		// promote the most recent remaining method
		remaining, err := s.customerRepo.ListMethods(ctx, tx, orgID, method.CustomerID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}
		return s.customerRepo.SetDefaultMethod(ctx, tx, orgID, remaining[0].ID)
	})
	if err != nil {
		return err
	}

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     auditdomain.ActionMethodRemove,
		EntityType: auditdomain.EntityPaymentMethod,
		EntityID:   id.String(),
		Before: map[string]any{
			"customer_id": method.CustomerID.String(),
			"is_default":  method.IsDefault,
		},
	})

	return nil
}

func (s *Service) ListPaymentMethods(ctx context.Context, customerID string) ([]*customerdomain.PaymentMethod, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(strings.TrimSpace(customerID))
	if err != nil || id == 0 {
		return nil, paymentdomain.ErrCustomerNotFound
	}
	return s.customerRepo.ListMethods(ctx, s.db, orgID, id)
}

// CalculateBilling applies a fractional discount before tax. Subscription
// billing and ad hoc charges both price through here.
func (s *Service) CalculateBilling(ctx context.Context, amount int64, discountRate float64, region string) (*paymentdomain.BillingCalculation, error) {
	if amount < 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if discountRate < 0 || discountRate > 1 {
		return nil, paymentdomain.ErrInvalidDiscountRate
	}

	discount := int64(math.Round(float64(amount) * discountRate))
	taxable := amount - discount

	calc, err := s.tax.Calculate(ctx, taxable, region, taxdomain.Profile{})
	if err != nil {
		return nil, err
	}

	return &paymentdomain.BillingCalculation{
		BaseAmount:     amount,
		DiscountAmount: discount,
		TaxableAmount:  taxable,
		TaxAmount:      calc.TaxAmount,
		Total:          taxable + calc.TaxAmount,
		TaxRate:        calc.TaxRate,
	}, nil
}

// ChargeDefaultMethod issues an immediate charge against the customer's
// default stored method.
func (s *Service) ChargeDefaultMethod(ctx context.Context, customerID snowflake.ID, amount int64, description string, subscriptionID *snowflake.ID) (*paymentdomain.Payment, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, paymentdomain.ErrInvalidOrganization
	}

	method, err := s.customerRepo.FindDefaultMethod(ctx, s.db, orgID, customerID)
	if err != nil {
		return nil, err
	}
	if method == nil {
		return nil, paymentdomain.ErrNoDefaultMethod
	}

	resp, err := s.CreatePayment(ctx, paymentdomain.CreatePaymentRequest{
		CustomerID:     customerID.String(),
		Provider:       method.Provider,
		Amount:         amount,
		Description:    description,
		SubscriptionID: subscriptionID,
		MethodID:       method.ID.String(),
	})
	if err != nil {
		return nil, err
	}
	return &resp.Payment, nil
}
