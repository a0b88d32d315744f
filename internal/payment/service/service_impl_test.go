package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/domain"
	auditrepo "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/repository"
	auditservice "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/service"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/clock"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/config"
	customerdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/customer/domain"
	customerrepo "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/customer/repository"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/orgcontext"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/adapters"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/adapters/konbini"
	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
	paymentrepo "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/repository"
	taxservice "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/tax/service"
)

const testOrgID = snowflake.ID(9001)

// fakeCardAdapter stands in for the card provider so tests stay offline.
type fakeCardAdapter struct {
	initiateStatus string
	initiateErr    error
	refundErr      error
}

type fakeCardFactory struct {
	adapter *fakeCardAdapter
}

func (f *fakeCardFactory) Provider() string { return paymentdomain.ProviderStripe }

func (f *fakeCardFactory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	return f.adapter, nil
}

func (a *fakeCardAdapter) Provider() string { return paymentdomain.ProviderStripe }

func (a *fakeCardAdapter) Initiate(ctx context.Context, req paymentdomain.InitiateRequest) (*paymentdomain.InitiateResult, error) {
	if a.initiateErr != nil {
		return nil, a.initiateErr
	}
	status := a.initiateStatus
	if status == "" {
		status = paymentdomain.StatusPending
	}
	return &paymentdomain.InitiateResult{
		ExternalID: "pi_" + req.PaymentID.String(),
		Status:     status,
		Metadata:   map[string]any{},
	}, nil
}

func (a *fakeCardAdapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	if a.refundErr != nil {
		return nil, a.refundErr
	}
	return &paymentdomain.RefundResult{
		ExternalID:  "re_" + req.Payment.ID.String(),
		Status:      "succeeded",
		ProcessedAt: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (a *fakeCardAdapter) CheckStatus(ctx context.Context, externalID string) (string, error) {
	return paymentdomain.StatusPending, nil
}

func (a *fakeCardAdapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

func (a *fakeCardAdapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	return nil, paymentdomain.ErrEventIgnored
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock, *fakeCardAdapter) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// sqlite has no row locks; strip the clauses the claim queries use
	stripLocks := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripLocks)
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripLocks)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&customerdomain.Customer{},
		&customerdomain.PaymentMethod{},
		&paymentdomain.Payment{},
		&paymentdomain.PaymentRefund{},
		&paymentdomain.KonbiniPayment{},
		&paymentdomain.PayPayPayment{},
		&paymentdomain.EventRecord{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   fake,
		Billing: billing,
		Repo:    auditrepo.Provide(),
	})

	tax := taxservice.NewService(taxservice.Params{
		Logger:  log,
		Billing: billing,
	})

	card := &fakeCardAdapter{}
	registry := adapters.NewRegistry(
		&fakeCardFactory{adapter: card},
		konbini.NewFactory(),
	)

	svc := NewService(Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        fake,
		Cfg:          config.Config{},
		Billing:      billing,
		Repo:         paymentrepo.Provide(),
		CustomerRepo: customerrepo.Provide(),
		Tax:          tax,
		Adapters:     registry,
		Audit:        audit,
	})

	return svc, db, fake, card
}

func orgCtx() context.Context {
	return orgcontext.WithOrgID(context.Background(), testOrgID)
}

func seedCustomer(t *testing.T, db *gorm.DB) *customerdomain.Customer {
	t.Helper()
	customer := &customerdomain.Customer{
		ID:     snowflake.ID(100001),
		OrgID:  testOrgID,
		Name:   "Sakura English School",
		Email:  "billing@sakura.example.jp",
		Region: "JP",
	}
	require.NoError(t, db.Create(customer).Error)
	return customer
}

func TestCreatePaymentKonbini(t *testing.T) {
	svc, db, fake, _ := newTestService(t)
	customer := seedCustomer(t, db)

	resp, err := svc.CreatePayment(orgCtx(), paymentdomain.CreatePaymentRequest{
		CustomerID:  customer.ID.String(),
		Provider:    paymentdomain.ProviderKonbini,
		Amount:      1000,
		Description: "April tuition",
	})
	require.NoError(t, err)

	assert.Equal(t, paymentdomain.StatusPending, resp.Payment.Status)
	assert.Equal(t, int64(1100), resp.Payment.Amount)
	assert.Equal(t, int64(100), resp.Payment.TaxAmount)
	assert.Equal(t, "JPY", resp.Payment.Currency)

	require.NotNil(t, resp.Konbini)
	assert.Len(t, resp.Konbini.PaymentCode, 12)
	assert.Equal(t, paymentdomain.SubStatusPending, resp.Konbini.Status)
	assert.NotEmpty(t, resp.Konbini.Barcode)
	assert.True(t, resp.Konbini.ExpiresAt.After(fake.Now().AddDate(0, 0, 6)))

	var count int64
	require.NoError(t, db.Model(&paymentdomain.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreatePaymentProviderDeclineRecordsFailure(t *testing.T) {
	svc, db, _, card := newTestService(t)
	customer := seedCustomer(t, db)
	card.initiateErr = fmt.Errorf("%w: card declined", paymentdomain.ErrProviderUnavailable)

	_, err := svc.CreatePayment(orgCtx(), paymentdomain.CreatePaymentRequest{
		CustomerID:  customer.ID.String(),
		Provider:    paymentdomain.ProviderStripe,
		Amount:      1000,
		Description: "April tuition",
		Metadata:    map[string]string{"invoice_number": "INV-2026-0401"},
	})
	require.ErrorIs(t, err, paymentdomain.ErrProviderUnavailable)

	var payments []paymentdomain.Payment
	require.NoError(t, db.Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, paymentdomain.StatusFailed, payments[0].Status)
	assert.Equal(t, int64(1100), payments[0].Amount)
	require.NotNil(t, payments[0].FailureReason)
	assert.Contains(t, *payments[0].FailureReason, "card declined")
	assert.Contains(t, payments[0].Metadata["provider_error"], "card declined")
	assert.Equal(t, "INV-2026-0401", payments[0].Metadata["invoice_number"])
}

func TestCreatePaymentPersistsRequestMetadata(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)

	resp, err := svc.CreatePayment(orgCtx(), paymentdomain.CreatePaymentRequest{
		CustomerID: customer.ID.String(),
		Provider:   paymentdomain.ProviderStripe,
		Amount:     1000,
		Metadata:   map[string]string{"invoice_number": "INV-2026-0402", "plan": "standard"},
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-2026-0402", resp.Payment.Metadata["invoice_number"])

	var stored paymentdomain.Payment
	require.NoError(t, db.First(&stored, "id = ?", resp.Payment.ID).Error)
	assert.Equal(t, "standard", stored.Metadata["plan"])
	assert.Equal(t, "INV-2026-0402", stored.Metadata["invoice_number"])
}

func TestCreatePaymentTaxExemptCustomer(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := &customerdomain.Customer{
		ID:        snowflake.ID(100002),
		OrgID:     testOrgID,
		Name:      "Exempt School",
		Email:     "exempt@example.jp",
		Region:    "JP",
		TaxExempt: true,
	}
	require.NoError(t, db.Create(customer).Error)

	resp, err := svc.CreatePayment(orgCtx(), paymentdomain.CreatePaymentRequest{
		CustomerID: customer.ID.String(),
		Provider:   paymentdomain.ProviderKonbini,
		Amount:     1000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), resp.Payment.Amount)
	assert.Zero(t, resp.Payment.TaxAmount)
}

func TestCreatePaymentUnknownProvider(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)

	_, err := svc.CreatePayment(orgCtx(), paymentdomain.CreatePaymentRequest{
		CustomerID: customer.ID.String(),
		Provider:   "alipay",
		Amount:     1000,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
}

func TestCreatePaymentUnknownCustomer(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.CreatePayment(orgCtx(), paymentdomain.CreatePaymentRequest{
		CustomerID: "424242",
		Provider:   paymentdomain.ProviderKonbini,
		Amount:     1000,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrCustomerNotFound)
}

func TestCreatePaymentRejectsZeroAmount(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)

	_, err := svc.CreatePayment(orgCtx(), paymentdomain.CreatePaymentRequest{
		CustomerID: customer.ID.String(),
		Provider:   paymentdomain.ProviderKonbini,
		Amount:     0,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)
}

func TestAddPaymentMethodFirstBecomesDefault(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)

	first, err := svc.AddPaymentMethod(orgCtx(), paymentdomain.AddPaymentMethodRequest{
		CustomerID: customer.ID.String(),
		Type:       customerdomain.MethodTypeCard,
		Provider:   paymentdomain.ProviderStripe,
		ExternalID: "pm_first",
		MaskedID:   "4242",
	})
	require.NoError(t, err)
	assert.True(t, first.IsDefault)

	second, err := svc.AddPaymentMethod(orgCtx(), paymentdomain.AddPaymentMethodRequest{
		CustomerID: customer.ID.String(),
		Type:       customerdomain.MethodTypeCard,
		Provider:   paymentdomain.ProviderStripe,
		ExternalID: "pm_second",
		MaskedID:   "1881",
		IsDefault:  true,
	})
	require.NoError(t, err)
	assert.True(t, second.IsDefault)

	methods, err := svc.ListPaymentMethods(orgCtx(), customer.ID.String())
	require.NoError(t, err)
	require.Len(t, methods, 2)

	defaults := 0
	for _, m := range methods {
		if m.IsDefault {
			defaults++
			assert.Equal(t, second.ID, m.ID)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestRemoveDefaultMethodPromotesRemaining(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)

	first, err := svc.AddPaymentMethod(orgCtx(), paymentdomain.AddPaymentMethodRequest{
		CustomerID: customer.ID.String(),
		Type:       customerdomain.MethodTypeCard,
		Provider:   paymentdomain.ProviderStripe,
		ExternalID: "pm_first",
	})
	require.NoError(t, err)

	_, err = svc.AddPaymentMethod(orgCtx(), paymentdomain.AddPaymentMethodRequest{
		CustomerID: customer.ID.String(),
		Type:       customerdomain.MethodTypeQR,
		Provider:   paymentdomain.ProviderPayPay,
		ExternalID: "pp_user",
	})
	require.NoError(t, err)

	require.NoError(t, svc.RemovePaymentMethod(orgCtx(), first.ID.String()))

	methods, err := svc.ListPaymentMethods(orgCtx(), customer.ID.String())
	require.NoError(t, err)
	require.Len(t, methods, 1)
	assert.True(t, methods[0].IsDefault)
}

func TestCalculateBilling(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	calc, err := svc.CalculateBilling(orgCtx(), 10000, 0.2, "JP")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), calc.DiscountAmount)
	assert.Equal(t, int64(8000), calc.TaxableAmount)
	assert.Equal(t, int64(800), calc.TaxAmount)
	assert.Equal(t, int64(8800), calc.Total)

	_, err = svc.CalculateBilling(orgCtx(), 10000, 1.5, "JP")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidDiscountRate)

	_, err = svc.CalculateBilling(orgCtx(), -1, 0, "JP")
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)
}

func TestChargeDefaultMethodWithoutDefault(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)

	_, err := svc.ChargeDefaultMethod(orgCtx(), customer.ID, 5000, "monthly plan", nil)
	assert.ErrorIs(t, err, paymentdomain.ErrNoDefaultMethod)
}

func TestChargeDefaultMethod(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)

	_, err := svc.AddPaymentMethod(orgCtx(), paymentdomain.AddPaymentMethodRequest{
		CustomerID: customer.ID.String(),
		Type:       customerdomain.MethodTypeCard,
		Provider:   paymentdomain.ProviderStripe,
		ExternalID: "pm_default",
	})
	require.NoError(t, err)

	payment, err := svc.ChargeDefaultMethod(orgCtx(), customer.ID, 5000, "monthly plan", nil)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.ProviderStripe, payment.Provider)
	assert.Equal(t, int64(5500), payment.Amount)
	require.NotNil(t, payment.ExternalID)
	assert.Contains(t, *payment.ExternalID, "pi_")
}

func TestRefundPaymentPartialThenFull(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)

	_, err := svc.AddPaymentMethod(orgCtx(), paymentdomain.AddPaymentMethodRequest{
		CustomerID: customer.ID.String(),
		Type:       customerdomain.MethodTypeCard,
		Provider:   paymentdomain.ProviderStripe,
		ExternalID: "pm_default",
	})
	require.NoError(t, err)

	payment, err := svc.ChargeDefaultMethod(orgCtx(), customer.ID, 1000, "lesson pack", nil)
	require.NoError(t, err)

	// settle it so the refund gate opens
	require.NoError(t, db.Exec(
		`UPDATE payments SET status = ? WHERE id = ?`,
		paymentdomain.StatusSucceeded, payment.ID,
	).Error)

	refund, err := svc.RefundPayment(orgCtx(), paymentdomain.RefundPaymentRequest{
		PaymentID: payment.ID.String(),
		Amount:    400,
		Reason:    "one lesson canceled",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(400), refund.Amount)

	got, err := svc.GetPayment(orgCtx(), payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusPartiallyRefunded, got.Status)

	_, err = svc.RefundPayment(orgCtx(), paymentdomain.RefundPaymentRequest{
		PaymentID: payment.ID.String(),
		Amount:    payment.Amount,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrRefundExceedsAmount)

	_, err = svc.RefundPayment(orgCtx(), paymentdomain.RefundPaymentRequest{
		PaymentID: payment.ID.String(),
		Amount:    payment.Amount - 400,
	})
	require.NoError(t, err)

	got, err = svc.GetPayment(orgCtx(), payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusRefunded, got.Status)
}

func TestRefundPendingPaymentRejected(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)

	resp, err := svc.CreatePayment(orgCtx(), paymentdomain.CreatePaymentRequest{
		CustomerID: customer.ID.String(),
		Provider:   paymentdomain.ProviderKonbini,
		Amount:     1000,
	})
	require.NoError(t, err)

	_, err = svc.RefundPayment(orgCtx(), paymentdomain.RefundPaymentRequest{
		PaymentID: resp.Payment.ID.String(),
		Amount:    500,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrNotRefundable)
}

func TestConfirmKonbiniPayment(t *testing.T) {
	svc, db, fake, _ := newTestService(t)
	customer := seedCustomer(t, db)

	resp, err := svc.CreatePayment(orgCtx(), paymentdomain.CreatePaymentRequest{
		CustomerID: customer.ID.String(),
		Provider:   paymentdomain.ProviderKonbini,
		Amount:     3000,
	})
	require.NoError(t, err)
	code := resp.Konbini.PaymentCode

	paidAt := fake.Now().Add(48 * time.Hour)
	payment, err := svc.ConfirmKonbiniPayment(orgCtx(), code, paidAt)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusSucceeded, payment.Status)
	require.NotNil(t, payment.PaidAt)

	_, err = svc.ConfirmKonbiniPayment(orgCtx(), code, paidAt)
	assert.ErrorIs(t, err, paymentdomain.ErrAlreadyPaid)

	_, err = svc.ConfirmKonbiniPayment(orgCtx(), "000000000000", paidAt)
	assert.ErrorIs(t, err, paymentdomain.ErrCodeNotFound)
}

func TestConfirmKonbiniPaymentExpiredCode(t *testing.T) {
	svc, db, fake, _ := newTestService(t)
	customer := seedCustomer(t, db)

	resp, err := svc.CreatePayment(orgCtx(), paymentdomain.CreatePaymentRequest{
		CustomerID: customer.ID.String(),
		Provider:   paymentdomain.ProviderKonbini,
		Amount:     3000,
	})
	require.NoError(t, err)

	lateness := fake.Now().AddDate(0, 0, 10)
	_, err = svc.ConfirmKonbiniPayment(orgCtx(), resp.Konbini.PaymentCode, lateness)
	assert.ErrorIs(t, err, paymentdomain.ErrCodeExpired)
}

func TestExpireOverdueKonbini(t *testing.T) {
	svc, db, fake, _ := newTestService(t)
	customer := seedCustomer(t, db)

	resp, err := svc.CreatePayment(orgCtx(), paymentdomain.CreatePaymentRequest{
		CustomerID: customer.ID.String(),
		Provider:   paymentdomain.ProviderKonbini,
		Amount:     3000,
	})
	require.NoError(t, err)

	fake.Advance(10 * 24 * time.Hour)

	expired, err := svc.ExpireOverdueKonbini(context.Background(), fake.Now(), 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	// second run finds nothing
	expired, err = svc.ExpireOverdueKonbini(context.Background(), fake.Now(), 50)
	require.NoError(t, err)
	assert.Zero(t, expired)

	got, err := svc.GetPayment(orgCtx(), resp.Payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "konbini_code_expired", *got.FailureReason)

	var leg paymentdomain.KonbiniPayment
	require.NoError(t, db.First(&leg).Error)
	assert.Equal(t, paymentdomain.SubStatusExpired, leg.Status)
}

func TestProcessEventIdempotent(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)

	_, err := svc.AddPaymentMethod(orgCtx(), paymentdomain.AddPaymentMethodRequest{
		CustomerID: customer.ID.String(),
		Type:       customerdomain.MethodTypeCard,
		Provider:   paymentdomain.ProviderStripe,
		ExternalID: "pm_default",
	})
	require.NoError(t, err)

	payment, err := svc.ChargeDefaultMethod(orgCtx(), customer.ID, 1000, "tuition", nil)
	require.NoError(t, err)

	event := &paymentdomain.PaymentEvent{
		Provider:          paymentdomain.ProviderStripe,
		ProviderEventID:   "evt_1",
		ProviderPaymentID: *payment.ExternalID,
		Type:              paymentdomain.EventTypePaymentSucceeded,
		OccurredAt:        time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
	raw := []byte(`{"id":"evt_1"}`)

	require.NoError(t, svc.ProcessEvent(orgCtx(), event, raw))
	require.NoError(t, svc.ProcessEvent(orgCtx(), event, raw))

	got, err := svc.GetPayment(orgCtx(), payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusSucceeded, got.Status)
	require.NotNil(t, got.PaidAt)
	assert.WithinDuration(t, event.OccurredAt, *got.PaidAt, time.Second)

	var events int64
	require.NoError(t, db.Model(&paymentdomain.EventRecord{}).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestProcessEventUnknownPayment(t *testing.T) {
	svc, db, _, _ := newTestService(t)

	event := &paymentdomain.PaymentEvent{
		Provider:          paymentdomain.ProviderStripe,
		ProviderEventID:   "evt_orphan",
		ProviderPaymentID: "pi_never_created",
		Type:              paymentdomain.EventTypePaymentSucceeded,
	}
	require.NoError(t, svc.ProcessEvent(context.Background(), event, []byte(`{}`)))

	var record paymentdomain.EventRecord
	require.NoError(t, db.First(&record).Error)
	assert.NotNil(t, record.ProcessedAt)
}

func TestProcessEventFailureMarksPayment(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)

	_, err := svc.AddPaymentMethod(orgCtx(), paymentdomain.AddPaymentMethodRequest{
		CustomerID: customer.ID.String(),
		Type:       customerdomain.MethodTypeCard,
		Provider:   paymentdomain.ProviderStripe,
		ExternalID: "pm_default",
	})
	require.NoError(t, err)

	payment, err := svc.ChargeDefaultMethod(orgCtx(), customer.ID, 1000, "tuition", nil)
	require.NoError(t, err)

	event := &paymentdomain.PaymentEvent{
		Provider:          paymentdomain.ProviderStripe,
		ProviderEventID:   "evt_fail",
		ProviderPaymentID: *payment.ExternalID,
		Type:              paymentdomain.EventTypePaymentFailed,
	}
	require.NoError(t, svc.ProcessEvent(orgCtx(), event, []byte(`{}`)))

	got, err := svc.GetPayment(orgCtx(), payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
}
