package service

import (
	"context"
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
	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
	paymentrepo "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/repository"
	paymentservice "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/service"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/providers/email"
	reminderdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/domain"
	reminderrepo "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/repository"
	reminderservice "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/service"
	subscriptiondomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/subscription/domain"
	subscriptionrepo "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/subscription/repository"
	taxservice "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/tax/service"
)

const testOrgID = snowflake.ID(6001)

// fakeCardAdapter keeps the card provider offline; initiateStatus drives
// whether charges settle synchronously.
type fakeCardAdapter struct {
	initiateStatus string
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
	status := a.initiateStatus
	if status == "" {
		status = paymentdomain.StatusSucceeded
	}
	return &paymentdomain.InitiateResult{
		ExternalID: "pi_" + req.PaymentID.String(),
		Status:     status,
		Metadata:   map[string]any{},
	}, nil
}

func (a *fakeCardAdapter) Refund(ctx context.Context, req paymentdomain.RefundRequest) (*paymentdomain.RefundResult, error) {
	return &paymentdomain.RefundResult{ExternalID: "re_" + req.Payment.ID.String(), Status: "succeeded"}, nil
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
		&reminderdomain.PaymentReminder{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.BillingAttempt{},
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

	adapter := &fakeCardAdapter{}
	registry := adapters.NewRegistry(&fakeCardFactory{adapter: adapter})

	payments := paymentservice.NewService(paymentservice.Params{
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

	reminders := reminderservice.NewService(reminderservice.Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        fake,
		Billing:      billing,
		Repo:         reminderrepo.Provide(),
		CustomerRepo: customerrepo.Provide(),
		Email:        &email.NoOpProvider{},
		Audit:        audit,
	})

	svc := NewService(Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        fake,
		Billing:      billing,
		Repo:         subscriptionrepo.Provide(),
		CustomerRepo: customerrepo.Provide(),
		Payments:     paymentservice.AsService(payments),
		Reminders:    reminders,
		Audit:        audit,
	})

	return svc, db, fake, adapter
}

func orgCtx() context.Context {
	return orgcontext.WithOrgID(context.Background(), testOrgID)
}

func seedCustomer(t *testing.T, db *gorm.DB) *customerdomain.Customer {
	t.Helper()
	customer := &customerdomain.Customer{
		ID:     snowflake.ID(400001),
		OrgID:  testOrgID,
		Name:   "Taro Yamada",
		Email:  "taro@example.jp",
		Region: "JP",
	}
	require.NoError(t, db.Create(customer).Error)
	return customer
}

func seedDefaultMethod(t *testing.T, db *gorm.DB, customerID snowflake.ID) *customerdomain.PaymentMethod {
	t.Helper()
	method := &customerdomain.PaymentMethod{
		ID:         snowflake.ID(410001),
		OrgID:      testOrgID,
		CustomerID: customerID,
		Type:       "card",
		Provider:   paymentdomain.ProviderStripe,
		ExternalID: "pm_test_visa",
		MaskedID:   "4242",
		Brand:      "visa",
		IsDefault:  true,
	}
	require.NoError(t, db.Create(method).Error)
	return method
}

func monthlyRequest(customerID snowflake.ID, amount int64) subscriptiondomain.CreateSubscriptionRequest {
	return subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: customerID.String(),
		PlanName:   "Standard Weekly Lessons",
		Amount:     amount,
		Interval:   subscriptiondomain.IntervalMonthly,
	}
}

func TestCreateSubscriptionWithTrial(t *testing.T) {
	svc, db, fake, _ := newTestService(t)
	customer := seedCustomer(t, db)

	req := monthlyRequest(customer.ID, 10000)
	req.TrialDays = 14
	subscription, err := svc.Create(orgCtx(), req)
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusTrialing, subscription.Status)
	require.NotNil(t, subscription.TrialEndAt)
	assert.Equal(t, fake.Now().AddDate(0, 0, 14), *subscription.TrialEndAt)
	assert.Equal(t, fake.Now().AddDate(0, 0, 14), subscription.NextBillingAt)

	// no charge during the trial
	var payments int64
	require.NoError(t, db.Model(&paymentdomain.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(0), payments)

	var reminders []reminderdomain.PaymentReminder
	require.NoError(t, db.Where("subscription_id = ?", subscription.ID).Find(&reminders).Error)
	require.Len(t, reminders, 1)
	assert.Equal(t, reminderdomain.KindTrialEnding, reminders[0].Kind)
}

func TestCreateSubscriptionChargesImmediately(t *testing.T) {
	svc, db, fake, _ := newTestService(t)
	customer := seedCustomer(t, db)
	seedDefaultMethod(t, db, customer.ID)

	subscription, err := svc.Create(orgCtx(), monthlyRequest(customer.ID, 5000))
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, subscription.Status)
	assert.WithinDuration(t, fake.Now().AddDate(0, 1, 0), subscription.CurrentPeriodEnd, time.Second)
	assert.WithinDuration(t, fake.Now().AddDate(0, 1, 0), subscription.NextBillingAt, time.Second)

	var payment paymentdomain.Payment
	require.NoError(t, db.First(&payment).Error)
	assert.Equal(t, int64(5500), payment.Amount) // 5000 + 10% tax
	assert.Equal(t, paymentdomain.StatusSucceeded, payment.Status)
	require.NotNil(t, payment.SubscriptionID)
	assert.Equal(t, subscription.ID, *payment.SubscriptionID)

	var attempt subscriptiondomain.BillingAttempt
	require.NoError(t, db.First(&attempt).Error)
	assert.Equal(t, subscriptiondomain.AttemptStatusSucceeded, attempt.Status)
	require.NotNil(t, attempt.PaymentID)
}

func TestCreateSubscriptionWithoutDefaultMethod(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)

	subscription, err := svc.Create(orgCtx(), monthlyRequest(customer.ID, 5000))
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusIncomplete, subscription.Status)
	assert.Equal(t, 1, subscription.FailedAttempts)

	var attempt subscriptiondomain.BillingAttempt
	require.NoError(t, db.First(&attempt).Error)
	assert.Equal(t, subscriptiondomain.AttemptStatusFailed, attempt.Status)
	assert.Equal(t, "no_default_method", attempt.FailureReason)
}

func TestProcessPendingBillingAdvancesPeriod(t *testing.T) {
	svc, db, fake, _ := newTestService(t)
	customer := seedCustomer(t, db)
	seedDefaultMethod(t, db, customer.ID)

	subscription, err := svc.Create(orgCtx(), monthlyRequest(customer.ID, 10000))
	require.NoError(t, err)
	firstPeriodEnd := subscription.NextBillingAt

	fake.Advance(firstPeriodEnd.Sub(fake.Now()) + time.Hour)

	result, err := svc.ProcessPendingBilling(orgCtx(), fake.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Failed)

	renewed, err := svc.Get(orgCtx(), subscription.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, renewed.Status)
	assert.WithinDuration(t, firstPeriodEnd, renewed.CurrentPeriodStart, time.Second)
	assert.True(t, renewed.NextBillingAt.After(fake.Now()))

	var payments int64
	require.NoError(t, db.Model(&paymentdomain.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(2), payments)

	// nothing left due; a second sweep is a no-op
	again, err := svc.ProcessPendingBilling(orgCtx(), fake.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed)

	// direct re-billing of the same period is blocked by the attempt key
	require.NoError(t, svc.ProcessSubscriptionPayment(orgCtx(), subscription.ID))
	require.NoError(t, db.Model(&paymentdomain.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(2), payments)
}

func TestProcessPendingBillingMarksFailures(t *testing.T) {
	svc, db, fake, _ := newTestService(t)
	customer := seedCustomer(t, db)
	method := seedDefaultMethod(t, db, customer.ID)

	subscription, err := svc.Create(orgCtx(), monthlyRequest(customer.ID, 10000))
	require.NoError(t, err)

	// the card disappears before renewal
	require.NoError(t, db.Delete(method).Error)
	fake.Advance(31 * 24 * time.Hour)

	result, err := svc.ProcessPendingBilling(orgCtx(), fake.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], subscription.ID.String())

	updated, err := svc.Get(orgCtx(), subscription.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, updated.Status)
	assert.Equal(t, 1, updated.FailedAttempts)
}

func TestCancelImmediate(t *testing.T) {
	svc, db, fake, _ := newTestService(t)
	customer := seedCustomer(t, db)
	seedDefaultMethod(t, db, customer.ID)

	subscription, err := svc.Create(orgCtx(), monthlyRequest(customer.ID, 10000))
	require.NoError(t, err)

	canceled, err := svc.Cancel(orgCtx(), subscriptiondomain.CancelSubscriptionRequest{
		SubscriptionID: subscription.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.CanceledAt)
	assert.WithinDuration(t, fake.Now(), *canceled.CanceledAt, time.Second)

	var scheduled int64
	require.NoError(t, db.Model(&reminderdomain.PaymentReminder{}).
		Where("subscription_id = ? AND status = ?", subscription.ID, reminderdomain.StatusScheduled).
		Count(&scheduled).Error)
	assert.Equal(t, int64(0), scheduled)

	_, err = svc.Cancel(orgCtx(), subscriptiondomain.CancelSubscriptionRequest{
		SubscriptionID: subscription.ID.String(),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrAlreadyCanceled)
}

func TestCancelAtPeriodEnd(t *testing.T) {
	svc, db, fake, _ := newTestService(t)
	customer := seedCustomer(t, db)
	seedDefaultMethod(t, db, customer.ID)

	subscription, err := svc.Create(orgCtx(), monthlyRequest(customer.ID, 10000))
	require.NoError(t, err)

	flagged, err := svc.Cancel(orgCtx(), subscriptiondomain.CancelSubscriptionRequest{
		SubscriptionID: subscription.ID.String(),
		AtPeriodEnd:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, flagged.Status)
	assert.True(t, flagged.CancelAtPeriodEnd)
	assert.Nil(t, flagged.CanceledAt)

	fake.Advance(31 * 24 * time.Hour)
	result, err := svc.ProcessPendingBilling(orgCtx(), fake.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	ended, err := svc.Get(orgCtx(), subscription.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, ended.Status)
	require.NotNil(t, ended.CanceledAt)

	// the lapsed period was not charged
	var payments int64
	require.NoError(t, db.Model(&paymentdomain.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(1), payments)
}

func TestChangePlanImmediateProration(t *testing.T) {
	svc, db, fake, _ := newTestService(t)
	customer := seedCustomer(t, db)
	seedDefaultMethod(t, db, customer.ID)

	subscription, err := svc.Create(orgCtx(), monthlyRequest(customer.ID, 10000))
	require.NoError(t, err)

	// April has 30 days; half the period remains
	fake.Advance(15 * 24 * time.Hour)

	resp, err := svc.ChangePlan(orgCtx(), subscriptiondomain.ChangePlanRequest{
		SubscriptionID: subscription.ID.String(),
		PlanName:       "Premium Weekly Lessons",
		NewAmount:      20000,
		ProrationMode:  subscriptiondomain.ProrationImmediate,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5000), resp.ProrationAmount)
	require.NotNil(t, resp.ProrationPayment)
	assert.Equal(t, int64(20000), resp.Subscription.Amount)
	assert.Equal(t, "Premium Weekly Lessons", resp.Subscription.PlanName)

	var proration paymentdomain.Payment
	require.NoError(t, db.First(&proration, "id = ?", *resp.ProrationPayment).Error)
	assert.Equal(t, int64(5500), proration.Amount) // 5000 + 10% tax
}

func TestChangePlanNextCycleDefersCharge(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	customer := seedCustomer(t, db)
	seedDefaultMethod(t, db, customer.ID)

	subscription, err := svc.Create(orgCtx(), monthlyRequest(customer.ID, 10000))
	require.NoError(t, err)

	resp, err := svc.ChangePlan(orgCtx(), subscriptiondomain.ChangePlanRequest{
		SubscriptionID: subscription.ID.String(),
		NewAmount:      20000,
		ProrationMode:  subscriptiondomain.ProrationNextCycle,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), resp.ProrationAmount)
	assert.Nil(t, resp.ProrationPayment)
	assert.Equal(t, int64(20000), resp.Subscription.Amount)

	var payments int64
	require.NoError(t, db.Model(&paymentdomain.Payment{}).Count(&payments).Error)
	assert.Equal(t, int64(1), payments) // only the creation charge
}

func TestOnPaymentSucceededSettlesPendingCharge(t *testing.T) {
	svc, db, fake, adapter := newTestService(t)
	customer := seedCustomer(t, db)
	seedDefaultMethod(t, db, customer.ID)

	// the provider answers asynchronously
	adapter.initiateStatus = paymentdomain.StatusPending

	subscription, err := svc.Create(orgCtx(), monthlyRequest(customer.ID, 10000))
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusIncomplete, subscription.Status)

	var attempt subscriptiondomain.BillingAttempt
	require.NoError(t, db.First(&attempt).Error)
	assert.Equal(t, subscriptiondomain.AttemptStatusPending, attempt.Status)

	require.NoError(t, svc.OnPaymentSucceeded(orgCtx(), testOrgID, subscription.ID, fake.Now()))

	settled, err := svc.Get(orgCtx(), subscription.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, settled.Status)
	assert.WithinDuration(t, fake.Now().AddDate(0, 1, 0), settled.NextBillingAt, time.Second)

	// replayed settlement finds no open attempt and changes nothing
	require.NoError(t, svc.OnPaymentSucceeded(orgCtx(), testOrgID, subscription.ID, fake.Now()))
	replayed, err := svc.Get(orgCtx(), subscription.ID.String())
	require.NoError(t, err)
	assert.WithinDuration(t, settled.NextBillingAt, replayed.NextBillingAt, time.Second)
}

func TestOnPaymentFailedMarksSubscription(t *testing.T) {
	svc, db, _, adapter := newTestService(t)
	customer := seedCustomer(t, db)
	seedDefaultMethod(t, db, customer.ID)

	adapter.initiateStatus = paymentdomain.StatusPending

	subscription, err := svc.Create(orgCtx(), monthlyRequest(customer.ID, 10000))
	require.NoError(t, err)

	require.NoError(t, svc.OnPaymentFailed(orgCtx(), testOrgID, subscription.ID, "payment_expired"))

	updated, err := svc.Get(orgCtx(), subscription.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusIncomplete, updated.Status)
	assert.Equal(t, 1, updated.FailedAttempts)

	var attempt subscriptiondomain.BillingAttempt
	require.NoError(t, db.First(&attempt).Error)
	assert.Equal(t, subscriptiondomain.AttemptStatusFailed, attempt.Status)
	assert.Equal(t, "payment_expired", attempt.FailureReason)
}

func TestChurnMetrics(t *testing.T) {
	svc, db, fake, _ := newTestService(t)

	now := fake.Now()
	canceledAt := now.AddDate(0, 0, -5)
	rows := []subscriptiondomain.Subscription{
		{ID: 1, OrgID: testOrgID, CustomerID: 1, PlanName: "a", Amount: 10000,
			Interval: subscriptiondomain.IntervalMonthly, Status: subscriptiondomain.SubscriptionStatusActive,
			CurrentPeriodStart: now, CurrentPeriodEnd: now, NextBillingAt: now},
		{ID: 2, OrgID: testOrgID, CustomerID: 2, PlanName: "b", Amount: 24000,
			Interval: subscriptiondomain.IntervalYearly, Status: subscriptiondomain.SubscriptionStatusActive,
			CurrentPeriodStart: now, CurrentPeriodEnd: now, NextBillingAt: now},
		{ID: 3, OrgID: testOrgID, CustomerID: 3, PlanName: "c", Amount: 8000,
			Interval: subscriptiondomain.IntervalMonthly, Status: subscriptiondomain.SubscriptionStatusTrialing,
			CurrentPeriodStart: now, CurrentPeriodEnd: now, NextBillingAt: now},
		{ID: 4, OrgID: testOrgID, CustomerID: 4, PlanName: "d", Amount: 8000,
			Interval: subscriptiondomain.IntervalMonthly, Status: subscriptiondomain.SubscriptionStatusCanceled,
			CurrentPeriodStart: now, CurrentPeriodEnd: now, NextBillingAt: now, CanceledAt: &canceledAt},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}

	metrics, err := svc.ChurnMetrics(orgCtx(), now.AddDate(0, -1, 0), now)
	require.NoError(t, err)

	assert.Equal(t, int64(2), metrics.ActiveCount)
	assert.Equal(t, int64(1), metrics.TrialingCount)
	assert.Equal(t, int64(1), metrics.CanceledInPeriod)
	assert.Equal(t, int64(12000), metrics.MonthlyRecurringRevenue) // 10000 + 24000/12
	assert.InDelta(t, 0.25, metrics.ChurnRate, 0.0001)
}
