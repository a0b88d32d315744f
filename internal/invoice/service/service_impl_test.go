package service

import (
	"context"
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
	invoicedomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/invoice/domain"
	invoicerepo "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/invoice/repository"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/orgcontext"
	orgdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/organization/domain"
	orgrepo "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/organization/repository"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/providers/email"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/providers/pdf"
	reminderdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/domain"
	reminderrepo "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/repository"
	reminderservice "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/service"
	taxservice "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/tax/service"
)

const testOrgID = snowflake.ID(7001)

func newTestService(t *testing.T, pdfProvider pdf.Provider) (*Service, *gorm.DB, *clock.FakeClock) {
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
		&orgdomain.Organization{},
		&orgdomain.InvoiceSequence{},
		&customerdomain.Customer{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&reminderdomain.PaymentReminder{},
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

	tax := taxservice.NewService(taxservice.Params{
		Logger:  log,
		Billing: billing,
	})

	svc := NewService(Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        fake,
		Repo:         invoicerepo.Provide(),
		CustomerRepo: customerrepo.Provide(),
		OrgRepo:      orgrepo.Provide(),
		Tax:          tax,
		PDF:          pdfProvider,
		Reminders:    reminders,
		Audit:        audit,
	})

	return svc, db, fake
}

func orgCtx() context.Context {
	return orgcontext.WithOrgID(context.Background(), testOrgID)
}

func seedOrg(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&orgdomain.Organization{
		ID:           testOrgID,
		Name:         "Sakura English School",
		SupportEmail: "billing@sakura-english.jp",
		CountryCode:  "JP",
		Address:      "2-11-3 Meguro, Tokyo",
	}).Error)
}

func seedCustomer(t *testing.T, db *gorm.DB, mutate ...func(*customerdomain.Customer)) *customerdomain.Customer {
	t.Helper()
	customer := &customerdomain.Customer{
		ID:     snowflake.ID(300001),
		OrgID:  testOrgID,
		Name:   "Hanako Suzuki",
		Email:  "hanako@example.jp",
		Region: "JP",
	}
	for _, fn := range mutate {
		fn(customer)
	}
	require.NoError(t, db.Create(customer).Error)
	return customer
}

func standardItems() []invoicedomain.LineItemInput {
	return []invoicedomain.LineItemInput{
		{Description: "Group lessons (April)", Quantity: 2, UnitAmount: 3000},
		{Description: "Materials fee", Quantity: 1, UnitAmount: 5000},
	}
}

func TestCreateInvoice(t *testing.T) {
	svc, db, fake := newTestService(t, &pdf.NoOpProvider{})
	seedOrg(t, db)
	customer := seedCustomer(t, db)

	got, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      standardItems(),
	})
	require.NoError(t, err)

	assert.Equal(t, "INV-202604-0001", got.Invoice.InvoiceNumber)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, got.Invoice.Status)
	assert.Equal(t, int64(11000), got.Invoice.Subtotal)
	assert.Equal(t, int64(1100), got.Invoice.TaxAmount)
	assert.Equal(t, int64(12100), got.Invoice.Total)
	assert.Equal(t, fake.Now().AddDate(0, 0, 30), got.Invoice.DueAt)
	require.Len(t, got.Items, 2)
	assert.Equal(t, int64(6000), got.Items[0].Amount)
}

func TestCreateInvoiceSequenceAdvances(t *testing.T) {
	svc, db, _ := newTestService(t, &pdf.NoOpProvider{})
	seedOrg(t, db)
	customer := seedCustomer(t, db)

	first, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      standardItems(),
	})
	require.NoError(t, err)
	second, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      standardItems(),
	})
	require.NoError(t, err)

	assert.Equal(t, "INV-202604-0001", first.Invoice.InvoiceNumber)
	assert.Equal(t, "INV-202604-0002", second.Invoice.InvoiceNumber)
}

func TestCreateInvoiceOpenSchedulesReminders(t *testing.T) {
	svc, db, _ := newTestService(t, &pdf.NoOpProvider{})
	seedOrg(t, db)
	customer := seedCustomer(t, db)

	got, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      standardItems(),
		Open:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusOpen, got.Invoice.Status)

	var count int64
	require.NoError(t, db.Model(&reminderdomain.PaymentReminder{}).
		Where("invoice_id = ? AND status = ?", got.Invoice.ID, reminderdomain.StatusScheduled).
		Count(&count).Error)
	assert.Equal(t, int64(4), count)
}

func TestCreateInvoiceTaxExemptCustomer(t *testing.T) {
	svc, db, _ := newTestService(t, &pdf.NoOpProvider{})
	seedOrg(t, db)
	customer := seedCustomer(t, db, func(c *customerdomain.Customer) {
		c.TaxExempt = true
	})

	got, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      standardItems(),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(11000), got.Invoice.Subtotal)
	assert.Equal(t, int64(0), got.Invoice.TaxAmount)
	assert.Equal(t, int64(11000), got.Invoice.Total)
}

func TestCreateInvoiceValidation(t *testing.T) {
	svc, db, _ := newTestService(t, &pdf.NoOpProvider{})
	seedOrg(t, db)
	customer := seedCustomer(t, db)

	_, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
	})
	assert.ErrorIs(t, err, invoicedomain.ErrNoLineItems)

	_, err = svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      []invoicedomain.LineItemInput{{Description: "bad", Quantity: 0, UnitAmount: 1000}},
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidLineItem)

	_, err = svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: snowflake.ID(999999).String(),
		Items:      standardItems(),
	})
	assert.ErrorIs(t, err, invoicedomain.ErrCustomerNotFound)
}

func TestUpdateStatusTransitions(t *testing.T) {
	svc, db, fake := newTestService(t, &pdf.NoOpProvider{})
	seedOrg(t, db)
	customer := seedCustomer(t, db)

	created, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      standardItems(),
	})
	require.NoError(t, err)
	id := created.Invoice.ID.String()

	// DRAFT cannot settle directly
	_, err = svc.UpdateStatus(orgCtx(), id, invoicedomain.InvoiceStatusPaid)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)

	opened, err := svc.UpdateStatus(orgCtx(), id, invoicedomain.InvoiceStatusOpen)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusOpen, opened.Status)

	paid, err := svc.UpdateStatus(orgCtx(), id, invoicedomain.InvoiceStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.WithinDuration(t, fake.Now(), *paid.PaidAt, time.Second)

	_, err = svc.UpdateStatus(orgCtx(), id, invoicedomain.InvoiceStatusVoid)
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidTransition)
}

func TestUpdateStatusVoidCancelsReminders(t *testing.T) {
	svc, db, _ := newTestService(t, &pdf.NoOpProvider{})
	seedOrg(t, db)
	customer := seedCustomer(t, db)

	created, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      standardItems(),
		Open:       true,
	})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(orgCtx(), created.Invoice.ID.String(), invoicedomain.InvoiceStatusVoid)
	require.NoError(t, err)

	var scheduled int64
	require.NoError(t, db.Model(&reminderdomain.PaymentReminder{}).
		Where("invoice_id = ? AND status = ?", created.Invoice.ID, reminderdomain.StatusScheduled).
		Count(&scheduled).Error)
	assert.Equal(t, int64(0), scheduled)
}

func TestMarkPaidSettlesAndIsIdempotent(t *testing.T) {
	svc, db, fake := newTestService(t, &pdf.NoOpProvider{})
	seedOrg(t, db)
	customer := seedCustomer(t, db)

	created, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      standardItems(),
		Open:       true,
	})
	require.NoError(t, err)

	paidAt := fake.Now()
	require.NoError(t, svc.MarkPaid(orgCtx(), testOrgID, created.Invoice.ID, paidAt))
	// replayed settlement stays silent
	require.NoError(t, svc.MarkPaid(orgCtx(), testOrgID, created.Invoice.ID, paidAt.Add(time.Hour)))

	got, err := svc.Get(orgCtx(), created.Invoice.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, got.Invoice.Status)
	require.NotNil(t, got.Invoice.PaidAt)
	assert.WithinDuration(t, paidAt, *got.Invoice.PaidAt, time.Second)
}

func TestMarkPaidRejectsDraftAndUnknown(t *testing.T) {
	svc, db, fake := newTestService(t, &pdf.NoOpProvider{})
	seedOrg(t, db)
	customer := seedCustomer(t, db)

	created, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      standardItems(),
	})
	require.NoError(t, err)

	err = svc.MarkPaid(orgCtx(), testOrgID, created.Invoice.ID, fake.Now())
	assert.ErrorIs(t, err, invoicedomain.ErrNotSettleable)

	err = svc.MarkPaid(orgCtx(), testOrgID, snowflake.ID(424242), fake.Now())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}

func TestGeneratePDF(t *testing.T) {
	svc, db, _ := newTestService(t, pdf.New())
	seedOrg(t, db)
	customer := seedCustomer(t, db)

	created, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      standardItems(),
		Notes:      "Bank transfer accepted until the due date.",
	})
	require.NoError(t, err)

	bytes, invoice, err := svc.GeneratePDF(orgCtx(), created.Invoice.ID.String())
	require.NoError(t, err)
	require.NotEmpty(t, bytes)
	assert.Equal(t, "%PDF", string(bytes[:4]))
	require.NotNil(t, invoice.PDFURL)
	assert.Equal(t, "/invoices/"+invoice.ID.String()+"/pdf", *invoice.PDFURL)
	require.NotNil(t, invoice.PDFGeneratedAt)
}

func TestListInvoicesPagination(t *testing.T) {
	svc, db, fake := newTestService(t, &pdf.NoOpProvider{})
	seedOrg(t, db)
	customer := seedCustomer(t, db)

	for i := 0; i < 3; i++ {
		_, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
			CustomerID: customer.ID.String(),
			Items:      standardItems(),
		})
		require.NoError(t, err)
		fake.Advance(time.Minute)
	}

	first, err := svc.List(orgCtx(), invoicedomain.ListInvoiceRequest{})
	require.NoError(t, err)
	assert.Len(t, first.Invoices, 3)
	assert.False(t, first.HasMore)

	req := invoicedomain.ListInvoiceRequest{}
	req.PageSize = 2
	page, err := svc.List(orgCtx(), req)
	require.NoError(t, err)
	require.Len(t, page.Invoices, 2)
	require.True(t, page.HasMore)

	req.PageToken = page.NextPageToken
	rest, err := svc.List(orgCtx(), req)
	require.NoError(t, err)
	require.Len(t, rest.Invoices, 1)
	assert.False(t, rest.HasMore)
	assert.NotEqual(t, page.Invoices[0].ID, rest.Invoices[0].ID)
	assert.NotEqual(t, page.Invoices[1].ID, rest.Invoices[0].ID)
}

func TestAnalytics(t *testing.T) {
	svc, db, fake := newTestService(t, &pdf.NoOpProvider{})
	seedOrg(t, db)
	customer := seedCustomer(t, db)
	other := seedCustomer(t, db, func(c *customerdomain.Customer) {
		c.ID = snowflake.ID(300002)
		c.Name = "Kenji Tanaka"
		c.Email = "kenji@example.jp"
	})

	paid1, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      standardItems(),
		Open:       true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.MarkPaid(orgCtx(), testOrgID, paid1.Invoice.ID, fake.Now()))

	// next month, a bigger paid invoice for the other customer
	fake.Advance(31 * 24 * time.Hour)
	paid2, err := svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: other.ID.String(),
		Items: []invoicedomain.LineItemInput{
			{Description: "Annual tuition", Quantity: 1, UnitAmount: 100000},
		},
		Open: true,
	})
	require.NoError(t, err)
	require.NoError(t, svc.MarkPaid(orgCtx(), testOrgID, paid2.Invoice.ID, fake.Now()))

	_, err = svc.Create(orgCtx(), invoicedomain.CreateInvoiceRequest{
		CustomerID: customer.ID.String(),
		Items:      standardItems(),
		Open:       true,
	})
	require.NoError(t, err)

	from := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	analytics, err := svc.Analytics(orgCtx(), from, to, 5)
	require.NoError(t, err)

	assert.Equal(t, int64(2), analytics.StatusCounts[invoicedomain.InvoiceStatusPaid])
	assert.Equal(t, int64(1), analytics.StatusCounts[invoicedomain.InvoiceStatusOpen])
	assert.Equal(t, int64(12100+110000), analytics.StatusTotals[invoicedomain.InvoiceStatusPaid])

	require.Len(t, analytics.MonthlyTrend, 2)
	assert.Equal(t, "2026-04", analytics.MonthlyTrend[0].Month)
	assert.Equal(t, int64(12100), analytics.MonthlyTrend[0].Revenue)
	assert.Equal(t, "2026-05", analytics.MonthlyTrend[1].Month)
	assert.Equal(t, int64(110000), analytics.MonthlyTrend[1].Revenue)
	assert.Equal(t, int64(2), analytics.MonthlyTrend[1].InvoiceCount)

	require.NotEmpty(t, analytics.TopCustomers)
	assert.Equal(t, other.ID, analytics.TopCustomers[0].CustomerID)
	assert.Equal(t, int64(110000), analytics.TopCustomers[0].Revenue)
}

func TestGetUnknownInvoice(t *testing.T) {
	svc, db, _ := newTestService(t, &pdf.NoOpProvider{})
	seedOrg(t, db)

	_, err := svc.Get(orgCtx(), snowflake.ID(111).String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}
