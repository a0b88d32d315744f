package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/audit/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/clock"
	customerdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/customer/domain"
	invoicedomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/invoice/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/invoice/format"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/orgcontext"
	orgdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/organization/domain"
	paymentdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/payment/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/providers/pdf"
	reminderdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/reminder/domain"
	taxdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/tax/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/pkg/db/pagination"
)

const defaultDueInDays = 30

// transitions is the allowed lifecycle graph; everything else is rejected.
var transitions = map[invoicedomain.InvoiceStatus][]invoicedomain.InvoiceStatus{
	invoicedomain.InvoiceStatusDraft:   {invoicedomain.InvoiceStatusOpen, invoicedomain.InvoiceStatusVoid},
	invoicedomain.InvoiceStatusOpen:    {invoicedomain.InvoiceStatusPaid, invoicedomain.InvoiceStatusPartial, invoicedomain.InvoiceStatusOverdue, invoicedomain.InvoiceStatusVoid},
	invoicedomain.InvoiceStatusOverdue: {invoicedomain.InvoiceStatusPaid, invoicedomain.InvoiceStatusPartial, invoicedomain.InvoiceStatusVoid},
	invoicedomain.InvoiceStatusPartial: {invoicedomain.InvoiceStatusPaid, invoicedomain.InvoiceStatusOverdue, invoicedomain.InvoiceStatusVoid},
}

func transitionAllowed(from, to invoicedomain.InvoiceStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         invoicedomain.Repository
	CustomerRepo customerdomain.Repository
	OrgRepo      orgdomain.Repository
	Tax          taxdomain.Calculator
	PDF          pdf.Provider
	Reminders    reminderdomain.Service
	Audit        auditdomain.Service
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         invoicedomain.Repository
	customerRepo customerdomain.Repository
	orgRepo      orgdomain.Repository
	tax          taxdomain.Calculator
	pdf          pdf.Provider
	reminders    reminderdomain.Service
	audit        auditdomain.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("invoice.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		customerRepo: p.CustomerRepo,
		orgRepo:      p.OrgRepo,
		tax:          p.Tax,
		pdf:          p.PDF,
		reminders:    p.Reminders,
		audit:        p.Audit,
	}
}

func AsService(s *Service) invoicedomain.Service { return s }

// AsSettler exposes the service as the payment-side settlement hook.
func AsSettler(s *Service) paymentdomain.InvoiceSettler { return s }

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (*invoicedomain.InvoiceWithItems, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, invoicedomain.ErrInvalidOrganization
	}
	if len(req.Items) == 0 {
		return nil, invoicedomain.ErrNoLineItems
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return nil, invoicedomain.ErrCustomerNotFound
	}
	customer, err := s.customerRepo.FindByID(ctx, s.db, orgID, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, invoicedomain.ErrCustomerNotFound
	}

	lines := make([]taxdomain.InvoiceLine, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.UnitAmount < 0 {
			return nil, invoicedomain.ErrInvalidLineItem
		}
		category := strings.ToUpper(strings.TrimSpace(item.TaxCategory))
		if category == "" {
			category = taxdomain.CategoryStandard
		}
		if customer.TaxExempt {
			category = taxdomain.CategoryExempt
		} else if customer.ReducedRate && category == taxdomain.CategoryStandard {
			category = taxdomain.CategoryReduced
		}
		lines = append(lines, taxdomain.InvoiceLine{
			Description: item.Description,
			Amount:      item.Quantity * item.UnitAmount,
			Category:    category,
		})
	}

	calc, err := s.tax.CalculateInvoiceTax(ctx, lines, customer.Region)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	dueAt := now.AddDate(0, 0, defaultDueInDays)
	if req.DueAt != nil && req.DueAt.After(now) {
		dueAt = *req.DueAt
	}

	status := invoicedomain.InvoiceStatusDraft
	if req.Open {
		status = invoicedomain.InvoiceStatusOpen
	}

	invoice := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		CustomerID:     customerID,
		SubscriptionID: req.SubscriptionID,
		Status:         status,
		Subtotal:       calc.Subtotal,
		TaxAmount:      calc.TaxAmount,
		Total:          calc.Total,
		Currency:       "JPY",
		IssuedAt:       now,
		DueAt:          dueAt,
		Notes:          req.Notes,
		Metadata:       datatypes.JSONMap{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	items := make([]invoicedomain.InvoiceItem, 0, len(req.Items))
	for i, item := range req.Items {
		items = append(items, invoicedomain.InvoiceItem{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			InvoiceID:   invoice.ID,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
			Amount:      item.Quantity * item.UnitAmount,
			TaxCategory: lines[i].Category,
			Metadata:    datatypes.JSONMap{},
			CreatedAt:   now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := s.orgRepo.NextInvoiceSequence(ctx, tx, orgID, now.Year())
		if err != nil {
			return err
		}
		number, err := format.FormatInvoiceNumber(format.DefaultInvoiceNumberTemplate, now, seq)
		if err != nil {
			return err
		}
		invoice.InvoiceNumber = number

		if err := s.repo.Insert(ctx, tx, &invoice); err != nil {
			return err
		}
		for i := range items {
			if err := s.repo.InsertItem(ctx, tx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if status == invoicedomain.InvoiceStatusOpen {
		s.scheduleReminders(ctx, &invoice)
	}

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     auditdomain.ActionCreate,
		EntityType: auditdomain.EntityInvoice,
		EntityID:   invoice.ID.String(),
		After: map[string]any{
			"invoice_number": invoice.InvoiceNumber,
			"status":         invoice.Status,
			"subtotal":       invoice.Subtotal,
			"tax_amount":     invoice.TaxAmount,
			"total":          invoice.Total,
		},
	})

	return &invoicedomain.InvoiceWithItems{Invoice: invoice, Items: items}, nil
}

// scheduleReminders is best effort; a scheduling failure does not unwind
// the invoice.
func (s *Service) scheduleReminders(ctx context.Context, invoice *invoicedomain.Invoice) {
	_, err := s.reminders.ScheduleInvoiceReminders(ctx, reminderdomain.ScheduleInvoiceRemindersRequest{
		InvoiceID:     invoice.ID,
		CustomerID:    invoice.CustomerID,
		InvoiceNumber: invoice.InvoiceNumber,
		AmountDue:     invoice.Total,
		DueAt:         invoice.DueAt,
	})
	if err != nil {
		s.log.Warn("invoice reminder scheduling failed",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) Get(ctx context.Context, id string) (*invoicedomain.InvoiceWithItems, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, invoicedomain.ErrInvalidOrganization
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || invoiceID == 0 {
		return nil, invoicedomain.ErrInvoiceNotFound
	}

	invoice, err := s.repo.FindByID(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	items, err := s.repo.FindItems(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}
	return &invoicedomain.InvoiceWithItems{Invoice: *invoice, Items: items}, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidOrganization
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, orgID, invoicedomain.ListFilter{
		Status:     req.Status,
		CustomerID: req.CustomerID,
		IssuedFrom: req.IssuedFrom,
		IssuedTo:   req.IssuedTo,
		DueFrom:    req.DueFrom,
		DueTo:      req.DueTo,
	}, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(invoice *invoicedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        invoice.ID.String(),
			CreatedAt: invoice.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	resp := invoicedomain.ListInvoiceResponse{Invoices: invoices}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}

	return resp, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status invoicedomain.InvoiceStatus) (*invoicedomain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, invoicedomain.ErrInvalidOrganization
	}
	switch status {
	case invoicedomain.InvoiceStatusDraft, invoicedomain.InvoiceStatusOpen,
		invoicedomain.InvoiceStatusPaid, invoicedomain.InvoiceStatusVoid,
		invoicedomain.InvoiceStatusOverdue, invoicedomain.InvoiceStatusPartial:
	default:
		return nil, invoicedomain.ErrInvalidStatus
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || invoiceID == 0 {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	invoice, err := s.repo.FindByID(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	if !transitionAllowed(invoice.Status, status) {
		return nil, invoicedomain.ErrInvalidTransition
	}

	now := s.clock.Now()
	var paidAt *time.Time
	if status == invoicedomain.InvoiceStatusPaid {
		paidAt = &now
	}

	affected, err := s.repo.UpdateStatus(ctx, s.db, invoiceID, invoice.Status, status, paidAt)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// lost the race; surface the conflict rather than lying
		return nil, invoicedomain.ErrInvalidTransition
	}

	prevStatus := invoice.Status

	switch status {
	case invoicedomain.InvoiceStatusOpen:
		invoice.Status = status
		s.scheduleReminders(ctx, invoice)
	case invoicedomain.InvoiceStatusPaid, invoicedomain.InvoiceStatusVoid:
		if _, err := s.reminders.CancelInvoiceReminders(ctx, invoiceID); err != nil {
			s.log.Warn("invoice reminder cancel failed",
				zap.String("invoice_id", invoiceID.String()),
				zap.Error(err),
			)
		}
	}

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     auditdomain.ActionStatusChange,
		EntityType: auditdomain.EntityInvoice,
		EntityID:   invoiceID.String(),
		Before:     map[string]any{"status": prevStatus},
		After:      map[string]any{"status": status},
	})

	updated, err := s.repo.FindByID(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkPaid settles an invoice from payment processing. Settling an already
// paid invoice is a no-op so webhook replays stay harmless.
func (s *Service) MarkPaid(ctx context.Context, orgID, invoiceID snowflake.ID, paidAt time.Time) error {
	invoice, err := s.repo.FindByID(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return invoicedomain.ErrInvoiceNotFound
	}
	if invoice.Status == invoicedomain.InvoiceStatusPaid {
		return nil
	}
	if !invoice.Settleable() {
		return invoicedomain.ErrNotSettleable
	}

	affected, err := s.repo.MarkPaid(ctx, s.db, invoiceID, paidAt)
	if err != nil {
		return err
	}
	if affected == 0 {
		return nil
	}

	if _, err := s.reminders.CancelInvoiceReminders(ctx, invoiceID); err != nil {
		s.log.Warn("invoice reminder cancel failed",
			zap.String("invoice_id", invoiceID.String()),
			zap.Error(err),
		)
	}

	s.audit.Log(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     auditdomain.ActionStatusChange,
		EntityType: auditdomain.EntityInvoice,
		EntityID:   invoiceID.String(),
		Before:     map[string]any{"status": invoice.Status},
		After:      map[string]any{"status": invoicedomain.InvoiceStatusPaid},
	})
	return nil
}

func (s *Service) Analytics(ctx context.Context, from, to time.Time, topN int) (*invoicedomain.Analytics, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, invoicedomain.ErrInvalidOrganization
	}
	if topN <= 0 {
		topN = 5
	}

	rows, err := s.repo.AnalyticsRows(ctx, s.db, orgID, from, to)
	if err != nil {
		return nil, err
	}

	analytics := &invoicedomain.Analytics{
		StatusCounts: map[invoicedomain.InvoiceStatus]int64{},
		StatusTotals: map[invoicedomain.InvoiceStatus]int64{},
	}

	months := map[string]*invoicedomain.MonthlyRevenue{}
	customers := map[snowflake.ID]*invoicedomain.CustomerRevenue{}

	for _, row := range rows {
		analytics.StatusCounts[row.Status]++
		analytics.StatusTotals[row.Status] += row.Total

		month := row.IssuedAt.UTC().Format("2006-01")
		bucket, ok := months[month]
		if !ok {
			bucket = &invoicedomain.MonthlyRevenue{Month: month}
			months[month] = bucket
		}
		bucket.InvoiceCount++

		paid := row.Status == invoicedomain.InvoiceStatusPaid
		if paid {
			bucket.Revenue += row.Total
		}

		top, ok := customers[row.CustomerID]
		if !ok {
			top = &invoicedomain.CustomerRevenue{CustomerID: row.CustomerID}
			customers[row.CustomerID] = top
		}
		top.InvoiceCount++
		if paid {
			top.Revenue += row.Total
		}
	}

	for _, bucket := range months {
		analytics.MonthlyTrend = append(analytics.MonthlyTrend, *bucket)
	}
	sort.Slice(analytics.MonthlyTrend, func(i, j int) bool {
		return analytics.MonthlyTrend[i].Month < analytics.MonthlyTrend[j].Month
	})

	for _, top := range customers {
		analytics.TopCustomers = append(analytics.TopCustomers, *top)
	}
	sort.Slice(analytics.TopCustomers, func(i, j int) bool {
		if analytics.TopCustomers[i].Revenue != analytics.TopCustomers[j].Revenue {
			return analytics.TopCustomers[i].Revenue > analytics.TopCustomers[j].Revenue
		}
		return analytics.TopCustomers[i].CustomerID < analytics.TopCustomers[j].CustomerID
	})
	if len(analytics.TopCustomers) > topN {
		analytics.TopCustomers = analytics.TopCustomers[:topN]
	}

	return analytics, nil
}
