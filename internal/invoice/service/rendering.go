package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"

	invoicedomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/invoice/domain"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/invoice/format"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/orgcontext"
	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/providers/pdf"
)

const displayDateLayout = "2006-01-02"

// GeneratePDF renders the invoice and stamps pdf_url/pdf_generated_at.
// Regenerating is allowed; the stamp just moves forward.
func (s *Service) GeneratePDF(ctx context.Context, id string) ([]byte, *invoicedomain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, nil, invoicedomain.ErrInvalidOrganization
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || invoiceID == 0 {
		return nil, nil, invoicedomain.ErrInvoiceNotFound
	}

	invoice, err := s.repo.FindByID(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	if invoice == nil {
		return nil, nil, invoicedomain.ErrInvoiceNotFound
	}
	items, err := s.repo.FindItems(ctx, s.db, invoiceID)
	if err != nil {
		return nil, nil, err
	}

	data, err := s.buildInvoicePDFData(ctx, invoice, items)
	if err != nil {
		return nil, nil, err
	}

	bytes, err := s.pdf.GenerateInvoice(ctx, data)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	url := fmt.Sprintf("/invoices/%s/pdf", invoice.ID.String())
	if err := s.repo.SetPDF(ctx, s.db, invoice.ID, url, now); err != nil {
		return nil, nil, err
	}
	invoice.PDFURL = &url
	invoice.PDFGeneratedAt = &now

	return bytes, invoice, nil
}

func (s *Service) buildInvoicePDFData(ctx context.Context, invoice *invoicedomain.Invoice, items []invoicedomain.InvoiceItem) (pdf.InvoiceData, error) {
	org, err := s.orgRepo.FindByID(ctx, s.db, invoice.OrgID)
	if err != nil {
		return pdf.InvoiceData{}, err
	}
	customer, err := s.customerRepo.FindByID(ctx, s.db, invoice.OrgID, invoice.CustomerID)
	if err != nil {
		return pdf.InvoiceData{}, err
	}
	if customer == nil {
		return pdf.InvoiceData{}, invoicedomain.ErrCustomerNotFound
	}

	data := pdf.InvoiceData{
		InvoiceNumber: invoice.InvoiceNumber,
		IssueDate:     invoice.IssuedAt.Format(displayDateLayout),
		DueDate:       invoice.DueAt.Format(displayDateLayout),
		Status:        string(invoice.Status),
		BillToName:    customer.Name,
		BillToEmail:   customer.Email,
		Subtotal:      format.FormatMoney(invoice.Subtotal, invoice.Currency),
		Tax:           format.FormatMoney(invoice.TaxAmount, invoice.Currency),
		Total:         format.FormatMoney(invoice.Total, invoice.Currency),
		Notes:         invoice.Notes,
	}
	if org != nil {
		data.OrgName = org.Name
		data.OrgAddress = org.Address
		data.OrgEmail = org.SupportEmail
	}

	for _, item := range items {
		data.Items = append(data.Items, pdf.InvoiceItem{
			Description: item.Description,
			Qty:         item.Quantity,
			UnitPrice:   format.FormatMoney(item.UnitAmount, invoice.Currency),
			Amount:      format.FormatMoney(item.Amount, invoice.Currency),
		})
	}

	return data, nil
}
