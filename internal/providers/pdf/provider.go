package pdf

import "context"

// InvoiceData is everything the renderer needs, already formatted: amounts
// carry currency symbols and separators, dates are display strings.
type InvoiceData struct {
	OrgName    string
	OrgAddress string
	OrgEmail   string

	InvoiceNumber string
	IssueDate     string
	DueDate       string
	Status        string

	BillToName  string
	BillToEmail string

	Items []InvoiceItem

	Subtotal string
	Tax      string
	Total    string

	Notes string
}

type InvoiceItem struct {
	Description string
	Qty         int64
	UnitPrice   string
	Amount      string
}

type Provider interface {
	GenerateInvoice(ctx context.Context, data InvoiceData) ([]byte, error)
}

// NoOpProvider renders nothing; tests that only care about stamping use it.
type NoOpProvider struct{}

func (p *NoOpProvider) GenerateInvoice(ctx context.Context, data InvoiceData) ([]byte, error) {
	return []byte{}, nil
}
