package domain

// Japan consumption tax categories (JCT).
// These codes are ENGINE-CONSTANTS.
// Do NOT rename or repurpose once used in invoices.
const (
	CategoryStandard = "STANDARD" // 10% consumption tax
	CategoryReduced  = "REDUCED"  // 8% reduced rate (food, subscriptions to newspapers)
	CategoryExempt   = "EXEMPT"   // no tax
)

const RegionJP = "JP"

// Profile carries the customer/org flags that select a tax category.
type Profile struct {
	TaxExempt   bool
	ReducedRate bool
}

// Calculation is the result of a tax computation on a minor-unit amount.
type Calculation struct {
	TaxableAmount int64   `json:"taxable_amount"`
	TaxAmount     int64   `json:"tax_amount"`
	TaxRate       float64 `json:"tax_rate"` // fraction, e.g. 0.10
	ExemptAmount  int64   `json:"exempt_amount"`
}

// InvoiceLine is one line item presented for per-category tax aggregation.
type InvoiceLine struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"` // quantity x unit price, minor units
	Category    string `json:"category"`
}

// InvoiceCalculation aggregates tax across line items.
type InvoiceCalculation struct {
	Subtotal     int64            `json:"subtotal"`
	TaxAmount    int64            `json:"tax_amount"`
	Total        int64            `json:"total"`
	ExemptAmount int64            `json:"exempt_amount"`
	ByCategory   map[string]int64 `json:"by_category"` // tax per category
}
