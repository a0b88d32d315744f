package domain

import "context"

// Calculator computes Japan consumption tax on minor-unit amounts.
type Calculator interface {
	Calculate(ctx context.Context, amount int64, region string, profile Profile) (*Calculation, error)
	CalculateInvoiceTax(ctx context.Context, lines []InvoiceLine, region string) (*InvoiceCalculation, error)
	Validate(taxableAmount int64, rate float64, claimedTax int64) error
}
