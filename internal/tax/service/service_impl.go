package service

import (
	"context"
	"math"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/config"
	taxdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/tax/domain"
)

type Params struct {
	fx.In

	Logger  *zap.Logger
	Billing *config.BillingConfigHolder
}

type service struct {
	log     *zap.Logger
	billing *config.BillingConfigHolder
}

func NewService(p Params) taxdomain.Calculator {
	return &service{
		log:     p.Logger.Named("tax.service"),
		billing: p.Billing,
	}
}

func (s *service) standardRate() float64 {
	return float64(s.billing.Get().Tax.StandardRate) / 10000
}

func (s *service) reducedRate() float64 {
	return float64(s.billing.Get().Tax.ReducedRate) / 10000
}

// Calculate applies Japan consumption tax to a minor-unit amount.
// Unsupported regions fall back to the Japan rates; JCT is the only
// implemented regime.
func (s *service) Calculate(ctx context.Context, amount int64, region string, profile taxdomain.Profile) (*taxdomain.Calculation, error) {
	if amount < 0 {
		return nil, taxdomain.ErrInvalidAmount
	}

	if region != taxdomain.RegionJP {
		s.log.Warn("unsupported tax region, falling back to JP",
			zap.String("region", region),
		)
	}

	if profile.TaxExempt {
		return &taxdomain.Calculation{
			TaxableAmount: 0,
			TaxAmount:     0,
			TaxRate:       0,
			ExemptAmount:  amount,
		}, nil
	}

	rate := s.standardRate()
	if profile.ReducedRate {
		rate = s.reducedRate()
	}

	return &taxdomain.Calculation{
		TaxableAmount: amount,
		TaxAmount:     computeTax(amount, rate),
		TaxRate:       rate,
	}, nil
}

// CalculateInvoiceTax aggregates tax across line items, applying each
// line's category independently before summing.
func (s *service) CalculateInvoiceTax(ctx context.Context, lines []taxdomain.InvoiceLine, region string) (*taxdomain.InvoiceCalculation, error) {
	if region != taxdomain.RegionJP {
		s.log.Warn("unsupported tax region, falling back to JP",
			zap.String("region", region),
		)
	}

	result := &taxdomain.InvoiceCalculation{
		ByCategory: make(map[string]int64),
	}

	for _, line := range lines {
		if line.Amount < 0 {
			return nil, taxdomain.ErrInvalidAmount
		}

		var rate float64
		switch line.Category {
		case taxdomain.CategoryStandard:
			rate = s.standardRate()
		case taxdomain.CategoryReduced:
			rate = s.reducedRate()
		case taxdomain.CategoryExempt:
			result.ExemptAmount += line.Amount
			result.Subtotal += line.Amount
			result.ByCategory[taxdomain.CategoryExempt] += 0
			continue
		default:
			return nil, taxdomain.ErrInvalidTaxCategory
		}

		tax := computeTax(line.Amount, rate)
		result.Subtotal += line.Amount
		result.TaxAmount += tax
		result.ByCategory[line.Category] += tax
	}

	result.Total = result.Subtotal + result.TaxAmount
	return result, nil
}

// Validate re-derives the tax from taxableAmount and rate and rejects a
// claimed amount drifting by more than one minor unit.
func (s *service) Validate(taxableAmount int64, rate float64, claimedTax int64) error {
	expected := computeTax(taxableAmount, rate)
	drift := expected - claimedTax
	if drift < 0 {
		drift = -drift
	}
	if drift > 1 {
		s.log.Warn("claimed tax amount drifts from derived value",
			zap.Int64("taxable_amount", taxableAmount),
			zap.Float64("rate", rate),
			zap.Int64("claimed", claimedTax),
			zap.Int64("expected", expected),
		)
		return taxdomain.ErrTaxAmountMismatch
	}
	return nil
}

// computeTax rounds to the nearest minor unit. JPY has no fractional
// minor units, so this is yen-level rounding.
func computeTax(amount int64, rate float64) int64 {
	if amount <= 0 || rate <= 0 {
		return 0
	}

	tax := float64(amount) * rate
	result := int64(math.Round(tax))
	if result < 0 {
		return 0
	}
	return result
}
