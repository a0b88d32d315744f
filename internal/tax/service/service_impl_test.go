package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/config"
	taxdomain "github.com/FlashDemo8789/eikaiwa-grow-platform-sub000/internal/tax/domain"
)

func newTestService(t *testing.T) taxdomain.Calculator {
	t.Helper()
	return NewService(Params{
		Logger:  zap.NewNop(),
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
	})
}

func TestCalculateStandardRate(t *testing.T) {
	svc := newTestService(t)

	calc, err := svc.Calculate(context.Background(), 10000, taxdomain.RegionJP, taxdomain.Profile{})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), calc.TaxableAmount)
	assert.Equal(t, int64(1000), calc.TaxAmount)
	assert.Equal(t, 0.10, calc.TaxRate)
	assert.Equal(t, int64(0), calc.ExemptAmount)
}

func TestCalculateReducedRate(t *testing.T) {
	svc := newTestService(t)

	calc, err := svc.Calculate(context.Background(), 10000, taxdomain.RegionJP, taxdomain.Profile{ReducedRate: true})
	require.NoError(t, err)

	assert.Equal(t, int64(800), calc.TaxAmount)
	assert.Equal(t, 0.08, calc.TaxRate)
}

func TestCalculateExempt(t *testing.T) {
	svc := newTestService(t)

	calc, err := svc.Calculate(context.Background(), 10000, taxdomain.RegionJP, taxdomain.Profile{TaxExempt: true})
	require.NoError(t, err)

	assert.Equal(t, int64(0), calc.TaxableAmount)
	assert.Equal(t, int64(0), calc.TaxAmount)
	assert.Equal(t, int64(10000), calc.ExemptAmount)
}

func TestCalculateExemptWinsOverReduced(t *testing.T) {
	svc := newTestService(t)

	calc, err := svc.Calculate(context.Background(), 5000, taxdomain.RegionJP, taxdomain.Profile{TaxExempt: true, ReducedRate: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), calc.TaxAmount)
}

func TestCalculateNegativeAmount(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Calculate(context.Background(), -1, taxdomain.RegionJP, taxdomain.Profile{})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidAmount)
}

func TestCalculateUnknownRegionFallsBackToJP(t *testing.T) {
	svc := newTestService(t)

	calc, err := svc.Calculate(context.Background(), 10000, "US", taxdomain.Profile{})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), calc.TaxAmount)
}

func TestCalculateRounding(t *testing.T) {
	svc := newTestService(t)

	// 555 * 0.10 = 55.5 rounds to 56
	calc, err := svc.Calculate(context.Background(), 555, taxdomain.RegionJP, taxdomain.Profile{})
	require.NoError(t, err)
	assert.Equal(t, int64(56), calc.TaxAmount)
}

func TestCalculateInvoiceTaxMixedCategories(t *testing.T) {
	svc := newTestService(t)

	lines := []taxdomain.InvoiceLine{
		{Description: "Group lessons", Amount: 10000, Category: taxdomain.CategoryStandard},
		{Description: "Textbook", Amount: 2000, Category: taxdomain.CategoryReduced},
		{Description: "Exam fee", Amount: 3000, Category: taxdomain.CategoryExempt},
	}

	calc, err := svc.CalculateInvoiceTax(context.Background(), lines, taxdomain.RegionJP)
	require.NoError(t, err)

	assert.Equal(t, int64(15000), calc.Subtotal)
	assert.Equal(t, int64(1160), calc.TaxAmount) // 1000 + 160
	assert.Equal(t, int64(16160), calc.Total)
	assert.Equal(t, int64(3000), calc.ExemptAmount)
	assert.Equal(t, int64(1000), calc.ByCategory[taxdomain.CategoryStandard])
	assert.Equal(t, int64(160), calc.ByCategory[taxdomain.CategoryReduced])
}

func TestCalculateInvoiceTaxUnknownCategory(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CalculateInvoiceTax(context.Background(), []taxdomain.InvoiceLine{
		{Amount: 1000, Category: "LUXURY"},
	}, taxdomain.RegionJP)
	assert.ErrorIs(t, err, taxdomain.ErrInvalidTaxCategory)
}

func TestValidate(t *testing.T) {
	svc := newTestService(t)

	assert.NoError(t, svc.Validate(10000, 0.10, 1000))
	assert.NoError(t, svc.Validate(10000, 0.10, 1001)) // within one minor unit
	assert.ErrorIs(t, svc.Validate(10000, 0.10, 1002), taxdomain.ErrTaxAmountMismatch)
	assert.ErrorIs(t, svc.Validate(10000, 0.10, 900), taxdomain.ErrTaxAmountMismatch)
}
