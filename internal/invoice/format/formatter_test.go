package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatInvoiceNumber(t *testing.T) {
	issued := time.Date(2026, 4, 9, 12, 0, 0, 0, time.UTC)

	number, err := FormatInvoiceNumber(DefaultInvoiceNumberTemplate, issued, 7)
	require.NoError(t, err)
	assert.Equal(t, "INV-202604-0007", number)

	number, err = FormatInvoiceNumber(DefaultInvoiceNumberTemplate, issued, 12345)
	require.NoError(t, err)
	assert.Equal(t, "INV-202604-12345", number)
}

func TestFormatInvoiceNumberRejectsBadInput(t *testing.T) {
	issued := time.Date(2026, 4, 9, 12, 0, 0, 0, time.UTC)

	_, err := FormatInvoiceNumber("", issued, 1)
	assert.Error(t, err)

	_, err = FormatInvoiceNumber(DefaultInvoiceNumberTemplate, issued, 0)
	assert.Error(t, err)

	_, err = FormatInvoiceNumber("INV-{UNKNOWN}", issued, 1)
	assert.Error(t, err)
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "¥0", FormatMoney(0, "JPY"))
	assert.Equal(t, "¥980", FormatMoney(980, "JPY"))
	assert.Equal(t, "¥1,234,567", FormatMoney(1234567, "jpy"))
	assert.Equal(t, "¥-5,500", FormatMoney(-5500, "JPY"))
	assert.Equal(t, "USD 1,234.05", FormatMoney(123405, "USD"))
}
