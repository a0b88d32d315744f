package domain

import "errors"

var (
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidTaxCategory = errors.New("invalid_tax_category")
	ErrTaxAmountMismatch  = errors.New("tax_amount_mismatch")
)
