package models

import (
	"strings"
	"unicode/utf8"

	"github.com/escrowdesk/backend/internal/apperr"
	"github.com/shopspring/decimal"
)

const (
	MinCurrencyLen    = 3
	MaxCurrencyLen    = 6
	MinDescriptionLen = 5

	// MaxAmountScale matches the NUMERIC(36, 8) amount column.
	MaxAmountScale = 8
)

// maxAmount is the first value with more integer digits than the column holds.
var maxAmount = decimal.New(1, 36-MaxAmountScale)

type NewDealInput struct {
	Buyer       Party
	Seller      Party
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// Normalize returns a copy with currency upper-cased and text fields trimmed.
func (in NewDealInput) Normalize() NewDealInput {
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Description = strings.TrimSpace(in.Description)
	return in
}

// Validate expects a normalized input.
func (in NewDealInput) Validate() error {
	if !in.Buyer.Valid() {
		return apperr.Validation("buyer", "identity or handle is required")
	}
	if !in.Seller.Valid() {
		return apperr.Validation("seller", "identity or handle is required")
	}
	if !in.Amount.IsPositive() {
		return apperr.Validation("amount", "must be a positive number")
	}
	if !in.Amount.Equal(in.Amount.Truncate(MaxAmountScale)) {
		return apperr.Validation("amount", "at most 8 decimal places")
	}
	if in.Amount.Cmp(maxAmount) >= 0 {
		return apperr.Validation("amount", "is too large")
	}
	if n := utf8.RuneCountInString(in.Currency); n < MinCurrencyLen || n > MaxCurrencyLen {
		return apperr.Validation("currency", "use a 3-6 letter currency code, e.g. USD")
	}
	if utf8.RuneCountInString(in.Description) < MinDescriptionLen {
		return apperr.Validation("description", "must be at least 5 characters")
	}
	return nil
}
