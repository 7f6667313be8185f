package service

import (
	"errors"
	"strings"
)

// ErrInvalidCurrency indicates a currency code is not three ASCII letters.
var ErrInvalidCurrency = errors.New("invalid currency code format")

// ErrInvalidAmount indicates a conversion amount, or its converted value, is not a finite number.
var ErrInvalidAmount = errors.New("invalid amount")

// ErrUnknownTarget indicates the rate table has no entry for the requested target currency.
var ErrUnknownTarget = errors.New("unsupported target currency")

// ErrInternal indicates an internal server error.
var ErrInternal = errors.New("internal error")

// ErrInternalQueue indicates an internal queue error.
var ErrInternalQueue = errors.New("internal queue error")

// IsValidCurrencyCode checks whether a string is a valid 3-letter currency code.
func IsValidCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	code = strings.ToUpper(code)
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// NormalizeCurrency trims and upper-cases code, returning ErrInvalidCurrency when it is malformed.
// An empty code yields def.
func NormalizeCurrency(code, def string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return def, nil
	}
	if !IsValidCurrencyCode(code) {
		return "", ErrInvalidCurrency
	}
	return strings.ToUpper(code), nil
}
