package service

import (
	"math"

	"github.com/shopspring/decimal"
)

// ConvertAmount converts amount from the base of rates into target, rounded to 2 decimal
// places (half away from zero). ok is false when rates is empty, has no entry for target,
// or when amount, the rate or the result is not a finite number.
func ConvertAmount(amount float64, rates map[string]float64, target string) (converted float64, ok bool) {
	if len(rates) == 0 || !isFinite(amount) {
		return 0, false
	}
	rate, found := rates[target]
	if !found || !isFinite(rate) {
		return 0, false
	}
	converted, _ = decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(rate)).
		Round(2).
		Float64()
	if !isFinite(converted) {
		return 0, false
	}
	return converted, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
