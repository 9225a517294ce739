package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount is the largest amount, in minor units, a single event may carry.
const MaxAmount int64 = 100_000_000_000_000 // 1 trillion with two decimals

// Minor-unit exponents for supported ISO 4217 currencies.
var currencyExponents = map[string]int32{
	"USD": 2, "EUR": 2, "GBP": 2, "JPY": 0,
	"CNY": 2, "AUD": 2, "CAD": 2, "CHF": 2,
	"SEK": 2, "NZD": 2, "KRW": 0, "SGD": 2,
	"NOK": 2, "MXN": 2, "INR": 2, "BRL": 2,
	"ZAR": 2, "TRY": 2, "HKD": 2, "KWD": 3,
	"BHD": 3, "TZS": 2, "NGN": 2, "KES": 2,
}

// NormalizeCurrency upper-cases and validates a currency code.
func NormalizeCurrency(currency string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := currencyExponents[code]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}

	return code, nil
}

// CurrencyExponent returns the number of minor-unit digits of a currency.
func CurrencyExponent(currency string) (int32, error) {
	exp, ok := currencyExponents[currency]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}

	return exp, nil
}

// ParseAmount converts a decimal literal into minor units of currency.
// It fails when the literal is not positive, has more fractional digits
// than the currency allows or exceeds MaxAmount.
func ParseAmount(literal, currency string) (int64, error) {
	exp, err := CurrencyExponent(currency)
	if err != nil {
		return 0, err
	}

	d, err := decimal.NewFromString(strings.TrimSpace(literal))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, literal)
	}

	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}

	scaled := d.Shift(exp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s allows %d decimal places", ErrInvalidAmount, currency, exp)
	}

	if scaled.GreaterThan(decimal.NewFromInt(MaxAmount)) {
		return 0, fmt.Errorf("%w: exceeds maximum", ErrInvalidAmount)
	}

	return scaled.IntPart(), nil
}

// FormatAmount renders minor units as a fixed-point decimal string.
func FormatAmount(minor int64, currency string) string {
	exp, err := CurrencyExponent(currency)
	if err != nil {
		exp = 0
	}

	return decimal.New(minor, -exp).StringFixed(exp)
}
