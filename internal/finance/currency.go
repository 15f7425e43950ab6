package finance

import (
	"math"

	"ppmcore/internal/apperr"
)

// usdRates is the fixed conversion table with USD as base. Deriving every
// cross rate as rate(USD, b) / rate(USD, a) keeps pairs reciprocal.
var usdRates = map[string]float64{
	"USD": 1.0,
	"EUR": 0.92,
	"GBP": 0.79,
	"CHF": 0.88,
	"JPY": 149.50,
	"CAD": 1.36,
	"AUD": 1.53,
	"SEK": 10.45,
	"NOK": 10.62,
	"INR": 83.10,
}

// Rate returns the conversion factor from one currency to another.
func Rate(from, to string) (float64, error) {
	fromRate, ok := usdRates[from]
	if !ok {
		return 0, apperr.Validation("currency", "unsupported currency: "+from)
	}
	toRate, ok := usdRates[to]
	if !ok {
		return 0, apperr.Validation("currency", "unsupported currency: "+to)
	}
	return toRate / fromRate, nil
}

// Convert converts an amount between currencies, rounded to 6 decimals.
func Convert(amount float64, from, to string) (float64, error) {
	rate, err := Rate(from, to)
	if err != nil {
		return 0, err
	}
	return round6(amount * rate), nil
}

// SupportedCurrencies lists the currencies in the fixed table.
func SupportedCurrencies() []string {
	out := make([]string, 0, len(usdRates))
	for c := range usdRates {
		out = append(out, c)
	}
	return out
}

func round6(x float64) float64 { return math.Round(x*1e6) / 1e6 }
