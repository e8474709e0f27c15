package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// TotalTolerance is the largest difference between a server total and the
// computed item total that is still treated as rounding.
var TotalTolerance = decimal.New(1, -2)

// ItemsTotal sums price*quantity exactly and rounds to two decimals.
func ItemsTotal(prices []float64, quantities []int) decimal.Decimal {
	sum := decimal.Zero
	for i, price := range prices {
		qty := 0
		if i < len(quantities) {
			qty = quantities[i]
		}
		sum = sum.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(qty))))
	}
	return sum.Round(2)
}

// WithinTolerance reports whether a and b differ by at most TotalTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(TotalTolerance)
}

// FormatCurrencyVND formats an amount with dot thousand separators,
// e.g. 125000 -> "125.000 ₫".
func FormatCurrencyVND(amount float64) string {
	d := decimal.NewFromFloat(amount).Round(0)
	neg := d.IsNegative()
	digits := d.Abs().String()

	var groups []string
	for i := len(digits); i > 0; i -= 3 {
		start := i - 3
		if start < 0 {
			start = 0
		}
		groups = append([]string{digits[start:i]}, groups...)
	}

	out := strings.Join(groups, ".") + " ₫"
	if neg {
		out = "-" + out
	}
	return out
}
