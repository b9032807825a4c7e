package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the on-chain precision of USDC.
const USDCDecimals = 6

// ParseUSD parses a decimal USD amount expressed as a string ("0.01",
// "$0.01", "1.250000"). Amounts are kept as decimals end to end so route
// prices survive round-trips without float drift.
func ParseUSD(s string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if raw == "" {
		return decimal.Zero, fmt.Errorf("money: empty amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("money: negative amount %q", s)
	}
	return d, nil
}

// FormatUSD renders an amount the way 402 challenge bodies expect it:
// a dollar-prefixed decimal string with trailing zeros trimmed.
func FormatUSD(d decimal.Decimal) string {
	return "$" + d.String()
}

// ToAtomic converts a USD amount to atomic USDC units (6 decimals),
// truncating anything below one micro-dollar.
func ToAtomic(d decimal.Decimal) string {
	return d.Shift(USDCDecimals).Truncate(0).String()
}

// FromAtomic converts atomic USDC units back to a USD decimal.
func FromAtomic(units string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(units)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse atomic amount %q: %w", units, err)
	}
	return d.Shift(-USDCDecimals), nil
}
