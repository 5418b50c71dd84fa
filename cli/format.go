// Package cli implements the planner command line: the server, migrations,
// paycheck plans and reconciliation, rendered for a terminal.
package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/debt-planner/ledger"
)

// FormatCents formats an amount in cents as dollars with separators.
// e.g., 123456 -> "$1,234.56", -5 -> "-$0.05"
func FormatCents(cents int64) string {
	if cents < 0 {
		return "-" + FormatCents(-cents)
	}
	return fmt.Sprintf("$%s.%02d", FormatNumber(cents/100), cents%100)
}

// FormatNumber adds comma separators to an integer.
// e.g., 1234567 -> "1,234,567"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}

	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// FormatPercent formats an optional percentage, "-" when unset.
func FormatPercent(p decimal.NullDecimal) string {
	if !p.Valid {
		return "-"
	}
	return p.Decimal.StringFixed(2) + "%"
}

// FormatDate formats an optional calendar date, "-" when unset.
func FormatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(ledger.DateLayout)
}

// ParseCents parses a dollar amount such as "2500" or "2,500.75" into cents.
// More than two decimal places is an error rather than a rounding.
func ParseCents(s string) (int64, error) {
	raw := strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), "$")
	if raw == "" {
		return 0, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than two decimal places", s)
	}
	return cents.IntPart(), nil
}

// ParsePercent parses an optional percentage; the empty string is unset.
func ParsePercent(s string) (decimal.NullDecimal, error) {
	raw := strings.TrimSuffix(strings.TrimSpace(s), "%")
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid percent %q: %w", s, err)
	}
	return decimal.NewNullDecimal(d), nil
}
