// Package dashboard formats numbers for the terminal client and the CLI
// tables.
package dashboard

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int64) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatVolume formats a share volume with B/M/K suffixes.
func FormatVolume(v int64) string {
	f := float64(v)
	switch {
	case f >= 1e9:
		return fmt.Sprintf("%.1fB", f/1e9)
	case f >= 1e6:
		return fmt.Sprintf("%.1fM", f/1e6)
	case f >= 1e3:
		return fmt.Sprintf("%.1fK", f/1e3)
	default:
		return fmt.Sprintf("%d", v)
	}
}

// FormatPrice formats a price with two decimals, or "-" for zero/max.
func FormatPrice(p float64) string {
	if p == math.MaxFloat64 || p == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", p)
}

// FormatChange formats the move from open to close as "+X.X%" or "-X.X%",
// or "" when flat or unknown.
// Drops decimal for values >= 100% to keep width compact.
func FormatChange(open, close float64) string {
	if open == 0 || open == close {
		return ""
	}
	pct := (close - open) / open * 100
	sign := "+"
	if pct < 0 {
		sign = "-"
		pct = -pct
	}
	if pct >= 100 {
		return fmt.Sprintf("%s%.0f%%", sign, pct)
	}
	return fmt.Sprintf("%s%.1f%%", sign, pct)
}

// FormatMoney formats a decimal amount with comma separators and two
// decimals.
func FormatMoney(d decimal.Decimal) string {
	d = d.Round(2)
	whole := d.Truncate(0)
	frac := d.Sub(whole).Abs().StringFixed(2)[1:] // ".XX"
	s := FormatInt(whole.IntPart())
	if d.IsNegative() && whole.IsZero() {
		s = "-" + s
	}
	return s + frac
}

// FormatShare formats a 0..1 proportion as a percentage.
func FormatShare(p decimal.Decimal) string {
	return p.Shift(2).StringFixed(1) + "%"
}
