package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// groupThousands inserts comma separators into the integer part of s.
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if len(intPart) > 3 {
		var b strings.Builder
		start := len(intPart) % 3
		if start > 0 {
			b.WriteString(intPart[:start])
		}
		for i := start; i < len(intPart); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(intPart[i : i+3])
		}
		intPart = b.String()
	}
	if hasFrac {
		return sign + intPart + "." + frac
	}
	return sign + intPart
}

// FormatMoney formats an amount with two decimals and comma separators.
// A nil amount renders as 0.00.
func FormatMoney(d *decimal.Decimal) string {
	if d == nil {
		return "0.00"
	}
	return groupThousands(d.StringFixed(2))
}

// FormatUnits formats a quantity without trailing zeros.
func FormatUnits(d decimal.Decimal) string {
	return d.String()
}

// FormatOptional formats d, or "-" when it is nil.
func FormatOptional(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

// FormatPnL formats a profit or loss with an explicit sign, or "" when nil.
func FormatPnL(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	s := groupThousands(d.StringFixed(2))
	if d.IsPositive() {
		return "+" + s
	}
	return s
}

// FormatTime formats t in UTC, or "-" when zero.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// table writes tab-separated rows as aligned columns.
type table struct {
	tw *tabwriter.Writer
}

func newTable(w io.Writer, header ...string) *table {
	t := &table{tw: tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)}
	t.row(header...)
	return t
}

func (t *table) row(cols ...string) {
	fmt.Fprintln(t.tw, strings.Join(cols, "\t"))
}

func (t *table) flush() {
	_ = t.tw.Flush()
}
