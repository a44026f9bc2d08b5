// Package money formats kobo amounts for user-facing messages. All ledger
// arithmetic stays in int64 kobo; floats only ever appear at the display edge.
package money

import "fmt"

// FormatNaira renders kobo as "₦1,234.56".
func FormatNaira(kobo int64) string {
	sign := ""
	if kobo < 0 {
		sign = "-"
		kobo = -kobo
	}
	naira := kobo / 100
	cents := kobo % 100
	return fmt.Sprintf("%s₦%s.%02d", sign, group(naira), cents)
}

func group(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return string(out)
}
