package models

import (
	"strconv"
	"strings"
)

// FormatBRL formats an amount in centavos the way pt-BR currency text is
// written, e.g. 123456 -> "R$ 1.234,56".
func FormatBRL(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	whole := strconv.FormatInt(cents/100, 10)
	frac := cents % 100

	var b strings.Builder
	if neg {
		b.WriteString("-")
	}
	b.WriteString("R$ ")
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	if frac < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.FormatInt(frac, 10))
	return b.String()
}

// NormalizeDeclaredValue turns raw form input into currency text. Input that
// is only digits is read as centavos, the way the entry mask works; anything
// already formatted is kept as typed.
func NormalizeDeclaredValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	digits := true
	for _, r := range s {
		if r < '0' || r > '9' {
			digits = false
			break
		}
	}
	if !digits {
		return s
	}
	cents, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return s
	}
	return FormatBRL(cents)
}
