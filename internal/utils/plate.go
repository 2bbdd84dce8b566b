package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate upper-cases a registration mark and drops everything that is
// not a letter or digit, so "mh 12-ab 1234" becomes "MH12AB1234".
func NormalizePlate(plate string) string {
	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range strings.ToUpper(plate) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
