package shared

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName trims, collapses inner whitespace and applies NFC so visually
// equal names compare equal.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// FoldName returns the case-folded form used for uniqueness checks and search.
func FoldName(s string) string {
	return cases.Fold().String(NormalizeName(s))
}
