// internal/fdm/canonical.go
package fdm

import (
	"strings"
	"unicode"
)

// foldTable maps accented and ligature characters onto the restricted
// character set accepted by the fiscal data module. Built once at init,
// covers both cases of every mapped letter.
var foldTable = buildFoldTable()

func buildFoldTable() map[rune]string {
	folds := map[string]string{
		"àâäáãå": "A",
		"æ":      "AE",
		"ßẞ":     "SS",
		"ç":      "C",
		"îïíì":   "I",
		"êëéè€":  "E",
		"ûüúù":   "U",
		"ôöóò":   "O",
		"œ":      "OE",
		"ñ":      "N",
		"ýÿ":     "Y",
	}

	table := make(map[rune]string)
	for chars, replacement := range folds {
		for _, r := range chars {
			table[r] = replacement
			table[unicode.ToUpper(r)] = replacement
		}
	}
	for r := 'a'; r <= 'z'; r++ {
		table[r] = string(unicode.ToUpper(r))
	}
	return table
}

// Canonicalize normalizes arbitrary text into the character set the FDM
// accepts for PLU descriptions: accented letters fold to their uppercase
// ASCII equivalents and everything outside [A-Z0-9] is dropped, spaces
// included. Padding with spaces is the caller's business. The function is
// total and idempotent.
func Canonicalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if replacement, ok := foldTable[r]; ok {
			b.WriteString(replacement)
			continue
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
