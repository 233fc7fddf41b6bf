package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const minMeaningfulRunes = 15

// Normalize canonicalizes extracted text: line endings become LF, Unicode is
// NFC-composed, and zero-width characters are stripped.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		}
		return r
	}, s)
}

// Meaningful reports whether text carries enough substance to index: at
// least minMeaningfulRunes letters or digits.
func Meaningful(s string) bool {
	count := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			count++
			if count >= minMeaningfulRunes {
				return true
			}
		}
	}
	return false
}
