package app

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const noDescription = "No description"

func isNoise(r rune) bool {
	switch {
	case r == '\n' || r == '\t' || r == '\r':
		return false // collapsed with the rest of the whitespace
	case unicode.IsControl(r), unicode.Is(unicode.Co, r):
		return true
	case r >= 0x1F000 && r <= 0x1FAFF: // emoji, pictographs, flags
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r == 0xFE0F || r == 0x200D: // variation selector, zero-width joiner
		return true
	}
	return false
}

// cleanText strips emoji and control characters from scraped descriptions,
// collapses whitespace and NFC-normalizes the result.
func cleanText(s string) string {
	if strings.TrimSpace(s) == "" {
		return noDescription
	}
	t := transform.Chain(norm.NFC, runes.Remove(runes.Predicate(isNoise)))
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.Join(strings.Fields(out), " ")
	if out == "" {
		return noDescription
	}
	return out
}
