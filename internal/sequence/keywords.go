package sequence

import (
	"strings"
	"unicode"

	"whatsapp-crm/internal/models"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize strips diacritics and, unless caseSensitive, lowercases s.
// "SÍ" becomes "si".
func Normalize(s string, caseSensitive bool) string {
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// MatchKeywords reports whether text contains any (or all, for MatchAll) of
// the keywords after normalization. Blank keywords are ignored; a list with
// no usable keyword never matches.
func MatchKeywords(text string, keywords []string, matchType models.MatchType, caseSensitive bool) bool {
	haystack := Normalize(text, caseSensitive)

	matched, total := 0, 0
	for _, kw := range keywords {
		needle := strings.TrimSpace(Normalize(kw, caseSensitive))
		if needle == "" {
			continue
		}
		total++
		if strings.Contains(haystack, needle) {
			matched++
			if matchType != models.MatchAll {
				return true
			}
		}
	}

	if total == 0 {
		return false
	}
	return matchType == models.MatchAll && matched == total
}

// CheckKeywordMatch applies a condition keyword config to text.
func CheckKeywordMatch(text string, cfg *models.KeywordConfig) bool {
	if cfg == nil {
		return false
	}
	return MatchKeywords(text, cfg.Keywords, cfg.MatchType, cfg.CaseSensitive)
}
