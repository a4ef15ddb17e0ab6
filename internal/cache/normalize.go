package cache

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SearchKey folds text for accent- and case-insensitive matching:
// "Café Molído" and "cafe molido" produce the same key.
// Transformers are stateful, so a fresh chain is built per call.
func SearchKey(parts ...string) string {
	joined := strings.Join(parts, " ")
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, joined)
	if err != nil {
		stripped = joined
	}
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}

// likePattern turns a folded term into a LIKE substring pattern, escaping
// the LIKE metacharacters.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}
