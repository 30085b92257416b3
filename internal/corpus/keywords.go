package corpus

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// minTokenLen drops short function-word fragments before ranking.
const minTokenLen = 3

// frenchStopwords lists the function words excluded from keyword ranking.
// Tokens are compared after lowercasing and diacritic folding.
var frenchStopwords = map[string]struct{}{
	"les": {}, "des": {}, "une": {}, "aux": {}, "par": {}, "pour": {},
	"dans": {}, "sur": {}, "avec": {}, "sans": {}, "sous": {}, "est": {},
	"sont": {}, "etre": {}, "avoir": {}, "qui": {}, "que": {}, "dont": {},
	"cette": {}, "ces": {}, "ses": {}, "leur": {}, "leurs": {}, "ainsi": {},
	"lorsque": {}, "lorsqu": {}, "tout": {}, "toute": {}, "tous": {},
	"toutes": {}, "autre": {}, "autres": {}, "peut": {}, "peuvent": {},
	"doit": {}, "doivent": {}, "selon": {}, "entre": {}, "apres": {},
	"avant": {}, "celui": {}, "celle": {}, "meme": {}, "ete": {}, "fait": {},
	"elle": {}, "ils": {}, "elles": {}, "nous": {}, "vous": {}, "son": {},
	"pas": {}, "plus": {}, "mais": {}, "comme": {}, "alinea": {},
	"article": {}, "articles": {}, "let": {},
}

// foldTransformer strips combining marks so "alinéa" and "alinea" rank as
// the same token.
var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// foldDiacritics lowercases s and removes diacritical marks. Falls back to
// plain lowercasing if the transform fails on malformed input.
func foldDiacritics(s string) string {
	folded, _, err := transform.String(foldTransformer, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return folded
}

// ExtractKeywords returns the top k tokens of text ranked by raw frequency.
// Tokenization lowercases, folds diacritics, strips punctuation, and drops
// short tokens and French stopwords. Ties rank by first appearance so the
// result is deterministic across runs.
func ExtractKeywords(text string, k int) []string {
	if k <= 0 {
		return nil
	}

	folded := foldDiacritics(text)
	tokens := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, tok := range tokens {
		if len(tok) < minTokenLen {
			continue
		}
		if _, stop := frenchStopwords[tok]; stop {
			continue
		}
		if _, ok := counts[tok]; !ok {
			firstSeen[tok] = i
		}
		counts[tok]++
	}

	ranked := make([]string, 0, len(counts))
	for tok := range counts {
		ranked = append(ranked, tok)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return firstSeen[ranked[i]] < firstSeen[ranked[j]]
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
