package classifier

import (
	"strings"

	"github.com/fyrsmithlabs/memuri/internal/memory"
)

// stopwords excluded from mined rules; common English function words carry
// no category signal.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "been": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"could": true, "should": true, "may": true, "might": true, "can": true,
	"this": true, "that": true, "these": true, "those": true, "i": true,
	"you": true, "he": true, "she": true, "it": true, "we": true, "they": true,
	"what": true, "which": true, "who": true, "when": true, "where": true,
	"why": true, "how": true, "my": true, "your": true, "me": true, "not": true,
}

// tokenize lowercases text and splits it into alphanumeric tokens, dropping
// stopwords and tokens shorter than three characters.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !isAlphanumeric(r)
	})

	filtered := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) < 3 || stopwords[tok] {
			continue
		}
		filtered = append(filtered, tok)
	}
	return filtered
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_'
}

// parseSampleCategory validates a mined category key.
func parseSampleCategory(raw string) (memory.Category, bool) {
	return memory.ParseCategory(raw)
}
