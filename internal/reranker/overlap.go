package reranker

import (
	"context"
	"strings"
)

// TermOverlapEncoder is the default CrossEncoder: the fraction of unique
// query terms present in the text. Cheap and deterministic; external
// cross-encoder models plug in behind the same interface.
type TermOverlapEncoder struct{}

// NewTermOverlapEncoder creates the lexical overlap encoder.
func NewTermOverlapEncoder() *TermOverlapEncoder {
	return &TermOverlapEncoder{}
}

// Score returns the unique-query-term overlap ratio in [0,1]. A query with
// no content-bearing terms scores 0.5 so it neither boosts nor buries.
func (e *TermOverlapEncoder) Score(ctx context.Context, query, text string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	queryTokens := overlapTokenize(query)
	if len(queryTokens) == 0 {
		return 0.5, nil
	}

	textSet := make(map[string]bool)
	for _, tok := range overlapTokenize(text) {
		textSet[tok] = true
	}

	unique := make(map[string]bool, len(queryTokens))
	matched := 0
	for _, tok := range queryTokens {
		if unique[tok] {
			continue
		}
		unique[tok] = true
		if textSet[tok] {
			matched++
		}
	}

	return float64(matched) / float64(len(unique)), nil
}

// overlapStopwords are dropped before matching.
var overlapStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "be": true, "been": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true,
	"this": true, "that": true, "these": true, "those": true, "i": true,
	"you": true, "it": true, "we": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true,
	"how": true, "my": true, "me": true,
}

func overlapTokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_'
	})
	filtered := tokens[:0]
	for _, tok := range tokens {
		if len(tok) > 2 && !overlapStopwords[tok] {
			filtered = append(filtered, tok)
		}
	}
	return filtered
}
