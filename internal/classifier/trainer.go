package classifier

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
)

// MinTrainingSamples is the minimum labeled sample count Train accepts.
const MinTrainingSamples = 10

// learnedConfidence is the base confidence attached to rules mined from
// feedback corrections. Below the built-in specific rules, above fallback.
const learnedConfidence = 0.65

// KeywordTrainer derives new KeywordModel instances from labeled samples.
// It mines discriminative tokens per category from corrections and layers
// the learned rules in front of the built-in rule set, so corrections win
// over defaults for the phrasings users actually disputed.
type KeywordTrainer struct {
	// minTokenCount is how many times a token must appear within one
	// category before it becomes a rule.
	minTokenCount int

	// nextVersion issues monotonically increasing model versions.
	nextVersion atomic.Uint64
}

// NewKeywordTrainer creates a trainer. Version numbering continues from
// current so published versions stay monotonic across restarts.
func NewKeywordTrainer(current uint64) *KeywordTrainer {
	t := &KeywordTrainer{minTokenCount: 2}
	t.nextVersion.Store(current)
	return t
}

// Train builds a candidate model from samples. The samples come from
// classification-correction feedback; each asserts the true category for a
// piece of text.
func (t *KeywordTrainer) Train(ctx context.Context, samples []Sample) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) < MinTrainingSamples {
		return nil, fmt.Errorf("%w: need at least %d samples, got %d",
			ErrTrainingFailed, MinTrainingSamples, len(samples))
	}

	// Count token occurrences per category and overall.
	perCategory := make(map[string]map[string]int)
	total := make(map[string]int)
	valid := 0
	for _, s := range samples {
		if strings.TrimSpace(s.Text) == "" || s.Category == "" {
			continue
		}
		valid++
		cat := string(s.Category)
		if perCategory[cat] == nil {
			perCategory[cat] = make(map[string]int)
		}
		seen := make(map[string]bool)
		for _, tok := range tokenize(s.Text) {
			if seen[tok] {
				continue
			}
			seen[tok] = true
			perCategory[cat][tok]++
			total[tok]++
		}
	}
	if valid < MinTrainingSamples {
		return nil, fmt.Errorf("%w: only %d of %d samples usable", ErrTrainingFailed, valid, len(samples))
	}

	rules := t.mineRules(perCategory, total)
	rules = append(rules, builtinRules()...)
	return newKeywordModel(rules, t.nextVersion.Add(1)), nil
}

// mineRules converts discriminative tokens into ordered keyword rules.
// A token is discriminative for a category when most of its occurrences
// are in that category's samples.
func (t *KeywordTrainer) mineRules(perCategory map[string]map[string]int, total map[string]int) []keywordRule {
	type mined struct {
		token    string
		category string
		count    int
	}

	var candidates []mined
	for cat, tokens := range perCategory {
		for tok, n := range tokens {
			if n < t.minTokenCount {
				continue
			}
			// Require 80% of the token's occurrences in this category.
			if float64(n) < 0.8*float64(total[tok]) {
				continue
			}
			candidates = append(candidates, mined{token: tok, category: cat, count: n})
		}
	}

	// Strongest evidence first; ties by token for determinism.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].token < candidates[j].token
	})

	rules := make([]keywordRule, 0, len(candidates))
	for _, c := range candidates {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(c.token) + `\b`)
		if err != nil {
			continue
		}
		cat, ok := parseSampleCategory(c.category)
		if !ok {
			continue
		}
		rules = append(rules, keywordRule{regex: re, category: cat, confidence: learnedConfidence})
	}
	return rules
}

// Evaluate returns the fraction of held-out samples the model categorizes
// correctly. Subcategory predictions count as correct when the group
// matches the asserted group.
func (t *KeywordTrainer) Evaluate(ctx context.Context, model Model, heldOut []Sample) (float64, error) {
	if model == nil {
		return 0, ErrNilModel
	}
	if len(heldOut) == 0 {
		return 0, fmt.Errorf("%w: empty held-out slice", ErrTrainingFailed)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	correct := 0
	for _, s := range heldOut {
		got, _ := model.Classify(s.Text)
		if got == s.Category || got.Group() == s.Category.Group() {
			correct++
		}
	}
	return float64(correct) / float64(len(heldOut)), nil
}
