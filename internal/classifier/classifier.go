// Package classifier provides category classification for candidate memory
// text. A Model is immutable and swappable: the retrain scheduler publishes
// a new instance atomically and readers only ever hold a reference to the
// current one.
package classifier

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/memuri/internal/memory"
)

// maxInputLength truncates classification input to bound regex cost.
const maxInputLength = 4096

// Common classifier errors.
var (
	ErrNilModel = errors.New("classifier model cannot be nil")

	// ErrTrainingFailed indicates insufficient or malformed training samples.
	// The retrain cycle aborts and the current model stays published.
	ErrTrainingFailed = errors.New("training failed")
)

// Model assigns a category and confidence to text. Implementations must be
// immutable after construction so a published model can be read without
// synchronization.
type Model interface {
	// Classify returns the best-matching category and a confidence in [0,1].
	Classify(text string) (memory.Category, float64)

	// Version identifies this model instance. Versions increase
	// monotonically across published models.
	Version() uint64
}

// Sample is one labeled training example.
type Sample struct {
	Text     string          `json:"text"`
	Category memory.Category `json:"category"`
}

// Trainer builds and evaluates candidate models from labeled samples. The
// retrain scheduler owns the only Trainer and publishes the winner.
type Trainer interface {
	// Train builds a candidate model. Returns ErrTrainingFailed when the
	// samples are insufficient or malformed.
	Train(ctx context.Context, samples []Sample) (Model, error)

	// Evaluate measures model accuracy on a held-out slice, in [0,1].
	Evaluate(ctx context.Context, model Model, heldOut []Sample) (float64, error)
}

// keywordRule pairs a compiled pattern with its target category and base
// confidence. Rules are evaluated in order; first match wins.
type keywordRule struct {
	regex      *regexp.Regexp
	category   memory.Category
	confidence float64
}

// KeywordModel classifies text with ordered keyword/regex rules. It is the
// default Model implementation: cheap, deterministic, and rebuildable from
// feedback corrections without any external dependency.
type KeywordModel struct {
	rules   []keywordRule
	version uint64
}

// NewKeywordModel creates the built-in rule set as model version 1.
func NewKeywordModel() *KeywordModel {
	return &KeywordModel{rules: builtinRules(), version: 1}
}

// newKeywordModel builds a model from explicit rules (used by the trainer).
func newKeywordModel(rules []keywordRule, version uint64) *KeywordModel {
	return &KeywordModel{rules: rules, version: version}
}

// builtinRules returns ordered rules for the default category hierarchy.
// More specific patterns are listed first to avoid shadowing.
func builtinRules() []keywordRule {
	return []keywordRule{
		// Tasks and reminders: imperative scheduling language.
		{
			regex:      regexp.MustCompile(`(?i)\b(?:remind(?:er)?|remember\s+(?:to|my|that)|don'?t\s+forget|deadline|due\s+(?:on|by|at)|appointment|meeting\s+(?:at|on)|flight|schedule[sd]?\b|to-?do)\b`),
			category:   memory.CategoryTask,
			confidence: 0.9,
		},
		// Personal facts: self-descriptions and preferences.
		{
			regex:      regexp.MustCompile(`(?i)\b(?:my\s+name\s+is|i\s+am|i'?m\s+a|i\s+(?:like|love|hate|prefer|enjoy)|i\s+live\s+in|i\s+work\s+(?:at|for)|my\s+(?:birthday|wife|husband|partner|dog|cat|daughter|son))\b`),
			category:   memory.CategoryPersonal,
			confidence: 0.85,
		},
		// Knowledge: declarative factual statements.
		{
			regex:      regexp.MustCompile(`(?i)\b(?:is\s+(?:located|defined|called|known)\s+as|was\s+(?:born|founded|invented)|the\s+capital\s+of|according\s+to|fact(?:s)?\b|definition\s+of)\b`),
			category:   memory.CategoryKnowledge,
			confidence: 0.75,
		},
		// Conversational framing with short useful life.
		{
			regex:      regexp.MustCompile(`(?i)\b(?:as\s+i\s+(?:said|mentioned)|earlier\s+you\s+said|let'?s\s+(?:talk|discuss|continue)|back\s+to\s+the|current\s+topic)\b`),
			category:   memory.CategoryConversation,
			confidence: 0.7,
		},
		// Broader task fallback (single keywords, lower confidence).
		{
			regex:      regexp.MustCompile(`(?i)\b(?:tomorrow|tonight|next\s+(?:week|month)|at\s+\d{1,2}(?::\d{2})?\s*(?:am|pm)?)\b`),
			category:   memory.CategoryTask,
			confidence: 0.6,
		},
	}
}

// Classify returns the first matching rule's category and confidence, or
// CategoryGeneral with 0.5 when nothing matches.
func (m *KeywordModel) Classify(text string) (memory.Category, float64) {
	text = strings.TrimSpace(text)
	if len(text) > maxInputLength {
		text = text[:maxInputLength]
	}
	for _, rule := range m.rules {
		if rule.regex.MatchString(text) {
			return rule.category, rule.confidence
		}
	}
	return memory.CategoryGeneral, 0.5
}

// Version returns the model generation.
func (m *KeywordModel) Version() uint64 { return m.version }

// RuleCount reports how many rules the model carries.
func (m *KeywordModel) RuleCount() int { return len(m.rules) }
