package memory

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// GatingAction determines what the gating evaluator does with an accepted
// candidate of a given category.
type GatingAction string

const (
	// ActionAdd persists the item to the long-term store and mirrors it
	// into the short-term cache.
	ActionAdd GatingAction = "add"

	// ActionShortTermOnly accepts the item into the short-term cache
	// without long-term persistence.
	ActionShortTermOnly GatingAction = "short-term-only"

	// ActionReject refuses items of this category outright.
	ActionReject GatingAction = "reject"
)

// validActions maps recognized action strings.
var validActions = map[GatingAction]bool{
	ActionAdd:           true,
	ActionShortTermOnly: true,
	ActionReject:        true,
}

// GatingRule is the per-category gating configuration.
type GatingRule struct {
	// Action is taken when a candidate resolves to this category.
	Action GatingAction `json:"action" koanf:"action"`

	// ConfidenceThreshold is the minimum classifier confidence required for
	// ActionAdd to accept. Range [0,1].
	ConfidenceThreshold float64 `json:"confidence_threshold" koanf:"confidence_threshold"`

	// TTL optionally bounds the cache lifetime of items in this category.
	// Zero means the cache default applies.
	TTL time.Duration `json:"ttl,omitempty" koanf:"ttl"`

	// Priority orders items of this category during count-bound retention
	// sweeps. Higher survives longer. Zero is the default priority.
	Priority int `json:"priority,omitempty" koanf:"priority"`
}

// Validate checks rule fields.
func (r GatingRule) Validate() error {
	if !validActions[r.Action] {
		return fmt.Errorf("unknown gating action %q", r.Action)
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]", r.ConfidenceThreshold)
	}
	if r.TTL < 0 {
		return errors.New("rule TTL cannot be negative")
	}
	return nil
}

// RetentionPolicy bounds how long or how many items of a category are kept.
// Exactly one of MaxAge or MaxCount is active; MaxAge wins if both are set.
type RetentionPolicy struct {
	// MaxAge deletes items older than this bound. Zero disables the bound.
	MaxAge time.Duration `json:"max_age,omitempty" koanf:"max_age"`

	// MaxCount keeps at most this many items per category and scope,
	// evicting lowest-priority oldest first. Zero disables the bound.
	MaxCount int `json:"max_count,omitempty" koanf:"max_count"`
}

// Validate checks policy fields.
func (p RetentionPolicy) Validate() error {
	if p.MaxAge < 0 {
		return errors.New("retention max_age cannot be negative")
	}
	if p.MaxCount < 0 {
		return errors.New("retention max_count cannot be negative")
	}
	return nil
}

// Unbounded reports whether the policy imposes no bound.
func (p RetentionPolicy) Unbounded() bool {
	return p.MaxAge == 0 && p.MaxCount == 0
}

// CategoryEntry pairs a category key with its rule and retention policy.
type CategoryEntry struct {
	Rule      GatingRule      `json:"rule" koanf:"rule"`
	Retention RetentionPolicy `json:"retention" koanf:"retention"`
}

// DefaultRule is the fallback gating rule when a category has none.
var DefaultRule = GatingRule{
	Action:              ActionAdd,
	ConfidenceThreshold: 0.3,
}

// DefaultRetention is the fallback retention policy (unbounded).
var DefaultRetention = RetentionPolicy{}

// RuleTable maps category keys to their gating rules and retention
// policies. Tables are immutable after construction; runtime rule
// adaptation builds a new table and swaps it atomically (see
// internal/retrain). Lookup falls back from the exact category to its
// top-level group, then to the DEFAULT entry, so every category resolves to
// exactly one active rule and at most one active policy.
type RuleTable struct {
	entries  map[Category]CategoryEntry
	defaults CategoryEntry
	version  uint64
}

// NewRuleTable builds and validates a table from category entries. The
// defaults entry backs any category without its own (or its group's) entry.
func NewRuleTable(entries map[Category]CategoryEntry, defaults CategoryEntry) (*RuleTable, error) {
	if err := defaults.Rule.Validate(); err != nil {
		return nil, fmt.Errorf("default rule: %w", err)
	}
	if err := defaults.Retention.Validate(); err != nil {
		return nil, fmt.Errorf("default retention: %w", err)
	}

	table := make(map[Category]CategoryEntry, len(entries))
	for key, entry := range entries {
		cat, ok := ParseCategory(string(key))
		if !ok {
			return nil, fmt.Errorf("malformed category key %q", key)
		}
		if _, dup := table[cat]; dup {
			return nil, fmt.Errorf("duplicate category key %q", cat)
		}
		if err := entry.Rule.Validate(); err != nil {
			return nil, fmt.Errorf("category %q rule: %w", cat, err)
		}
		if err := entry.Retention.Validate(); err != nil {
			return nil, fmt.Errorf("category %q retention: %w", cat, err)
		}
		table[cat] = entry
	}

	return &RuleTable{entries: table, defaults: defaults}, nil
}

// DefaultRuleTable returns the built-in table used when configuration
// provides none. Mirrors the category semantics of the original memuri
// defaults: tasks and personal facts persist, conversational chatter stays
// short-term, and everything else passes through the default rule.
func DefaultRuleTable() *RuleTable {
	t, err := NewRuleTable(map[Category]CategoryEntry{
		CategoryPersonal: {
			Rule:      GatingRule{Action: ActionAdd, ConfidenceThreshold: 0.3, Priority: 10},
			Retention: RetentionPolicy{},
		},
		CategoryTask: {
			Rule:      GatingRule{Action: ActionAdd, ConfidenceThreshold: 0.5, Priority: 5},
			Retention: RetentionPolicy{MaxAge: 90 * 24 * time.Hour},
		},
		CategoryKnowledge: {
			Rule:      GatingRule{Action: ActionAdd, ConfidenceThreshold: 0.5},
			Retention: RetentionPolicy{MaxCount: 10000},
		},
		CategoryConversation: {
			Rule:      GatingRule{Action: ActionShortTermOnly, ConfidenceThreshold: 0.3, TTL: 30 * time.Minute},
			Retention: RetentionPolicy{MaxAge: 24 * time.Hour},
		},
	}, CategoryEntry{Rule: DefaultRule, Retention: DefaultRetention})
	if err != nil {
		// Built-in entries are static and validated by tests.
		panic(err)
	}
	return t
}

// Resolve returns the active entry for a category: exact match, then group
// match, then defaults.
func (t *RuleTable) Resolve(c Category) CategoryEntry {
	if e, ok := t.entries[c]; ok {
		return e
	}
	if g := c.Group(); g != c {
		if e, ok := t.entries[g]; ok {
			return e
		}
	}
	return t.defaults
}

// Rule returns the active gating rule for a category.
func (t *RuleTable) Rule(c Category) GatingRule {
	return t.Resolve(c).Rule
}

// Retention returns the active retention policy for a category.
func (t *RuleTable) Retention(c Category) RetentionPolicy {
	return t.Resolve(c).Retention
}

// Known reports whether the category (or its group) has an explicit entry.
func (t *RuleTable) Known(c Category) bool {
	if _, ok := t.entries[c]; ok {
		return true
	}
	_, ok := t.entries[c.Group()]
	return ok
}

// Categories returns the explicitly configured category keys, sorted.
func (t *RuleTable) Categories() []Category {
	out := make([]Category, 0, len(t.entries))
	for c := range t.entries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Version identifies the table generation. Assigned by the publisher when
// the table is swapped in; zero for tables built directly from config.
func (t *RuleTable) Version() uint64 { return t.version }

// WithVersion returns a shallow copy carrying the given version.
func (t *RuleTable) WithVersion(v uint64) *RuleTable {
	cp := *t
	cp.version = v
	return &cp
}

// Adjusted returns a new table with per-category confidence thresholds
// replaced according to overrides. Unknown categories gain an entry cloned
// from their resolved entry. Used by rule adaptation; the receiver is not
// modified.
func (t *RuleTable) Adjusted(overrides map[Category]float64) (*RuleTable, error) {
	entries := make(map[Category]CategoryEntry, len(t.entries)+len(overrides))
	for c, e := range t.entries {
		entries[c] = e
	}
	for c, threshold := range overrides {
		e := t.Resolve(c)
		e.Rule.ConfidenceThreshold = threshold
		entries[c] = e
	}
	return NewRuleTable(entries, t.defaults)
}
