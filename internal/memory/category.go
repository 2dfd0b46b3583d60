package memory

import "strings"

// Category classifies an item within a closed two-level hierarchy:
// a top-level group with an optional subcategory, joined by a slash
// (e.g. "task", "task/reminder", "personal/preference").
//
// The set of valid categories is defined by the active RuleTable, not by
// this type. The constants below are the built-in defaults shipped in the
// default rule table; deployments extend the set through configuration.
type Category string

// Built-in default categories.
const (
	// CategoryPersonal covers facts about the user: name, preferences,
	// relationships, recurring context.
	CategoryPersonal Category = "personal"

	// CategoryTask covers actionable items: reminders, to-dos, scheduled
	// events ("my flight is at 7am").
	CategoryTask Category = "task"

	// CategoryKnowledge covers factual statements worth recalling later
	// that are not about the user specifically.
	CategoryKnowledge Category = "knowledge"

	// CategoryConversation covers conversational context with short useful
	// life: clarifications, current topic, session framing.
	CategoryConversation Category = "conversation"

	// CategoryGeneral is the fallback when no specific category applies.
	CategoryGeneral Category = "general"
)

// Group returns the top-level group of the category.
func (c Category) Group() Category {
	if i := strings.IndexByte(string(c), '/'); i >= 0 {
		return c[:i]
	}
	return c
}

// Sub returns the subcategory, or "" for a top-level category.
func (c Category) Sub() string {
	if i := strings.IndexByte(string(c), '/'); i >= 0 {
		return string(c[i+1:])
	}
	return ""
}

// String returns the category key.
func (c Category) String() string { return string(c) }

// ParseCategory normalizes a raw category key: lowercased, trimmed, at most
// one slash. Returns CategoryGeneral for empty input and false for malformed
// keys (leading/trailing slash, more than two levels).
func ParseCategory(raw string) (Category, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return CategoryGeneral, true
	}
	if strings.Count(s, "/") > 1 {
		return "", false
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return "", false
	}
	return Category(s), true
}
