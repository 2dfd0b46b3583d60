// Package memory defines the shared data model for memuri: memory items,
// the category hierarchy, gating rules, retention policies, and gating
// decisions.
//
// The category table is data, not code. Rules and policies are loaded from
// configuration into a RuleTable and resolved at runtime; core logic never
// branches on a category name directly, only on the rule it resolves to.
// New categories are table entries and require no recompilation.
//
// Items are immutable once created. Corrections never edit an item in
// place; they become feedback records (see internal/feedback) that drive
// classifier retraining and rule adaptation.
package memory
