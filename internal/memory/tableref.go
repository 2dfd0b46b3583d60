package memory

import "sync/atomic"

// RuleTableRef is the shared reference to the active rule table. Readers
// load it lock-free; rule adaptation stores new tables.
type RuleTableRef struct {
	p atomic.Pointer[RuleTable]
}

// NewRuleTableRef creates a reference holding the given table.
func NewRuleTableRef(t *RuleTable) *RuleTableRef {
	r := &RuleTableRef{}
	r.p.Store(t)
	return r
}

// Load returns the active table.
func (r *RuleTableRef) Load() *RuleTable {
	return r.p.Load()
}

// Store publishes a new table atomically.
func (r *RuleTableRef) Store(t *RuleTable) {
	r.p.Store(t)
}
