package classifier

import "sync/atomic"

// atomic.Pointer needs a concrete type; box the interface.
type modelBox struct {
	m Model
}

// Ref is the shared reference to the live classifier model. Readers load it
// lock-free on every classification; only the retrain scheduler stores.
type Ref struct {
	p atomic.Pointer[modelBox]
}

// NewRef creates a reference holding the given model.
func NewRef(m Model) *Ref {
	r := &Ref{}
	r.Store(m)
	return r
}

// Load returns the current model, or nil if none was ever published.
func (r *Ref) Load() Model {
	b := r.p.Load()
	if b == nil {
		return nil
	}
	return b.m
}

// Store publishes a new model. The swap is atomic; in-flight readers keep
// the model they loaded.
func (r *Ref) Store(m Model) {
	r.p.Store(&modelBox{m: m})
}
