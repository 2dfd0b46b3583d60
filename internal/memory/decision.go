package memory

import "fmt"

// Placement says where an accepted item should be persisted.
type Placement string

const (
	// PlaceLongTerm persists to the long-term store and mirrors into the
	// short-term cache.
	PlaceLongTerm Placement = "long-term"

	// PlaceShortTermOnly persists only into the short-term cache.
	PlaceShortTermOnly Placement = "short-term-only"
)

// Machine-readable gating decision reasons. Rejections always carry one of
// these (or a degraded variant); there are no silent drops.
const (
	ReasonBelowMinLength  = "below minimum length"
	ReasonSkipWord        = "skip word"
	ReasonRedundant       = "redundant"
	ReasonBelowConfidence = "below confidence threshold"
	ReasonRuleReject      = "category rule rejects"
	ReasonKeepPhrase      = "always-keep phrase"
	ReasonRuleAccept      = "category rule accepts"

	// ReasonDegraded prefixes decisions made with hard filters only because
	// an external dependency was unavailable.
	ReasonDegraded = "degraded: dependency unavailable"
)

// GatingDecision is the result of evaluating one candidate. Ephemeral: it
// is logged and acted on by the caller but never persisted.
type GatingDecision struct {
	// Accepted reports the outcome.
	Accepted bool `json:"accepted"`

	// Category is the resolved category for the candidate.
	Category Category `json:"category"`

	// Confidence is the classifier confidence for Category, or 1.0 when
	// the category was explicit.
	Confidence float64 `json:"confidence"`

	// Placement says where to persist an accepted item. Empty on reject.
	Placement Placement `json:"placement,omitempty"`

	// Reason is the machine-readable explanation for the outcome.
	Reason string `json:"reason"`
}

// Accept builds an accepting decision.
func Accept(category Category, confidence float64, placement Placement, reason string) *GatingDecision {
	return &GatingDecision{
		Accepted:   true,
		Category:   category,
		Confidence: confidence,
		Placement:  placement,
		Reason:     reason,
	}
}

// Reject builds a rejecting decision.
func Reject(category Category, confidence float64, reason string) *GatingDecision {
	return &GatingDecision{
		Accepted:   false,
		Category:   category,
		Confidence: confidence,
		Reason:     reason,
	}
}

// String renders a compact human-readable form for logs.
func (d *GatingDecision) String() string {
	verb := "reject"
	if d.Accepted {
		verb = "accept"
	}
	return fmt.Sprintf("%s category=%s confidence=%.2f reason=%q", verb, d.Category, d.Confidence, d.Reason)
}
