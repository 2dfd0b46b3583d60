package memory

// RerankExplanation breaks a candidate's final ranking score into its
// fused components. Produced only when a caller asks for explanations.
type RerankExplanation struct {
	// Semantic is the cross-encoder relevance score, or the raw retrieval
	// score when the cross-encoder was unavailable.
	Semantic float64 `json:"semantic"`

	// Decay is the time-decay score for the item's age, in [0,1].
	Decay float64 `json:"decay"`

	// Metadata is the metadata scorer contribution, in [0,1].
	Metadata float64 `json:"metadata"`

	// Final is the weighted fusion of the above.
	Final float64 `json:"final"`
}
