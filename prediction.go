package fleetvuln

// PredictionSource names the tier that produced a LabelPrediction.
type PredictionSource string

const (
	// PredictionStore is a tier-1 hit: the labels were already persisted.
	PredictionStore PredictionSource = "store"
	// PredictionIndex is a tier-2 hit against the embedded example index.
	PredictionIndex PredictionSource = "index"
	// PredictionLLM is a tier-3 inference result.
	PredictionLLM PredictionSource = "llm"
)

// ConfidenceSource qualifies how the confidence number was produced.
type ConfidenceSource string

const (
	// ConfidenceModel is a confidence the model itself reported, at or above
	// the trust floor.
	ConfidenceModel ConfidenceSource = "model"
	// ConfidenceHeuristic marks degraded responses: low model confidence,
	// timeouts, and backend errors.
	ConfidenceHeuristic ConfidenceSource = "heuristic"
	// ConfidenceCache marks answers served from a cache tier.
	ConfidenceCache ConfidenceSource = "cache"
)

// RetrievedExample is one neighbor pulled from the example index during
// tier 2, carried into the tier-3 prompt and echoed for auditability.
type RetrievedExample struct {
	ExternalID string   `json:"external_id"`
	Labels     []string `json:"labels"`
	// the example's summary text, reused as few-shot prompt material
	Summary string `json:"summary,omitempty"`
	// cosine similarity against the query embedding
	Similarity float64 `json:"similarity"`
}

// LabelPrediction maps a free-form vulnerability summary onto taxonomy
// labels.
type LabelPrediction struct {
	Labels     []string `json:"labels"`
	Confidence float64  `json:"confidence"`

	ConfidenceSource ConfidenceSource `json:"confidence_source"`
	Source           PredictionSource `json:"source"`

	// true when the answer came from a cache tier rather than inference
	Cached bool `json:"cached"`
	// sticky: once set, the prediction is not authoritative and is never
	// written back to the store
	NeedsReview bool `json:"needs_review"`

	// tier-2 neighbors, when tier 2 ran
	Retrieved []RetrievedExample `json:"retrieved_examples,omitempty"`
}
