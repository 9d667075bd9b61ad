// Package predictor maps free-form vulnerability summaries onto taxonomy
// labels.
//
// Three tiers answer in order, cheapest first: a store lookup by external
// ID, a nearest-example search over the embedded example index, and finally
// LLM inference with the retrieved examples as few-shot context. The first
// tier to answer definitively short-circuits. Tier 3 can never fail the
// request; timeouts and backend errors degrade to an empty, needs-review
// prediction.
package predictor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/datastore"
	"github.com/fleetvuln/fleetvuln/exampleindex"
	"github.com/fleetvuln/fleetvuln/libscan/driver"
	"github.com/fleetvuln/fleetvuln/llm"
	"github.com/fleetvuln/fleetvuln/taxonomy"
)

// Tuning defaults. See Opts for what each governs.
const (
	DefaultLLMDeadline     = 4 * time.Second
	DefaultTopK            = 5
	DefaultSimilarityFloor = 0.70
	DefaultTrustFloor      = 0.70
	DefaultCacheFloor      = 0.75
)

// Opts tunes a Predictor. The zero value means defaults throughout.
type Opts struct {
	// wall-clock budget for one tier-3 inference call
	LLMDeadline time.Duration
	// neighbors retrieved from the example index
	TopK int
	// best-similarity threshold below which the prediction is sticky
	// needs-review
	SimilarityFloor float64
	// model confidence below which the confidence source is demoted to
	// heuristic
	TrustFloor float64
	// confidence threshold for writing a tier-3 result back to the store
	CacheFloor float64
}

func (o *Opts) parse() {
	if o.LLMDeadline <= 0 {
		o.LLMDeadline = DefaultLLMDeadline
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.SimilarityFloor <= 0 {
		o.SimilarityFloor = DefaultSimilarityFloor
	}
	if o.TrustFloor <= 0 {
		o.TrustFloor = DefaultTrustFloor
	}
	if o.CacheFloor <= 0 {
		o.CacheFloor = DefaultCacheFloor
	}
}

// Predictor is the three-tier label predictor. Safe for concurrent use; all
// mutable state lives in the store.
type Predictor struct {
	store    datastore.VulnerabilityStore
	embedder driver.Embedder
	backend  driver.LLMBackend
	index    *exampleindex.Index
	opts     Opts
}

// New constructs a Predictor. The index may be nil, which disables tier 2
// entirely (every prediction is sticky needs-review, as with a dead
// embedder).
func New(store datastore.VulnerabilityStore, embedder driver.Embedder, backend driver.LLMBackend, index *exampleindex.Index, opts Opts) *Predictor {
	opts.parse()
	return &Predictor{
		store:    store,
		embedder: embedder,
		backend:  backend,
		index:    index,
		opts:     opts,
	}
}

// Request is one prediction query.
type Request struct {
	// free-form vulnerability description
	Summary string `json:"summary"`
	// platform whose taxonomy constrains the answer
	Platform fleetvuln.Platform `json:"platform"`
	// vendor identifier, when the query is about a published record.
	// Enables the tier-1 lookup and the cache write
	ExternalID string `json:"external_id,omitempty"`
}

// Predict runs the tiers in order and returns the first definitive answer.
//
// The returned error is only ever a validation or store failure; inference
// problems come back inside the prediction.
func (p *Predictor) Predict(ctx context.Context, req Request) (*fleetvuln.LabelPrediction, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "predictor/Predictor.Predict")
	platform, err := fleetvuln.ParsePlatform(string(req.Platform))
	if err != nil {
		return nil, err
	}
	req.Platform = platform
	tax := taxonomy.For(platform)

	// Tier 1: the store already knows this record.
	if req.ExternalID != "" {
		v, err := p.store.QueryByAdvisory(ctx, req.ExternalID, platform)
		if err != nil {
			return nil, err
		}
		if v != nil && len(v.Labels) > 0 {
			tierCounter.WithLabelValues("store").Inc()
			conf := v.LabelsConfidence
			if conf == 0 {
				conf = 1.0
			}
			return &fleetvuln.LabelPrediction{
				Labels:           v.Labels,
				Confidence:       conf,
				ConfidenceSource: fleetvuln.ConfidenceCache,
				Source:           fleetvuln.PredictionStore,
				Cached:           true,
			}, nil
		}
	}

	// Tier 2: nearest labeled example.
	var (
		sticky    bool
		retrieved []fleetvuln.RetrievedExample
	)
	switch {
	case p.index == nil:
		sticky = true
	default:
		vec, err := p.embedder.Embed(ctx, req.Summary)
		if err != nil {
			// A dead embedder degrades tier 2 to a no-op for this
			// request. Startup already proved it was there once.
			zlog.Warn(ctx).Err(err).Msg("embedder failed; skipping example retrieval")
			sticky = true
			break
		}
		matches := p.index.Search(vec, platform, p.opts.TopK)
		if len(matches) == 0 {
			sticky = true
			break
		}
		for _, m := range matches {
			retrieved = append(retrieved, fleetvuln.RetrievedExample{
				ExternalID: m.ExternalID,
				Labels:     m.Labels,
				Summary:    m.Summary,
				Similarity: m.Similarity,
			})
		}
		best := matches[0]
		if req.ExternalID != "" && best.ExternalID == req.ExternalID {
			// The query is a training example. Authoritative, no LLM call.
			tierCounter.WithLabelValues("index").Inc()
			return &fleetvuln.LabelPrediction{
				Labels:           best.Labels,
				Confidence:       1.0,
				ConfidenceSource: fleetvuln.ConfidenceCache,
				Source:           fleetvuln.PredictionIndex,
				Cached:           true,
				Retrieved:        retrieved,
			}, nil
		}
		if best.Similarity < p.opts.SimilarityFloor {
			sticky = true
		}
	}

	// Tier 3: inference.
	pred := p.infer(ctx, tax, req, retrieved, sticky)

	if p.shouldCache(req.ExternalID, pred) {
		p.cacheWrite(ctx, req, pred)
	}
	return pred, nil
}

// Infer runs one deadline-bounded LLM call and shapes the outcome per the
// degradation policy.
func (p *Predictor) infer(ctx context.Context, tax *taxonomy.Taxonomy, req Request, retrieved []fleetvuln.RetrievedExample, sticky bool) *fleetvuln.LabelPrediction {
	tierCounter.WithLabelValues("llm").Inc()
	prompt := llm.BuildPrompt(tax, req.Summary, retrieved)
	ctx, cancel := context.WithTimeout(ctx, p.opts.LLMDeadline)
	defer cancel()
	ans, err := p.backend.Predict(ctx, prompt)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("inference failed; returning degraded prediction")
		degradedCounter.Inc()
		return &fleetvuln.LabelPrediction{
			Labels:           nil,
			Confidence:       0,
			ConfidenceSource: fleetvuln.ConfidenceHeuristic,
			Source:           fleetvuln.PredictionLLM,
			NeedsReview:      true,
			Retrieved:        retrieved,
		}
	}

	// The model may only answer with vocabulary members.
	labels := ans.Labels[:0:0]
	for _, l := range ans.Labels {
		if !tax.Has(l) {
			zlog.Warn(ctx).Str("label", l).Msg("model answered with unknown label; dropped")
			continue
		}
		labels = append(labels, l)
	}

	cs := fleetvuln.ConfidenceModel
	if ans.Confidence < p.opts.TrustFloor {
		cs = fleetvuln.ConfidenceHeuristic
	}
	return &fleetvuln.LabelPrediction{
		Labels:           labels,
		Confidence:       ans.Confidence,
		ConfidenceSource: cs,
		Source:           fleetvuln.PredictionLLM,
		NeedsReview:      sticky || ans.Confidence < p.opts.TrustFloor,
		Retrieved:        retrieved,
	}
}

// ShouldCache is the cache-write predicate, kept separate from the predict
// path so the policy can be tested alone. All conditions must hold; the
// needs-review bit is sticky and disqualifies regardless of the raw
// confidence.
func (p *Predictor) shouldCache(externalID string, pred *fleetvuln.LabelPrediction) bool {
	switch {
	case externalID == "":
		return false
	case pred.Confidence < p.opts.CacheFloor:
		return false
	case len(pred.Labels) == 0:
		return false
	case pred.ConfidenceSource != fleetvuln.ConfidenceModel:
		return false
	case pred.NeedsReview:
		return false
	}
	return true
}

// CacheWrite persists a confident tier-3 result as a labeled record. A
// racing writer's conflict is benign: the labels are already there.
func (p *Predictor) cacheWrite(ctx context.Context, req Request, pred *fleetvuln.LabelPrediction) {
	v := &fleetvuln.Vulnerability{
		ExternalID:       req.ExternalID,
		Kind:             inferKind(req.ExternalID),
		Platform:         req.Platform,
		Summary:          req.Summary,
		AffectedVersions: fleetvuln.VersionExpr{Kind: fleetvuln.PatternUnknown},
		Labels:           pred.Labels,
		LabelsSource:     fleetvuln.LabelsLLM,
		LabelsConfidence: pred.Confidence,
	}
	_, err := p.store.InsertVulnerability(ctx, v)
	switch {
	case err == nil:
		cacheWriteCounter.Inc()
		zlog.Debug(ctx).Str("external_id", req.ExternalID).Msg("prediction cached")
	case errors.Is(err, fleetvuln.ErrConflict):
		// Lost the race; the other writer's result stands.
		zlog.Debug(ctx).Str("external_id", req.ExternalID).Msg("already cached")
	default:
		zlog.Warn(ctx).Err(err).Str("external_id", req.ExternalID).Msg("cache write failed")
	}
}

// InferKind guesses the record population from the identifier's shape:
// bug-tracker IDs start with "CSC", everything else is an advisory.
func inferKind(externalID string) fleetvuln.VulnKind {
	if strings.HasPrefix(strings.ToUpper(externalID), "CSC") {
		return fleetvuln.KindBug
	}
	return fleetvuln.KindAdvisory
}
