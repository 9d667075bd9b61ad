// Package llm holds the prompt and reply handling shared by the LLM
// backends.
//
// Backends differ only in transport; the prompt they receive and the reply
// shape they must coax out of the model are common, so both live here. The
// predictor builds one deterministic prompt per request and every backend
// parses the model's reply with [ParseAnswer].
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/libscan/driver"
	"github.com/fleetvuln/fleetvuln/taxonomy"
)

// BuildPrompt renders the deterministic tier-3 prompt: the platform's label
// vocabulary, the retrieved few-shot examples in similarity order, and the
// query summary. Identical inputs produce byte-identical prompts, which
// keeps inference caches warm and output reproducible.
func BuildPrompt(tax *taxonomy.Taxonomy, summary string, examples []fleetvuln.RetrievedExample) string {
	var b strings.Builder
	b.WriteString("You label network-device vulnerability descriptions with feature labels.\n")
	fmt.Fprintf(&b, "Platform: %s\n\n", tax.Platform())
	b.WriteString("Allowed labels, one per line as LABEL: description\n")
	for _, label := range tax.Labels() {
		d, _ := tax.Description(label)
		fmt.Fprintf(&b, "%s: %s\n", label, d)
	}
	if len(examples) > 0 {
		b.WriteString("\nLabeled examples:\n")
		for _, ex := range examples {
			labels := append([]string(nil), ex.Labels...)
			sort.Strings(labels)
			fmt.Fprintf(&b, "Description: %s\nLabels: %s\n\n", ex.Summary, strings.Join(labels, ", "))
		}
	}
	b.WriteString("\nDescription: ")
	b.WriteString(summary)
	b.WriteString("\n\nAnswer with one JSON object, nothing else: ")
	b.WriteString(`{"labels": ["LABEL", ...], "confidence": 0.0}`)
	b.WriteString("\nUse only allowed labels. Confidence is your certainty in [0, 1].\n")
	return b.String()
}

// ParseAnswer extracts the labels and confidence from a model reply.
//
// Models wrap the JSON in prose and code fences often enough that the parser
// scans for the outermost object instead of decoding the reply whole.
// Confidence is clamped to [0, 1].
func ParseAnswer(reply string) (driver.LabelAnswer, error) {
	var out driver.LabelAnswer
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start == -1 || end <= start {
		return out, fmt.Errorf("llm: no JSON object in reply")
	}
	var body struct {
		Labels     []string `json:"labels"`
		Confidence float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &body); err != nil {
		return out, fmt.Errorf("llm: malformed reply object: %w", err)
	}
	out.Labels = body.Labels
	out.Confidence = body.Confidence
	switch {
	case out.Confidence < 0:
		out.Confidence = 0
	case out.Confidence > 1:
		out.Confidence = 1
	}
	return out, nil
}

// Limited wraps a backend with a request rate limit, protecting a shared
// inference service from bulk-driven fan-out. Waiting counts against the
// caller's deadline.
type Limited struct {
	backend driver.LLMBackend
	lim     *rate.Limiter
}

var _ driver.LLMBackend = (*Limited)(nil)

// Limit wraps backend at rps requests per second with a burst of one. A
// non-positive rps returns the backend unwrapped.
func Limit(backend driver.LLMBackend, rps float64) driver.LLMBackend {
	if rps <= 0 {
		return backend
	}
	return &Limited{backend: backend, lim: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Predict implements [driver.LLMBackend].
func (l *Limited) Predict(ctx context.Context, prompt string) (driver.LabelAnswer, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return driver.LabelAnswer{}, fmt.Errorf("llm: rate limit wait: %w", err)
	}
	return l.backend.Predict(ctx, prompt)
}
