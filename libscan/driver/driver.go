// Package driver holds the interfaces the engine's external collaborators
// implement.
//
// The engine never reaches past these: the embedding model, the LLM runtime,
// the device transport, and the upstream inventory directory are all black
// boxes behind one- and two-method interfaces. Implementations live in their
// own packages (embedxport, llm/azure, llm/llamaserver) or in the operator's
// own code.
package driver

import (
	"context"

	"github.com/fleetvuln/fleetvuln"
)

// EmbeddingDim is the vector width every Embedder must produce.
const EmbeddingDim = 384

// Embedder maps text onto a fixed-width sentence embedding.
//
// Implementations must be deterministic: the same text yields the same
// vector for the lifetime of the process. The predictor checks availability
// once at startup and treats per-request failures as a degraded tier, so
// implementations should return errors rather than block past their
// deadline.
type Embedder interface {
	// Embed returns the embedding vector for the text. The returned slice
	// must be EmbeddingDim long.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LabelAnswer is an LLM backend's parsed reply.
type LabelAnswer struct {
	// taxonomy labels the model selected
	Labels []string
	// the model's self-reported confidence, clamped to [0, 1]
	Confidence float64
}

// LLMBackend is the inference service behind tier 3 of the label predictor.
//
// Exactly one attempt is made per request; the context deadline is the whole
// patience budget. A timeout or error is reported as-is and the predictor
// degrades the prediction rather than retrying.
type LLMBackend interface {
	Predict(ctx context.Context, prompt string) (LabelAnswer, error)
}

// Credentials is the transport login a Collector uses.
type Credentials struct {
	Username string
	Password string
}

// Collector produces a point-in-time snapshot of a live device.
//
// Implementations own the transport (typically SSH) and the CLI-output
// parsing; the engine only sees the resulting snapshot or the error.
type Collector interface {
	Collect(ctx context.Context, host string, creds Credentials) (*fleetvuln.DeviceSnapshot, error)
}

// InventorySource seeds the device table from an upstream directory.
type InventorySource interface {
	List(ctx context.Context) ([]fleetvuln.DeviceStub, error)
}
