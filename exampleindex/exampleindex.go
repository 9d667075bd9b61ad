// Package exampleindex is the in-memory nearest-example store behind tier 2
// of the label predictor.
//
// The index holds one embedding vector per labeled training example and
// answers cosine-similarity top-k queries. It's loaded once at startup from a
// versioned binary blob and read-only afterward; swapping in a rebuilt index
// means restarting the process or constructing a new Index and swapping the
// pointer atomically.
//
// The on-disk artifact is a zstd-compressed JSON document. Its metadata
// carries a semantic schema version and the identity of the embedder model
// the vectors were produced with: vectors from one embedder are meaningless
// under another, so loading checks the schema range and callers should check
// [Index.Metadata] against their configured embedder.
package exampleindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/Masterminds/semver"
	"github.com/klauspost/compress/zstd"
	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
)

// SchemaRange is the blob schema versions this package can read.
const schemaRange = ">= 1.0.0, < 2.0.0"

// Metadata describes an index artifact.
type Metadata struct {
	// semantic version of the blob layout
	SchemaVersion string `json:"schema_version"`
	// identity of the embedder that produced the vectors
	EmbedderModel string `json:"embedder_model"`
	// version of the LLM adapter the examples were curated against
	ModelVersion string `json:"model_version,omitempty"`
	// vector width
	Dim   int       `json:"dim"`
	Built time.Time `json:"built"`
	Count int       `json:"count"`
}

// Example is one labeled training example.
type Example struct {
	ExternalID string             `json:"external_id"`
	Platform   fleetvuln.Platform `json:"platform"`
	Labels     []string           `json:"labels"`
	Summary    string             `json:"summary"`
	Vector     []float32          `json:"vector"`
}

// Match is one search hit.
type Match struct {
	Example
	// cosine similarity against the query vector
	Similarity float64
}

// Index is the loaded, immutable example index.
type Index struct {
	meta     Metadata
	examples []Example
	norms    []float64
}

type blob struct {
	Metadata Metadata  `json:"metadata"`
	Examples []Example `json:"examples"`
}

// New builds an index directly from examples, for tests and for the artifact
// builder. Every vector must share meta.Dim.
func New(meta Metadata, examples []Example) (*Index, error) {
	if meta.Dim == 0 && len(examples) > 0 {
		meta.Dim = len(examples[0].Vector)
	}
	meta.Count = len(examples)
	if meta.SchemaVersion == "" {
		meta.SchemaVersion = "1.0.0"
	}
	idx := &Index{
		meta:     meta,
		examples: examples,
		norms:    make([]float64, len(examples)),
	}
	for i := range examples {
		if len(examples[i].Vector) != meta.Dim {
			return nil, &fleetvuln.Error{
				Op:      `exampleindex new`,
				Kind:    fleetvuln.ErrInvalid,
				Message: fmt.Sprintf("example %q has %d-wide vector, index is %d-wide", examples[i].ExternalID, len(examples[i].Vector), meta.Dim),
			}
		}
		idx.norms[i] = norm(examples[i].Vector)
	}
	return idx, nil
}

// Load reads an index artifact.
func Load(ctx context.Context, r io.Reader) (*Index, error) {
	const op = `exampleindex load`
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("exampleindex: decoder: %w", err)
	}
	defer dec.Close()
	var b blob
	if err := json.NewDecoder(dec).Decode(&b); err != nil {
		return nil, &fleetvuln.Error{Op: op, Kind: fleetvuln.ErrInvalid, Message: "malformed index blob", Inner: err}
	}
	sv, err := semver.NewVersion(b.Metadata.SchemaVersion)
	if err != nil {
		return nil, &fleetvuln.Error{Op: op, Kind: fleetvuln.ErrInvalid, Message: "bad schema version " + b.Metadata.SchemaVersion, Inner: err}
	}
	rng, err := semver.NewConstraint(schemaRange)
	if err != nil {
		panic("programmer error: " + err.Error())
	}
	if !rng.Check(sv) {
		return nil, &fleetvuln.Error{
			Op:      op,
			Kind:    fleetvuln.ErrInvalid,
			Message: fmt.Sprintf("index schema %s outside supported range %q; rebuild the index", sv, schemaRange),
		}
	}
	idx, err := New(b.Metadata, b.Examples)
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).
		Int("examples", idx.meta.Count).
		Int("dim", idx.meta.Dim).
		Str("embedder_model", idx.meta.EmbedderModel).
		Msg("example index loaded")
	return idx, nil
}

// LoadFile reads an index artifact from disk.
func LoadFile(ctx context.Context, path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("exampleindex: %w", err)
	}
	defer f.Close()
	return Load(ctx, f)
}

// Store writes an index artifact. The inverse of [Load].
func Store(w io.Writer, meta Metadata, examples []Example) error {
	if meta.SchemaVersion == "" {
		meta.SchemaVersion = "1.0.0"
	}
	if meta.Dim == 0 && len(examples) > 0 {
		meta.Dim = len(examples[0].Vector)
	}
	meta.Count = len(examples)
	if meta.Built.IsZero() {
		meta.Built = time.Now().UTC()
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("exampleindex: encoder: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(blob{Metadata: meta, Examples: examples}); err != nil {
		enc.Close()
		return fmt.Errorf("exampleindex: encode: %w", err)
	}
	return enc.Close()
}

// Metadata returns the artifact metadata.
func (i *Index) Metadata() Metadata {
	return i.meta
}

// Len reports the number of examples.
func (i *Index) Len() int {
	return len(i.examples)
}

// Search returns the k examples most similar to the query vector, best
// first. A non-empty platform restricts hits to examples for that platform.
// Examples orthogonal to the query (or zero vectors) are never returned.
func (i *Index) Search(query []float32, platform fleetvuln.Platform, k int) []Match {
	if k <= 0 || len(query) != i.meta.Dim {
		return nil
	}
	qn := norm(query)
	if qn == 0 {
		return nil
	}
	out := make([]Match, 0, k)
	for n := range i.examples {
		e := &i.examples[n]
		if platform != "" && e.Platform != platform {
			continue
		}
		if i.norms[n] == 0 {
			continue
		}
		sim := dot(query, e.Vector) / (qn * i.norms[n])
		if sim <= 0 {
			continue
		}
		switch {
		case len(out) < k:
			out = append(out, Match{Example: *e, Similarity: sim})
			if len(out) == k {
				sort.Slice(out, func(a, b int) bool { return out[a].Similarity > out[b].Similarity })
			}
		case sim > out[k-1].Similarity:
			out[k-1] = Match{Example: *e, Similarity: sim}
			for a := k - 1; a > 0 && out[a].Similarity > out[a-1].Similarity; a-- {
				out[a], out[a-1] = out[a-1], out[a]
			}
		}
	}
	if len(out) < k {
		sort.Slice(out, func(a, b int) bool { return out[a].Similarity > out[b].Similarity })
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
