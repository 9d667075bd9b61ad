package predictor

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/datastore"
	"github.com/fleetvuln/fleetvuln/exampleindex"
	"github.com/fleetvuln/fleetvuln/libscan/driver"
)

// memStore is an in-memory VulnerabilityStore covering what the predictor
// touches.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*fleetvuln.Vulnerability
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*fleetvuln.Vulnerability)}
}

func (m *memStore) InsertVulnerability(_ context.Context, v *fleetvuln.Vulnerability) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[v.ExternalID]; ok {
		return "", &fleetvuln.Error{Op: `insert`, Kind: fleetvuln.ErrConflict, Message: "duplicate"}
	}
	cp := *v
	cp.ID = strconv.Itoa(len(m.recs) + 1)
	m.recs[v.ExternalID] = &cp
	return cp.ID, nil
}

func (m *memStore) UpdateVulnerabilityLabels(_ context.Context, _ string, _ []string, _ fleetvuln.LabelsSource) error {
	return nil
}

func (m *memStore) QueryByPlatform(_ context.Context, _ fleetvuln.Platform) datastore.Iter[*fleetvuln.Vulnerability] {
	return func(func(*fleetvuln.Vulnerability, error) bool) {}
}

func (m *memStore) QueryByAdvisory(_ context.Context, externalID string, platform fleetvuln.Platform) (*fleetvuln.Vulnerability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.recs[externalID]
	if !ok || v.Platform != platform {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

type fakeBackend struct {
	ans   driver.LabelAnswer
	err   error
	block time.Duration
	calls int
}

func (f *fakeBackend) Predict(ctx context.Context, _ string) (driver.LabelAnswer, error) {
	f.calls++
	if f.block > 0 {
		select {
		case <-ctx.Done():
			return driver.LabelAnswer{}, ctx.Err()
		case <-time.After(f.block):
		}
	}
	return f.ans, f.err
}

func vec(prefix ...float32) []float32 {
	v := make([]float32, 4)
	copy(v, prefix)
	return v
}

func testIndex(t *testing.T) *exampleindex.Index {
	t.Helper()
	idx, err := exampleindex.New(exampleindex.Metadata{Dim: 4}, []exampleindex.Example{
		{ExternalID: "CSCwx90001", Platform: fleetvuln.IOSXE, Labels: []string{"SEC_CoPP"}, Summary: "copp drops control traffic", Vector: vec(1, 0)},
		{ExternalID: "CSCwx90002", Platform: fleetvuln.IOSXE, Labels: []string{"WEB_UI"}, Summary: "web ui xss", Vector: vec(0, 1)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

// TestThreeTierCacheWrite walks an advisory through every tier: a
// low-similarity first query that must not cache, a confident second query
// that must, and a third query served straight from the store.
func TestThreeTierCacheWrite(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	emb := &fakeEmbedder{vec: vec(0.1, 0.1, 0.99)} // far from both examples
	backend := &fakeBackend{ans: driver.LabelAnswer{Labels: []string{"SEC_CoPP"}, Confidence: 0.82}}
	p := New(store, emb, backend, testIndex(t), Opts{})

	req := Request{
		Summary:    "crafted packets bypass control plane policing",
		Platform:   fleetvuln.IOSXE,
		ExternalID: "cisco-sa-new",
	}

	got, err := p.Predict(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != fleetvuln.PredictionLLM || got.Cached || !got.NeedsReview {
		t.Errorf("first query: %+v", got)
	}
	if _, ok := store.recs["cisco-sa-new"]; ok {
		t.Error("low-similarity prediction was cached")
	}

	// Second pass: similar enough, confident enough.
	emb.vec = vec(0.95, 0.05)
	backend.ans = driver.LabelAnswer{Labels: []string{"SEC_CoPP"}, Confidence: 0.90}
	got, err = p.Predict(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != fleetvuln.PredictionLLM || got.Cached || got.NeedsReview {
		t.Errorf("second query: %+v", got)
	}
	cached, ok := store.recs["cisco-sa-new"]
	if !ok {
		t.Fatal("confident prediction not cached")
	}
	if cached.LabelsSource != fleetvuln.LabelsLLM || cached.Kind != fleetvuln.KindAdvisory {
		t.Errorf("cached row: %+v", cached)
	}
	if cached.LabelsConfidence != 0.90 {
		t.Errorf("cached confidence: %v", cached.LabelsConfidence)
	}

	// Third pass: tier 1 answers, no inference.
	calls := backend.calls
	got, err = p.Predict(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != fleetvuln.PredictionStore || !got.Cached {
		t.Errorf("third query: %+v", got)
	}
	if !cmp.Equal(got.Labels, []string{"SEC_CoPP"}) {
		t.Error(cmp.Diff(got.Labels, []string{"SEC_CoPP"}))
	}
	if got.Confidence != 0.90 || got.ConfidenceSource != fleetvuln.ConfidenceCache {
		t.Errorf("third query confidence: %+v", got)
	}
	if backend.calls != calls {
		t.Error("tier 1 hit still called the backend")
	}
}

func TestExactExampleShortCircuit(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	backend := &fakeBackend{}
	emb := &fakeEmbedder{vec: vec(1, 0)}
	p := New(store, emb, backend, testIndex(t), Opts{})

	got, err := p.Predict(ctx, Request{
		Summary:    "copp drops control traffic",
		Platform:   fleetvuln.IOSXE,
		ExternalID: "CSCwx90001",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := &fleetvuln.LabelPrediction{
		Labels:           []string{"SEC_CoPP"},
		Confidence:       1.0,
		ConfidenceSource: fleetvuln.ConfidenceCache,
		Source:           fleetvuln.PredictionIndex,
		Cached:           true,
	}
	ignore := cmp.FilterPath(func(p cmp.Path) bool { return p.String() == "Retrieved" }, cmp.Ignore())
	if !cmp.Equal(got, want, ignore) {
		t.Error(cmp.Diff(got, want, ignore))
	}
	if backend.calls != 0 {
		t.Error("exact example hit still called the backend")
	}
	// Exact-ID hits come from authoritative training data; never re-cached.
	if _, ok := store.recs["CSCwx90001"]; ok {
		t.Error("exact example hit was written to the store")
	}
}

func TestInferenceTimeout(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	backend := &fakeBackend{block: time.Minute}
	p := New(store, &fakeEmbedder{vec: vec(1, 0)}, backend, testIndex(t), Opts{LLMDeadline: 20 * time.Millisecond})

	got, err := p.Predict(ctx, Request{
		Summary:    "unrelated text",
		Platform:   fleetvuln.IOSXE,
		ExternalID: "cisco-sa-slow",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Labels) != 0 || got.Confidence != 0 {
		t.Errorf("degraded prediction carries content: %+v", got)
	}
	if !got.NeedsReview || got.ConfidenceSource != fleetvuln.ConfidenceHeuristic {
		t.Errorf("degraded prediction: %+v", got)
	}
	if _, ok := store.recs["cisco-sa-slow"]; ok {
		t.Error("degraded prediction was cached")
	}
}

func TestEmbedderFailureDegradesTierTwo(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	backend := &fakeBackend{ans: driver.LabelAnswer{Labels: []string{"WEB_UI"}, Confidence: 0.95}}
	p := New(newMemStore(), &fakeEmbedder{err: errors.New("connection refused")}, backend, testIndex(t), Opts{})

	got, err := p.Predict(ctx, Request{Summary: "web ui bug", Platform: fleetvuln.IOSXE})
	if err != nil {
		t.Fatal(err)
	}
	if backend.calls != 1 {
		t.Error("tier 3 did not run")
	}
	// No retrieval happened, so the answer can't be treated as reviewed.
	if !got.NeedsReview || len(got.Retrieved) != 0 {
		t.Errorf("got: %+v", got)
	}
}

func TestUnknownLabelsDropped(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	backend := &fakeBackend{ans: driver.LabelAnswer{Labels: []string{"WEB_UI", "NOT_A_LABEL"}, Confidence: 0.9}}
	p := New(newMemStore(), &fakeEmbedder{vec: vec(0, 1)}, backend, testIndex(t), Opts{})

	got, err := p.Predict(ctx, Request{Summary: "web ui xss variant", Platform: fleetvuln.IOSXE})
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got.Labels, []string{"WEB_UI"}) {
		t.Error(cmp.Diff(got.Labels, []string{"WEB_UI"}))
	}
}

func TestShouldCache(t *testing.T) {
	p := New(newMemStore(), nil, nil, nil, Opts{})
	base := fleetvuln.LabelPrediction{
		Labels:           []string{"SEC_CoPP"},
		Confidence:       0.9,
		ConfidenceSource: fleetvuln.ConfidenceModel,
	}
	type testcase struct {
		Name       string
		ExternalID string
		Mutate     func(*fleetvuln.LabelPrediction)
		Want       bool
	}
	table := []testcase{
		{Name: "Cacheable", ExternalID: "cisco-sa-x", Mutate: func(*fleetvuln.LabelPrediction) {}, Want: true},
		{Name: "NoExternalID", ExternalID: "", Mutate: func(*fleetvuln.LabelPrediction) {}, Want: false},
		{Name: "LowConfidence", ExternalID: "cisco-sa-x", Mutate: func(p *fleetvuln.LabelPrediction) { p.Confidence = 0.74 }, Want: false},
		{Name: "NoLabels", ExternalID: "cisco-sa-x", Mutate: func(p *fleetvuln.LabelPrediction) { p.Labels = nil }, Want: false},
		{Name: "HeuristicSource", ExternalID: "cisco-sa-x", Mutate: func(p *fleetvuln.LabelPrediction) { p.ConfidenceSource = fleetvuln.ConfidenceHeuristic }, Want: false},
		{Name: "StickyReview", ExternalID: "cisco-sa-x", Mutate: func(p *fleetvuln.LabelPrediction) { p.NeedsReview = true }, Want: false},
	}
	for _, tc := range table {
		t.Run(tc.Name, func(t *testing.T) {
			pred := base
			tc.Mutate(&pred)
			if got := p.shouldCache(tc.ExternalID, &pred); got != tc.Want {
				t.Errorf("got: %v, want: %v", got, tc.Want)
			}
		})
	}
}

func TestInferKind(t *testing.T) {
	if got := inferKind("CSCwx12345"); got != fleetvuln.KindBug {
		t.Errorf("got: %v", got)
	}
	if got := inferKind("cisco-sa-webui-xss"); got != fleetvuln.KindAdvisory {
		t.Errorf("got: %v", got)
	}
}
